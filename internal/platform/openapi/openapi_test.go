package openapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testDoc = `
openapi: 3.0.3
info:
  title: test
  version: "1"
paths:
  /labelers/{name}/mode:
    put:
      parameters:
        - name: name
          in: path
          required: true
          schema:
            type: string
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [mode]
              additionalProperties: false
              properties:
                mode:
                  type: string
                  enum: [production, shadow, experimental, deprecated]
      responses:
        "200":
          description: ok
`

func newTestHandler(t *testing.T) (http.Handler, *string) {
	t.Helper()
	v, err := NewValidator(context.Background(), []byte(testDoc), nil)
	if err != nil {
		t.Fatalf("NewValidator() err=%v", err)
	}
	var seenBody string
	return v.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seenBody = string(raw)
		w.WriteHeader(http.StatusNoContent)
	})), &seenBody
}

func TestValidator_AcceptsValidBody(t *testing.T) {
	h, seen := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPut, "/labelers/vision-a/mode", strings.NewReader(`{"mode":"shadow"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want 204 body=%s", rec.Code, rec.Body.String())
	}
	if *seen != `{"mode":"shadow"}` {
		t.Fatalf("handler body=%q, want original body", *seen)
	}
}

func TestValidator_RejectsUnknownMode(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPut, "/labelers/vision-a/mode", strings.NewReader(`{"mode":"canary"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "invalid_request" {
		t.Fatalf("error=%v, want invalid_request", body["error"])
	}
	if msg, _ := body["message"].(string); !strings.HasPrefix(msg, "request body") {
		t.Fatalf("message=%q, want request body detail", msg)
	}
}

func TestValidator_UndocumentedPassesThrough(t *testing.T) {
	h, _ := newTestHandler(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/webcams/summit/latest"},
		{http.MethodGet, "/labelers/vision-a/mode"},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("%s %s status=%d, want 204", tc.method, tc.path, rec.Code)
		}
	}
}

func TestNewValidator_RejectsBrokenDocument(t *testing.T) {
	if _, err := NewValidator(context.Background(), []byte("openapi: [oops"), nil); err == nil {
		t.Fatalf("expected error")
	}
}
