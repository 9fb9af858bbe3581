// Package openapi validates incoming requests against an OpenAPI 3 document.
// Requests for paths the document does not describe pass through unchanged.
package openapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	"github.com/lookout-labs/lookout-go/internal/platform/httpserver"
)

type Validator struct {
	doc    *openapi3.T
	router routers.Router
	logger *slog.Logger
}

func NewValidator(ctx context.Context, spec []byte, logger *slog.Logger) (*Validator, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{doc: doc, router: router, logger: logger}, nil
}

// Doc exposes the loaded document, for serving it.
func (v *Validator) Doc() *openapi3.T {
	return v.doc
}

// Validate checks r against its matching operation. It returns
// routers.ErrPathNotFound or routers.ErrMethodNotAllowed for undocumented
// requests.
func (v *Validator) Validate(r *http.Request) error {
	route, pathParams, err := v.router.FindRoute(r)
	if err != nil {
		return err
	}
	return openapi3filter.ValidateRequest(r.Context(), &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			MultiError:         false,
		},
	})
}

func (v *Validator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := v.Validate(r)
		switch {
		case err == nil:
		case errors.Is(err, routers.ErrPathNotFound), errors.Is(err, routers.ErrMethodNotAllowed):
		default:
			requestID, _ := httpserver.RequestIDFromContext(r.Context())
			v.logger.Info("request rejected by schema", "request_id", requestID, "method", r.Method, "path", r.URL.Path, "error", err)
			httpserver.WriteJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "invalid_request",
				"message":    requestErrorMessage(err),
				"request_id": requestID,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestErrorMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			return fmt.Sprintf("parameter %q: %s", reqErr.Parameter.Name, reqErr.Reason)
		}
		if reqErr.RequestBody != nil {
			return "request body: " + reqErrorReason(reqErr)
		}
		return reqErrorReason(reqErr)
	}
	return err.Error()
}

func reqErrorReason(reqErr *openapi3filter.RequestError) string {
	if reqErr.Err != nil {
		return reqErr.Err.Error()
	}
	return reqErr.Reason
}
