package strategies

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/labeling"
)

func httpLabeler(endpoint string, extra domain.Metadata) domain.Labeler {
	cfg := domain.Metadata{"endpoint": endpoint}
	for k, v := range extra {
		cfg[k] = v
	}
	return domain.Labeler{Name: "vision-a", Kind: KindHTTP, Config: cfg}
}

func TestHTTPStrategy_Success(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"score":71.5,"category":" Hazy ","confidence":0.82,"rationale":"thin haze","cost_units":0.004}`))
	}))
	defer srv.Close()

	strategy, err := NewDefaultFactory(srv.Client()).Build(httpLabeler(srv.URL, domain.Metadata{"api_key": "secret", "model": "v2"}))
	require.NoError(t, err)

	res, err := strategy.Assess(context.Background(), domain.Image{Data: []byte{1, 2}, ContentType: "image/jpeg"}, domain.CameraContext{WebcamID: "summit"})
	require.NoError(t, err)
	assert.Equal(t, 71.5, res.Score)
	assert.Equal(t, "hazy", res.Category)
	assert.Equal(t, 0.004, res.CostUnits)
	assert.Equal(t, "v2", got["model"])
	assert.Equal(t, "AQI=", got["image"].(map[string]any)["data"])
}

func TestHTTPStrategy_StatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		code      string
		retryable bool
	}{
		{http.StatusTooManyRequests, labeling.CodeRateLimited, true},
		{http.StatusBadGateway, labeling.CodeUnavailable, true},
		{http.StatusUnauthorized, labeling.CodeAuth, false},
		{http.StatusUnprocessableEntity, labeling.CodeBadRequest, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		strategy, err := NewHTTPStrategy(httpLabeler(srv.URL, nil), srv.Client())
		require.NoError(t, err)

		_, err = strategy.Assess(context.Background(), domain.Image{}, domain.CameraContext{})
		srv.Close()

		var se *labeling.StrategyError
		require.ErrorAs(t, err, &se, "status %d", tc.status)
		assert.Equal(t, tc.code, se.Code, "status %d", tc.status)
		assert.Equal(t, tc.retryable, se.Retryable, "status %d", tc.status)
	}
}

func TestHTTPStrategy_MalformedResponseIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	strategy, err := NewHTTPStrategy(httpLabeler(srv.URL, nil), srv.Client())
	require.NoError(t, err)
	_, err = strategy.Assess(context.Background(), domain.Image{}, domain.CameraContext{})

	var se *labeling.StrategyError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, labeling.CodeBadResponse, se.Code)
	assert.False(t, se.Retryable)
}

func TestHTTPStrategy_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	strategy, err := NewHTTPStrategy(httpLabeler(endpoint, nil), nil)
	require.NoError(t, err)
	_, err = strategy.Assess(context.Background(), domain.Image{}, domain.CameraContext{})

	var se *labeling.StrategyError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, labeling.CodeNetwork, se.Code)
	assert.True(t, se.Retryable)
}

func TestHTTPStrategy_OAuth2ClientCredentials(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/assess", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"score":50,"category":"clear","confidence":0.5}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	strategy, err := NewHTTPStrategy(httpLabeler(srv.URL+"/assess", domain.Metadata{
		"oauth2": map[string]any{"token_url": srv.URL + "/token", "client_id": "lookout", "client_secret": "s"},
	}), srv.Client())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := strategy.Assess(context.Background(), domain.Image{}, domain.CameraContext{})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestHTTPStrategy_TokenEndpointRejection(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		code      string
		retryable bool
	}{
		{name: "bad client credentials", status: http.StatusUnauthorized, code: labeling.CodeAuth, retryable: false},
		{name: "invalid grant", status: http.StatusBadRequest, code: labeling.CodeAuth, retryable: false},
		{name: "token endpoint down", status: http.StatusServiceUnavailable, code: labeling.CodeUnavailable, retryable: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var assessCalls atomic.Int32
			mux := http.NewServeMux()
			mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			})
			mux.HandleFunc("/assess", func(w http.ResponseWriter, r *http.Request) {
				assessCalls.Add(1)
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			strategy, err := NewHTTPStrategy(httpLabeler(srv.URL+"/assess", domain.Metadata{
				"oauth2": map[string]any{"token_url": srv.URL + "/token", "client_id": "lookout", "client_secret": "wrong"},
			}), srv.Client())
			require.NoError(t, err)

			_, err = strategy.Assess(context.Background(), domain.Image{}, domain.CameraContext{})
			var se *labeling.StrategyError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tc.code, se.Code)
			assert.Equal(t, tc.retryable, se.Retryable)
			assert.Equal(t, int32(0), assessCalls.Load())
		})
	}
}

func TestFactory_RejectsUnknownKindAndBadConfig(t *testing.T) {
	f := NewDefaultFactory(nil)
	assert.Equal(t, []string{KindHTTP, KindLuminance}, f.Kinds())

	_, err := f.Build(domain.Labeler{Name: "x", Kind: "crystal-ball"})
	var se *labeling.StrategyError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, labeling.CodeUnknownKind, se.Code)

	_, err = f.Build(domain.Labeler{Name: "x", Kind: KindHTTP, Config: domain.Metadata{"endpoint": "ftp://nope"}})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, labeling.CodeInvalidConfig, se.Code)
}

func encodePNG(t *testing.T, fill func(x, y int) color.Gray) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetGray(x, y, fill(x, y))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLuminanceStrategy_Categories(t *testing.T) {
	strategy, err := NewLuminanceStrategy(domain.Labeler{Name: "lum", Kind: KindLuminance, Config: domain.Metadata{"sample_stride": 1}})
	require.NoError(t, err)

	cases := []struct {
		name string
		fill func(x, y int) color.Gray
		want string
	}{
		{"night", func(x, y int) color.Gray { return color.Gray{Y: 5} }, CategoryDark},
		{"fog", func(x, y int) color.Gray { return color.Gray{Y: 180} }, CategoryLowContrast},
		{"checker", func(x, y int) color.Gray {
			if (x+y)%2 == 0 {
				return color.Gray{Y: 30}
			}
			return color.Gray{Y: 220}
		}, CategoryClear},
	}
	for _, tc := range cases {
		res, err := strategy.Assess(context.Background(), domain.Image{Data: encodePNG(t, tc.fill), ContentType: "image/png"}, domain.CameraContext{})
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, res.Category, tc.name)
		assert.NoError(t, labeling.ValidateResult(res), tc.name)
	}
}

func TestLuminanceStrategy_CorruptImage(t *testing.T) {
	strategy, err := NewLuminanceStrategy(domain.Labeler{Name: "lum", Kind: KindLuminance})
	require.NoError(t, err)
	_, err = strategy.Assess(context.Background(), domain.Image{Data: []byte("not an image")}, domain.CameraContext{})

	var se *labeling.StrategyError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Retryable)
}
