package strategies

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/labeling"
)

// HTTPConfig is the config of an http labeler.
type HTTPConfig struct {
	Endpoint          string        `json:"endpoint"`
	APIKey            string        `json:"api_key"`
	APIKeyEnv         string        `json:"api_key_env"`
	Model             string        `json:"model"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	Burst             int           `json:"burst"`
	OAuth2            *OAuth2Config `json:"oauth2"`
}

type OAuth2Config struct {
	TokenURL     string   `json:"token_url"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
}

func (c HTTPConfig) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.Endpoint))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("endpoint must be an absolute http(s) url (got %q)", c.Endpoint)
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("requests_per_second must be >= 0")
	}
	if c.Burst < 0 {
		return errors.New("burst must be >= 0")
	}
	if c.OAuth2 != nil {
		if strings.TrimSpace(c.OAuth2.TokenURL) == "" || strings.TrimSpace(c.OAuth2.ClientID) == "" {
			return errors.New("oauth2 requires token_url and client_id")
		}
	}
	return nil
}

// HTTPStrategy posts the image to a vision endpoint and reads back a result.
type HTTPStrategy struct {
	name    string
	cfg     HTTPConfig
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

type httpRequest struct {
	Model   string               `json:"model,omitempty"`
	Labeler string               `json:"labeler"`
	Webcam  domain.CameraContext `json:"webcam"`
	Image   httpImage            `json:"image"`
}

type httpImage struct {
	ContentType string    `json:"content_type"`
	Data        string    `json:"data"`
	StorageRef  string    `json:"storage_ref,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

func NewHTTPStrategy(labeler domain.Labeler, client *http.Client) (*HTTPStrategy, error) {
	var cfg HTTPConfig
	if err := decodeConfig(labeler.Config, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && strings.TrimSpace(cfg.APIKeyEnv) != "" {
		apiKey = strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	}

	if cfg.OAuth2 != nil {
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			TokenURL:     cfg.OAuth2.TokenURL,
			Scopes:       cfg.OAuth2.Scopes,
		}
		// Token fetches reuse the shared client's transport.
		client = cc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, client))
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if burst == 0 {
			burst = 1
		}
	}

	return &HTTPStrategy{
		name:    labeler.Name,
		cfg:     cfg,
		apiKey:  apiKey,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

func (s *HTTPStrategy) Assess(ctx context.Context, image domain.Image, camera domain.CameraContext) (domain.Result, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Result{}, ctxErr
		}
		return domain.Result{}, labeling.Transient(labeling.CodeRateLimited, err)
	}

	body, err := json.Marshal(httpRequest{
		Model:   s.cfg.Model,
		Labeler: s.name,
		Webcam:  camera,
		Image: httpImage{
			ContentType: image.ContentType,
			Data:        base64.StdEncoding.EncodeToString(image.Data),
			StorageRef:  image.StorageRef,
			CapturedAt:  image.CapturedAt.UTC(),
		},
	})
	if err != nil {
		return domain.Result{}, labeling.Permanent(labeling.CodeBadRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Result{}, labeling.Permanent(labeling.CodeInvalidConfig, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" && s.cfg.OAuth2 == nil {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Result{}, fmt.Errorf("vision request: %w", ctxErr)
		}
		if tokenErr := tokenError(err); tokenErr != nil {
			return domain.Result{}, tokenErr
		}
		return domain.Result{}, labeling.Transient(labeling.CodeNetwork, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Result{}, labeling.Transient(labeling.CodeNetwork, fmt.Errorf("read response: %w", err))
	}
	if err := statusError(resp.StatusCode, payload); err != nil {
		return domain.Result{}, err
	}

	var out domain.Result
	if err := json.Unmarshal(payload, &out); err != nil {
		return domain.Result{}, labeling.Permanent(labeling.CodeBadResponse, fmt.Errorf("decode response: %w", err))
	}
	out.Category = strings.ToLower(strings.TrimSpace(out.Category))
	return out, nil
}

func statusError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	err := fmt.Errorf("vision endpoint returned %d: %s", status, snippet(body))
	switch {
	case status == http.StatusTooManyRequests:
		return labeling.Transient(labeling.CodeRateLimited, err)
	case status == http.StatusRequestTimeout || status >= 500:
		return labeling.Transient(labeling.CodeUnavailable, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return labeling.Permanent(labeling.CodeAuth, err)
	default:
		return labeling.Permanent(labeling.CodeBadRequest, err)
	}
}

// tokenError classifies a rejection from the OAuth2 token endpoint. Client
// errors there are credential problems and never heal on retry.
func tokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return nil
	}
	wrapped := fmt.Errorf("oauth2 token: %w", err)
	if retrieveErr.Response == nil {
		return labeling.Permanent(labeling.CodeAuth, wrapped)
	}
	status := retrieveErr.Response.StatusCode
	switch {
	case status == http.StatusTooManyRequests:
		return labeling.Transient(labeling.CodeRateLimited, wrapped)
	case status == http.StatusRequestTimeout || status >= 500:
		return labeling.Transient(labeling.CodeUnavailable, wrapped)
	default:
		return labeling.Permanent(labeling.CodeAuth, wrapped)
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
