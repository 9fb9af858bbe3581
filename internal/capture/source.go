package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/lookout-labs/lookout-go/internal/domain"
)

// Source fetches the current frame of a webcam.
type Source interface {
	Fetch(ctx context.Context, webcam domain.Webcam) (domain.Image, error)
}

const defaultMaxImageBytes = 16 << 20

// HTTPSource GETs the webcam's SourceURL.
type HTTPSource struct {
	Client   *http.Client
	MaxBytes int64
	Now      func() time.Time
}

func NewHTTPSource(timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSource{
		Client:   &http.Client{Timeout: timeout},
		MaxBytes: defaultMaxImageBytes,
		Now:      time.Now,
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, webcam domain.Webcam) (domain.Image, error) {
	if strings.TrimSpace(webcam.SourceURL) == "" {
		return domain.Image{}, errors.New("webcam has no source url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, webcam.SourceURL, nil)
	if err != nil {
		return domain.Image{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := s.Client.Do(req)
	if err != nil {
		return domain.Image{}, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Image{}, fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return domain.Image{}, fmt.Errorf("fetch image: unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	maxBytes := s.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxImageBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return domain.Image{}, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return domain.Image{}, fmt.Errorf("image exceeds %d bytes", maxBytes)
	}
	if len(data) == 0 {
		return domain.Image{}, errors.New("image is empty")
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return domain.Image{
		Data:        data,
		ContentType: mediaType,
		CapturedAt:  now().UTC(),
	}, nil
}
