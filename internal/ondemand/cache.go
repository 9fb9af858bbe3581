// Package ondemand serves the latest assessment per webcam with bounded
// staleness, refreshing synchronously at most once per webcam at a time.
package ondemand

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/repo"
)

var ErrNoAssessmentAvailable = errors.New("no assessment available")

// Refresher captures a new image and labels it with the primary labelers.
// *pipeline.Runner satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, webcamID string) (domain.Assessment, error)
}

// Reader derives assessments from the durable store. *pipeline.Reader
// satisfies it.
type Reader interface {
	Latest(ctx context.Context, webcamID string) (domain.Assessment, error)
	History(ctx context.Context, webcamID string, from, to time.Time) ([]domain.Assessment, error)
}

type Cache struct {
	cfg       Config
	entries   EntryStore
	reader    Reader
	refresher Refresher
	logger    *slog.Logger
	flights   singleflight.Group
	now       func() time.Time
}

func NewCache(cfg Config, entries EntryStore, reader Reader, refresher Refresher, logger *slog.Logger) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = NewMemoryEntries()
	}
	if reader == nil {
		return nil, errors.New("reader is required")
	}
	if refresher == nil {
		return nil, errors.New("refresher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		cfg:       cfg,
		entries:   entries,
		reader:    reader,
		refresher: refresher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// GetLatest returns an assessment captured less than maxAge ago, refreshing
// when none is known. When the refresh fails the last known assessment is
// returned with IsStale set; ErrNoAssessmentAvailable means nothing is known.
func (c *Cache) GetLatest(ctx context.Context, webcamID string, maxAge time.Duration) (domain.Assessment, error) {
	webcamID = strings.TrimSpace(webcamID)
	if webcamID == "" {
		return domain.Assessment{}, errors.New("webcam id is required")
	}
	if maxAge <= 0 {
		maxAge = c.cfg.TTL
	}

	current, ok, err := c.lookup(ctx, webcamID, maxAge)
	if err != nil {
		return domain.Assessment{}, err
	}
	if ok && c.fresh(current, maxAge) {
		return current, nil
	}

	// The flight outlives any single caller; waiters still honour their own ctx.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(webcamID, func() (any, error) {
		return c.refresh(flightCtx, webcamID, maxAge)
	})
	select {
	case <-ctx.Done():
		return domain.Assessment{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Assessment{}, res.Err
		}
		return res.Val.(domain.Assessment), nil
	}
}

func (c *Cache) refresh(ctx context.Context, webcamID string, maxAge time.Duration) (domain.Assessment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RefreshTimeout)
	defer cancel()

	// Another flight may have finished between the caller's lookup and now.
	known, ok, err := c.lookup(ctx, webcamID, maxAge)
	if err != nil {
		c.logger.Warn("cache lookup failed", "webcam_id", webcamID, "error", err)
		ok = false
	}
	if ok && c.fresh(known, maxAge) {
		return known, nil
	}

	start := time.Now()
	assessment, refreshErr := c.refresher.Refresh(ctx, webcamID)
	if refreshErr == nil {
		assessment.IsStale = false
		c.store(ctx, assessment)
		c.logger.Info("cache refreshed",
			"webcam_id", webcamID,
			"capture_id", assessment.CaptureID,
			"labeler", assessment.Labeler,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return assessment, nil
	}

	if ok {
		c.logger.Warn("cache refresh failed, serving stale assessment",
			"webcam_id", webcamID,
			"capture_id", known.CaptureID,
			"age", c.now().Sub(known.Timestamp).String(),
			"error", refreshErr,
		)
		known.IsStale = true
		return known, nil
	}
	c.logger.Warn("cache refresh failed", "webcam_id", webcamID, "error", refreshErr)
	return domain.Assessment{}, fmt.Errorf("%w: webcam %s: %v", ErrNoAssessmentAvailable, webcamID, refreshErr)
}

// lookup returns the newest known assessment, consulting the durable store when
// the entry store has nothing fresh. A newer durable row replaces the entry.
func (c *Cache) lookup(ctx context.Context, webcamID string, maxAge time.Duration) (domain.Assessment, bool, error) {
	entry, found, err := c.entries.Get(ctx, webcamID)
	if err != nil {
		c.logger.Warn("cache entry read failed", "webcam_id", webcamID, "error", err)
		found = false
	}
	if found && c.fresh(entry.Assessment, maxAge) {
		return entry.Assessment, true, nil
	}

	stored, err := c.reader.Latest(ctx, webcamID)
	if errors.Is(err, repo.ErrNotFound) {
		return entry.Assessment, found, nil
	}
	if err != nil {
		if found {
			c.logger.Warn("durable read failed, using cached entry", "webcam_id", webcamID, "error", err)
			return entry.Assessment, true, nil
		}
		return domain.Assessment{}, false, fmt.Errorf("read latest assessment: %w", err)
	}
	if found && !stored.Timestamp.After(entry.Assessment.Timestamp) {
		return entry.Assessment, true, nil
	}
	c.store(ctx, stored)
	return stored, true, nil
}

func (c *Cache) fresh(a domain.Assessment, maxAge time.Duration) bool {
	return a.Age(c.now()) < maxAge
}

func (c *Cache) store(ctx context.Context, a domain.Assessment) {
	a.IsStale = false
	entry := domain.CacheEntry{WebcamID: a.WebcamID, Assessment: a, FetchedAt: c.now()}
	if err := c.entries.Put(ctx, entry); err != nil {
		c.logger.Warn("cache entry write failed", "webcam_id", a.WebcamID, "error", err)
	}
}

// Put records an assessment produced outside the cache, such as by a scheduled
// cycle. Older assessments never replace newer ones.
func (c *Cache) Put(ctx context.Context, a domain.Assessment) error {
	if strings.TrimSpace(a.WebcamID) == "" {
		return errors.New("webcam id is required")
	}
	existing, found, err := c.entries.Get(ctx, a.WebcamID)
	if err != nil {
		return err
	}
	if found && existing.Assessment.Timestamp.After(a.Timestamp) {
		return nil
	}
	a.IsStale = false
	return c.entries.Put(ctx, domain.CacheEntry{WebcamID: a.WebcamID, Assessment: a, FetchedAt: c.now()})
}

// GetHistory reads the durable store directly.
func (c *Cache) GetHistory(ctx context.Context, webcamID string, from, to time.Time) ([]domain.Assessment, error) {
	webcamID = strings.TrimSpace(webcamID)
	if webcamID == "" {
		return nil, errors.New("webcam id is required")
	}
	return c.reader.History(ctx, webcamID, from, to)
}

func (c *Cache) Invalidate(ctx context.Context, webcamID string) error {
	return c.entries.Delete(ctx, webcamID)
}
