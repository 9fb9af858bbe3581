package repo

import (
	"context"
	"errors"
)

const (
	// DefaultListLimit applies when a filter leaves Limit unset.
	DefaultListLimit = 10000
	// MaxListLimit caps a single List page.
	MaxListLimit = 100000
)

// ClampLimit maps a requested page size onto [1, MaxListLimit].
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

// ExecutionLister is the paging half of ExecutionRepository.
type ExecutionLister interface {
	List(ctx context.Context, filter ExecutionFilter) ([]ExecutionRecord, error)
}

// WalkExecutions pages through every execution matching filter in List order
// and hands each page to fn. filter.Limit is the page size.
func WalkExecutions(ctx context.Context, lister ExecutionLister, filter ExecutionFilter, fn func(page []ExecutionRecord) error) error {
	if lister == nil {
		return errors.New("execution lister is required")
	}
	filter.Limit = ClampLimit(filter.Limit)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := lister.List(ctx, filter)
		if err != nil {
			return err
		}
		if len(page) > 0 {
			if err := fn(page); err != nil {
				return err
			}
		}
		if len(page) < filter.Limit {
			return nil
		}
		next := CursorOf(page[len(page)-1])
		if next == filter.After {
			return errors.New("execution page did not advance")
		}
		filter.After = next
	}
}
