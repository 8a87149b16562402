package scraper

import (
	"context"

	"github.com/ibeckermayer/tagscope/internal/browser"
)

// Strategy is one way of deriving a value from a page. Run reports false
// when the strategy found nothing plausible; it never fails the caller.
type Strategy[T any] struct {
	Name string
	Run  func(ctx context.Context, page browser.Surface) (T, bool)
}

// FirstSuccess evaluates strategies in order and returns the value and name
// of the first one that succeeds. Later strategies are not run, and results
// are never merged across strategies. The error is non-nil only when ctx
// ends.
func FirstSuccess[T any](ctx context.Context, page browser.Surface, strategies []Strategy[T]) (T, string, error) {
	var zero T
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		if v, ok := s.Run(ctx, page); ok {
			return v, s.Name, nil
		}
	}
	return zero, "", ctx.Err()
}
