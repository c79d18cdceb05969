// Package paginate drives a source adapter through successive pages,
// accumulating items in arrival order.
package paginate

import (
	"context"
	"log/slog"

	"github.com/FranksOps/gleaner/internal/metrics"
)

// Page is one upstream response's worth of items. A nil Next means the
// adapter saw no further pages.
type Page[T, C any] struct {
	Items []T
	Next  *C
}

// Adapter fetches the page at cursor. A nil cursor asks for the first page.
type Adapter[P, T, C any] interface {
	FetchPage(ctx context.Context, params P, cursor *C) (Page[T, C], error)
}

// AdapterFunc lets a plain function act as an Adapter.
type AdapterFunc[P, T, C any] func(ctx context.Context, params P, cursor *C) (Page[T, C], error)

func (f AdapterFunc[P, T, C]) FetchPage(ctx context.Context, params P, cursor *C) (Page[T, C], error) {
	return f(ctx, params, cursor)
}

// Waiter paces consecutive fetches. *ratelimit.Pacer satisfies it.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Options tunes a collection.
type Options struct {
	// MaxItems caps the result to its first MaxItems items. Zero means no cap.
	MaxItems int
	// Pacer is awaited after every successful fetch. Nil disables pacing.
	Pacer  Waiter
	Logger *slog.Logger
	// Source labels logs and metrics.
	Source string
}

// Result is the outcome of Collect. Errors never abort a collection from the
// caller's point of view: they end it, and EndedDueToError tells the partial
// result apart from genuine exhaustion.
type Result[T any] struct {
	Items           []T
	Calls           int
	EndedDueToError bool
	Err             error
	Capped          bool
}

func (r Result[T]) outcome() string {
	switch {
	case r.EndedDueToError:
		return metrics.OutcomeError
	case r.Capped:
		return metrics.OutcomeCapped
	default:
		return metrics.OutcomeExhausted
	}
}

// Collect fetches pages until the adapter runs dry, the cap is reached, an
// error occurs or ctx is cancelled.
func Collect[P, T, C any](ctx context.Context, a Adapter[P, T, C], params P, opts Options) Result[T] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var res Result[T]
	defer func() {
		metrics.RecordCollection(opts.Source, len(res.Items), res.outcome())
	}()

	var cursor *C
	for {
		if err := ctx.Err(); err != nil {
			res.fail(err)
			return res
		}

		page, err := a.FetchPage(ctx, params, cursor)
		res.Calls++
		if err != nil {
			logger.Warn("collection ended by fetch error",
				"source", opts.Source,
				"call", res.Calls,
				"collected", len(res.Items),
				"err", err,
			)
			res.fail(err)
			return res
		}

		done := res.absorb(page.Items, opts.MaxItems) || page.Next == nil
		logger.Debug("page collected",
			"source", opts.Source,
			"call", res.Calls,
			"page_items", len(page.Items),
			"collected", len(res.Items),
		)

		if opts.Pacer != nil {
			if err := opts.Pacer.Wait(ctx); err != nil && !done {
				res.fail(err)
				return res
			}
		}
		if done {
			return res
		}
		cursor = page.Next
	}
}

// absorb appends items and reports whether collection must stop: the page
// was empty or the cap was hit.
func (r *Result[T]) absorb(items []T, max int) bool {
	if len(items) == 0 {
		return true
	}
	r.Items = append(r.Items, items...)
	if max > 0 && len(r.Items) >= max {
		r.Items = r.Items[:max]
		r.Capped = true
		return true
	}
	return false
}

func (r *Result[T]) fail(err error) {
	r.EndedDueToError = true
	r.Err = err
}
