package storage

import (
	"context"
	"errors"
	"time"
)

// Export is one finished workflow run: the rows handed to the exporter plus
// enough context to find and summarise the run later.
type Export struct {
	ID              string
	Source          string // e.g. "29cm", "musinsa", "instagram"
	Query           string // keyword, hashtag or profile handle
	Schema          string // "review", "follower" or "search"
	Columns         []string
	Rows            [][]any
	Calls           int  // upstream page calls made by the run
	EndedDueToError bool // at least one collection stopped on an error
	Error           string
	CreatedAt       time.Time
}

// Filter allows querying for specific archived exports.
type Filter struct {
	Source          string
	Query           string
	EndedDueToError *bool
	Since           *time.Time
	Limit           int
	Offset          int
}

// Match reports whether e passes every field set on f.
func (f Filter) Match(e *Export) bool {
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.Query != "" && e.Query != f.Query {
		return false
	}
	if f.EndedDueToError != nil && e.EndedDueToError != *f.EndedDueToError {
		return false
	}
	if f.Since != nil && e.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Window orders matched exports newest first and applies Offset and Limit.
// in must be in insertion order.
func (f Filter) Window(in []*Export) []*Export {
	out := make([]*Export, 0, len(in))
	for i := len(in) - 1; i >= 0; i-- {
		out = append(out, in[i])
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*Export{}
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out
}

// Sink persists exports.
type Sink interface {
	Save(ctx context.Context, e *Export) error
	Close() error
}

// Backend is a Sink that can be queried back, used as the run archive.
type Backend interface {
	Sink
	Query(ctx context.Context, filter Filter) ([]*Export, error)
}

// Multi saves every export to each sink in order and keeps going past
// failures.
type Multi []Sink

func (m Multi) Save(ctx context.Context, e *Export) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
