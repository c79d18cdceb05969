// Package stats looks up public profile counts (posts, followers, following)
// for the search export. Every provider is best effort: callers treat
// ErrUnavailable as "leave the columns blank".
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/FranksOps/gleaner/internal/credential"
	"github.com/FranksOps/gleaner/internal/source"
)

// ErrUnavailable means no provider could produce the counts.
var ErrUnavailable = errors.New("stats: unavailable")

// Stats are the public counts shown on a profile page.
type Stats struct {
	Posts     int
	Followers int
	Following int
}

// Provider returns the counts for handle or an error wrapping ErrUnavailable.
type Provider interface {
	Stats(ctx context.Context, handle string) (Stats, error)
}

// ProviderFunc lets a function act as a Provider.
type ProviderFunc func(ctx context.Context, handle string) (Stats, error)

func (f ProviderFunc) Stats(ctx context.Context, handle string) (Stats, error) {
	return f(ctx, handle)
}

// APIProvider reads the counts from the profile JSON endpoint.
type APIProvider struct {
	Social      *source.Social
	Credentials credential.Set
}

func (p *APIProvider) Stats(ctx context.Context, handle string) (Stats, error) {
	prof, err := p.Social.LookupProfile(ctx, source.Params{Credentials: p.Credentials}, handle)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Stats{Posts: prof.Posts, Followers: prof.Followers, Following: prof.Following}, nil
}

// Chain tries providers in order and returns the first success.
type Chain struct {
	Providers []Provider
	Logger    *slog.Logger
}

func (c *Chain) Stats(ctx context.Context, handle string) (Stats, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	for _, p := range c.Providers {
		s, err := p.Stats(ctx, handle)
		if err == nil {
			return s, nil
		}
		logger.Debug("stats provider failed", "handle", handle, "provider", fmt.Sprintf("%T", p), "err", err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return Stats{}, ErrUnavailable
	}
	return Stats{}, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}

// Memo caches one answer per handle, failures included, for the lifetime of
// one workflow run.
type Memo struct {
	Provider Provider

	mu    sync.Mutex
	cache map[string]memoEntry
}

type memoEntry struct {
	stats Stats
	err   error
}

// NewMemo wraps p.
func NewMemo(p Provider) *Memo {
	return &Memo{Provider: p, cache: make(map[string]memoEntry)}
}

func (m *Memo) Stats(ctx context.Context, handle string) (Stats, error) {
	m.mu.Lock()
	if e, ok := m.cache[handle]; ok {
		m.mu.Unlock()
		return e.stats, e.err
	}
	m.mu.Unlock()

	s, err := m.Provider.Stats(ctx, handle)
	if ctx.Err() != nil {
		// cancellation says nothing about the handle
		return s, err
	}

	m.mu.Lock()
	m.cache[handle] = memoEntry{stats: s, err: err}
	m.mu.Unlock()
	return s, err
}

// ParseCount reads a displayed count such as "1,234", "1.2만", "3천", "12.5K"
// or "2M". Trailing counter words (명, 개) are ignored.
func ParseCount(s string) (int, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimSuffix(s, "명")
	s = strings.TrimSuffix(s, "개")
	if s == "" {
		return 0, false
	}

	mult := 1.0
	switch {
	case strings.HasSuffix(s, "천"):
		mult, s = 1e3, strings.TrimSuffix(s, "천")
	case strings.HasSuffix(s, "만"):
		mult, s = 1e4, strings.TrimSuffix(s, "만")
	case strings.HasSuffix(s, "K"), strings.HasSuffix(s, "k"):
		mult, s = 1e3, s[:len(s)-1]
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		mult, s = 1e6, s[:len(s)-1]
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return int(math.Round(f * mult)), true
}
