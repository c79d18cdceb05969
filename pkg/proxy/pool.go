package proxy

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

type contextKey struct{}

// WithProxy returns a context that routes requests made with it through u.
func WithProxy(ctx context.Context, u *url.URL) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// FromContext returns the proxy stored by WithProxy, or nil.
func FromContext(ctx context.Context) *url.URL {
	u, _ := ctx.Value(contextKey{}).(*url.URL)
	return u
}

// Func returns an http.Transport Proxy function that honors the proxy placed
// on the request context and otherwise defers to fallback. A nil fallback
// means a direct connection.
func Func(fallback func(*http.Request) (*url.URL, error)) func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		if u := FromContext(req.Context()); u != nil {
			return u, nil
		}
		if fallback == nil {
			return nil, nil
		}
		return fallback(req)
	}
}

// Stats is a health snapshot of one proxy.
type Stats struct {
	URL           string
	Failures      int
	Successes     int
	LastUsed      time.Time
	DisabledUntil time.Time
}

type entry struct {
	url *url.URL
	Stats
}

// Config defines settings for the Pool.
type Config struct {
	// MaxFailures is the number of consecutive failures that benches a proxy.
	MaxFailures int
	// Cooldown is how long a benched proxy sits out.
	Cooldown time.Duration
}

// Pool rotates through proxies round-robin, skipping benched ones.
type Pool struct {
	mu          sync.Mutex
	order       []string
	entries     map[string]*entry
	next        int
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

// NewPool creates an empty pool. Zero config values get defaults.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{
		entries:     make(map[string]*entry),
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
	}
}

// LoadFile reads one proxy URL per line. Blank lines and '#' comments are skipped.
func (p *Pool) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("proxy: open %s: %w", path, err)
	}
	defer f.Close()

	var raws []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raws = append(raws, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("proxy: read %s: %w", path, err)
	}
	return p.Add(raws...)
}

// Add parses and registers proxies. A missing scheme defaults to http.
// Duplicates are ignored.
func (p *Pool) Add(raws ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, raw := range raws {
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("proxy: parse %q: %w", raw, err)
		}
		key := u.String()
		if _, ok := p.entries[key]; ok {
			continue
		}
		p.entries[key] = &entry{url: u, Stats: Stats{URL: key}}
		p.order = append(p.order, key)
	}
	return nil
}

// Len reports how many proxies are registered.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Next returns the next usable proxy, or nil when the pool is empty or every
// proxy is cooling down.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for range p.order {
		e := p.entries[p.order[p.next]]
		p.next = (p.next + 1) % len(p.order)

		if !e.DisabledUntil.IsZero() {
			if now.Before(e.DisabledUntil) {
				continue
			}
			e.DisabledUntil = time.Time{}
			e.Failures = 0
		}
		e.LastUsed = now
		return e.url
	}
	return nil
}

// Report records the outcome of a request made through u. A nil err counts as
// a success and forgives one earlier failure.
func (p *Pool) Report(u *url.URL, err error) {
	if u == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[u.String()]
	if !ok {
		return
	}
	if err == nil {
		e.Successes++
		if e.Failures > 0 {
			e.Failures--
		}
		return
	}
	e.Failures++
	if e.Failures >= p.maxFailures {
		e.DisabledUntil = p.now().Add(p.cooldown)
	}
}

// Snapshot returns health stats for every proxy in registration order.
func (p *Pool) Snapshot() []Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Stats, 0, len(p.order))
	for _, key := range p.order {
		out = append(out, p.entries[key].Stats)
	}
	return out
}
