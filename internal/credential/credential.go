// Package credential holds the caller-supplied session headers (cookies,
// csrf token, app id, user agent) that workflows attach to upstream calls.
package credential

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/titanous/json5"
)

// ErrNoCookie is returned by RequireCookie when the set carries no session.
var ErrNoCookie = errors.New("credential: cookie header is required")

// Set is an immutable map of lower-cased header names to values.
type Set struct {
	headers map[string]string
}

// New builds a Set from a header map. Keys are lower-cased; empty values are
// dropped.
func New(h map[string]string) Set {
	s := Set{headers: make(map[string]string, len(h))}
	for k, v := range h {
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k == "" || v == "" || strings.HasPrefix(k, ":") {
			continue
		}
		s.headers[k] = v
	}
	s.deriveCSRF()
	return s
}

// Parse reads headers pasted from browser DevTools. Two layouts are accepted
// and may be mixed: "name: value" lines, and alternating name / value lines.
// Blank lines are ignored and HTTP/2 pseudo headers (":authority") dropped.
func Parse(text string) (Set, error) {
	if strings.TrimSpace(text) == "" {
		return Set{}, errors.New("credential: empty header text")
	}

	h := make(map[string]string)
	var key string
	// bare is set when key came from a line without a colon; the next line is
	// then its value even when that value contains a colon (urls).
	var bare bool

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if key != "" && (bare || !strings.Contains(line, ":")) {
			h[strings.ToLower(key)] = line
			key, bare = "", false
			continue
		}

		name, value, found := cutHeader(line)
		if !found {
			key, bare = line, true
			continue
		}
		if value == "" {
			key, bare = name, false
			continue
		}
		h[strings.ToLower(name)] = value
		key, bare = "", false
	}
	if err := scanner.Err(); err != nil {
		return Set{}, fmt.Errorf("credential: scan: %w", err)
	}
	if len(h) == 0 {
		return Set{}, errors.New("credential: no headers found")
	}
	return New(h), nil
}

// cutHeader splits "name: value". A leading colon belongs to the name so
// pseudo headers survive the split.
func cutHeader(line string) (name, value string, ok bool) {
	start := 0
	if strings.HasPrefix(line, ":") {
		start = 1
	}
	i := strings.Index(line[start:], ":")
	if i < 0 {
		return "", "", false
	}
	i += start
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
}

// Load reads a credential file. JSON5 objects are decoded as header maps;
// anything else is handed to Parse.
func Load(path string) (Set, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("credential: read %s: %w", path, err)
	}

	if bytes.HasPrefix(bytes.TrimSpace(b), []byte("{")) {
		var h map[string]string
		if err := json5.Unmarshal(b, &h); err != nil {
			return Set{}, fmt.Errorf("credential: decode %s: %w", path, err)
		}
		return New(h), nil
	}
	return Parse(string(b))
}

func (s *Set) deriveCSRF() {
	if _, ok := s.headers["x-csrftoken"]; ok {
		return
	}
	if tok := cookieValue(s.headers["cookie"], "csrftoken"); tok != "" {
		s.headers["x-csrftoken"] = tok
	}
}

func cookieValue(cookie, name string) string {
	for _, part := range strings.Split(cookie, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && k == name {
			return v
		}
	}
	return ""
}

// Get returns the value for name, case-insensitively.
func (s Set) Get(name string) string {
	return s.headers[strings.ToLower(name)]
}

// Has reports whether name is present.
func (s Set) Has(name string) bool {
	_, ok := s.headers[strings.ToLower(name)]
	return ok
}

// Len returns the number of headers.
func (s Set) Len() int { return len(s.headers) }

// With returns a copy of s with name set to value.
func (s Set) With(name, value string) Set {
	h := make(map[string]string, len(s.headers)+1)
	for k, v := range s.headers {
		h[k] = v
	}
	h[name] = value
	return New(h)
}

// RequireCookie fails with ErrNoCookie unless a cookie header is present.
func (s Set) RequireCookie() error {
	if !s.Has("cookie") {
		return ErrNoCookie
	}
	return nil
}

// Apply copies every header onto h, overwriting existing values.
func (s Set) Apply(h http.Header) {
	for k, v := range s.headers {
		h.Set(k, v)
	}
}

// Names returns the header names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s.headers))
	for k := range s.headers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Redacted renders the set for logs with secret values masked.
func (s Set) Redacted() string {
	var b strings.Builder
	for i, k := range s.Names() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString("=")
		switch k {
		case "cookie", "x-csrftoken", "x-ig-www-claim", "authorization":
			b.WriteString("***")
		default:
			b.WriteString(s.headers[k])
		}
	}
	return b.String()
}
