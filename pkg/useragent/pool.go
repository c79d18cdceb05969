package useragent

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
)

// Identity is the set of browser-identifying headers sent with a request.
// Chromium browsers advertise client hints; Firefox and Safari do not, so
// their SecCHUA and Platform fields stay empty.
type Identity struct {
	UserAgent string
	SecCHUA   string
	Platform  string
	Mobile    bool
}

// Apply writes the identity onto h. Headers already present in h are left
// alone so that caller-supplied credentials always win.
func (id Identity) Apply(h http.Header) {
	setIfAbsent(h, "User-Agent", id.UserAgent)
	if id.SecCHUA == "" {
		return
	}
	setIfAbsent(h, "Sec-Ch-Ua", id.SecCHUA)
	setIfAbsent(h, "Sec-Ch-Ua-Platform", id.Platform)
	if id.Mobile {
		setIfAbsent(h, "Sec-Ch-Ua-Mobile", "?1")
	} else {
		setIfAbsent(h, "Sec-Ch-Ua-Mobile", "?0")
	}
}

func setIfAbsent(h http.Header, key, value string) {
	if value == "" || h.Get(key) != "" {
		return
	}
	h.Set(key, value)
}

// DefaultPool is a set of current desktop browser identities.
var DefaultPool = []Identity{
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36",
		SecCHUA:   `"Google Chrome";v="143", "Chromium";v="143", "Not A(Brand";v="24"`,
		Platform:  `"macOS"`,
	},
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36",
		SecCHUA:   `"Google Chrome";v="143", "Chromium";v="143", "Not A(Brand";v="24"`,
		Platform:  `"Windows"`,
	},
	{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36 Edg/142.0.0.0",
		SecCHUA:   `"Microsoft Edge";v="142", "Chromium";v="142", "Not_A Brand";v="99"`,
		Platform:  `"Windows"`,
	},
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:145.0) Gecko/20100101 Firefox/145.0",
	},
	{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.6 Safari/605.1.15",
	},
}

// FromUserAgents wraps bare User-Agent strings as identities without client hints.
func FromUserAgents(uas []string) []Identity {
	ids := make([]Identity, 0, len(uas))
	for _, ua := range uas {
		if ua == "" {
			continue
		}
		ids = append(ids, Identity{UserAgent: ua})
	}
	return ids
}

// Pool hands out identities sequentially or at random.
type Pool struct {
	ids     []Identity
	counter atomic.Uint64
}

// NewPool creates a pool from ids, falling back to DefaultPool when empty.
func NewPool(ids []Identity) *Pool {
	if len(ids) == 0 {
		ids = DefaultPool
	}
	copied := make([]Identity, len(ids))
	copy(copied, ids)
	return &Pool{ids: copied}
}

// GetSequential returns identities round-robin. It is safe for concurrent use.
func (p *Pool) GetSequential() Identity {
	if len(p.ids) == 0 {
		return Identity{}
	}
	idx := p.counter.Add(1) - 1
	return p.ids[idx%uint64(len(p.ids))]
}

// GetRandom returns a random identity using crypto/rand.
func (p *Pool) GetRandom() Identity {
	if len(p.ids) == 0 {
		return Identity{}
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.ids))))
	if err != nil {
		return p.GetSequential()
	}
	return p.ids[n.Int64()]
}

// Rotation picks how Next walks the pool.
type Rotation string

const (
	Sequential Rotation = "sequential"
	Random     Rotation = "random"
)

// ParseRotation maps a flag value onto a Rotation. Empty means Sequential.
func ParseRotation(s string) (Rotation, error) {
	switch r := Rotation(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return Sequential, nil
	case Sequential, Random:
		return r, nil
	default:
		return "", fmt.Errorf("useragent: unknown rotation %q", s)
	}
}

// Next returns an identity according to r.
func (p *Pool) Next(r Rotation) Identity {
	if r == Random {
		return p.GetRandom()
	}
	return p.GetSequential()
}

// Len reports how many identities the pool holds.
func (p *Pool) Len() int {
	return len(p.ids)
}
