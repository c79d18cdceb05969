package stats

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/FranksOps/gleaner/internal/credential"
	"github.com/FranksOps/gleaner/internal/source"
	"github.com/FranksOps/gleaner/internal/transport"
	"github.com/PuerkitoBio/goquery"
)

type kind int

const (
	kindNone kind = iota
	kindPosts
	kindFollowers
	kindFollowing
)

// labels in the order they must be tested: "팔로워" before "팔로우".
var labels = []struct {
	kind  kind
	words []string
}{
	{kindFollowers, []string{"팔로워", "followers"}},
	{kindFollowing, []string{"팔로우", "팔로잉", "following"}},
	{kindPosts, []string{"게시물", "posts"}},
}

// kindsIn reports which labels appear in text.
func kindsIn(text string) []kind {
	text = strings.ToLower(text)
	var out []kind
	for _, l := range labels {
		for _, w := range l.words {
			if strings.Contains(text, w) {
				out = append(out, l.kind)
				break
			}
		}
	}
	return out
}

type partial struct {
	posts, followers, following int
	seen                        map[kind]bool
}

func (p *partial) set(k kind, n int) {
	if p.seen == nil {
		p.seen = make(map[kind]bool)
	}
	if p.seen[k] {
		return
	}
	p.seen[k] = true
	switch k {
	case kindPosts:
		p.posts = n
	case kindFollowers:
		p.followers = n
	case kindFollowing:
		p.following = n
	}
}

func (p *partial) complete() (Stats, bool) {
	if len(p.seen) < 3 {
		return Stats{}, false
	}
	return Stats{Posts: p.posts, Followers: p.followers, Following: p.following}, true
}

// ParseRendered extracts counts from a rendered profile page. Each number
// sits in a span.html-span; the nearest ancestor whose text names exactly
// one label tells which count it is.
func ParseRendered(html string) (Stats, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Stats{}, fmt.Errorf("%w: parse html: %v", ErrUnavailable, err)
	}

	var p partial
	doc.Find("span.html-span").Each(func(_ int, span *goquery.Selection) {
		n, ok := ParseCount(span.Text())
		if !ok {
			return
		}
		for anc := span.Parent(); anc.Length() > 0 && !anc.Is("body"); anc = anc.Parent() {
			kinds := kindsIn(anc.Text())
			if len(kinds) == 0 {
				continue
			}
			if len(kinds) == 1 {
				p.set(kinds[0], n)
			}
			return
		}
	})

	s, ok := p.complete()
	if !ok {
		return Stats{}, fmt.Errorf("%w: counts not found in page", ErrUnavailable)
	}
	return s, nil
}

var (
	numPattern = `([\d.,]+\s*[천만KkMm]?)`

	metaPatterns = []struct {
		kind kind
		re   *regexp.Regexp
	}{
		{kindFollowers, regexp.MustCompile(numPattern + `\s*Followers`)},
		{kindFollowing, regexp.MustCompile(numPattern + `\s*Following`)},
		{kindPosts, regexp.MustCompile(numPattern + `\s*Posts`)},
		{kindFollowers, regexp.MustCompile(`팔로워\s*` + numPattern)},
		{kindFollowing, regexp.MustCompile(`(?:팔로잉|팔로우)\s*` + numPattern)},
		{kindPosts, regexp.MustCompile(`게시물\s*` + numPattern)},
	}
)

// ParseMeta extracts counts from the og:description of a profile page, e.g.
// "1,234 Followers, 56 Following, 78 Posts - ..." or
// "팔로워 1,234명, 팔로잉 56명, 게시물 78개 - ...".
func ParseMeta(html []byte) (Stats, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Stats{}, fmt.Errorf("%w: parse html: %v", ErrUnavailable, err)
	}

	desc, ok := doc.Find(`meta[property="og:description"]`).Attr("content")
	if !ok {
		desc, ok = doc.Find(`meta[name="description"]`).Attr("content")
	}
	if !ok || desc == "" {
		return Stats{}, fmt.Errorf("%w: no description meta", ErrUnavailable)
	}

	var p partial
	for _, mp := range metaPatterns {
		m := mp.re.FindStringSubmatch(desc)
		if m == nil {
			continue
		}
		if n, ok := ParseCount(m[1]); ok {
			p.set(mp.kind, n)
		}
	}

	s, ok := p.complete()
	if !ok {
		return Stats{}, fmt.Errorf("%w: counts not found in %q", ErrUnavailable, desc)
	}
	return s, nil
}

// MetaProvider fetches the profile HTML over the transport and reads the
// description meta tag.
type MetaProvider struct {
	Doer        transport.Doer
	BaseURL     string
	Credentials credential.Set
}

func (p *MetaProvider) Stats(ctx context.Context, handle string) (Stats, error) {
	base := p.BaseURL
	if base == "" {
		base = source.DefaultSocialBaseURL
	}
	res, err := p.Doer.Do(ctx, transport.Request{
		URL:         strings.TrimRight(base, "/") + "/" + handle + "/",
		Credentials: p.Credentials.With("accept", "text/html,application/xhtml+xml"),
		Source:      source.NameSocial,
	})
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ParseMeta(res.Body)
}
