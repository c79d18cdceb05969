// Package workflow sequences the "search, then collect per result" runs:
// catalog reviews per product, followers of one profile, and post search
// with per-post comments. Each run is sequential on the caller's goroutine.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/FranksOps/gleaner/internal/credential"
	"github.com/FranksOps/gleaner/internal/export"
	"github.com/FranksOps/gleaner/internal/paginate"
	"github.com/FranksOps/gleaner/internal/source"
	"github.com/FranksOps/gleaner/internal/stats"
	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/FranksOps/gleaner/internal/transport"
	"github.com/google/uuid"
)

// ValidationError is the only error that aborts a run: missing input, or a
// search that found nothing to collect.
type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Msg, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Progress is called after each product or post with the number completed so
// far and the total.
type Progress func(done, total int)

// Pacers override the per-source pauses. Nil fields use the source defaults.
type Pacers struct {
	Catalog   paginate.Waiter
	AltReview paginate.Waiter
	Follower  paginate.Waiter
}

// Config holds the collaborators of a Runner.
type Config struct {
	Doer        transport.Doer
	Credentials credential.Set
	// Stats answers author counts for post search. Nil leaves them blank.
	Stats    stats.Provider
	Progress Progress
	Pacers   Pacers
	// Endpoints override the production hosts. Empty fields keep them.
	Endpoints Endpoints
	Logger    *slog.Logger
	Now       func() time.Time
}

// Endpoints locate each upstream.
type Endpoints struct {
	CatalogSearch     string
	CatalogReviews    string
	AltCatalogSearch  string
	AltCatalogReviews string
	SocialBase        string
}

func (e Endpoints) withDefaults() Endpoints {
	if e.CatalogSearch == "" {
		e.CatalogSearch = source.DefaultCatalogSearchURL
	}
	if e.CatalogReviews == "" {
		e.CatalogReviews = source.DefaultCatalogReviewsURL
	}
	if e.AltCatalogSearch == "" {
		e.AltCatalogSearch = source.DefaultAltCatalogSearchURL
	}
	if e.AltCatalogReviews == "" {
		e.AltCatalogReviews = source.DefaultAltCatalogReviewsURL
	}
	if e.SocialBase == "" {
		e.SocialBase = source.DefaultSocialBaseURL
	}
	return e
}

// Runner executes workflows against the configured transport.
type Runner struct {
	creds    credential.Set
	stats    stats.Provider
	progress Progress
	pacers   Pacers
	logger   *slog.Logger
	now      func() time.Time

	catalogSearch  *source.CatalogSearch
	catalogReviews *source.CatalogReviews
	altSearch      *source.AltCatalogSearch
	altReviews     *source.AltCatalogReviews
	social         *source.Social
}

// New creates a Runner. Zero config values get defaults.
func New(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Progress == nil {
		cfg.Progress = func(int, int) {}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Pacers.Catalog == nil {
		cfg.Pacers.Catalog = source.CatalogPacer()
	}
	if cfg.Pacers.AltReview == nil {
		cfg.Pacers.AltReview = source.AltReviewPacer()
	}
	if cfg.Pacers.Follower == nil {
		cfg.Pacers.Follower = source.FollowerPacer()
	}

	ep := cfg.Endpoints.withDefaults()

	return &Runner{
		creds:    cfg.Credentials,
		stats:    cfg.Stats,
		progress: cfg.Progress,
		pacers:   cfg.Pacers,
		logger:   cfg.Logger,
		now:      cfg.Now,

		catalogSearch:  &source.CatalogSearch{Doer: cfg.Doer, URL: ep.CatalogSearch},
		catalogReviews: &source.CatalogReviews{Doer: cfg.Doer, URL: ep.CatalogReviews},
		altSearch:      &source.AltCatalogSearch{Doer: cfg.Doer, URL: ep.AltCatalogSearch},
		altReviews:     &source.AltCatalogReviews{Doer: cfg.Doer, URL: ep.AltCatalogReviews},
		social:         &source.Social{Doer: cfg.Doer, BaseURL: ep.SocialBase},
	}
}

// Output is the row set of one finished run.
type Output struct {
	Source          string
	Query           string
	Schema          export.Schema
	Rows            [][]any
	Calls           int
	EndedDueToError bool
	// Errors are the per-item failures that were logged and skipped.
	Errors    []error
	CreatedAt time.Time
}

func (o *Output) note(calls int, ended bool, err error) {
	o.Calls += calls
	if ended {
		o.EndedDueToError = true
		o.Errors = append(o.Errors, err)
	}
}

// Export converts the output into an archivable export with a fresh id.
func (o *Output) Export() *storage.Export {
	e := &storage.Export{
		ID:              uuid.NewString(),
		Source:          o.Source,
		Query:           o.Query,
		Schema:          o.Schema.Name,
		Columns:         o.Schema.Columns,
		Rows:            o.Rows,
		Calls:           o.Calls,
		EndedDueToError: o.EndedDueToError,
		CreatedAt:       o.CreatedAt,
	}
	if err := errors.Join(o.Errors...); err != nil {
		e.Error = err.Error()
	}
	return e
}

// CatalogRequest asks for every review of the products a keyword finds.
type CatalogRequest struct {
	// Source is source.NameCatalog or source.NameAltCatalog.
	Source  string
	Keyword string
	// Pages caps the product search. Zero means one page.
	Pages int
}

// CatalogReviews searches products and collects each product's reviews.
// Products whose collection fails are logged and skipped; products without
// reviews contribute nothing.
func (r *Runner) CatalogReviews(ctx context.Context, req CatalogRequest) (*Output, error) {
	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		return nil, &ValidationError{Field: "keyword", Msg: "검색어를 입력해주세요"}
	}

	var (
		search      paginate.Adapter[source.SearchParams, source.Product, int]
		reviews     paginate.Adapter[source.ReviewParams, source.Review, int]
		reviewPacer paginate.Waiter
	)
	switch req.Source {
	case source.NameCatalog:
		search, reviews, reviewPacer = r.catalogSearch, r.catalogReviews, r.pacers.Catalog
	case source.NameAltCatalog:
		search, reviews, reviewPacer = r.altSearch, r.altReviews, r.pacers.AltReview
	default:
		return nil, &ValidationError{Field: "source", Msg: fmt.Sprintf("unknown catalog %q", req.Source)}
	}

	pages := req.Pages
	if pages <= 0 {
		pages = 1
	}

	out := &Output{Source: req.Source, Query: keyword, Schema: export.ReviewSchema, CreatedAt: r.now()}
	params := source.Params{Credentials: r.creds}

	found := paginate.Collect(ctx, search, source.SearchParams{Params: params, Keyword: keyword, MaxPages: pages},
		paginate.Options{Pacer: r.pacers.Catalog, Logger: r.logger, Source: req.Source})
	out.note(found.Calls, found.EndedDueToError, found.Err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(found.Items) == 0 {
		return nil, &ValidationError{Field: "keyword", Msg: "검색 결과가 없습니다", Err: found.Err}
	}
	r.logger.Info("products found", "source", req.Source, "keyword", keyword, "products", len(found.Items))

	var all []source.Review
	for i, p := range found.Items {
		if ctx.Err() != nil {
			out.note(0, true, ctx.Err())
			break
		}

		got := paginate.Collect(ctx, reviews, source.ReviewParams{Params: params, ItemID: p.ID},
			paginate.Options{Pacer: reviewPacer, Logger: r.logger, Source: req.Source})
		out.note(got.Calls, got.EndedDueToError, got.Err)
		if got.EndedDueToError {
			r.logger.Warn("review collection ended early", "source", req.Source, "item", p.ID, "collected", len(got.Items), "err", got.Err)
		}
		if len(got.Items) == 0 {
			r.logger.Debug("product has no reviews", "source", req.Source, "item", p.ID)
		}
		all = append(all, got.Items...)
		r.progress(i+1, len(found.Items))
	}

	if len(all) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &ValidationError{Field: "keyword", Msg: "수집된 리뷰가 없습니다"}
	}

	out.Rows = export.ReviewRows(req.Source, all)
	r.logger.Info("reviews collected", "source", req.Source, "products", len(found.Items), "reviews", len(all), "rows", len(out.Rows))
	return out, nil
}

// FollowersRequest asks for the followers of one profile.
type FollowersRequest struct {
	ProfileURL string
	// MaxFollowers caps the list. Zero means every follower.
	MaxFollowers int
}

// Followers resolves the profile handle to its id and pages through its
// follower list.
func (r *Runner) Followers(ctx context.Context, req FollowersRequest) (*Output, error) {
	if strings.TrimSpace(req.ProfileURL) == "" {
		return nil, &ValidationError{Field: "profile url", Msg: "인스타그램 URL을 입력해주세요"}
	}
	handle, err := source.ParseProfileURL(req.ProfileURL)
	if err != nil {
		return nil, &ValidationError{Field: "profile url", Msg: "올바른 인스타그램 URL이 아닙니다", Err: err}
	}
	creds, err := r.socialCredentials()
	if err != nil {
		return nil, err
	}
	creds = creds.With("referer", source.FollowersReferer(req.ProfileURL))
	params := source.Params{Credentials: creds}

	out := &Output{Source: source.NameSocial, Query: handle, Schema: export.FollowerSchema, CreatedAt: r.now()}

	prof, err := r.social.LookupProfile(ctx, params, handle)
	out.Calls++
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", handle, err)
	}
	r.logger.Info("profile resolved", "handle", handle, "id", prof.ID, "followers", prof.Followers)

	got := paginate.Collect[source.FollowerParams, source.Follower, string](ctx, r.social.Followers(), source.FollowerParams{Params: params, UserID: prof.ID},
		paginate.Options{MaxItems: req.MaxFollowers, Pacer: r.pacers.Follower, Logger: r.logger, Source: source.NameSocial})
	out.note(got.Calls, got.EndedDueToError, got.Err)
	if got.EndedDueToError {
		r.logger.Warn("follower collection ended early", "handle", handle, "collected", len(got.Items), "err", got.Err)
	}

	out.Rows = export.FollowerRows(handle, got.Items)
	r.logger.Info("followers collected", "handle", handle, "followers", len(got.Items), "calls", out.Calls)
	return out, nil
}

// SearchRequest asks for posts matching a keyword or hashtag.
type SearchRequest struct {
	Query string
	// MaxPosts caps the posts kept from the search. Zero keeps all.
	MaxPosts int
}

// PostSearch runs one search and fans each post out into a comment fetch.
// A failed comment fetch leaves that post with blank comment columns.
func (r *Runner) PostSearch(ctx context.Context, req SearchRequest) (*Output, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, &ValidationError{Field: "query", Msg: "검색어를 입력해주세요"}
	}
	creds, err := r.socialCredentials()
	if err != nil {
		return nil, err
	}
	params := source.Params{Credentials: creds}

	out := &Output{Source: source.NameSocial, Query: query, Schema: export.SearchSchema, CreatedAt: r.now()}

	posts := paginate.Collect[source.PostSearchParams, source.Post, struct{}](ctx, r.social.PostSearch(), source.PostSearchParams{Params: params, Query: query},
		paginate.Options{MaxItems: req.MaxPosts, Pacer: r.pacers.Catalog, Logger: r.logger, Source: source.NameSocial})
	out.note(posts.Calls, posts.EndedDueToError, posts.Err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(posts.Items) == 0 {
		return nil, &ValidationError{Field: "query", Msg: "검색 결과가 없습니다", Err: posts.Err}
	}
	r.logger.Info("posts found", "query", query, "posts", len(posts.Items))

	var memo *stats.Memo
	if r.stats != nil {
		memo = stats.NewMemo(r.stats)
	}

	records := make([]export.PostRecord, 0, len(posts.Items))
	for i, p := range posts.Items {
		if ctx.Err() != nil {
			out.note(0, true, ctx.Err())
			break
		}

		rec := export.PostRecord{Post: p}
		comments := paginate.Collect[source.CommentParams, source.Comment, struct{}](ctx, r.social.Comments(), source.CommentParams{Params: params, MediaID: p.MediaID},
			paginate.Options{Pacer: r.pacers.Catalog, Logger: r.logger, Source: source.NameSocial})
		out.note(comments.Calls, comments.EndedDueToError, comments.Err)
		if comments.EndedDueToError {
			r.logger.Warn("comment fetch failed", "media", p.MediaID, "err", comments.Err)
		}
		rec.Comments = comments.Items
		r.progress(i+1, len(posts.Items))

		if memo != nil && p.Author != "" {
			s, err := memo.Stats(ctx, p.Author)
			if err == nil {
				rec.Stats = &s
			} else {
				r.logger.Debug("author stats unavailable", "author", p.Author, "err", err)
			}
		}

		records = append(records, rec)
	}

	out.Rows = export.SearchRows(query, records)
	r.logger.Info("search collected", "query", query, "posts", len(records), "rows", len(out.Rows))
	return out, nil
}

// socialCredentials checks the session cookie and fills the web app id.
func (r *Runner) socialCredentials() (credential.Set, error) {
	if err := r.creds.RequireCookie(); err != nil {
		return credential.Set{}, &ValidationError{Field: "credentials", Msg: "인스타그램 쿠키가 필요합니다", Err: err}
	}
	creds := r.creds
	if !creds.Has("x-ig-app-id") {
		creds = creds.With("x-ig-app-id", source.DefaultAppID)
	}
	return creds, nil
}
