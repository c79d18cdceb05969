package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/FranksOps/gleaner/internal/credential"
	"github.com/FranksOps/gleaner/internal/export"
	"github.com/FranksOps/gleaner/internal/source"
	"github.com/FranksOps/gleaner/internal/stats"
	"github.com/FranksOps/gleaner/internal/transport"
	"github.com/google/go-cmp/cmp"
)

type route struct {
	match  func(req transport.Request) bool
	status int
	body   string
}

// router answers requests from the first matching route and records them.
type router struct {
	mu     sync.Mutex
	routes []route
	reqs   []transport.Request
}

func (r *router) on(match func(transport.Request) bool, status int, body string) *router {
	r.routes = append(r.routes, route{match: match, status: status, body: body})
	return r
}

func (r *router) Do(_ context.Context, req transport.Request) (*transport.Response, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()

	for _, rt := range r.routes {
		if !rt.match(req) {
			continue
		}
		res := &transport.Response{StatusCode: rt.status, Body: []byte(rt.body)}
		if rt.status >= 300 {
			return res, &transport.UpstreamError{Method: req.Method, URL: req.URL, StatusCode: rt.status, Body: rt.body}
		}
		return res, nil
	}
	return nil, &transport.UpstreamError{URL: req.URL, StatusCode: http.StatusNotFound}
}

func urlHas(sub string) func(transport.Request) bool {
	return func(req transport.Request) bool { return strings.Contains(req.URL, sub) }
}

func queryIs(sub, key, val string) func(transport.Request) bool {
	return func(req transport.Request) bool {
		return strings.Contains(req.URL, sub) && req.Query.Get(key) == val
	}
}

type noWait struct{}

func (noWait) Wait(context.Context) error { return nil }

var fixedNow = time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

func newRunner(doer transport.Doer, creds credential.Set, sp stats.Provider, progress Progress) *Runner {
	return New(Config{
		Doer:        doer,
		Credentials: creds,
		Stats:       sp,
		Progress:    progress,
		Pacers:      Pacers{Catalog: noWait{}, AltReview: noWait{}, Follower: noWait{}},
		Now:         func() time.Time { return fixedNow },
	})
}

func catalogSearchJSON(ids ...string) string {
	items := make([]string, len(ids))
	for i, id := range ids {
		items[i] = fmt.Sprintf(`{"itemId":%s,"itemEvent":{"eventProperties":{"itemNo":%s,"itemName":"item %s"}}}`, id, id, id)
	}
	return `{"data":{"list":[` + strings.Join(items, ",") + `],"pagination":{"hasNext":false}}}`
}

func catalogReviewsJSON(itemNo string, users ...string) string {
	items := make([]string, len(users))
	for i, u := range users {
		items[i] = fmt.Sprintf(`{"itemNo":%s,"optionValue":["black","M"],"userId":%q,"contents":"review by %s","point":5,"insertTimestamp":"2024-01-0%dT00:00:00"}`, itemNo, u, u, i+1)
	}
	return `{"data":{"results":[` + strings.Join(items, ",") + `]}}`
}

func TestCatalogReviews(t *testing.T) {
	doer := (&router{}).
		on(urlHas("listing/items"), 200, catalogSearchJSON("11", "22", "33")).
		on(queryIs("review-api", "itemId", "11"), 200, catalogReviewsJSON("11", "u1", "u2")).
		on(queryIs("review-api", "itemId", "22"), 500, "boom").
		on(queryIs("review-api", "itemId", "33"), 200, catalogReviewsJSON("33", "u3"))

	var progress [][2]int
	r := newRunner(doer, credential.Set{}, nil, func(done, total int) {
		progress = append(progress, [2]int{done, total})
	})

	out, err := r.CatalogReviews(context.Background(), CatalogRequest{Source: source.NameCatalog, Keyword: " 니트 ", Pages: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.Query != "니트" || out.Source != "29cm" || out.Schema.Name != export.ReviewSchema.Name {
		t.Errorf("unexpected output header %+v", out)
	}
	if len(out.Rows) != 3 {
		t.Fatalf("expected 3 review rows, got %d", len(out.Rows))
	}
	if diff := cmp.Diff([]any{"11", "black, M", "u1", "review by u1", 5.0, "2024-01-01T00:00:00"}, out.Rows[0]); diff != "" {
		t.Errorf("first row mismatch (-want +got):\n%s", diff)
	}
	if out.Rows[2][0] != "33" {
		t.Errorf("failed product must be skipped, got %v", out.Rows[2])
	}
	if !out.EndedDueToError || len(out.Errors) != 1 {
		t.Errorf("expected the failed product to be recorded, got %v", out.Errors)
	}
	if out.Calls != 4 {
		t.Errorf("expected 1 search + 3 review calls, got %d", out.Calls)
	}
	if diff := cmp.Diff([][2]int{{1, 3}, {2, 3}, {3, 3}}, progress); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}

	e := out.Export()
	if e.ID == "" || e.Schema != "review" || len(e.Columns) != 6 || !e.CreatedAt.Equal(fixedNow) || e.Error == "" {
		t.Errorf("unexpected export %+v", e)
	}
}

func TestCatalogReviews_Validation(t *testing.T) {
	empty := (&router{}).on(urlHas("listing/items"), 200, `{"data":{"list":[],"pagination":{"hasNext":false}}}`)
	noReviews := (&router{}).
		on(urlHas("listing/items"), 200, catalogSearchJSON("11")).
		on(urlHas("review-api"), 200, `{"data":{"results":[]}}`)

	tests := []struct {
		name  string
		doer  transport.Doer
		req   CatalogRequest
		field string
	}{
		{"blank keyword", &router{}, CatalogRequest{Source: source.NameCatalog, Keyword: "  "}, "keyword"},
		{"unknown source", &router{}, CatalogRequest{Source: "amazon", Keyword: "x"}, "source"},
		{"no products", empty, CatalogRequest{Source: source.NameCatalog, Keyword: "x"}, "keyword"},
		{"no reviews", noReviews, CatalogRequest{Source: source.NameCatalog, Keyword: "x"}, "keyword"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newRunner(tt.doer, credential.Set{}, nil, nil).CatalogReviews(context.Background(), tt.req)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, ve.Field)
			}
		})
	}
}

func TestCatalogReviews_AltCatalogDedup(t *testing.T) {
	search := `{"data":{"list":[{"goodsNo":7,"goodsName":"shirt"},{"goodsNo":8,"goodsName":"pants"}],"pagination":{"hasNext":false}}}`
	reviews := `{"data":{"list":[
		{"content":"a","grade":"5","createDate":"d1","goodsOption":"L","userProfileInfo":{"userId":"u1"}},
		{"content":"b","grade":"4","createDate":"d2","userProfileInfo":{"userId":"u1"}},
		{"content":"c","grade":"3","createDate":"d3","userProfileInfo":{"userNickName":"nick"}}
	],"page":{"page":0,"totalPages":1}}}`
	otherReviews := `{"data":{"list":[
		{"content":"again","grade":"2","createDate":"d4","userProfileInfo":{"userId":"u1"}},
		{"content":"new","grade":"4","createDate":"d5","userProfileInfo":{"userId":"u2"}}
	],"page":{"page":0,"totalPages":1}}}`
	doer := (&router{}).
		on(urlHas("plp/goods"), 200, search).
		on(queryIs("review/v1/view/list", "goodsNo", "7"), 200, reviews).
		on(queryIs("review/v1/view/list", "goodsNo", "8"), 200, otherReviews)

	out, err := newRunner(doer, credential.Set{}, nil, nil).CatalogReviews(context.Background(),
		CatalogRequest{Source: source.NameAltCatalog, Keyword: "셔츠"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][]any{
		{"7", "L", "u1", "a", 5.0, "d1"},
		{"7", "", "nick", "c", 3.0, "d3"},
		{"8", "", "u2", "new", 4.0, "d5"},
	}
	if diff := cmp.Diff(want, out.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func followersPage(from, n int, next string, more bool) string {
	users := make([]string, n)
	for i := range users {
		users[i] = fmt.Sprintf(`{"pk":"%d","username":"f%d","full_name":"F %d"}`, from+i, from+i, from+i)
	}
	return fmt.Sprintf(`{"users":[%s],"next_max_id":%q,"has_more":%t}`, strings.Join(users, ","), next, more)
}

const profileJSON = `{"data":{"user":{"id":"4242","username":"brand","edge_followed_by":{"count":60},"edge_follow":{"count":1},"edge_owner_to_timeline_media":{"count":2}}}}`

func TestFollowers(t *testing.T) {
	doer := (&router{}).
		on(urlHas("web_profile_info"), 200, profileJSON).
		on(func(req transport.Request) bool {
			return strings.Contains(req.URL, "/friendships/4242/followers/") && req.Query.Get("max_id") == ""
		}, 200, followersPage(0, 50, "next1", true)).
		on(queryIs("/friendships/4242/followers/", "max_id", "next1"), 200, followersPage(50, 10, "", false))

	creds := credential.New(map[string]string{"cookie": "sessionid=s; csrftoken=tok"})
	r := newRunner(doer, creds, nil, nil)

	out, err := r.Followers(context.Background(), FollowersRequest{ProfileURL: "https://www.instagram.com/brand/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Rows) != 60 || out.Calls != 3 || out.EndedDueToError {
		t.Fatalf("expected 60 rows from 3 calls, got %d rows, %d calls, errored=%v", len(out.Rows), out.Calls, out.EndedDueToError)
	}
	if diff := cmp.Diff([]any{"brand", "f0", "F 0"}, out.Rows[0]); diff != "" {
		t.Errorf("row mismatch (-want +got):\n%s", diff)
	}

	last := doer.reqs[len(doer.reqs)-1].Credentials
	if last.Get("referer") != "https://www.instagram.com/brand/followers/" {
		t.Errorf("unexpected referer %q", last.Get("referer"))
	}
	if last.Get("x-ig-app-id") != source.DefaultAppID || last.Get("x-csrftoken") != "tok" {
		t.Errorf("expected app id and csrf token, got %s", last.Redacted())
	}

	capped, err := r.Followers(context.Background(), FollowersRequest{ProfileURL: "https://www.instagram.com/brand/", MaxFollowers: 25})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(capped.Rows) != 25 || capped.Calls != 2 {
		t.Errorf("expected 25 rows from 2 calls, got %d rows, %d calls", len(capped.Rows), capped.Calls)
	}
}

func TestFollowers_Validation(t *testing.T) {
	withCookie := credential.New(map[string]string{"cookie": "sessionid=s"})
	tests := []struct {
		name  string
		creds credential.Set
		url   string
		field string
	}{
		{"empty url", withCookie, "", "profile url"},
		{"foreign url", withCookie, "https://example.com/brand", "profile url"},
		{"missing cookie", credential.Set{}, "https://www.instagram.com/brand/", "credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newRunner(&router{}, tt.creds, nil, nil).Followers(context.Background(), FollowersRequest{ProfileURL: tt.url})
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("expected validation error on %q, got %v", tt.field, err)
			}
		})
	}

	// a failed lookup is not a validation error
	doer := (&router{}).on(urlHas("web_profile_info"), 404, "{}")
	_, err := newRunner(doer, withCookie, nil, nil).Followers(context.Background(), FollowersRequest{ProfileURL: "https://www.instagram.com/ghost/"})
	var ue *transport.UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != 404 {
		t.Errorf("expected upstream error, got %v", err)
	}
}

const searchJSON = `{"media_grid":{"sections":[{"layout_content":{"medias":[
	{"media":{"pk":"111","code":"A","taken_at":1700000000,"like_count":5,"comment_count":2,"caption":{"text":"one"},"user":{"username":"alice"}}},
	{"media":{"pk":"222","code":"B","taken_at":1700000000,"like_count":1,"comment_count":0,"user":{"username":"alice"}}},
	{"media":{"pk":"333","code":"C","taken_at":1700000000,"like_count":0,"comment_count":1,"user":{"username":"bob"}}}
]}}]}}`

func TestPostSearch(t *testing.T) {
	doer := (&router{}).
		on(urlHas("top_serp"), 200, searchJSON).
		on(urlHas("/media/111/comments/"), 200, `{"comments":[
			{"pk":"c1","text":"nice","created_at":1700000000,"user":{"username":"x"}},
			{"pk":"c2","text":"wow","created_at":1700000000,"user":{"username":"y"}}]}`).
		on(urlHas("/media/222/comments/"), 200, `{"comments":[]}`).
		on(urlHas("/media/333/comments/"), 500, "down")

	var progress [][2]int
	lookups := map[string]int{}
	reportedBefore := map[string]int{}
	sp := stats.ProviderFunc(func(_ context.Context, handle string) (stats.Stats, error) {
		lookups[handle]++
		reportedBefore[handle] = len(progress)
		if handle == "bob" {
			return stats.Stats{}, stats.ErrUnavailable
		}
		return stats.Stats{Posts: 10, Followers: 20, Following: 30}, nil
	})

	creds := credential.New(map[string]string{"cookie": "sessionid=s"})
	r := newRunner(doer, creds, sp, func(done, total int) { progress = append(progress, [2]int{done, total}) })

	out, err := r.PostSearch(context.Background(), SearchRequest{Query: "#knit"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [][]any{
		{"#knit", "alice", 10, 20, 30, "2023-11-15 07:13:20", 5, "one", 2, "nice", "x", "2023-11-15 07:13:20"},
		{"#knit", "alice", 10, 20, 30, "2023-11-15 07:13:20", 5, "one", 2, "wow", "y", "2023-11-15 07:13:20"},
		{"#knit", "alice", 10, 20, 30, "2023-11-15 07:13:20", 1, "", 0, "", "", ""},
		{"#knit", "bob", "", "", "", "2023-11-15 07:13:20", 0, "", 1, "", "", ""},
	}
	if diff := cmp.Diff(want, out.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if lookups["alice"] != 1 || lookups["bob"] != 1 {
		t.Errorf("expected one stats lookup per author, got %v", lookups)
	}
	if !out.EndedDueToError || out.Calls != 4 {
		t.Errorf("expected failed comment fetch to be recorded over 4 calls, got errored=%v calls=%d", out.EndedDueToError, out.Calls)
	}
	if diff := cmp.Diff([][2]int{{1, 3}, {2, 3}, {3, 3}}, progress); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int{"alice": 1, "bob": 3}, reportedBefore); diff != "" {
		t.Errorf("progress must be reported before the author lookup (-want +got):\n%s", diff)
	}
}

func TestPostSearch_Validation(t *testing.T) {
	creds := credential.New(map[string]string{"cookie": "sessionid=s"})

	_, err := newRunner(&router{}, creds, nil, nil).PostSearch(context.Background(), SearchRequest{Query: " "})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "query" {
		t.Errorf("expected query validation error, got %v", err)
	}

	empty := (&router{}).on(urlHas("top_serp"), 200, `{"media_grid":{"sections":[]}}`)
	_, err = newRunner(empty, creds, nil, nil).PostSearch(context.Background(), SearchRequest{Query: "x"})
	if !errors.As(err, &ve) || ve.Field != "query" {
		t.Errorf("expected empty-result validation error, got %v", err)
	}

	_, err = newRunner(empty, credential.Set{}, nil, nil).PostSearch(context.Background(), SearchRequest{Query: "x"})
	if !errors.As(err, &ve) || ve.Field != "credentials" {
		t.Errorf("expected credentials validation error, got %v", err)
	}
}

func TestPostSearch_Cancelled(t *testing.T) {
	doer := (&router{}).on(urlHas("top_serp"), 200, searchJSON)
	creds := credential.New(map[string]string{"cookie": "sessionid=s"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newRunner(doer, creds, nil, nil).PostSearch(ctx, SearchRequest{Query: "x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
