package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/gleaner/internal/credential"
	"github.com/FranksOps/gleaner/internal/paginate"
	"github.com/FranksOps/gleaner/internal/transport"
	"github.com/google/go-cmp/cmp"
)

func catalogSearchJSON(from, n int, hasNext bool) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"itemId":%d,"itemEvent":{"eventProperties":{"itemNo":%d,"itemName":"item %d"}}}`, 9000+from+i, from+i, from+i)
	}
	return fmt.Sprintf(`{"meta":{"result":"SUCCESS"},"data":{"list":[%s],"pagination":{"page":1,"size":50,"hasNext":%t}}}`,
		strings.Join(items, ","), hasNext)
}

func reviewsJSON(from, n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"itemReviewNo":%d,"itemNo":77,"optionValue":["black","M"],"userId":"u%d","contents":"good %d","point":5,"insertTimestamp":"2025-01-02T03:04:05"}`,
			from+i, from+i, from+i)
	}
	return fmt.Sprintf(`{"result":"SUCCESS","data":{"count":%d,"results":[%s]}}`, n, strings.Join(items, ","))
}

func TestCatalogSearch_CollectsAcrossPages(t *testing.T) {
	doer := replay(catalogSearchJSON(0, 50, true), catalogSearchJSON(50, 30, false))
	adapter := &CatalogSearch{Doer: doer, URL: "https://catalog.test/search"}

	res := paginate.Collect[SearchParams, Product, int](context.Background(), adapter,
		SearchParams{Keyword: "니트", PageSize: 50}, paginate.Options{})

	if len(res.Items) != 80 || res.Calls != 2 {
		t.Fatalf("expected 80 items in 2 calls, got %d in %d", len(res.Items), res.Calls)
	}
	if res.Items[0].ID != "0" || res.Items[79].ID != "79" {
		t.Errorf("unexpected ordering: first %v last %v", res.Items[0], res.Items[79])
	}

	for i, req := range doer.reqs {
		if req.Method != http.MethodPost {
			t.Errorf("call %d: expected POST, got %s", i, req.Method)
		}
		body := req.Body.(catalogSearchBody)
		if body.PageRequest.Page != i+1 {
			t.Errorf("call %d: expected upstream page %d, got %d", i, i+1, body.PageRequest.Page)
		}
		if body.Keyword != "니트" || body.SortType != "MOST_REVIEWED" || body.PageType != "SRP" {
			t.Errorf("call %d: unexpected body %+v", i, body)
		}
	}
}

func TestCatalogSearch_PageCap(t *testing.T) {
	doer := replay(catalogSearchJSON(0, 50, true), catalogSearchJSON(50, 50, true), catalogSearchJSON(100, 50, true))
	adapter := &CatalogSearch{Doer: doer, URL: "https://catalog.test/search"}

	res := paginate.Collect[SearchParams, Product, int](context.Background(), adapter,
		SearchParams{Keyword: "x", MaxPages: 2}, paginate.Options{})

	if res.Calls != 2 || len(res.Items) != 100 {
		t.Errorf("expected page cap to stop after 2 calls, got %d calls / %d items", res.Calls, len(res.Items))
	}
}

func TestCatalogSearch_MissingList(t *testing.T) {
	doer := replay(`{"data":{"pagination":{"hasNext":true}}}`)
	adapter := &CatalogSearch{Doer: doer, URL: "https://catalog.test/search"}

	_, err := adapter.FetchPage(context.Background(), SearchParams{Keyword: "x"}, nil)
	assertDecodeError(t, err, "data.list")
}

func TestCatalogReviews_ShortPageEnds(t *testing.T) {
	doer := replay(reviewsJSON(0, 100), reviewsJSON(100, 7))
	adapter := &CatalogReviews{Doer: doer, URL: "https://catalog.test/reviews"}

	res := paginate.Collect[ReviewParams, Review, int](context.Background(), adapter,
		ReviewParams{ItemID: "77"}, paginate.Options{})

	if len(res.Items) != 107 || res.Calls != 2 {
		t.Fatalf("expected 107 reviews in 2 calls, got %d in %d", len(res.Items), res.Calls)
	}
	for i, req := range doer.reqs {
		if got := req.Query.Get("page"); got != fmt.Sprint(i) {
			t.Errorf("call %d: expected 0-based page %d, got %s", i, i, got)
		}
		if req.Query.Get("size") != "100" || req.Query.Get("itemId") != "77" || req.Query.Get("sort") != "BEST" {
			t.Errorf("call %d: unexpected query %v", i, req.Query)
		}
	}

	want := Review{
		ItemID:    "77",
		Options:   []string{"black", "M"},
		UserID:    "u0",
		Content:   "good 0",
		Rating:    5,
		CreatedAt: "2025-01-02T03:04:05",
	}
	if diff := cmp.Diff(want, res.Items[0]); diff != "" {
		t.Errorf("review mismatch (-want +got):\n%s", diff)
	}
}

func TestCatalogReviews_ErrorEndsWithPartialResult(t *testing.T) {
	doer := &fakeDoer{handler: func(n int, _ transport.Request) (int, string) {
		if n == 0 {
			return http.StatusOK, reviewsJSON(0, 100)
		}
		return http.StatusBadGateway, "bad gateway"
	}}
	adapter := &CatalogReviews{Doer: doer, URL: "https://catalog.test/reviews"}

	res := paginate.Collect[ReviewParams, Review, int](context.Background(), adapter,
		ReviewParams{ItemID: "1"}, paginate.Options{})

	if len(res.Items) != 100 || !res.EndedDueToError {
		t.Errorf("expected 100 items and an error ending, got %d / %v", len(res.Items), res.EndedDueToError)
	}
}

func TestDecode_Idempotent(t *testing.T) {
	search := []byte(catalogSearchJSON(0, 3, true))
	a1, err1 := decodeCatalogSearch(search, 0, 0)
	a2, err2 := decodeCatalogSearch(search, 0, 0)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v %v", err1, err2)
	}
	if diff := cmp.Diff(a1, a2); diff != "" {
		t.Errorf("search decode not idempotent:\n%s", diff)
	}

	reviews := []byte(reviewsJSON(0, 5))
	r1, _ := decodeCatalogReviews(reviews, "77", 0)
	r2, _ := decodeCatalogReviews(reviews, "77", 0)
	if diff := cmp.Diff(r1, r2); diff != "" {
		t.Errorf("reviews decode not idempotent:\n%s", diff)
	}

	followers := []byte(followersJSON(0, 3, "abc", true))
	f1, _ := decodeFollowers(followers)
	f2, _ := decodeFollowers(followers)
	if diff := cmp.Diff(f1, f2); diff != "" {
		t.Errorf("followers decode not idempotent:\n%s", diff)
	}
}

func TestCatalogReviews_OverRealTransport(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "sid=1" {
			t.Errorf("expected credentials to reach upstream, got cookie %q", r.Header.Get("Cookie"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"results": []map[string]any{
				{"itemNo": 5, "optionValue": []string{}, "userId": "a", "contents": "c", "point": 4, "insertTimestamp": "t"},
			}},
		})
	}))
	defer ts.Close()

	client, err := transport.New(transport.Config{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	adapter := &CatalogReviews{Doer: client, URL: ts.URL}

	page, err := adapter.FetchPage(context.Background(), ReviewParams{
		Params: Params{Credentials: credential.New(map[string]string{"cookie": "sid=1"})},
		ItemID: "5",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 1 || page.Next != nil {
		t.Errorf("expected a single short page, got %+v", page)
	}
}
