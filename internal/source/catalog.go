package source

import (
	"context"
	"net/http"
	"net/url"

	"github.com/FranksOps/gleaner/internal/paginate"
	"github.com/FranksOps/gleaner/internal/transport"
)

const (
	DefaultCatalogSearchURL  = "https://display-bff-api.29cm.co.kr/api/v1/listing/items?colorchipVariant=treatment"
	DefaultCatalogReviewsURL = "https://review-api.29cm.co.kr/api/v4/reviews"

	DefaultCatalogPageSize = 50
	CatalogReviewPageSize  = 100
)

// SearchParams drives a keyword search on a catalog source.
type SearchParams struct {
	Params
	Keyword string
	// PageSize defaults per source when zero.
	PageSize int
	// MaxPages stops the search after this many pages. Zero means no cap.
	MaxPages int
}

// ReviewParams selects the product whose reviews are listed.
type ReviewParams struct {
	Params
	ItemID string
}

// nextIndex returns the cursor after cursor unless the page cap is reached.
func nextIndex(cursor, maxPages int) *int {
	next := cursor + 1
	if maxPages > 0 && next >= maxPages {
		return nil
	}
	return &next
}

func index(cursor *int) int {
	if cursor == nil {
		return 0
	}
	return *cursor
}

// CatalogSearch lists products on 29cm ordered by review count.
type CatalogSearch struct {
	Doer transport.Doer
	URL  string
}

var _ paginate.Adapter[SearchParams, Product, int] = (*CatalogSearch)(nil)

type catalogSearchBody struct {
	Keyword     string         `json:"keyword"`
	PageType    string         `json:"pageType"`
	SortType    string         `json:"sortType"`
	Facets      map[string]any `json:"facets"`
	PageRequest struct {
		Page int `json:"page"`
		Size int `json:"size"`
	} `json:"pageRequest"`
}

type catalogSearchResponse struct {
	Data *struct {
		List *[]struct {
			ItemID    flexString `json:"itemId"`
			ItemEvent struct {
				EventProperties struct {
					ItemNo   flexString `json:"itemNo"`
					ItemName string     `json:"itemName"`
				} `json:"eventProperties"`
			} `json:"itemEvent"`
		} `json:"list"`
		Pagination struct {
			HasNext bool `json:"hasNext"`
		} `json:"pagination"`
	} `json:"data"`
}

// FetchPage requests page cursor. The upstream numbers pages from 1, so the
// 0-based cursor is sent as cursor+1.
func (a *CatalogSearch) FetchPage(ctx context.Context, p SearchParams, cursor *int) (paginate.Page[Product, int], error) {
	page := index(cursor)
	size := p.PageSize
	if size <= 0 {
		size = DefaultCatalogPageSize
	}

	body := catalogSearchBody{
		Keyword:  p.Keyword,
		PageType: "SRP",
		SortType: "MOST_REVIEWED",
		Facets:   map[string]any{},
	}
	body.PageRequest.Page = page + 1
	body.PageRequest.Size = size

	raw, err := call(ctx, a.Doer, transport.Request{
		Method:      http.MethodPost,
		URL:         a.URL,
		Body:        body,
		Credentials: p.Credentials,
		Source:      NameCatalog,
	})
	if err != nil {
		return paginate.Page[Product, int]{}, err
	}
	return decodeCatalogSearch(raw, page, p.MaxPages)
}

func decodeCatalogSearch(raw []byte, page, maxPages int) (paginate.Page[Product, int], error) {
	var resp catalogSearchResponse
	if err := unmarshal(NameCatalog, raw, &resp); err != nil {
		return paginate.Page[Product, int]{}, err
	}
	if resp.Data == nil || resp.Data.List == nil {
		return paginate.Page[Product, int]{}, missing(NameCatalog, "data.list")
	}

	out := paginate.Page[Product, int]{Items: make([]Product, 0, len(*resp.Data.List))}
	for _, it := range *resp.Data.List {
		id := string(it.ItemEvent.EventProperties.ItemNo)
		if id == "" {
			id = string(it.ItemID)
		}
		out.Items = append(out.Items, Product{ID: id, Name: it.ItemEvent.EventProperties.ItemName})
	}
	if len(out.Items) > 0 && resp.Data.Pagination.HasNext {
		out.Next = nextIndex(page, maxPages)
	}
	return out, nil
}

// CatalogReviews lists every review of one 29cm product.
type CatalogReviews struct {
	Doer transport.Doer
	URL  string
}

var _ paginate.Adapter[ReviewParams, Review, int] = (*CatalogReviews)(nil)

type catalogReviewsResponse struct {
	Data *struct {
		Results *[]struct {
			ItemReviewNo    flexString `json:"itemReviewNo"`
			ItemNo          flexString `json:"itemNo"`
			OptionValue     []string   `json:"optionValue"`
			UserID          flexString `json:"userId"`
			Contents        string     `json:"contents"`
			Point           float64    `json:"point"`
			InsertTimestamp string     `json:"insertTimestamp"`
		} `json:"results"`
	} `json:"data"`
}

// FetchPage requests a fixed-size page; a short page is the last one.
func (a *CatalogReviews) FetchPage(ctx context.Context, p ReviewParams, cursor *int) (paginate.Page[Review, int], error) {
	page := index(cursor)
	raw, err := call(ctx, a.Doer, transport.Request{
		URL: a.URL,
		Query: url.Values{
			"itemId": {p.ItemID},
			"page":   {itoa(page)},
			"size":   {itoa(CatalogReviewPageSize)},
			"sort":   {"BEST"},
		},
		Credentials: p.Credentials,
		Source:      NameCatalog,
	})
	if err != nil {
		return paginate.Page[Review, int]{}, err
	}
	return decodeCatalogReviews(raw, p.ItemID, page)
}

func decodeCatalogReviews(raw []byte, itemID string, page int) (paginate.Page[Review, int], error) {
	var resp catalogReviewsResponse
	if err := unmarshal(NameCatalog, raw, &resp); err != nil {
		return paginate.Page[Review, int]{}, err
	}
	if resp.Data == nil || resp.Data.Results == nil {
		return paginate.Page[Review, int]{}, missing(NameCatalog, "data.results")
	}

	results := *resp.Data.Results
	out := paginate.Page[Review, int]{Items: make([]Review, 0, len(results))}
	for _, r := range results {
		id := string(r.ItemNo)
		if id == "" {
			id = itemID
		}
		out.Items = append(out.Items, Review{
			ItemID:    id,
			Options:   r.OptionValue,
			UserID:    string(r.UserID),
			Content:   r.Contents,
			Rating:    r.Point,
			CreatedAt: r.InsertTimestamp,
		})
	}
	if len(results) >= CatalogReviewPageSize {
		next := page + 1
		out.Next = &next
	}
	return out, nil
}
