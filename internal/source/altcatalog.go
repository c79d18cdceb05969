package source

import (
	"context"
	"net/url"
	"strconv"

	"github.com/FranksOps/gleaner/internal/paginate"
	"github.com/FranksOps/gleaner/internal/transport"
)

const (
	DefaultAltCatalogSearchURL  = "https://api.musinsa.com/api2/dp/v1/plp/goods"
	DefaultAltCatalogReviewsURL = "https://goods.musinsa.com/api2/review/v1/view/list"

	DefaultAltCatalogPageSize = 60
	AltCatalogReviewPageSize  = 20
)

// AltCatalogSearch lists products on musinsa ordered by review count.
type AltCatalogSearch struct {
	Doer transport.Doer
	URL  string
}

var _ paginate.Adapter[SearchParams, Product, int] = (*AltCatalogSearch)(nil)

type altSearchResponse struct {
	Data *struct {
		List *[]struct {
			GoodsNo   flexString `json:"goodsNo"`
			GoodsName string     `json:"goodsName"`
		} `json:"list"`
		Pagination struct {
			HasNext bool `json:"hasNext"`
		} `json:"pagination"`
	} `json:"data"`
}

// FetchPage requests page cursor, sent 1-based like the storefront does.
func (a *AltCatalogSearch) FetchPage(ctx context.Context, p SearchParams, cursor *int) (paginate.Page[Product, int], error) {
	page := index(cursor)
	size := p.PageSize
	if size <= 0 {
		size = DefaultAltCatalogPageSize
	}

	raw, err := call(ctx, a.Doer, transport.Request{
		URL: a.URL,
		Query: url.Values{
			"keyword":  {p.Keyword},
			"page":     {itoa(page + 1)},
			"size":     {itoa(size)},
			"sortCode": {"REVIEW"},
			"caller":   {"SEARCH"},
			"gf":       {"A"},
		},
		Credentials: p.Credentials,
		Source:      NameAltCatalog,
	})
	if err != nil {
		return paginate.Page[Product, int]{}, err
	}
	return decodeAltSearch(raw, page, p.MaxPages)
}

func decodeAltSearch(raw []byte, page, maxPages int) (paginate.Page[Product, int], error) {
	var resp altSearchResponse
	if err := unmarshal(NameAltCatalog, raw, &resp); err != nil {
		return paginate.Page[Product, int]{}, err
	}
	if resp.Data == nil || resp.Data.List == nil {
		return paginate.Page[Product, int]{}, missing(NameAltCatalog, "data.list")
	}

	out := paginate.Page[Product, int]{Items: make([]Product, 0, len(*resp.Data.List))}
	for _, g := range *resp.Data.List {
		out.Items = append(out.Items, Product{ID: string(g.GoodsNo), Name: g.GoodsName})
	}
	if len(out.Items) > 0 && resp.Data.Pagination.HasNext {
		out.Next = nextIndex(page, maxPages)
	}
	return out, nil
}

// AltCatalogReviews lists every review of one musinsa product.
type AltCatalogReviews struct {
	Doer transport.Doer
	URL  string
}

var _ paginate.Adapter[ReviewParams, Review, int] = (*AltCatalogReviews)(nil)

type altReviewsResponse struct {
	Data *struct {
		List *[]struct {
			No              flexString `json:"no"`
			Content         string     `json:"content"`
			Grade           flexString `json:"grade"`
			CreateDate      string     `json:"createDate"`
			GoodsOption     string     `json:"goodsOption"`
			UserProfileInfo struct {
				UserID       flexString `json:"userId"`
				UserNickName string     `json:"userNickName"`
			} `json:"userProfileInfo"`
		} `json:"list"`
		Page *struct {
			Page       int `json:"page"`
			TotalPages int `json:"totalPages"`
		} `json:"page"`
	} `json:"data"`
}

// FetchPage requests one 20-review page. The upstream page block decides
// whether another page exists.
func (a *AltCatalogReviews) FetchPage(ctx context.Context, p ReviewParams, cursor *int) (paginate.Page[Review, int], error) {
	page := index(cursor)
	raw, err := call(ctx, a.Doer, transport.Request{
		URL: a.URL,
		Query: url.Values{
			"page":              {itoa(page)},
			"pageSize":          {itoa(AltCatalogReviewPageSize)},
			"goodsNo":           {p.ItemID},
			"sort":              {"up_cnt_desc"},
			"selectedSimilarNo": {p.ItemID},
			"myFilter":          {"false"},
			"hasPhoto":          {"false"},
			"isExperience":      {"false"},
		},
		Credentials: p.Credentials,
		Source:      NameAltCatalog,
	})
	if err != nil {
		return paginate.Page[Review, int]{}, err
	}
	return decodeAltReviews(raw, p.ItemID, page)
}

func decodeAltReviews(raw []byte, itemID string, page int) (paginate.Page[Review, int], error) {
	var resp altReviewsResponse
	if err := unmarshal(NameAltCatalog, raw, &resp); err != nil {
		return paginate.Page[Review, int]{}, err
	}
	if resp.Data == nil || resp.Data.List == nil {
		return paginate.Page[Review, int]{}, missing(NameAltCatalog, "data.list")
	}

	list := *resp.Data.List
	out := paginate.Page[Review, int]{Items: make([]Review, 0, len(list))}
	for _, r := range list {
		user := string(r.UserProfileInfo.UserID)
		if user == "" {
			user = r.UserProfileInfo.UserNickName
		}
		rating, _ := strconv.ParseFloat(string(r.Grade), 64)

		var opts []string
		if r.GoodsOption != "" {
			opts = []string{r.GoodsOption}
		}
		out.Items = append(out.Items, Review{
			ItemID:    itemID,
			Options:   opts,
			UserID:    user,
			Content:   r.Content,
			Rating:    rating,
			CreatedAt: r.CreateDate,
		})
	}

	if pg := resp.Data.Page; pg != nil && pg.Page+1 < pg.TotalPages {
		next := page + 1
		out.Next = &next
	}
	return out, nil
}
