// Package export flattens collected items into spreadsheet rows. Rows are
// plain []any tuples matching one Schema; storage backends decide how they
// are persisted.
package export

import (
	"strings"
	"time"
	"unicode"

	"github.com/FranksOps/gleaner/internal/source"
	"github.com/FranksOps/gleaner/internal/stats"
	"github.com/samber/lo"
)

// Schema is a fixed column layout for one kind of export.
type Schema struct {
	Name    string
	Sheet   string
	Columns []string
	Widths  []float64
}

var (
	ReviewSchema = Schema{
		Name:    "review",
		Sheet:   "리뷰",
		Columns: []string{"상품번호", "옵션값", "사용자ID", "내용", "평점", "작성일시"},
		Widths:  []float64{15, 30, 20, 50, 10, 20},
	}

	FollowerSchema = Schema{
		Name:    "follower",
		Sheet:   "팔로워",
		Columns: []string{"계정", "팔로워 아이디", "팔로워 이름"},
		Widths:  []float64{20, 25, 30},
	}

	SearchSchema = Schema{
		Name:  "search",
		Sheet: "검색결과",
		Columns: []string{
			"검색어", "작성자", "게시물 수", "팔로워 수", "팔로잉 수", "작성일",
			"좋아요 수", "내용", "댓글 수", "댓글 내용", "댓글 작성자", "댓글 작성일",
		},
		Widths: []float64{15, 20, 10, 10, 10, 20, 10, 50, 10, 50, 20, 20},
	}
)

// SchemaByName returns one of the known schemas.
func SchemaByName(name string) (Schema, bool) {
	for _, s := range []Schema{ReviewSchema, FollowerSchema, SearchSchema} {
		if s.Name == name {
			return s, true
		}
	}
	return Schema{}, false
}

// ReviewRows projects reviews onto ReviewSchema. Rows from the alternate
// catalog keep only the first review of each reviewer across the whole run.
func ReviewRows(src string, reviews []source.Review) [][]any {
	if src == source.NameAltCatalog {
		reviews = lo.UniqBy(reviews, func(r source.Review) string {
			return r.UserID
		})
	}
	return lo.Map(reviews, func(r source.Review, _ int) []any {
		return []any{r.ItemID, strings.Join(r.Options, ", "), r.UserID, r.Content, r.Rating, r.CreatedAt}
	})
}

// FollowerRows projects followers of account onto FollowerSchema.
func FollowerRows(account string, followers []source.Follower) [][]any {
	return lo.Map(followers, func(f source.Follower, _ int) []any {
		return []any{account, f.Username, f.FullName}
	})
}

// PostRecord is one search hit with its author's counts and its comments.
// Stats is nil when no provider could answer.
type PostRecord struct {
	Post     source.Post
	Stats    *stats.Stats
	Comments []source.Comment
}

// SearchRows fans every post out into one row per comment, or a single row
// with blank comment columns when the post has none.
func SearchRows(query string, posts []PostRecord) [][]any {
	var rows [][]any
	for _, rec := range posts {
		p := rec.Post
		var postCount, followers, following any = "", "", ""
		if rec.Stats != nil {
			postCount, followers, following = rec.Stats.Posts, rec.Stats.Followers, rec.Stats.Following
		}
		head := []any{query, p.Author, postCount, followers, following, p.TakenAt, p.LikeCount, p.Caption, p.CommentCount}

		if len(rec.Comments) == 0 {
			rows = append(rows, append(head[:len(head):len(head)], "", "", ""))
			continue
		}
		for _, c := range rec.Comments {
			rows = append(rows, append(head[:len(head):len(head)], c.Text, c.Author, c.CreatedAt))
		}
	}
	return rows
}

// FileName returns "<source>_<sanitized query>_<YYYY-MM-DD><ext>".
func FileName(src, query string, day time.Time, ext string) string {
	return src + "_" + Sanitize(query) + "_" + day.Format("2006-01-02") + ext
}

// Sanitize replaces every rune that is neither an ASCII letter or digit nor
// Hangul with '_'.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		case unicode.Is(unicode.Hangul, r):
			return r
		}
		return '_'
	}, s)
}
