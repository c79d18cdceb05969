package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/FranksOps/gleaner/internal/paginate"
	"github.com/FranksOps/gleaner/internal/transport"
)

const (
	DefaultSocialBaseURL = "https://www.instagram.com"

	// DefaultAppID is the public web client id instagram expects in x-ig-app-id.
	DefaultAppID = "936619743392459"

	FollowerPageSize = 50
)

// kst is the zone upstream unix timestamps are rendered in.
var kst = time.FixedZone("KST", 9*60*60)

const timeLayout = "2006-01-02 15:04:05"

var profileRe = regexp.MustCompile(`instagram\.com/([^/?#]+)`)

// ErrBadProfileURL is returned by ParseProfileURL.
var ErrBadProfileURL = errors.New("instagram: unrecognised profile url")

// ParseProfileURL extracts the handle from a profile URL such as
// https://www.instagram.com/someone/.
func ParseProfileURL(raw string) (string, error) {
	m := profileRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil || m[1] == "" {
		return "", fmt.Errorf("%w: %q", ErrBadProfileURL, raw)
	}
	return m[1], nil
}

// FollowersReferer is the referer the follower list is requested with.
func FollowersReferer(profileURL string) string {
	profileURL = strings.TrimSpace(profileURL)
	if strings.HasSuffix(profileURL, "/") {
		return profileURL + "followers/"
	}
	return profileURL + "/followers/"
}

// Profile is the public summary of an account.
type Profile struct {
	ID        string
	Username  string
	Posts     int
	Followers int
	Following int
}

// Follower is one account in a follower list.
type Follower struct {
	ID       string
	Username string
	FullName string
}

// Post is one search hit. MediaID drives the nested comment fetch.
type Post struct {
	MediaID      string
	Code         string
	Author       string
	Caption      string
	TakenAt      string
	LikeCount    int
	CommentCount int
}

// Comment is one top-level comment on a post.
type Comment struct {
	ID        string
	Text      string
	Author    string
	CreatedAt string
}

// Social groups the instagram web API adapters.
type Social struct {
	Doer    transport.Doer
	BaseURL string
}

// NewSocial returns adapters pointed at the production host.
func NewSocial(doer transport.Doer) *Social {
	return &Social{Doer: doer, BaseURL: DefaultSocialBaseURL}
}

func (s *Social) endpoint(path string) string {
	return strings.TrimRight(s.BaseURL, "/") + path
}

func formatUnix(sec int64) string {
	if sec <= 0 {
		return ""
	}
	return time.Unix(sec, 0).In(kst).Format(timeLayout)
}

type profileResponse struct {
	Data *struct {
		User *struct {
			ID         flexString `json:"id"`
			Username   string     `json:"username"`
			FollowedBy struct {
				Count int `json:"count"`
			} `json:"edge_followed_by"`
			Follow struct {
				Count int `json:"count"`
			} `json:"edge_follow"`
			Media struct {
				Count int `json:"count"`
			} `json:"edge_owner_to_timeline_media"`
		} `json:"user"`
	} `json:"data"`
}

// LookupProfile resolves a handle to its numeric id and public counts.
func (s *Social) LookupProfile(ctx context.Context, p Params, handle string) (Profile, error) {
	raw, err := call(ctx, s.Doer, transport.Request{
		URL:         s.endpoint("/api/v1/users/web_profile_info/"),
		Query:       url.Values{"username": {handle}},
		Credentials: p.Credentials,
		Source:      NameSocial,
	})
	if err != nil {
		return Profile{}, err
	}
	return decodeProfile(raw)
}

func decodeProfile(raw []byte) (Profile, error) {
	var resp profileResponse
	if err := unmarshal(NameSocial, raw, &resp); err != nil {
		return Profile{}, err
	}
	if resp.Data == nil || resp.Data.User == nil || resp.Data.User.ID == "" {
		return Profile{}, missing(NameSocial, "data.user.id")
	}
	u := resp.Data.User
	return Profile{
		ID:        string(u.ID),
		Username:  u.Username,
		Posts:     u.Media.Count,
		Followers: u.FollowedBy.Count,
		Following: u.Follow.Count,
	}, nil
}

// FollowerParams selects whose followers are listed.
type FollowerParams struct {
	Params
	UserID string
}

// Followers pages through an account's follower list.
type Followers struct{ s *Social }

// Followers returns the follower list adapter.
func (s *Social) Followers() *Followers { return &Followers{s: s} }

var _ paginate.Adapter[FollowerParams, Follower, string] = (*Followers)(nil)

type followersResponse struct {
	Users *[]struct {
		PK       flexString `json:"pk"`
		PKID     flexString `json:"pk_id"`
		Username string     `json:"username"`
		FullName string     `json:"full_name"`
	} `json:"users"`
	NextMaxID flexString `json:"next_max_id"`
	HasMore   *bool      `json:"has_more"`
}

func (a *Followers) FetchPage(ctx context.Context, p FollowerParams, cursor *string) (paginate.Page[Follower, string], error) {
	q := url.Values{
		"count":          {itoa(FollowerPageSize)},
		"search_surface": {"follow_list_page"},
	}
	if cursor != nil && *cursor != "" {
		q.Set("max_id", *cursor)
	}

	raw, err := call(ctx, a.s.Doer, transport.Request{
		URL:         a.s.endpoint("/api/v1/friendships/" + url.PathEscape(p.UserID) + "/followers/"),
		Query:       q,
		Credentials: p.Credentials,
		Source:      NameSocial,
	})
	if err != nil {
		return paginate.Page[Follower, string]{}, err
	}
	return decodeFollowers(raw)
}

func decodeFollowers(raw []byte) (paginate.Page[Follower, string], error) {
	var resp followersResponse
	if err := unmarshal(NameSocial, raw, &resp); err != nil {
		return paginate.Page[Follower, string]{}, err
	}
	if resp.Users == nil {
		return paginate.Page[Follower, string]{}, missing(NameSocial, "users")
	}

	out := paginate.Page[Follower, string]{Items: make([]Follower, 0, len(*resp.Users))}
	for _, u := range *resp.Users {
		id := string(u.PK)
		if id == "" {
			id = string(u.PKID)
		}
		out.Items = append(out.Items, Follower{ID: id, Username: u.Username, FullName: u.FullName})
	}

	more := resp.HasMore == nil || *resp.HasMore
	if next := string(resp.NextMaxID); more && next != "" && len(out.Items) > 0 {
		out.Next = &next
	}
	return out, nil
}

// PostSearchParams is a keyword or hashtag search.
type PostSearchParams struct {
	Params
	Query string
}

// PostSearch issues the single top-level search request.
type PostSearch struct{ s *Social }

// PostSearch returns the search adapter.
func (s *Social) PostSearch() *PostSearch { return &PostSearch{s: s} }

var _ paginate.Adapter[PostSearchParams, Post, struct{}] = (*PostSearch)(nil)

type mediaJSON struct {
	PK           flexString `json:"pk"`
	ID           string     `json:"id"`
	Code         string     `json:"code"`
	TakenAt      int64      `json:"taken_at"`
	LikeCount    int        `json:"like_count"`
	CommentCount int        `json:"comment_count"`
	Caption      *struct {
		Text string `json:"text"`
	} `json:"caption"`
	User struct {
		Username string `json:"username"`
	} `json:"user"`
}

type searchResponse struct {
	MediaGrid *struct {
		Sections []struct {
			LayoutContent struct {
				Medias []struct {
					Media *mediaJSON `json:"media"`
				} `json:"medias"`
			} `json:"layout_content"`
		} `json:"sections"`
	} `json:"media_grid"`
}

// FetchPage always returns a single page with no cursor.
func (a *PostSearch) FetchPage(ctx context.Context, p PostSearchParams, _ *struct{}) (paginate.Page[Post, struct{}], error) {
	raw, err := call(ctx, a.s.Doer, transport.Request{
		URL: a.s.endpoint("/api/v1/fbsearch/web/top_serp/"),
		Query: url.Values{
			"enable_metadata": {"true"},
			"query":           {p.Query},
		},
		Credentials: p.Credentials,
		Source:      NameSocial,
	})
	if err != nil {
		return paginate.Page[Post, struct{}]{}, err
	}
	return decodePostSearch(raw)
}

func decodePostSearch(raw []byte) (paginate.Page[Post, struct{}], error) {
	var resp searchResponse
	if err := unmarshal(NameSocial, raw, &resp); err != nil {
		return paginate.Page[Post, struct{}]{}, err
	}
	if resp.MediaGrid == nil {
		return paginate.Page[Post, struct{}]{}, missing(NameSocial, "media_grid")
	}

	var out paginate.Page[Post, struct{}]
	for _, sec := range resp.MediaGrid.Sections {
		for _, m := range sec.LayoutContent.Medias {
			if m.Media == nil {
				continue
			}
			out.Items = append(out.Items, postFromMedia(m.Media))
		}
	}
	return out, nil
}

func postFromMedia(m *mediaJSON) Post {
	// media ids come as "<pk>_<owner>"; the comments endpoint wants the pk
	id := string(m.PK)
	if id == "" {
		id, _, _ = strings.Cut(m.ID, "_")
	}
	p := Post{
		MediaID:      id,
		Code:         m.Code,
		Author:       m.User.Username,
		TakenAt:      formatUnix(m.TakenAt),
		LikeCount:    m.LikeCount,
		CommentCount: m.CommentCount,
	}
	if m.Caption != nil {
		p.Caption = m.Caption.Text
	}
	return p
}

// CommentParams selects the post whose comments are read.
type CommentParams struct {
	Params
	MediaID string
}

// Comments reads the first page of comments on one post.
type Comments struct{ s *Social }

// Comments returns the comment adapter.
func (s *Social) Comments() *Comments { return &Comments{s: s} }

var _ paginate.Adapter[CommentParams, Comment, struct{}] = (*Comments)(nil)

type commentsResponse struct {
	Comments *[]struct {
		PK        flexString `json:"pk"`
		Text      string     `json:"text"`
		CreatedAt int64      `json:"created_at"`
		User      struct {
			Username string `json:"username"`
		} `json:"user"`
	} `json:"comments"`
}

// FetchPage always returns a single bounded page with no cursor.
func (a *Comments) FetchPage(ctx context.Context, p CommentParams, _ *struct{}) (paginate.Page[Comment, struct{}], error) {
	if p.MediaID == "" {
		return paginate.Page[Comment, struct{}]{}, missing(NameSocial, "media id")
	}
	raw, err := call(ctx, a.s.Doer, transport.Request{
		URL: a.s.endpoint("/api/v1/media/" + url.PathEscape(p.MediaID) + "/comments/"),
		Query: url.Values{
			"can_support_threading": {"true"},
			"permalink_enabled":     {"false"},
		},
		Credentials: p.Credentials,
		Source:      NameSocial,
	})
	if err != nil {
		return paginate.Page[Comment, struct{}]{}, err
	}
	return decodeComments(raw)
}

func decodeComments(raw []byte) (paginate.Page[Comment, struct{}], error) {
	var resp commentsResponse
	if err := unmarshal(NameSocial, raw, &resp); err != nil {
		return paginate.Page[Comment, struct{}]{}, err
	}
	if resp.Comments == nil {
		return paginate.Page[Comment, struct{}]{}, missing(NameSocial, "comments")
	}

	out := paginate.Page[Comment, struct{}]{Items: make([]Comment, 0, len(*resp.Comments))}
	for _, c := range *resp.Comments {
		out.Items = append(out.Items, Comment{
			ID:        string(c.PK),
			Text:      c.Text,
			Author:    c.User.Username,
			CreatedAt: formatUnix(c.CreatedAt),
		})
	}
	return out, nil
}
