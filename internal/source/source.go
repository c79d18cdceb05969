// Package source holds one adapter per upstream API. Each adapter turns a
// domain request plus a cursor into a transport call and decodes the answer
// into a paginate.Page.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/FranksOps/gleaner/internal/credential"
	"github.com/FranksOps/gleaner/internal/transport"
	"github.com/FranksOps/gleaner/pkg/ratelimit"
)

// Source names, used in metrics labels, export file names and archive rows.
const (
	NameCatalog    = "29cm"
	NameAltCatalog = "musinsa"
	NameSocial     = "instagram"
)

// Client-side pauses awaited after each upstream page call.
const (
	CatalogDelay = 500 * time.Millisecond

	AltReviewDelayMin = 300 * time.Millisecond
	AltReviewDelayMax = 400 * time.Millisecond

	FollowerDelayMin = 1000 * time.Millisecond
	FollowerDelayMax = 1500 * time.Millisecond
)

// CatalogPacer paces catalog search, catalog reviews, post search and comments.
func CatalogPacer() *ratelimit.Pacer { return ratelimit.Fixed(CatalogDelay) }

// AltReviewPacer paces alternate catalog review pages.
func AltReviewPacer() *ratelimit.Pacer {
	return ratelimit.Between(AltReviewDelayMin, AltReviewDelayMax)
}

// FollowerPacer paces follower pages.
func FollowerPacer() *ratelimit.Pacer {
	return ratelimit.Between(FollowerDelayMin, FollowerDelayMax)
}

// Product is one search hit on a catalog source.
type Product struct {
	ID   string
	Name string
}

// Review is one product review, normalized across catalog sources.
type Review struct {
	ItemID    string
	Options   []string
	UserID    string
	Content   string
	Rating    float64
	CreatedAt string
}

// DecodeError means the upstream answered 2xx but the expected JSON shape was
// missing.
type DecodeError struct {
	Source string
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: decode %s: %v", e.Source, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: decode: missing %s", e.Source, e.Field)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func missing(src, field string) error {
	return &DecodeError{Source: src, Field: field}
}

// call performs req and returns the raw body.
func call(ctx context.Context, doer transport.Doer, req transport.Request) ([]byte, error) {
	res, err := doer.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

func unmarshal(src string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &DecodeError{Source: src, Field: "body", Err: err}
	}
	return nil
}

// Params shared by every adapter call.
type Params struct {
	Credentials credential.Set
}

// flexString accepts a JSON string or number, so ids survive either encoding.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func itoa(i int) string { return strconv.Itoa(i) }
