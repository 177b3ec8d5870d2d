// Package providers holds the per-upstream adapters of spec C9: one small
// typed client per registry/gazette/association/certification source, each
// normalizing its provider-specific wire shape into the canonical entities
// of internal/model before returning. All network access goes through
// internal/httpcaller; adapters never leak a provider-specific field name
// outward. Grounded on original_source/src/api/*.py (one module per
// upstream) and the teacher's gasbank client's do-request/decode shape.
package providers

import (
	"context"
	"time"

	"github.com/bacoco/firmia/internal/httpcaller"
	"github.com/bacoco/firmia/internal/model"
)

// Page is one page of a paginated listing. Pager stops after maxPages pages
// or at the first page whose HasMore is false; it reads no other upstream
// signal (such as a total page count or a null next link).
type Page struct {
	Items      []map[string]interface{}
	PageNumber int
	HasMore    bool
}

// Pager fetches successive pages with a small inter-page delay to avoid
// bursting a provider (spec §4.8: ~100ms). Pages are not yielded one at a
// time: Pages fetches all of them before returning.
type Pager struct {
	fetch        func(ctx context.Context, page, perPage int) (Page, error)
	perPage      int
	maxPages     int
	interPageGap time.Duration
}

// NewPager builds a Pager. maxPages of 0 means unbounded (until HasMore is
// false).
func NewPager(fetch func(ctx context.Context, page, perPage int) (Page, error), perPage, maxPages int) *Pager {
	if perPage <= 0 {
		perPage = 25
	}
	return &Pager{fetch: fetch, perPage: perPage, maxPages: maxPages, interPageGap: 100 * time.Millisecond}
}

// Pages drains every page up to maxPages (or until exhaustion), returning
// them concatenated in order. Blocking: this adapter layer has no
// generator/coroutine primitive to mirror, so it reads eagerly.
func (p *Pager) Pages(ctx context.Context) ([]Page, error) {
	var pages []Page
	page := 1
	for {
		result, err := p.fetch(ctx, page, p.perPage)
		if err != nil {
			return pages, err
		}
		pages = append(pages, result)

		if p.maxPages > 0 && page >= p.maxPages {
			break
		}
		if !result.HasMore {
			break
		}

		page++
		select {
		case <-time.After(p.interPageGap):
		case <-ctx.Done():
			return pages, ctx.Err()
		}
	}
	return pages, nil
}

// Adapter is the common shape every provider package implements against
// C10's fan-out, grounded on spec §4.8's declared adapter fields
// ({base_url, api_name, rate_limit, requires_auth, auth_service}).
type Adapter interface {
	Name() string
}

// BaseAdapter carries the fields every concrete adapter embeds, grounded on
// original_source/src/api/base.py's BaseAPIClient class attributes.
type BaseAdapter struct {
	BaseURL     string
	APIName     string
	RequiresAuth bool
	AuthService  string
	Caller       *httpcaller.Caller
}

func (b BaseAdapter) Name() string { return b.APIName }

// EntitySummary is the lightweight shape returned by search operations,
// before a full profile fetch enriches it (spec §6 search_entities
// "BusinessEntity-lite").
type EntitySummary struct {
	BusinessKey  string
	DisplayName  string
	ActivityCode string
	LegalForm    *model.LegalForm
	Active       bool
	Source       string
}
