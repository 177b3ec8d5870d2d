// Package fanout is C10: it dispatches the applicable C9 adapters in
// parallel under a bounded per-request semaphore, merges
// their answers by a fixed precedence ladder, redacts via C11, and caches
// and audits the result. Grounded on
// original_source/src/tools/get_company_profile.py's multi-source gather
// (asyncio.gather across registry/trade-register/establishments/
// certifications, partial-failure tolerance) and
// original_source/src/tools/search_associations.py's merge-by-key
// dedup-then-sort shape, using golang.org/x/sync/singleflight for the
// per-fingerprint coalescing named in spec §4.5/§4.9.
package fanout

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bacoco/firmia/internal/audit"
	"github.com/bacoco/firmia/internal/clockconfig"
	"github.com/bacoco/firmia/internal/kvcache"
	"github.com/bacoco/firmia/internal/model"
	"github.com/bacoco/firmia/internal/privacy"
	"github.com/bacoco/firmia/internal/providers"
	"github.com/bacoco/firmia/internal/svcerrors"
)

// precedence ladder of spec §4.9 step 7, highest first.
var sourcePrecedence = map[string]int{
	"traderegister": 4,
	"registry":      3,
	"primarysearch": 2,
	"associations":  1,
	"bulkstatic":    0,
}

func precedenceOf(source string) int {
	if p, ok := sourcePrecedence[source]; ok {
		return p
	}
	return -1
}

// Engine holds every C9 adapter fanout may dispatch to, plus its C7/C11/C13
// collaborators.
type Engine struct {
	Registry      *providers.RegistryAdapter
	TradeRegister *providers.TradeRegisterAdapter
	Certifications *providers.CertificationsAdapter
	PrimarySearch *providers.PrimarySearchAdapter
	Associations  *providers.AssociationsAdapter
	BulkStatic    *providers.BulkStaticAdapter
	Documents     *providers.DocumentsAdapter

	Cache     kvcache.Cache
	TTLPolicy kvcache.TTLPolicy
	Redactor  *privacy.Redactor
	Audit     *audit.Ledger
	Clock     clockconfig.Clock

	semaphore chan struct{}
	sf        singleflight.Group
}

// Config wires an Engine's collaborators and tuning knobs.
type Config struct {
	Registry       *providers.RegistryAdapter
	TradeRegister  *providers.TradeRegisterAdapter
	Certifications *providers.CertificationsAdapter
	PrimarySearch  *providers.PrimarySearchAdapter
	Associations   *providers.AssociationsAdapter
	BulkStatic     *providers.BulkStaticAdapter
	Documents      *providers.DocumentsAdapter
	Cache          kvcache.Cache
	TTLPolicy      kvcache.TTLPolicy
	Redactor       *privacy.Redactor
	Audit          *audit.Ledger
	Clock          clockconfig.Clock
	MaxParallel    int // default 5, spec §5 backpressure
}

func New(cfg Config) *Engine {
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 5
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockconfig.RealClock{}
	}
	redactor := cfg.Redactor
	if redactor == nil {
		redactor = privacy.New()
	}
	return &Engine{
		Registry:       cfg.Registry,
		TradeRegister:  cfg.TradeRegister,
		Certifications: cfg.Certifications,
		PrimarySearch:  cfg.PrimarySearch,
		Associations:   cfg.Associations,
		BulkStatic:     cfg.BulkStatic,
		Documents:      cfg.Documents,
		Cache:          cfg.Cache,
		TTLPolicy:      cfg.TTLPolicy,
		Redactor:       redactor,
		Audit:          cfg.Audit,
		Clock:          clock,
		semaphore:      make(chan struct{}, maxParallel),
	}
}

// ProfileRequest is the fingerprintable input of get_entity_profile.
type ProfileRequest struct {
	BusinessKey           string `json:"business_key"`
	IncludeEstablishments bool   `json:"include_establishments"`
	IncludeDocuments      bool   `json:"include_documents"`
	IncludeFinancials     bool   `json:"include_financials"`
	IncludeCertifications bool   `json:"include_certifications"`
	IncludeBankInfo       bool   `json:"include_bank_info"`
}

// ProfileResult is the cached/returned shape of a profile fetch.
type ProfileResult struct {
	Entity   *model.BusinessEntity  `json:"entity"`
	Metadata model.ProfileMetadata `json:"metadata"`
}

type sourceOutcome struct {
	source string
	entity *model.BusinessEntity
	err    error
}

// Profile fetches one business key: cache lookup, single-flight, parallel
// dispatch, precedence merge, redaction, metadata, cache write and audit.
// It issues no separate privacy probe; redaction reads the Privacy field
// of the merged record.
func (e *Engine) Profile(ctx context.Context, req ProfileRequest) (*ProfileResult, error) {
	started := e.Clock.Now()

	if e.Cache != nil {
		if cached, hit, err := e.Cache.Get(ctx, "profile", req); err == nil && hit {
			result, ok := decodeProfile(cached)
			if ok {
				return result, nil
			}
		}
	}

	v, err, _ := e.sf.Do(fingerprintKey(req), func() (interface{}, error) {
		return e.fetchProfile(ctx, req, started)
	})
	if err != nil {
		return nil, err
	}
	result := v.(*ProfileResult)

	if e.Cache != nil {
		if encoded, ok := encodeProfile(result); ok {
			_ = e.Cache.Set(ctx, "profile", req, encoded, e.TTLPolicy.TTLFor("profile"))
		}
	}

	if e.Audit != nil {
		e.Audit.Log(model.AuditEntry{
			Timestamp:      e.Clock.Now(),
			Tool:           "get_entity_profile",
			Operation:      "fetch",
			BusinessKey:    req.BusinessKey,
			ResponseTimeMs: time.Since(started).Milliseconds(),
			StatusCode:     200,
			Metadata:       map[string]interface{}{"sources": result.Metadata.Sources, "completeness": result.Metadata.Completeness},
		})
	}

	return result, nil
}

func (e *Engine) fetchProfile(ctx context.Context, req ProfileRequest, started time.Time) (*ProfileResult, error) {
	outcomes := e.dispatchProfileSources(ctx, req)

	merged, mergedSources := mergeEntities(outcomes)
	if merged == nil {
		return nil, svcerrors.NotFound("entity", req.BusinessKey)
	}

	if e.Redactor != nil {
		e.Redactor.Redact(merged, false)
	}

	attempted := len(outcomes)
	successes := 0
	for _, o := range outcomes {
		if o.err == nil {
			successes++
		}
	}
	completeness := 0.0
	if attempted > 0 {
		completeness = float64(successes) / float64(attempted)
	}

	merged.LastUpdated = e.Clock.Now()
	return &ProfileResult{
		Entity: merged,
		Metadata: model.ProfileMetadata{
			Sources:        mergedSources,
			ResponseTimeMs: time.Since(started).Milliseconds(),
			DataFreshness:  e.Clock.Now(),
			Completeness:   completeness,
		},
	}, nil
}

// dispatchProfileSources issues the independent fetch tasks of spec §4.9
// step 5, bounded by a semaphore of its own with the Engine's configured
// capacity, collecting partial failures rather than aborting (step 6).
func (e *Engine) dispatchProfileSources(ctx context.Context, req ProfileRequest) []sourceOutcome {
	type task struct {
		source string
		run     func() (*model.BusinessEntity, error)
	}

	tasks := make([]task, 0, 5)

	if e.Registry != nil {
		tasks = append(tasks, task{"registry", func() (*model.BusinessEntity, error) {
			entity, err := e.Registry.GetLegalUnit(ctx, req.BusinessKey)
			if err != nil {
				return nil, err
			}
			if req.IncludeEstablishments {
				establishments, err := e.Registry.GetEstablishmentsBySiren(ctx, req.BusinessKey, false)
				if err == nil {
					entity.Establishments = establishments
				}
			}
			return entity, nil
		}})
	}

	if e.TradeRegister != nil {
		tasks = append(tasks, task{"traderegister", func() (*model.BusinessEntity, error) {
			return e.TradeRegister.GetCompanyDetails(ctx, req.BusinessKey)
		}})
	}

	if req.IncludeCertifications && e.Certifications != nil {
		tasks = append(tasks, task{"certifications", func() (*model.BusinessEntity, error) {
			certs, err := e.Certifications.GetCompanyCertifications(ctx, req.BusinessKey)
			if err != nil {
				return nil, err
			}
			return &model.BusinessEntity{BusinessKey: req.BusinessKey, Certifications: certs, Privacy: model.PrivacyOpen, Sources: []string{"certifications"}}, nil
		}})
	}

	if req.IncludeDocuments && e.Documents != nil {
		tasks = append(tasks, task{"documents", func() (*model.BusinessEntity, error) {
			docs, err := e.Documents.List(ctx, req.BusinessKey)
			if err != nil {
				return nil, err
			}
			return &model.BusinessEntity{BusinessKey: req.BusinessKey, Documents: docs, Privacy: model.PrivacyOpen, Sources: []string{"documents"}}, nil
		}})
	}

	if e.BulkStatic != nil {
		tasks = append(tasks, task{"bulkstatic", func() (*model.BusinessEntity, error) {
			return e.BulkStatic.GetEntity(ctx, req.BusinessKey)
		}})
	}

	sem := make(chan struct{}, cap(e.semaphore))
	results := make(chan sourceOutcome, len(tasks))
	for _, t := range tasks {
		t := t
		go func() {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
			}
			entity, err := t.run()
			results <- sourceOutcome{source: t.source, entity: entity, err: err}
		}()
	}

	outcomes := make([]sourceOutcome, 0, len(tasks))
	for range tasks {
		outcomes = append(outcomes, <-results)
	}
	return outcomes
}

func (e *Engine) acquire(ctx context.Context) {
	select {
	case e.semaphore <- struct{}{}:
	case <-ctx.Done():
	}
}

func (e *Engine) release() {
	select {
	case <-e.semaphore:
	default:
	}
}

// mergeEntities applies the fixed precedence ladder of spec §4.9 step 7:
// the highest-precedence successful source wins on conflict, its blank
// fields filled from lower-precedence sources, in descending precedence
// order.
func mergeEntities(outcomes []sourceOutcome) (*model.BusinessEntity, []string) {
	type scored struct {
		entity     *model.BusinessEntity
		precedence int
	}
	candidates := make([]scored, 0, len(outcomes))
	sources := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.err != nil || o.entity == nil {
			continue
		}
		candidates = append(candidates, scored{entity: o.entity, precedence: precedenceOf(o.source)})
		sources = append(sources, o.source)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].precedence > candidates[j].precedence })

	merged := &model.BusinessEntity{}
	*merged = *candidates[0].entity
	merged.Sources = append([]string{}, merged.Sources...)

	for _, c := range candidates[1:] {
		fillBlankFields(merged, c.entity)
	}
	merged.Sources = dedupeStrings(sources)
	return merged, merged.Sources
}

// fillBlankFields copies fields from lower into merged wherever merged is
// still zero-valued, per spec §4.9's "missing fields in a winner are filled
// from lower-priority sources".
func fillBlankFields(merged, lower *model.BusinessEntity) {
	if merged.DisplayName == "" {
		merged.DisplayName = lower.DisplayName
	}
	if merged.LegalForm == nil {
		merged.LegalForm = lower.LegalForm
	}
	if merged.ActivityCode == "" {
		merged.ActivityCode = lower.ActivityCode
	}
	if merged.SizeBucket == "" {
		merged.SizeBucket = lower.SizeBucket
	}
	if merged.CreationDate == nil {
		merged.CreationDate = lower.CreationDate
	}
	if merged.CessationDate == nil {
		merged.CessationDate = lower.CessationDate
	}
	if merged.Address == nil {
		merged.Address = lower.Address
	}
	if len(merged.Executives) == 0 {
		merged.Executives = lower.Executives
	}
	if len(merged.Establishments) == 0 {
		merged.Establishments = lower.Establishments
	}
	if len(merged.Certifications) == 0 {
		merged.Certifications = lower.Certifications
	}
	if len(merged.Documents) == 0 {
		merged.Documents = lower.Documents
	}
	if len(merged.Financials) == 0 {
		merged.Financials = lower.Financials
	}
}

func dedupeStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func fingerprintKey(req ProfileRequest) string {
	key, err := kvcache.Key("profile", req)
	if err != nil {
		return req.BusinessKey
	}
	return key
}

// SearchRequest is the fingerprintable input of search_entities.
type SearchRequest struct {
	Query               string `json:"query"`
	Page                int    `json:"page"`
	PerPage             int    `json:"per_page"`
	ActivityCode        string `json:"activity_code,omitempty"`
	PostalCode          string `json:"postal_code,omitempty"`
	Department          string `json:"department,omitempty"`
	Status              string `json:"status,omitempty"`
	IncludeAssociations bool   `json:"include_associations"`
}

// SearchPagination mirrors providers.Pagination, named distinctly at the
// fanout boundary so the core surface never depends on a single adapter's
// type.
type SearchPagination = providers.Pagination

// Search runs the applicable adapters in parallel, merges by business-key
// dedup, and paginates client-side after collecting each source's
// limit-per-source page, per spec §4.9's search-merge rule.
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]providers.EntitySearchResult, SearchPagination, error) {
	if e.Cache != nil {
		if cached, hit, err := e.Cache.Get(ctx, "search", req); err == nil && hit {
			if results, pagination, ok := decodeSearch(cached); ok {
				return results, pagination, nil
			}
		}
	}

	type partial struct {
		source  string
		results []providers.EntitySearchResult
	}
	var parts []partial

	if e.PrimarySearch != nil {
		results, _, err := e.PrimarySearch.Search(ctx, providers.SearchEntitiesParams{
			Query: req.Query, Page: req.Page, PerPage: req.PerPage,
			ActivityCode: req.ActivityCode, PostalCode: req.PostalCode,
			Department: req.Department, Status: providers.LegalStatus(req.Status),
		})
		if err == nil {
			parts = append(parts, partial{"primarysearch", results})
		}
	}

	if req.IncludeAssociations && e.Associations != nil {
		_, associations, err := e.Associations.Search(ctx, req.Query, req.PostalCode, req.Page, req.PerPage)
		if err == nil {
			for _, assoc := range associations {
				parts = append(parts, partial{"associations", []providers.EntitySearchResult{{
					BusinessKey: assoc.BusinessKey,
					DisplayName: assoc.Name,
					Address:     &assoc.Address,
					Active:      assoc.Active,
					Source:      "associations",
				}}})
			}
		}
	}

	byKey := map[string]providers.EntitySearchResult{}
	order := make([]string, 0)
	for _, part := range parts {
		for _, hit := range part.results {
			existing, ok := byKey[hit.BusinessKey]
			if !ok {
				byKey[hit.BusinessKey] = hit
				order = append(order, hit.BusinessKey)
				continue
			}
			if precedenceOf(hit.Source) > precedenceOf(existing.Source) {
				merged := hit
				fillBlankSearchFields(&merged, existing)
				byKey[hit.BusinessKey] = merged
			} else {
				merged := existing
				fillBlankSearchFields(&merged, hit)
				byKey[hit.BusinessKey] = merged
			}
		}
	}

	merged := make([]providers.EntitySearchResult, 0, len(order))
	for _, key := range order {
		merged = append(merged, byKey[key])
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return rankHigher(merged[i], merged[j], req.Query)
	})

	page := req.Page
	if page <= 0 {
		page = 1
	}
	perPage := req.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	start := (page - 1) * perPage
	end := start + perPage
	if start > len(merged) {
		start = len(merged)
	}
	if end > len(merged) {
		end = len(merged)
	}
	paged := merged[start:end]

	pagination := SearchPagination{
		Total:      len(merged),
		Page:       page,
		PerPage:    perPage,
		TotalPages: (len(merged) + perPage - 1) / perPage,
	}

	if e.Cache != nil {
		if encoded, ok := encodeSearch(paged, pagination); ok {
			_ = e.Cache.Set(ctx, "search", req, encoded, e.TTLPolicy.TTLFor("search"))
		}
	}

	return paged, pagination, nil
}

func fillBlankSearchFields(winner *providers.EntitySearchResult, loser providers.EntitySearchResult) {
	if winner.DisplayName == "" {
		winner.DisplayName = loser.DisplayName
	}
	if winner.LegalForm == "" {
		winner.LegalForm = loser.LegalForm
	}
	if winner.ActivityCode == "" {
		winner.ActivityCode = loser.ActivityCode
	}
	if winner.Address == nil {
		winner.Address = loser.Address
	}
	if winner.CreationDate == "" {
		winner.CreationDate = loser.CreationDate
	}
}

// rankHigher implements spec §4.9's "exact key prefix match > substring in
// display name, then display name" comparator: reports whether a sorts
// before b.
func rankHigher(a, b providers.EntitySearchResult, query string) bool {
	aScore := relevanceScore(a, query)
	bScore := relevanceScore(b, query)
	if aScore != bScore {
		return aScore > bScore
	}
	return strings.ToLower(a.DisplayName) < strings.ToLower(b.DisplayName)
}

func relevanceScore(r providers.EntitySearchResult, query string) int {
	if query == "" {
		return 0
	}
	if strings.HasPrefix(r.BusinessKey, query) {
		return 2
	}
	if strings.Contains(strings.ToLower(r.DisplayName), strings.ToLower(query)) {
		return 1
	}
	return 0
}
