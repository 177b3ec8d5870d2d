// Package toolserver hosts the nine tools of spec §6 as JSON-over-HTTP
// endpoints, grounded on the teacher's infrastructure/service routes.go
// (typed request/response structs, httputil.WriteJSON, one handler per
// operation) using github.com/go-chi/chi/v5 for routing in place of the
// teacher's gorilla/mux, since chi is the router this module's go.mod
// already commits to. Each handler decodes a typed input, calls the
// matching C9/C10 collaborator, and translates any *svcerrors.Error into
// the HTTP status it already carries.
package toolserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bacoco/firmia/internal/audit"
	"github.com/bacoco/firmia/internal/clockconfig"
	"github.com/bacoco/firmia/internal/fanout"
	"github.com/bacoco/firmia/internal/httputil"
	"github.com/bacoco/firmia/internal/kvcache"
	"github.com/bacoco/firmia/internal/model"
	"github.com/bacoco/firmia/internal/obslog"
	"github.com/bacoco/firmia/internal/providers"
	"github.com/bacoco/firmia/internal/svcerrors"
)

// Server wires the C10 fan-out engine and the C9 adapters it does not
// dispatch on its own (documents, announcements, associations,
// certifications as standalone tools rather than profile sources) behind
// the tool surface of spec §6.
type Server struct {
	Engine         *fanout.Engine
	Documents      *providers.DocumentsAdapter
	Announcements  *providers.AnnouncementsAdapter
	Associations   *providers.AssociationsAdapter
	Certifications *providers.CertificationsAdapter

	Cache     kvcache.Cache
	TTLPolicy kvcache.TTLPolicy
	Audit     *audit.Ledger
	Clock     clockconfig.Clock
	Logger    *obslog.Logger
}

// Config wires a Server's collaborators.
type Config struct {
	Engine         *fanout.Engine
	Documents      *providers.DocumentsAdapter
	Announcements  *providers.AnnouncementsAdapter
	Associations   *providers.AssociationsAdapter
	Certifications *providers.CertificationsAdapter
	Cache          kvcache.Cache
	TTLPolicy      kvcache.TTLPolicy
	Audit          *audit.Ledger
	Clock          clockconfig.Clock
	Logger         *obslog.Logger
}

// New builds a Server. Call Routes to mount it on a router.
func New(cfg Config) *Server {
	clock := cfg.Clock
	if clock == nil {
		clock = clockconfig.RealClock{}
	}
	return &Server{
		Engine:         cfg.Engine,
		Documents:      cfg.Documents,
		Announcements:  cfg.Announcements,
		Associations:   cfg.Associations,
		Certifications: cfg.Certifications,
		Cache:          cfg.Cache,
		TTLPolicy:      cfg.TTLPolicy,
		Audit:          cfg.Audit,
		Clock:          clock,
		Logger:         cfg.Logger,
	}
}

// Routes mounts every tool handler under /tools/<name>, POST-only: each tool
// takes a single typed JSON body and returns a single typed JSON body, the
// "transport-agnostic, JSON-RPC-like" shape of spec §6.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/tools/search_entities", s.handleSearchEntities)
	r.Post("/tools/get_entity_profile", s.handleGetEntityProfile)
	r.Post("/tools/download_document", s.handleDownloadDocument)
	r.Post("/tools/list_documents", s.handleListDocuments)
	r.Post("/tools/search_announcements", s.handleSearchAnnouncements)
	r.Post("/tools/get_entity_timeline", s.handleGetEntityTimeline)
	r.Post("/tools/check_financial_health", s.handleCheckFinancialHealth)
	r.Post("/tools/search_associations", s.handleSearchAssociations)
	r.Post("/tools/check_certifications", s.handleCheckCertifications)
	return r
}

// writeToolError translates a *svcerrors.Error into its carried HTTP status,
// or 500 for anything else, per spec §7's error-kind vocabulary.
func writeToolError(w http.ResponseWriter, err error) {
	if svcErr, ok := svcerrors.As(err); ok {
		httputil.WriteErrorResponse(w, svcErr.HTTPStatus, string(svcErr.Kind), svcErr.Message, svcErr.Details)
		return
	}
	httputil.WriteErrorResponse(w, http.StatusInternalServerError, string(svcerrors.KindInternal), err.Error(), nil)
}

func (s *Server) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return clockconfig.RealClock{}.Now()
}

func (s *Server) logAudit(ctx context.Context, tool, operation, businessKey string, started time.Time, status int, metadata map[string]interface{}) {
	if s.Audit == nil {
		return
	}
	s.Audit.Log(model.AuditEntry{
		Timestamp:      s.now(),
		Tool:           tool,
		Operation:      operation,
		BusinessKey:    businessKey,
		ResponseTimeMs: time.Since(started).Milliseconds(),
		StatusCode:     status,
		Metadata:       metadata,
	})
}

// ----- search_entities -----

type searchEntitiesRequest struct {
	Query               string                     `json:"query"`
	Page                int                        `json:"page"`
	PerPage             int                        `json:"per_page"`
	Filters             *searchEntitiesFilters     `json:"filters,omitempty"`
	IncludeAssociations bool                       `json:"include_associations"`
}

type searchEntitiesFilters struct {
	ActivityCode string `json:"activity_code,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	Department   string `json:"department,omitempty"`
	Status       string `json:"status,omitempty"`
}

type searchEntitiesResponse struct {
	Results    []providers.EntitySearchResult `json:"results"`
	Pagination fanout.SearchPagination        `json:"pagination"`
}

func (s *Server) handleSearchEntities(w http.ResponseWriter, r *http.Request) {
	started := s.now()
	var req searchEntitiesRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PerPage <= 0 {
		req.PerPage = 20
	}
	if req.PerPage > 25 {
		req.PerPage = 25
	}

	fanoutReq := fanout.SearchRequest{
		Query: req.Query, Page: req.Page, PerPage: req.PerPage,
		IncludeAssociations: req.IncludeAssociations,
	}
	if req.Filters != nil {
		fanoutReq.ActivityCode = req.Filters.ActivityCode
		fanoutReq.PostalCode = req.Filters.PostalCode
		fanoutReq.Department = req.Filters.Department
		fanoutReq.Status = req.Filters.Status
	}

	results, pagination, err := s.Engine.Search(r.Context(), fanoutReq)
	if err != nil {
		writeToolError(w, err)
		return
	}
	s.logAudit(r.Context(), "search_entities", "search", "", started, http.StatusOK, map[string]interface{}{"query": req.Query, "total": pagination.Total})
	httputil.WriteJSON(w, http.StatusOK, searchEntitiesResponse{Results: results, Pagination: pagination})
}

// ----- get_entity_profile -----

type getEntityProfileRequest struct {
	BusinessKey            string `json:"business_key"`
	IncludeEstablishments  bool   `json:"include_establishments"`
	IncludeDocuments       bool   `json:"include_documents"`
	IncludeFinancials      bool   `json:"include_financials"`
	IncludeCertifications  bool   `json:"include_certifications"`
	IncludeBankInfo        bool   `json:"include_bank_info"`
}

type getEntityProfileResponse struct {
	Entity   *model.BusinessEntity `json:"entity"`
	Metadata model.ProfileMetadata `json:"metadata"`
}

func (s *Server) handleGetEntityProfile(w http.ResponseWriter, r *http.Request) {
	var req getEntityProfileRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.BusinessKey == "" {
		writeToolError(w, svcerrors.Validation("business_key", "required"))
		return
	}

	result, err := s.Engine.Profile(r.Context(), fanout.ProfileRequest{
		BusinessKey:            req.BusinessKey,
		IncludeEstablishments:  req.IncludeEstablishments,
		IncludeDocuments:       req.IncludeDocuments,
		IncludeFinancials:      req.IncludeFinancials,
		IncludeCertifications:  req.IncludeCertifications,
		IncludeBankInfo:        req.IncludeBankInfo,
	})
	if err != nil {
		writeToolError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, getEntityProfileResponse{Entity: result.Entity, Metadata: result.Metadata})
}

// ----- download_document -----

type downloadDocumentRequest struct {
	BusinessKey string           `json:"business_key"`
	Kind        model.DocumentKind `json:"kind"`
	Year        *int             `json:"year,omitempty"`
	Format      string           `json:"format"` // "bytes" or "url"
}

func (s *Server) handleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	started := s.now()
	var req downloadDocumentRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.BusinessKey == "" {
		writeToolError(w, svcerrors.Validation("business_key", "required"))
		return
	}
	if s.Documents == nil {
		writeToolError(w, svcerrors.Internal("documents adapter not configured", nil))
		return
	}

	doc, err := s.Documents.Download(r.Context(), req.BusinessKey, req.Kind, req.Year, req.Format == "url")
	if err != nil {
		writeToolError(w, err)
		return
	}
	s.logAudit(r.Context(), "download_document", "download", req.BusinessKey, started, http.StatusOK, map[string]interface{}{"kind": doc.Kind})
	httputil.WriteJSON(w, http.StatusOK, doc)
}

// ----- list_documents -----

type listDocumentsRequest struct {
	BusinessKey string `json:"business_key"`
}

type listDocumentsResponse struct {
	Documents []model.Document `json:"documents"`
	Total     int              `json:"total"`
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	var req listDocumentsRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.BusinessKey == "" {
		writeToolError(w, svcerrors.Validation("business_key", "required"))
		return
	}
	if s.Documents == nil {
		writeToolError(w, svcerrors.Internal("documents adapter not configured", nil))
		return
	}

	docs, err := s.Documents.List(r.Context(), req.BusinessKey)
	if err != nil {
		writeToolError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listDocumentsResponse{Documents: docs, Total: len(docs)})
}

// ----- search_announcements -----

type searchAnnouncementsRequest struct {
	BusinessKey string                 `json:"business_key,omitempty"`
	Name        string                 `json:"name,omitempty"`
	Kind        model.AnnouncementKind `json:"kind,omitempty"`
	DateFrom    string                 `json:"date_from,omitempty"`
	DateTo      string                 `json:"date_to,omitempty"`
	Page        int                    `json:"page"`
	PerPage     int                    `json:"per_page"`
}

type searchAnnouncementsResponse struct {
	Total         int                  `json:"total"`
	Announcements []model.Announcement `json:"announcements"`
	Pagination    providers.Pagination `json:"pagination"`
}

func (s *Server) handleSearchAnnouncements(w http.ResponseWriter, r *http.Request) {
	var req searchAnnouncementsRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PerPage <= 0 {
		req.PerPage = 20
	}
	if s.Announcements == nil {
		writeToolError(w, svcerrors.Internal("announcements adapter not configured", nil))
		return
	}

	total, announcements, err := s.Announcements.Search(r.Context(), providers.SearchParams{
		BusinessKey: req.BusinessKey, Name: req.Name, Kind: req.Kind,
		DateFrom: req.DateFrom, DateTo: req.DateTo,
		Limit: req.PerPage, Offset: (req.Page - 1) * req.PerPage,
	})
	if err != nil {
		writeToolError(w, err)
		return
	}

	pagination := providers.Pagination{
		Total: total, Page: req.Page, PerPage: req.PerPage,
		TotalPages: (total + req.PerPage - 1) / req.PerPage,
	}
	httputil.WriteJSON(w, http.StatusOK, searchAnnouncementsResponse{Total: total, Announcements: announcements, Pagination: pagination})
}

// ----- get_entity_timeline -----

type getEntityTimelineRequest struct {
	BusinessKey string `json:"business_key"`
}

type getEntityTimelineResponse struct {
	Total                  int                  `json:"total"`
	Timeline               []model.Announcement `json:"timeline"`
	HasCollectiveProcedures bool                `json:"has_collective_procedures"`
}

func (s *Server) handleGetEntityTimeline(w http.ResponseWriter, r *http.Request) {
	var req getEntityTimelineRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.BusinessKey == "" {
		writeToolError(w, svcerrors.Validation("business_key", "required"))
		return
	}
	if s.Announcements == nil {
		writeToolError(w, svcerrors.Internal("announcements adapter not configured", nil))
		return
	}

	total, timeline, err := s.Announcements.Timeline(r.Context(), req.BusinessKey)
	if err != nil {
		writeToolError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, getEntityTimelineResponse{
		Total: total, Timeline: timeline, HasCollectiveProcedures: providers.HasCollectiveProcedures(timeline),
	})
}

// ----- check_financial_health -----

type checkFinancialHealthRequest struct {
	BusinessKey string `json:"business_key"`
}

type checkFinancialHealthResponse struct {
	ProceduresCount int    `json:"procedures_count"`
	HasRecent       bool   `json:"has_recent"`
	Risk            string `json:"risk"` // LOW, MEDIUM, HIGH
}

// recentProcedureWindow mirrors the "recent" horizon health_score.py's
// BODACC check applies when weighing a collective procedure against a
// company's overall financial-stability score.
const recentProcedureWindow = 24 * 30 * 24 * time.Hour

func (s *Server) handleCheckFinancialHealth(w http.ResponseWriter, r *http.Request) {
	var req checkFinancialHealthRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.BusinessKey == "" {
		writeToolError(w, svcerrors.Validation("business_key", "required"))
		return
	}
	if s.Announcements == nil {
		writeToolError(w, svcerrors.Internal("announcements adapter not configured", nil))
		return
	}

	_, timeline, err := s.Announcements.Timeline(r.Context(), req.BusinessKey)
	if err != nil {
		writeToolError(w, err)
		return
	}

	cutoff := s.now().Add(-recentProcedureWindow)
	proceduresCount := 0
	hasRecent := false
	for _, a := range timeline {
		if a.Kind != model.AnnouncementCollectiveProc {
			continue
		}
		proceduresCount++
		if published, err := time.Parse("2006-01-02", a.PublicationDate); err == nil && published.After(cutoff) {
			hasRecent = true
		}
	}

	risk := "LOW"
	switch {
	case proceduresCount > 0 && hasRecent:
		risk = "HIGH"
	case proceduresCount > 0:
		risk = "MEDIUM"
	}

	httputil.WriteJSON(w, http.StatusOK, checkFinancialHealthResponse{
		ProceduresCount: proceduresCount, HasRecent: hasRecent, Risk: risk,
	})
}

// ----- search_associations -----

type searchAssociationsRequest struct {
	Query      string `json:"query"`
	PostalCode string `json:"postal_code,omitempty"`
	Page       int    `json:"page"`
	PerPage    int    `json:"per_page"`
}

type searchAssociationsResponse struct {
	Total        int                       `json:"total"`
	Associations []providers.Association   `json:"associations"`
	Pagination   providers.Pagination      `json:"pagination"`
}

func (s *Server) handleSearchAssociations(w http.ResponseWriter, r *http.Request) {
	started := s.now()
	var req searchAssociationsRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PerPage <= 0 {
		req.PerPage = 20
	}
	if s.Associations == nil {
		writeToolError(w, svcerrors.Internal("associations adapter not configured", nil))
		return
	}

	total, associations, err := s.Associations.Search(r.Context(), req.Query, req.PostalCode, req.Page, req.PerPage)
	if err != nil {
		writeToolError(w, err)
		return
	}

	pagination := providers.Pagination{
		Total: total, Page: req.Page, PerPage: req.PerPage,
		TotalPages: (total + req.PerPage - 1) / req.PerPage,
	}
	s.logAudit(r.Context(), "search_associations", "search", "", started, http.StatusOK, map[string]interface{}{"query": req.Query, "total": total})
	httputil.WriteJSON(w, http.StatusOK, searchAssociationsResponse{Total: total, Associations: associations, Pagination: pagination})
}

// ----- check_certifications -----

type checkCertificationsRequest struct {
	BusinessKey  string `json:"business_key"`
	ForceRefresh bool   `json:"force_refresh"`
}

type checkCertificationsResponse struct {
	Has            bool                    `json:"has"`
	Certifications []model.Certification   `json:"certifications"`
	Summary        certificationsSummary   `json:"summary"`
	Metadata       map[string]interface{}  `json:"metadata"`
}

type certificationsSummary struct {
	Total       int            `json:"total"`
	ValidCount  int            `json:"valid_count"`
	ByDomain    map[string]int `json:"by_domain"`
}

func (s *Server) handleCheckCertifications(w http.ResponseWriter, r *http.Request) {
	started := s.now()
	var req checkCertificationsRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.BusinessKey == "" {
		writeToolError(w, svcerrors.Validation("business_key", "required"))
		return
	}
	if s.Certifications == nil {
		writeToolError(w, svcerrors.Internal("certifications adapter not configured", nil))
		return
	}

	cacheKey := map[string]string{"business_key": req.BusinessKey}
	if !req.ForceRefresh && s.Cache != nil {
		if cached, hit, err := s.Cache.Get(r.Context(), "certifications", cacheKey); err == nil && hit {
			var resp checkCertificationsResponse
			if decodeJSONBytes(cached, &resp) {
				httputil.WriteJSON(w, http.StatusOK, resp)
				return
			}
		}
	}

	has, certs, err := s.Certifications.CheckCertificationStatus(r.Context(), req.BusinessKey)
	if err != nil {
		writeToolError(w, err)
		return
	}

	summary := certificationsSummary{Total: len(certs), ByDomain: map[string]int{}}
	for _, c := range certs {
		if c.Valid {
			summary.ValidCount++
		}
		if c.Domain != "" {
			summary.ByDomain[c.Domain]++
		}
	}

	resp := checkCertificationsResponse{
		Has: has, Certifications: certs, Summary: summary,
		Metadata: map[string]interface{}{
			"business_key":     req.BusinessKey,
			"response_time_ms": time.Since(started).Milliseconds(),
			"source":           "certifications",
		},
	}

	if s.Cache != nil {
		if encoded, ok := encodeJSONBytes(resp); ok {
			_ = s.Cache.Set(r.Context(), "certifications", cacheKey, encoded, s.TTLPolicy.TTLFor("certifications"))
		}
	}

	s.logAudit(r.Context(), "check_certifications", "check", req.BusinessKey, started, http.StatusOK, map[string]interface{}{"has": has, "total": summary.Total})
	httputil.WriteJSON(w, http.StatusOK, resp)
}
