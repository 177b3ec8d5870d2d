package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/bacoco/firmia/internal/httpcaller"
	"github.com/bacoco/firmia/internal/model"
	"github.com/bacoco/firmia/internal/svcerrors"
)

// AnnouncementsAdapter speaks to the legal-gazette API, grounded on
// original_source/src/api/bodacc.py: no authentication, an AND-joined
// `where=` DSL, single-letter announcement type tags.
type AnnouncementsAdapter struct {
	BaseAdapter
}

func NewAnnouncementsAdapter(baseURL string, caller *httpcaller.Caller) *AnnouncementsAdapter {
	return &AnnouncementsAdapter{BaseAdapter{
		BaseURL: baseURL, APIName: "announcements", RequiresAuth: false, Caller: caller,
	}}
}

// AnnouncementTypeLabels maps the single-letter tags of spec §4.8.
var AnnouncementTypeLabels = map[model.AnnouncementKind]string{
	model.AnnouncementSale:           "sale and transfer",
	model.AnnouncementCreation:       "establishment creation",
	model.AnnouncementCollectiveProc: "collective procedure",
	model.AnnouncementAccountsFiling: "accounts filing",
	model.AnnouncementCorrection:     "correction or cancellation",
}

// SearchParams are the filters of spec §6 search_announcements, already
// translated to the core's vocabulary (no BODACC-specific field names leak
// past this file).
type SearchParams struct {
	BusinessKey string
	Name        string
	Kind        model.AnnouncementKind
	DateFrom    string
	DateTo      string
	Limit       int
	Offset      int
}

type announcementEnvelope struct {
	TotalCount int `json:"total_count"`
	Records    []struct {
		ID     string `json:"id"`
		Fields struct {
			TypeAvis        string `json:"typeavis"`
			DateParution    string `json:"dateparution"`
			Tribunal        string `json:"tribunal"`
			RegistreNumero  string `json:"registre_numero_dossier_greffe_debiteur"`
			Denomination    string `json:"denomination"`
			Titre           string `json:"titre"`
			Contenu         string `json:"contenu"`
			PublicationAvis string `json:"publicationavis"`
		} `json:"fields"`
	} `json:"records"`
}

// Search runs an AND-joined where-clause query, inclusive date bounds, per
// spec §4.8.
func (a *AnnouncementsAdapter) Search(ctx context.Context, params SearchParams) (int, []model.Announcement, error) {
	clauses := make([]string, 0, 4)
	if params.BusinessKey != "" {
		clauses = append(clauses, fmt.Sprintf(`registre_numero_dossier_greffe_debiteur="%s"`, params.BusinessKey))
	}
	if params.Name != "" {
		clauses = append(clauses, fmt.Sprintf(`(denomination like "%s" OR personne_morale_denomination like "%s")`, params.Name, params.Name))
	}
	if params.Kind != "" {
		clauses = append(clauses, fmt.Sprintf(`typeavis="%s"`, params.Kind))
	}
	if params.DateFrom != "" {
		clauses = append(clauses, fmt.Sprintf(`dateparution>="%s"`, params.DateFrom))
	}
	if params.DateTo != "" {
		clauses = append(clauses, fmt.Sprintf(`dateparution<="%s"`, params.DateTo))
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	query := url.Values{}
	query.Set("dataset", "annonces-commerciales")
	query.Set("limit", fmt.Sprintf("%d", limit))
	query.Set("offset", fmt.Sprintf("%d", params.Offset))
	query.Set("order_by", "dateparution desc")
	if len(clauses) > 0 {
		query.Set("where", strings.Join(clauses, " AND "))
	}

	resp, err := a.Caller.Do(ctx, httpcaller.Request{
		Provider: a.APIName,
		Method:   "GET",
		URL:      a.BaseURL + "/catalog/datasets/annonces-commerciales/records?" + query.Encode(),
	})
	if err != nil {
		if svcerrors.KindOf(err) == svcerrors.KindNotFound {
			return 0, nil, nil
		}
		return 0, nil, err
	}

	var envelope announcementEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return 0, nil, svcerrors.Upstream(a.APIName, err)
	}

	out := make([]model.Announcement, 0, len(envelope.Records))
	for _, record := range envelope.Records {
		kind := model.AnnouncementKind(record.Fields.TypeAvis)
		announcement := model.Announcement{
			ID:              record.ID,
			Kind:            kind,
			PublicationDate: record.Fields.DateParution,
			Title:           record.Fields.Titre,
			Text:            record.Fields.Contenu,
		}
		if record.Fields.Tribunal != "" {
			court := record.Fields.Tribunal
			announcement.Court = &court
		}
		if record.Fields.RegistreNumero != "" {
			businessKey := record.Fields.RegistreNumero
			announcement.BusinessKey = &businessKey
		}
		if record.Fields.PublicationAvis != "" {
			pdfURL := record.Fields.PublicationAvis
			announcement.PDFURL = &pdfURL
		}
		out = append(out, announcement)
	}

	return envelope.TotalCount, out, nil
}

// Timeline fetches every announcement for a business key, newest first,
// grounded on bodacc.py get_company_timeline.
func (a *AnnouncementsAdapter) Timeline(ctx context.Context, businessKey string) (int, []model.Announcement, error) {
	return a.Search(ctx, SearchParams{BusinessKey: businessKey, Limit: 100})
}

// HasCollectiveProcedures reports whether any announcement of kind C exists
// in the timeline, grounded on bodacc.py get_collective_procedures /
// check_financial_health.
func HasCollectiveProcedures(announcements []model.Announcement) bool {
	for _, a := range announcements {
		if a.Kind == model.AnnouncementCollectiveProc {
			return true
		}
	}
	return false
}
