package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/bacoco/firmia/internal/httpcaller"
	"github.com/bacoco/firmia/internal/model"
	"github.com/bacoco/firmia/internal/svcerrors"
)

// PrimarySearchAdapter is the free-text entry point for search_entities,
// grounded on original_source/src/api/recherche_entreprises.py: no
// authentication, a single `/search` endpoint with a generous per-page cap.
type PrimarySearchAdapter struct {
	BaseAdapter
}

func NewPrimarySearchAdapter(baseURL string, caller *httpcaller.Caller) *PrimarySearchAdapter {
	return &PrimarySearchAdapter{BaseAdapter{
		BaseURL: baseURL, APIName: "primarysearch", RequiresAuth: false, Caller: caller,
	}}
}

// LegalStatus is the status filter vocabulary of spec §4.8.
type LegalStatus string

const (
	LegalStatusActive LegalStatus = "active"
	LegalStatusCeased LegalStatus = "ceased"
	LegalStatusAll    LegalStatus = "all"
)

// SearchEntitiesParams are the filters of spec §6 search_entities, already
// translated out of the upstream's field names.
type SearchEntitiesParams struct {
	Query         string
	Page          int
	PerPage       int
	ActivityCode  string
	PostalCode    string
	Department    string
	EmployeeRange string
	Status        LegalStatus
}

type primarySearchEnvelope struct {
	Total      int `json:"total_results"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
	Results    []struct {
		SIREN        string `json:"siren"`
		SIRET        string `json:"siret"`
		NomComplet   string `json:"nom_complet"`
		Denomination string `json:"denomination"`
		NomRaison    string `json:"nom_raison_sociale"`
		NAF          string `json:"naf"`
		ActivitePrincipale string `json:"activite_principale"`
		TrancheEffectif string `json:"tranche_effectif"`
		DateCreation string `json:"date_creation"`
		EtatAdministratif string `json:"etat_administratif"`
		FormeJuridique string `json:"forme_juridique"`
		CategorieJuridique string `json:"categorie_juridique"`
		NatureJuridique string `json:"nature_juridique"`
		Siege        struct {
			SIRET      string  `json:"siret"`
			Adresse    string  `json:"adresse"`
			CodePostal string  `json:"code_postal"`
			Commune    string  `json:"commune"`
			Latitude   *float64 `json:"latitude"`
			Longitude  *float64 `json:"longitude"`
		} `json:"siege"`
	} `json:"results"`
}

// EntitySearchResult is the canonical search-hit shape, distinct from a full
// model.BusinessEntity since search results carry summary fields only.
type EntitySearchResult struct {
	BusinessKey      string         `json:"business_key"`
	EstablishmentKey string         `json:"establishment_key,omitempty"`
	DisplayName      string         `json:"display_name"`
	LegalForm        string         `json:"legal_form,omitempty"`
	ActivityCode     string         `json:"activity_code,omitempty"`
	EmployeeRange    string         `json:"employee_range,omitempty"`
	Address          *model.Address `json:"address,omitempty"`
	CreationDate     string         `json:"creation_date,omitempty"`
	Active           bool           `json:"active"`
	Headquarters     bool           `json:"headquarters"`
	Source           string         `json:"source"`
}

// Pagination mirrors recherche_entreprises.py's Pagination model.
type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
}

// Search hits the free-text endpoint, honoring the upstream's 25-per-page
// cap, grounded on recherche_entreprises.py search.
func (a *PrimarySearchAdapter) Search(ctx context.Context, params SearchEntitiesParams) ([]EntitySearchResult, Pagination, error) {
	page := params.Page
	if page <= 0 {
		page = 1
	}
	perPage := params.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 25 {
		perPage = 25
	}

	query := url.Values{}
	query.Set("q", params.Query)
	query.Set("page", fmt.Sprintf("%d", page))
	query.Set("per_page", fmt.Sprintf("%d", perPage))
	if params.ActivityCode != "" {
		query.Set("naf", params.ActivityCode)
	}
	if params.PostalCode != "" {
		query.Set("code_postal", params.PostalCode)
	}
	if params.Department != "" {
		query.Set("departement", params.Department)
	}
	if params.EmployeeRange != "" {
		query.Set("tranche_effectif", params.EmployeeRange)
	}
	switch params.Status {
	case LegalStatusActive:
		query.Set("etat_administratif", "A")
	case LegalStatusCeased:
		query.Set("etat_administratif", "C")
	case LegalStatusAll, "":
		// no filter
	}

	resp, err := a.Caller.Do(ctx, httpcaller.Request{
		Provider: a.APIName,
		Method:   "GET",
		URL:      a.BaseURL + "/search?" + query.Encode(),
	})
	if err != nil {
		if svcerrors.KindOf(err) == svcerrors.KindNotFound {
			return nil, Pagination{Page: page, PerPage: perPage}, nil
		}
		return nil, Pagination{}, err
	}

	var envelope primarySearchEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, Pagination{}, svcerrors.Upstream(a.APIName, err)
	}

	out := make([]EntitySearchResult, 0, len(envelope.Results))
	for _, item := range envelope.Results {
		name := item.NomComplet
		if name == "" {
			name = item.Denomination
		}
		if name == "" {
			name = item.NomRaison
		}
		activity := item.NAF
		if activity == "" {
			activity = item.ActivitePrincipale
		}
		legalForm := extractLegalForm(item.FormeJuridique, item.CategorieJuridique, item.NatureJuridique)
		siret := item.SIRET
		if siret == "" {
			siret = item.Siege.SIRET
		}

		var address *model.Address
		hasSiege := item.Siege.SIRET != "" || item.Siege.Adresse != ""
		if hasSiege {
			addr := model.Address{PostalCode: item.Siege.CodePostal, City: item.Siege.Commune}
			if item.Siege.Adresse != "" {
				street := item.Siege.Adresse
				addr.Street = &street
			}
			if item.Siege.Latitude != nil && item.Siege.Longitude != nil {
				addr.Geo = &model.GeoPoint{Lat: *item.Siege.Latitude, Lon: *item.Siege.Longitude}
			}
			address = &addr
		}

		out = append(out, EntitySearchResult{
			BusinessKey:      item.SIREN,
			EstablishmentKey: siret,
			DisplayName:      name,
			LegalForm:        legalForm,
			ActivityCode:     activity,
			EmployeeRange:    item.TrancheEffectif,
			Address:          address,
			CreationDate:     item.DateCreation,
			Active:           item.EtatAdministratif == "A",
			Headquarters:     hasSiege,
			Source:           a.APIName,
		})
	}

	pagination := Pagination{
		Total:      envelope.Total,
		Page:       envelope.Page,
		PerPage:    envelope.PerPage,
		TotalPages: envelope.TotalPages,
	}
	if pagination.Page == 0 {
		pagination.Page = page
	}
	if pagination.PerPage == 0 {
		pagination.PerPage = perPage
	}
	return out, pagination, nil
}

// GetByBusinessKey searches by exact business key and returns the matching
// result, grounded on recherche_entreprises.py get_company_by_siren.
func (a *PrimarySearchAdapter) GetByBusinessKey(ctx context.Context, businessKey string) (*EntitySearchResult, error) {
	results, _, err := a.Search(ctx, SearchEntitiesParams{Query: businessKey, PerPage: 1})
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.BusinessKey == businessKey {
			return &r, nil
		}
	}
	return nil, svcerrors.NotFound("entity", businessKey)
}

func extractLegalForm(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
