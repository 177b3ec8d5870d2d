package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bacoco/firmia/internal/clockconfig"
	"github.com/bacoco/firmia/internal/httpcaller"
	"github.com/bacoco/firmia/internal/model"
	"github.com/bacoco/firmia/internal/svcerrors"
)

// CertificationsAdapter speaks to the quality-label registry, grounded on
// original_source/src/api/rge.py: no authentication, an AND-joined `qs`
// query string, size/skip pagination, one company record carrying an
// embedded certifications array.
type CertificationsAdapter struct {
	BaseAdapter
	Clock clockconfig.Clock
}

func NewCertificationsAdapter(baseURL string, caller *httpcaller.Caller, clock clockconfig.Clock) *CertificationsAdapter {
	return &CertificationsAdapter{
		BaseAdapter: BaseAdapter{BaseURL: baseURL, APIName: "certifications", RequiresAuth: false, Caller: caller},
		Clock:       clock,
	}
}

// CertificationSearchParams are the filters of rge.py search_certified_companies,
// already translated out of ADEME's field names.
type CertificationSearchParams struct {
	Query          string
	BusinessKey    string
	PostalCode     string
	Domain         string
	CertificateType string
	Limit          int
	Offset         int
}

type certificationCompany struct {
	SIRET      string `json:"siret"`
	Name       string `json:"raison_sociale"`
	CommercialName string `json:"enseigne"`
	Adresse    string `json:"adresse"`
	CodePostal string `json:"code_postal"`
	Ville      string `json:"ville"`
	Telephone  string `json:"telephone"`
	Email      string `json:"email_1"`
	SiteInternet string `json:"site_internet"`
	DateFin    string `json:"date_fin_validite"`
	Organisme  string `json:"organisme"`
	DateValidite string `json:"date_validite"`
	DomaineTravaux string `json:"domaine_travaux"`
	MetaDomaine string `json:"meta_domaine"`
	CodeTravaux string `json:"code_travaux"`
	LibelleTravaux string `json:"libelle_travaux"`
	Certificat  string `json:"certificat"`
	NomCertificat string `json:"nom_certificat"`
	DateMaj     string `json:"date_update"`
}

type certificationEnvelope struct {
	Total   int                     `json:"total"`
	Results []certificationCompany `json:"results"`
}

// CompanyCertifications is the canonical company-with-certifications shape
// returned by Search, grounded on rge.py _parse_search_response.
type CompanyCertifications struct {
	BusinessKey    string                `json:"business_key"`
	Name           string                `json:"name"`
	CommercialName string                `json:"commercial_name,omitempty"`
	Address        model.Address         `json:"address"`
	Phone          string                `json:"phone,omitempty"`
	Email          string                `json:"email,omitempty"`
	Website        string                `json:"website,omitempty"`
	Certifications []model.Certification `json:"certifications"`
	LastUpdate     string                `json:"last_update,omitempty"`
	DataSource     string                `json:"data_source"`
}

// Search runs an AND-joined qs query against the quality-label lines
// endpoint, grounded on rge.py search_certified_companies.
func (a *CertificationsAdapter) Search(ctx context.Context, params CertificationSearchParams) (int, []CompanyCertifications, error) {
	clauses := make([]string, 0, 4)
	if params.BusinessKey != "" {
		clauses = append(clauses, fmt.Sprintf(`siret:"%s*"`, params.BusinessKey))
	}
	if params.Query != "" {
		clauses = append(clauses, fmt.Sprintf(`("%s")`, params.Query))
	}
	if params.PostalCode != "" {
		clauses = append(clauses, fmt.Sprintf(`code_postal:"%s"`, params.PostalCode))
	}
	if params.Domain != "" {
		clauses = append(clauses, fmt.Sprintf(`domaine_travaux:"%s"`, params.Domain))
	}
	if params.CertificateType != "" {
		clauses = append(clauses, fmt.Sprintf(`certificat:"%s"`, params.CertificateType))
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	url := fmt.Sprintf("%s/lines?size=%d&skip=%d", a.BaseURL, limit, params.Offset)
	if len(clauses) > 0 {
		url += "&qs=" + strings.Join(clauses, " AND ")
	}

	resp, err := a.Caller.Do(ctx, httpcaller.Request{Provider: a.APIName, Method: "GET", URL: url})
	if err != nil {
		if svcerrors.KindOf(err) == svcerrors.KindNotFound {
			return 0, nil, nil
		}
		return 0, nil, err
	}

	var envelope certificationEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return 0, nil, svcerrors.Upstream(a.APIName, err)
	}

	byBusinessKey := map[string]*CompanyCertifications{}
	order := make([]string, 0)
	now := a.now()

	for _, line := range envelope.Results {
		businessKey := line.SIRET
		if len(businessKey) > 9 {
			businessKey = businessKey[:9]
		}
		company, ok := byBusinessKey[businessKey]
		if !ok {
			company = &CompanyCertifications{
				BusinessKey:    businessKey,
				Name:           line.Name,
				CommercialName: line.CommercialName,
				Phone:          line.Telephone,
				Email:          line.Email,
				Website:        line.SiteInternet,
				LastUpdate:     line.DateMaj,
				DataSource:     "certifications",
				Address: model.Address{
					PostalCode: line.CodePostal,
					City:       line.Ville,
				},
			}
			if line.Adresse != "" {
				street := line.Adresse
				company.Address.Street = &street
			}
			byBusinessKey[businessKey] = company
			order = append(order, businessKey)
		}

		if line.Certificat == "" {
			continue
		}
		cert := model.Certification{
			Type:       "RGE",
			Code:       line.Certificat,
			Name:       line.NomCertificat,
			Issuer:     line.Organisme,
			ValidUntil: line.DateValidite,
			Domain:     line.DomaineTravaux,
			Valid:      checkValidity(line.DateValidite, now),
		}
		cert.Competencies = formatCompetencies(line.CodeTravaux, line.LibelleTravaux)
		company.Certifications = append(company.Certifications, cert)
	}

	out := make([]CompanyCertifications, 0, len(order))
	for _, key := range order {
		out = append(out, *byBusinessKey[key])
	}

	total := envelope.Total
	if total == 0 {
		total = len(out)
	}
	return total, out, nil
}

// GetCompanyCertifications aggregates every certification held by a business
// key, grounded on rge.py get_company_certifications.
func (a *CertificationsAdapter) GetCompanyCertifications(ctx context.Context, businessKey string) ([]model.Certification, error) {
	_, companies, err := a.Search(ctx, CertificationSearchParams{BusinessKey: businessKey, Limit: 100})
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	out := make([]model.Certification, 0)
	for _, company := range companies {
		for _, cert := range company.Certifications {
			key := cert.Type + "|" + cert.Code + "|" + cert.Domain
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, cert)
		}
	}
	return out, nil
}

// CheckCertificationStatus reports whether businessKey currently holds at
// least one valid certification, grounded on rge.py
// check_certification_status.
func (a *CertificationsAdapter) CheckCertificationStatus(ctx context.Context, businessKey string) (bool, []model.Certification, error) {
	certs, err := a.GetCompanyCertifications(ctx, businessKey)
	if err != nil {
		return false, nil, err
	}
	for _, cert := range certs {
		if cert.Valid {
			return true, certs, nil
		}
	}
	return false, certs, nil
}

func (a *CertificationsAdapter) now() time.Time {
	if a.Clock != nil {
		return a.Clock.Now()
	}
	return clockconfig.RealClock{}.Now()
}

// checkValidity reports whether a certification is still valid: its end
// date must be strictly in the future relative to now, grounded on
// rge.py _check_validity.
func checkValidity(validUntil string, now time.Time) bool {
	if validUntil == "" {
		return false
	}
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02"}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, validUntil); err == nil {
			return parsed.After(now)
		}
	}
	return false
}

// formatCompetencies pairs comma-separated codes with pipe-separated
// labels, grounded on rge.py _format_competencies.
func formatCompetencies(codesCSV, labelsPSV string) []model.Competency {
	if codesCSV == "" {
		return nil
	}
	codes := strings.Split(codesCSV, ",")
	labels := strings.Split(labelsPSV, "|")
	out := make([]model.Competency, 0, len(codes))
	for i, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		label := ""
		if i < len(labels) {
			label = strings.TrimSpace(labels[i])
		}
		out = append(out, model.Competency{Code: code, Label: label})
	}
	return out
}
