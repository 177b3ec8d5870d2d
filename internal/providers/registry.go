package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bacoco/firmia/internal/httpcaller"
	"github.com/bacoco/firmia/internal/model"
	"github.com/bacoco/firmia/internal/svcerrors"
)

// RegistryAdapter speaks to the national business registry, grounded on
// original_source/src/api/insee_sirene.py: OAuth2 client-credentials auth, a
// `{header:{statut,message},uniteLegale|etablissement}` envelope shape.
type RegistryAdapter struct {
	BaseAdapter
}

// NewRegistryAdapter builds an adapter bound to caller under provider name
// "registry".
func NewRegistryAdapter(baseURL string, caller *httpcaller.Caller) *RegistryAdapter {
	return &RegistryAdapter{BaseAdapter{
		BaseURL: baseURL, APIName: "registry", RequiresAuth: true, AuthService: "registry", Caller: caller,
	}}
}

type registryEnvelope struct {
	Header struct {
		Statut  int    `json:"statut"`
		Message string `json:"message"`
	} `json:"header"`
	UniteLegale  json.RawMessage `json:"uniteLegale"`
	Etablissement json.RawMessage `json:"etablissement"`
	Etablissements []json.RawMessage `json:"etablissements"`
}

type registryLegalUnit struct {
	BusinessKey  string `json:"siren"`
	Name         string `json:"denominationUniteLegale"`
	ActivityCode string `json:"activitePrincipaleUniteLegale"`
	LegalFormCode string `json:"categorieJuridiqueUniteLegale"`
	CreationDate string `json:"dateCreationUniteLegale"`
	CessationDate string `json:"dateCessationUniteLegale"`
	Status       string `json:"etatAdministratifUniteLegale"` // A=active, C=ceased
}

// GetLegalUnit fetches the legal-unit record by business key. A "statut !=
// 200" response whose message signals absence is normalized to
// NotFound (spec §4.8: "statut ≠ 200 ⇒ treat as not found only when the
// message signals that; otherwise propagate as upstream error").
func (a *RegistryAdapter) GetLegalUnit(ctx context.Context, businessKey string) (*model.BusinessEntity, error) {
	resp, err := a.Caller.Do(ctx, httpcaller.Request{
		Provider: a.APIName,
		Method:   "GET",
		URL:      fmt.Sprintf("%s/siren/%s", a.BaseURL, businessKey),
	})
	if err != nil {
		return nil, err
	}

	var envelope registryEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, svcerrors.Upstream(a.APIName, err)
	}

	if envelope.Header.Statut != 200 {
		if isNotFoundMessage(envelope.Header.Message) {
			return nil, svcerrors.NotFound("entity", businessKey)
		}
		return nil, svcerrors.Upstream(a.APIName, fmt.Errorf("registry status %d: %s", envelope.Header.Statut, envelope.Header.Message))
	}

	var unit registryLegalUnit
	if err := json.Unmarshal(envelope.UniteLegale, &unit); err != nil {
		return nil, svcerrors.Upstream(a.APIName, err)
	}

	return toBusinessEntity(unit, a.APIName), nil
}

func toBusinessEntity(unit registryLegalUnit, source string) *model.BusinessEntity {
	entity := &model.BusinessEntity{
		BusinessKey:  unit.BusinessKey,
		DisplayName:  unit.Name,
		ActivityCode: unit.ActivityCode,
		Active:       unit.Status == "A" || unit.Status == "",
		Privacy:      model.PrivacyOpen,
		Sources:      []string{source},
	}
	if unit.LegalFormCode != "" {
		entity.LegalForm = &model.LegalForm{Code: unit.LegalFormCode}
	}
	if unit.CreationDate != "" {
		d := unit.CreationDate
		entity.CreationDate = &d
	}
	if unit.CessationDate != "" {
		d := unit.CessationDate
		entity.CessationDate = &d
	}
	return entity
}

// GetEstablishmentsBySiren lists a business key's establishments, grounded
// on insee_sirene.py get_establishments_by_siren's "q=siren:X AND
// etatAdministratifEtablissement:A"-when-active-only filter.
func (a *RegistryAdapter) GetEstablishmentsBySiren(ctx context.Context, businessKey string, onlyActive bool) ([]model.Establishment, error) {
	query := "siren:" + businessKey
	if onlyActive {
		query += "+AND+etatAdministratifEtablissement:A"
	}

	resp, err := a.Caller.Do(ctx, httpcaller.Request{
		Provider: a.APIName,
		Method:   "GET",
		URL:      a.BaseURL + "/siret?q=" + query + "&nombre=100",
	})
	if err != nil {
		return nil, err
	}

	var envelope registryEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return nil, svcerrors.Upstream(a.APIName, err)
	}
	if envelope.Header.Statut != 200 {
		if isNotFoundMessage(envelope.Header.Message) {
			return nil, nil
		}
		return nil, svcerrors.Upstream(a.APIName, fmt.Errorf("registry status %d", envelope.Header.Statut))
	}

	establishments := make([]model.Establishment, 0, len(envelope.Etablissements))
	for _, raw := range envelope.Etablissements {
		var wire struct {
			SIRET        string `json:"siret"`
			HQ           string `json:"etablissementSiege"`
			Street       string `json:"numeroVoieEtablissement"`
			PostalCode   string `json:"codePostalEtablissement"`
			City         string `json:"libelleCommuneEtablissement"`
			ActivityCode string `json:"activitePrincipaleEtablissement"`
		}
		if err := json.Unmarshal(raw, &wire); err != nil {
			continue
		}
		var street *string
		if wire.Street != "" {
			s := wire.Street
			street = &s
		}
		establishments = append(establishments, model.Establishment{
			EstablishmentKey: wire.SIRET,
			Headquarters:     wire.HQ == "true" || wire.HQ == "oui",
			ActivityCode:     wire.ActivityCode,
			Address: model.Address{
				Street:     street,
				PostalCode: wire.PostalCode,
				City:       wire.City,
			},
		})
	}
	return establishments, nil
}

func isNotFoundMessage(message string) bool {
	lowered := fmt.Sprintf("%v", message)
	for _, needle := range []string{"not found", "no data found", "aucun", "introuvable"} {
		if contains(lowered, needle) {
			return true
		}
	}
	return false
}

func contains(haystack, needle string) bool {
	hLen, nLen := len(haystack), len(needle)
	if nLen == 0 {
		return true
	}
	for i := 0; i+nLen <= hLen; i++ {
		match := true
		for j := 0; j < nLen; j++ {
			hc, nc := haystack[i+j], needle[j]
			if hc >= 'A' && hc <= 'Z' {
				hc += 'a' - 'A'
			}
			if nc >= 'A' && nc <= 'Z' {
				nc += 'a' - 'A'
			}
			if hc != nc {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
