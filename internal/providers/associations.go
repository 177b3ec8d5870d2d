package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bacoco/firmia/internal/httpcaller"
	"github.com/bacoco/firmia/internal/model"
	"github.com/bacoco/firmia/internal/svcerrors"
)

// AssociationsAdapter speaks to the associations registry, grounded on
// original_source/src/api/rna.py: no auth, association ids made of a "W"
// followed by nine characters (spec §4.8).
type AssociationsAdapter struct {
	BaseAdapter
}

func NewAssociationsAdapter(baseURL string, caller *httpcaller.Caller) *AssociationsAdapter {
	return &AssociationsAdapter{BaseAdapter{
		BaseURL: baseURL, APIName: "associations", RequiresAuth: false, Caller: caller,
	}}
}

// Association is the canonical shape for an association record; distinct
// from model.BusinessEntity since associations carry fields (object,
// prefecture) a commercial entity does not.
type Association struct {
	AssociationID string `json:"association_id"` // "W" followed by nine characters
	BusinessKey   string `json:"business_key,omitempty"`
	Name          string `json:"name"`
	Object        string `json:"object,omitempty"`
	CreationDate  string `json:"creation_date,omitempty"`
	DissolutionDate string `json:"dissolution_date,omitempty"`
	Active        bool   `json:"active"`
	Address       model.Address `json:"address"`
}

type associationEnvelope struct {
	TotalResults int `json:"total_results"`
	Association  []struct {
		ID          string `json:"id_association"`
		SIRET       string `json:"siret"`
		Titre       string `json:"titre"`
		Objet       string `json:"objet"`
		DateCreation string `json:"date_creation"`
		DateDissolution string `json:"date_dissolution"`
		Actif       *bool  `json:"actif"`
		Voie        string `json:"adresse_gestion_libelle_voie"`
		CodePostal  string `json:"adresse_gestion_code_postal"`
		Commune     string `json:"adresse_gestion_commune"`
	} `json:"association"`
}

// IsAssociationID reports whether id matches the association identifier
// shape of spec §4.8: a "W" followed by nine characters.
func IsAssociationID(id string) bool {
	return len(id) == 10 && id[0] == 'W'
}

// Search looks up associations by free text and optional postal code.
func (a *AssociationsAdapter) Search(ctx context.Context, query, postalCode string, page, perPage int) (int, []Association, error) {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}

	url := fmt.Sprintf("%s/full_text?q=%s&page=%d&per_page=%d", a.BaseURL, query, page, perPage)
	if postalCode != "" {
		url += "&postal_code=" + postalCode
	}

	resp, err := a.Caller.Do(ctx, httpcaller.Request{Provider: a.APIName, Method: "GET", URL: url})
	if err != nil {
		if svcerrors.KindOf(err) == svcerrors.KindNotFound {
			return 0, nil, nil
		}
		return 0, nil, err
	}

	var envelope associationEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return 0, nil, svcerrors.Upstream(a.APIName, err)
	}

	out := make([]Association, 0, len(envelope.Association))
	for _, item := range envelope.Association {
		active := true
		if item.Actif != nil {
			active = *item.Actif
		}
		businessKey := ""
		if len(item.SIRET) >= 9 {
			businessKey = item.SIRET[:9]
		}
		assoc := Association{
			AssociationID: item.ID,
			BusinessKey:   businessKey,
			Name:          item.Titre,
			Object:        item.Objet,
			CreationDate:  item.DateCreation,
			DissolutionDate: item.DateDissolution,
			Active:        active,
			Address: model.Address{
				PostalCode: item.CodePostal,
				City:       item.Commune,
			},
		}
		if item.Voie != "" {
			street := item.Voie
			assoc.Address.Street = &street
		}
		out = append(out, assoc)
	}

	total := envelope.TotalResults
	if total == 0 {
		total = len(out)
	}
	return total, out, nil
}
