package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bacoco/firmia/internal/httpcaller"
	"github.com/bacoco/firmia/internal/model"
	"github.com/bacoco/firmia/internal/svcerrors"
)

// TradeRegisterAdapter speaks to the trade-register API, grounded on
// original_source/src/api/inpi_rne.py: password-login bearer auth, a
// nested `formality.content` payload. The one-re-login-per-request 401
// handling named in spec §4.8 is provided generically by internal/httpcaller
// (credential invalidation + single retry), so this adapter only needs to
// normalize the response shape.
type TradeRegisterAdapter struct {
	BaseAdapter
}

func NewTradeRegisterAdapter(baseURL string, caller *httpcaller.Caller) *TradeRegisterAdapter {
	return &TradeRegisterAdapter{BaseAdapter{
		BaseURL: baseURL, APIName: "traderegister", RequiresAuth: true, AuthService: "traderegister", Caller: caller,
	}}
}

type rneFormality struct {
	Formality struct {
		Content struct {
			Denomination     string `json:"denomination"`
			DateImmatriculation string `json:"dateImmatriculation"`
			DateRadiation    string `json:"dateRadiation"`
			FormeJuridique   struct {
				Code string `json:"code"`
				Libelle string `json:"libelle"`
			} `json:"formeJuridique"`
			Representants []struct {
				Role      string `json:"role"`
				Nom       string `json:"nom"`
				Prenom    string `json:"prenom"`
				DateNaissance string `json:"dateNaissance"`
				Nationalite string `json:"nationalite"`
				TypePersonne string `json:"typePersonne"` // "individu" or "entreprise"
			} `json:"representants"`
		} `json:"content"`
	} `json:"formality"`
	SIREN string `json:"siren"`
}

// GetCompanyDetails fetches the RNE record for a business key, returning
// NotFound when the upstream responds 404 (svcerrors.NotFound is already
// produced by httpcaller for that status code via retry.RetryableStatus's
// "no" path plus the >=400 branch, so this adapter just needs to unwrap it).
func (a *TradeRegisterAdapter) GetCompanyDetails(ctx context.Context, businessKey string) (*model.BusinessEntity, error) {
	resp, err := a.Caller.Do(ctx, httpcaller.Request{
		Provider: a.APIName,
		Method:   "GET",
		URL:      fmt.Sprintf("%s/companies/%s", a.BaseURL, businessKey),
	})
	if err != nil {
		if svcerrors.KindOf(err) == svcerrors.KindNotFound {
			return nil, svcerrors.NotFound("entity", businessKey)
		}
		return nil, err
	}

	var wire rneFormality
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		return nil, svcerrors.Upstream(a.APIName, err)
	}

	content := wire.Formality.Content
	entity := &model.BusinessEntity{
		BusinessKey: wire.SIREN,
		DisplayName: content.Denomination,
		Active:      content.DateRadiation == "",
		Privacy:     model.PrivacyOpen,
		Sources:     []string{a.APIName},
	}
	if content.FormeJuridique.Code != "" {
		entity.LegalForm = &model.LegalForm{Code: content.FormeJuridique.Code, Label: content.FormeJuridique.Libelle}
	}
	if content.DateImmatriculation != "" {
		d := content.DateImmatriculation
		entity.CreationDate = &d
	}
	if content.DateRadiation != "" {
		d := content.DateRadiation
		entity.CessationDate = &d
	}

	for _, rep := range content.Representants {
		kind := model.PersonNatural
		if rep.TypePersonne == "entreprise" {
			kind = model.PersonLegal
		}
		exec := model.Executive{Role: rep.Role, Surname: rep.Nom, Kind: kind}
		if rep.Prenom != "" {
			given := rep.Prenom
			exec.GivenName = &given
		}
		if rep.DateNaissance != "" {
			birth := rep.DateNaissance
			exec.BirthDate = &birth
		}
		if rep.Nationalite != "" {
			nat := rep.Nationalite
			exec.Nationality = &nat
		}
		entity.Executives = append(entity.Executives, exec)
	}

	return entity, nil
}
