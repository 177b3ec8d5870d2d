package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bacoco/firmia/internal/httpcaller"
	"github.com/bacoco/firmia/internal/svcerrors"
)

func newCaller() *httpcaller.Caller {
	return httpcaller.New(httpcaller.Config{})
}

func TestRegistryAdapter_GetLegalUnitSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"header": {"statut": 200, "message": "OK"},
			"uniteLegale": {
				"siren": "111111111",
				"denominationUniteLegale": "Acme",
				"categorieJuridiqueUniteLegale": "5710",
				"dateCreationUniteLegale": "2010-01-01",
				"etatAdministratifUniteLegale": "A"
			}
		}`))
	}))
	defer srv.Close()

	a := NewRegistryAdapter(srv.URL, newCaller())
	entity, err := a.GetLegalUnit(context.Background(), "111111111")
	if err != nil {
		t.Fatalf("GetLegalUnit() error = %v", err)
	}
	if entity.BusinessKey != "111111111" || entity.DisplayName != "Acme" {
		t.Errorf("entity = %+v, want business_key=111111111 name=Acme", entity)
	}
	if !entity.Active {
		t.Error("entity should be active for etatAdministratif=A")
	}
	if entity.LegalForm == nil || entity.LegalForm.Code != "5710" {
		t.Errorf("LegalForm = %+v, want code 5710", entity.LegalForm)
	}
}

func TestRegistryAdapter_GetLegalUnitNotFoundMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"header": {"statut": 404, "message": "no data found for this siren"}}`))
	}))
	defer srv.Close()

	a := NewRegistryAdapter(srv.URL, newCaller())
	_, err := a.GetLegalUnit(context.Background(), "000000000")
	e, ok := svcerrors.As(err)
	if !ok || e.Kind != svcerrors.KindNotFound {
		t.Errorf("GetLegalUnit() error = %v, want KindNotFound", err)
	}
}

func TestRegistryAdapter_GetLegalUnitOtherStatusIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"header": {"statut": 500, "message": "internal error"}}`))
	}))
	defer srv.Close()

	a := NewRegistryAdapter(srv.URL, newCaller())
	_, err := a.GetLegalUnit(context.Background(), "111111111")
	e, ok := svcerrors.As(err)
	if !ok || e.Kind != svcerrors.KindUpstream {
		t.Errorf("GetLegalUnit() error = %v, want KindUpstream", err)
	}
}

func TestRegistryAdapter_GetEstablishmentsBySirenFiltersActiveOnly(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{
			"header": {"statut": 200, "message": "OK"},
			"etablissements": [
				{"siret": "11111111100001", "etablissementSiege": "true", "codePostalEtablissement": "75001", "libelleCommuneEtablissement": "Paris"}
			]
		}`))
	}))
	defer srv.Close()

	a := NewRegistryAdapter(srv.URL, newCaller())
	establishments, err := a.GetEstablishmentsBySiren(context.Background(), "111111111", true)
	if err != nil {
		t.Fatalf("GetEstablishmentsBySiren() error = %v", err)
	}
	if len(establishments) != 1 || !establishments[0].Headquarters {
		t.Errorf("establishments = %+v, want one headquarters establishment", establishments)
	}
	if !contains(gotQuery, "etatadministratifetablissement") {
		t.Errorf("query = %q, want onlyActive filter applied", gotQuery)
	}
}

func TestRegistryAdapter_GetEstablishmentsNotFoundReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"header": {"statut": 404, "message": "aucun etablissement"}}`))
	}))
	defer srv.Close()

	a := NewRegistryAdapter(srv.URL, newCaller())
	establishments, err := a.GetEstablishmentsBySiren(context.Background(), "111111111", false)
	if err != nil {
		t.Fatalf("GetEstablishmentsBySiren() error = %v", err)
	}
	if establishments != nil {
		t.Errorf("establishments = %+v, want nil", establishments)
	}
}

func TestIsNotFoundMessage(t *testing.T) {
	cases := map[string]bool{
		"Aucun élément trouvé": true,
		"introuvable":          true,
		"Not Found":            true,
		"internal error":       false,
	}
	for msg, want := range cases {
		if got := isNotFoundMessage(msg); got != want {
			t.Errorf("isNotFoundMessage(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestContains_CaseInsensitive(t *testing.T) {
	if !contains("Hello World", "WORLD") {
		t.Error("contains() should be case-insensitive")
	}
	if contains("Hello", "xyz") {
		t.Error("contains() matched a non-substring")
	}
	if !contains("anything", "") {
		t.Error("contains() with an empty needle should always match")
	}
}
