package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bacoco/firmia/internal/svcerrors"
)

func TestPrimarySearchAdapter_SearchCapsPerPageAt25(t *testing.T) {
	var gotPerPage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPerPage = r.URL.Query().Get("per_page")
		w.Write([]byte(`{"total_results": 0, "results": []}`))
	}))
	defer srv.Close()

	a := NewPrimarySearchAdapter(srv.URL, newCaller())
	if _, _, err := a.Search(context.Background(), SearchEntitiesParams{Query: "acme", PerPage: 100}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if gotPerPage != "25" {
		t.Errorf("per_page = %q, want capped at 25", gotPerPage)
	}
}

func TestPrimarySearchAdapter_SearchMapsStatusFilter(t *testing.T) {
	var gotStatus string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStatus = r.URL.Query().Get("etat_administratif")
		w.Write([]byte(`{"results": []}`))
	}))
	defer srv.Close()

	a := NewPrimarySearchAdapter(srv.URL, newCaller())
	a.Search(context.Background(), SearchEntitiesParams{Query: "acme", Status: LegalStatusCeased})
	if gotStatus != "C" {
		t.Errorf("etat_administratif = %q, want C", gotStatus)
	}
}

func TestPrimarySearchAdapter_SearchParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"total_results": 1, "page": 1, "per_page": 20, "total_pages": 1,
			"results": [{
				"siren": "111111111", "nom_complet": "Acme", "naf": "6201Z",
				"etat_administratif": "A",
				"siege": {"siret": "11111111100001", "adresse": "1 rue de Paris", "code_postal": "75001", "commune": "Paris", "latitude": 48.8, "longitude": 2.3}
			}]
		}`))
	}))
	defer srv.Close()

	a := NewPrimarySearchAdapter(srv.URL, newCaller())
	results, pagination, err := a.Search(context.Background(), SearchEntitiesParams{Query: "acme"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if pagination.Total != 1 {
		t.Errorf("pagination.Total = %d, want 1", pagination.Total)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	r := results[0]
	if r.BusinessKey != "111111111" || r.DisplayName != "Acme" || !r.Active || !r.Headquarters {
		t.Errorf("results[0] = %+v, unexpected shape", r)
	}
	if r.Address == nil || r.Address.Geo == nil || r.Address.Geo.Lat != 48.8 {
		t.Errorf("Address = %+v, want geo with lat 48.8", r.Address)
	}
}

func TestPrimarySearchAdapter_SearchNotFoundReturnsEmptyPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewPrimarySearchAdapter(srv.URL, newCaller())
	results, pagination, err := a.Search(context.Background(), SearchEntitiesParams{Query: "nothing", Page: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if results != nil || pagination.Page != 2 {
		t.Errorf("results=%+v pagination=%+v, want nil results and page preserved", results, pagination)
	}
}

func TestPrimarySearchAdapter_GetByBusinessKeyNotFoundWhenNoExactMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": [{"siren": "222222222", "nom_complet": "Other"}]}`))
	}))
	defer srv.Close()

	a := NewPrimarySearchAdapter(srv.URL, newCaller())
	_, err := a.GetByBusinessKey(context.Background(), "111111111")
	e, ok := svcerrors.As(err)
	if !ok || e.Kind != svcerrors.KindNotFound {
		t.Errorf("GetByBusinessKey() error = %v, want KindNotFound", err)
	}
}

func TestExtractLegalForm_PicksFirstNonEmpty(t *testing.T) {
	if got := extractLegalForm("", "", "5710"); got != "5710" {
		t.Errorf("extractLegalForm() = %q, want 5710", got)
	}
	if got := extractLegalForm("", "", ""); got != "" {
		t.Errorf("extractLegalForm() = %q, want empty", got)
	}
}
