package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsAssociationID(t *testing.T) {
	if !IsAssociationID("W123456789") {
		t.Error("a nine-character W-prefixed id should be recognized")
	}
	if IsAssociationID("123456789") {
		t.Error("a numeric id should not be treated as an association id")
	}
	if IsAssociationID("W1234") {
		t.Error("a short id should not be recognized")
	}
}

func TestAssociationsAdapter_SearchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total_results": 1, "association": [
			{"id_association": "W123456789", "siret": "11111111100001", "titre": "Les Amis", "actif": true, "adresse_gestion_code_postal": "75001", "adresse_gestion_commune": "Paris"}
		]}`))
	}))
	defer srv.Close()

	a := NewAssociationsAdapter(srv.URL, newCaller())
	total, results, err := a.Search(context.Background(), "amis", "75001", 1, 20)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 1 || len(results) != 1 {
		t.Fatalf("total=%d len=%d, want 1 and 1", total, len(results))
	}
	if results[0].AssociationID != "W123456789" || results[0].BusinessKey != "111111111" {
		t.Errorf("results[0] = %+v, want id=W123456789 business_key=111111111", results[0])
	}
	if !results[0].Active {
		t.Error("actif=true should map to Active=true")
	}
}

func TestAssociationsAdapter_SearchDefaultsActiveWhenFieldMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"association": [{"id_association": "W111111111", "titre": "No Actif Field"}]}`))
	}))
	defer srv.Close()

	a := NewAssociationsAdapter(srv.URL, newCaller())
	_, results, err := a.Search(context.Background(), "query", "", 0, 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || !results[0].Active {
		t.Error("a missing actif field should default to Active=true")
	}
}

func TestAssociationsAdapter_SearchNotFoundReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewAssociationsAdapter(srv.URL, newCaller())
	total, results, err := a.Search(context.Background(), "nothing", "", 1, 20)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 0 || results != nil {
		t.Errorf("total=%d results=%+v, want 0 and nil", total, results)
	}
}
