package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bacoco/firmia/internal/clockconfig"
	"github.com/bacoco/firmia/internal/model"
	"github.com/bacoco/firmia/internal/svcerrors"
)

func TestDocumentsAdapter_DownloadBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		w.Write([]byte("%PDF-1.4 fake content"))
	}))
	defer srv.Close()

	a := NewDocumentsAdapter(srv.URL, newCaller(), clockconfig.RealClock{})
	doc, err := a.Download(context.Background(), "111111111", model.DocumentExtract, nil, false)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if string(doc.Content) != "%PDF-1.4 fake content" {
		t.Errorf("Content = %q, unexpected", doc.Content)
	}
	if doc.MimeType != "application/pdf" {
		t.Errorf("MimeType = %q, want application/pdf", doc.MimeType)
	}
}

func TestDocumentsAdapter_DownloadSignedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"url": "https://example.com/doc.pdf", "expires_at": "2026-02-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	a := NewDocumentsAdapter(srv.URL, newCaller(), clockconfig.RealClock{})
	doc, err := a.Download(context.Background(), "111111111", model.DocumentExtract, nil, true)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if doc.URL == nil || *doc.URL != "https://example.com/doc.pdf" {
		t.Errorf("URL = %v, want signed url", doc.URL)
	}
	if doc.URLExpiry == nil {
		t.Error("URLExpiry should be parsed from expires_at")
	}
}

func TestDocumentsAdapter_DownloadYearScoped(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("content"))
	}))
	defer srv.Close()

	a := NewDocumentsAdapter(srv.URL, newCaller(), clockconfig.RealClock{})
	year := 2025
	if _, err := a.Download(context.Background(), "111111111", model.DocumentAccounts, &year, false); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if gotPath != "/entreprises/111111111/bilans_bdf/2025" {
		t.Errorf("path = %q, want year-scoped segment", gotPath)
	}
}

func TestDocumentsAdapter_DownloadUnknownKindIsValidationError(t *testing.T) {
	a := NewDocumentsAdapter("http://example.invalid", newCaller(), clockconfig.RealClock{})
	_, err := a.Download(context.Background(), "111111111", model.DocumentKind("bogus"), nil, false)
	e, ok := svcerrors.As(err)
	if !ok || e.Kind != svcerrors.KindValidation {
		t.Errorf("Download() error = %v, want KindValidation", err)
	}
}

func TestDocumentsAdapter_Download404IsDocumentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewDocumentsAdapter(srv.URL, newCaller(), clockconfig.RealClock{})
	_, err := a.Download(context.Background(), "111111111", model.DocumentExtract, nil, false)
	e, ok := svcerrors.As(err)
	if !ok || e.Kind != svcerrors.KindNotFound {
		t.Errorf("Download() error = %v, want KindNotFound", err)
	}
}

func TestDocumentsAdapter_ListProbesEachKindViaHead(t *testing.T) {
	var headCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			headCalls++
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fixed := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	a := NewDocumentsAdapter(srv.URL, newCaller(), clockconfig.NewFakeClock(fixed))
	docs, err := a.List(context.Background(), "111111111")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if headCalls == 0 {
		t.Error("List() should probe availability via HEAD requests")
	}
	if len(docs) != len(documentEndpoints)-1+4 {
		t.Errorf("len(docs) = %d, want every non-year-scoped kind plus 4 years for the year-scoped one", len(docs))
	}
}

func TestDocumentsAdapter_ListSkipsUnavailableDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewDocumentsAdapter(srv.URL, newCaller(), clockconfig.RealClock{})
	docs, err := a.List(context.Background(), "111111111")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("len(docs) = %d, want 0 when every probe 404s", len(docs))
	}
}

func TestParseTimestamp(t *testing.T) {
	if _, ok := parseTimestamp(""); ok {
		t.Error("parseTimestamp(\"\") should report false")
	}
	if _, ok := parseTimestamp("not-a-time"); ok {
		t.Error("parseTimestamp(garbage) should report false")
	}
	ts, ok := parseTimestamp("2026-01-01T00:00:00Z")
	if !ok || ts.Year() != 2026 {
		t.Errorf("parseTimestamp() = %v, %v, want 2026 and true", ts, ok)
	}
}
