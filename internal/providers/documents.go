package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bacoco/firmia/internal/clockconfig"
	"github.com/bacoco/firmia/internal/httpcaller"
	"github.com/bacoco/firmia/internal/model"
	"github.com/bacoco/firmia/internal/svcerrors"
)

const documentTimeout = 300 * time.Second

// DocumentsAdapter speaks to the official-document API, grounded on
// original_source/src/api/api_entreprise.py: OAuth2 client-credentials
// auth. PDF and JSON calls both go out under the one "documents" provider
// name and so share a single rate budget. List checks per-document-kind
// availability via HEAD; Download fetches without a HEAD probe.
type DocumentsAdapter struct {
	BaseAdapter
	Clock clockconfig.Clock
}

func NewDocumentsAdapter(baseURL string, caller *httpcaller.Caller, clock clockconfig.Clock) *DocumentsAdapter {
	return &DocumentsAdapter{
		BaseAdapter: BaseAdapter{BaseURL: baseURL, APIName: "documents", RequiresAuth: true, AuthService: "documents", Caller: caller},
		Clock:       clock,
	}
}

// documentEndpoints maps the core's kind vocabulary to api_entreprise's
// endpoint segments, grounded on api_entreprise.py list_available_documents.
var documentEndpoints = map[model.DocumentKind]struct {
	segment    string
	mime       string
	yearScoped bool
}{
	model.DocumentExtract:    {"extrait_kbis", "application/pdf", false},
	model.DocumentAccounts:   {"bilans_bdf", "application/pdf", true},
	model.DocumentFiscalCert: {"attestations_fiscales_dgfip", "application/pdf", false},
	model.DocumentSocialCert: {"attestations_sociales_acoss", "application/pdf", false},
	model.DocumentAct:        {"actes", "application/pdf", false},
	model.DocumentStatutes:   {"statuts", "application/pdf", false},
}

// Download fetches one document's bytes, or registers a signed temporary
// URL when format requests that, per spec §6 download_document.
func (a *DocumentsAdapter) Download(ctx context.Context, businessKey string, kind model.DocumentKind, year *int, wantURL bool) (*model.Document, error) {
	ep, ok := documentEndpoints[kind]
	if !ok {
		return nil, svcerrors.Validation("kind", fmt.Sprintf("unknown document kind %q", kind))
	}

	endpoint := fmt.Sprintf("%s/entreprises/%s/%s", a.BaseURL, businessKey, ep.segment)
	if ep.yearScoped && year != nil {
		endpoint = fmt.Sprintf("%s/%d", endpoint, *year)
	}

	if wantURL {
		resp, err := a.Caller.Do(ctx, httpcaller.Request{
			Provider: a.APIName, Method: "GET", URL: endpoint + "/url", Timeout: 0,
		})
		if err != nil {
			return nil, translateDocumentError(err, businessKey)
		}
		var wire struct {
			URL       string `json:"url"`
			ExpiresAt string `json:"expires_at"`
		}
		if err := unmarshalOrUpstream(resp.Body, &wire, a.APIName); err != nil {
			return nil, err
		}
		doc := &model.Document{BusinessKey: businessKey, Kind: kind, Year: year, MimeType: ep.mime, Origin: a.APIName}
		if wire.URL != "" {
			doc.URL = &wire.URL
		}
		if expiry, ok := parseTimestamp(wire.ExpiresAt); ok {
			doc.URLExpiry = &expiry
		}
		return doc, nil
	}

	resp, err := a.Caller.Do(ctx, httpcaller.Request{
		Provider: a.APIName,
		Method:   "GET",
		URL:      endpoint,
		Headers:  map[string]string{"Accept": ep.mime},
		Timeout:  documentTimeout,
	})
	if err != nil {
		return nil, translateDocumentError(err, businessKey)
	}

	return &model.Document{
		BusinessKey: businessKey,
		Kind:        kind,
		Year:        year,
		Content:     resp.Body,
		SizeBytes:   int64(len(resp.Body)),
		MimeType:    ep.mime,
		Origin:      a.APIName,
	}, nil
}

// List reports which document kinds (and, for year-scoped kinds, which
// years) are currently available for businessKey, grounded on
// api_entreprise.py list_available_documents's HEAD-probe loop.
func (a *DocumentsAdapter) List(ctx context.Context, businessKey string) ([]model.Document, error) {
	out := make([]model.Document, 0, len(documentEndpoints))
	currentYear := a.now().Year()

	for kind, ep := range documentEndpoints {
		endpoint := fmt.Sprintf("%s/entreprises/%s/%s", a.BaseURL, businessKey, ep.segment)
		if !ep.yearScoped {
			if a.available(ctx, endpoint) {
				out = append(out, model.Document{BusinessKey: businessKey, Kind: kind, MimeType: ep.mime, Origin: a.APIName})
			}
			continue
		}
		for y := currentYear - 1; y > currentYear-5; y-- {
			year := y
			yearEndpoint := fmt.Sprintf("%s/%d", endpoint, year)
			if a.available(ctx, yearEndpoint) {
				out = append(out, model.Document{BusinessKey: businessKey, Kind: kind, Year: &year, MimeType: ep.mime, Origin: a.APIName})
			}
		}
	}
	return out, nil
}

func (a *DocumentsAdapter) available(ctx context.Context, endpoint string) bool {
	_, err := a.Caller.Do(ctx, httpcaller.Request{Provider: a.APIName, Method: "HEAD", URL: endpoint})
	if err != nil {
		return false
	}
	return true
}

func (a *DocumentsAdapter) now() time.Time {
	if a.Clock != nil {
		return a.Clock.Now()
	}
	return clockconfig.RealClock{}.Now()
}

func translateDocumentError(err error, businessKey string) error {
	if svcerrors.KindOf(err) == svcerrors.KindNotFound {
		return svcerrors.NotFound("document", businessKey)
	}
	return err
}

func unmarshalOrUpstream(body []byte, target interface{}, provider string) error {
	if err := json.Unmarshal(body, target); err != nil {
		return svcerrors.Upstream(provider, err)
	}
	return nil
}

func parseTimestamp(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, true
	}
	return time.Time{}, false
}
