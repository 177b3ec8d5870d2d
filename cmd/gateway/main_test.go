package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/bacoco/firmia/internal/clockconfig"
	"github.com/bacoco/firmia/internal/credential"
)

func TestRegisterCredentials_SkipsProvidersWithoutConfig(t *testing.T) {
	opts := &clockconfig.Options{Providers: map[string]clockconfig.ProviderCredentials{}}
	store := credential.NewStore(0, nil)

	registerCredentials(store, opts, clockconfig.RealClock{})

	if len(store.Status()) != 0 {
		t.Errorf("Status() = %+v, want no registered clients when every provider config is empty", store.Status())
	}
}

func TestRegisterCredentials_WiresClientCredentialsAndBearerShapes(t *testing.T) {
	opts := &clockconfig.Options{Providers: map[string]clockconfig.ProviderCredentials{
		"registry":      {TokenURL: "https://auth.example/token", ClientID: "id", ClientSecret: "secret"},
		"announcements": {StaticBearer: "static-token"},
	}}
	store := credential.NewStore(0, nil)

	registerCredentials(store, opts, clockconfig.RealClock{})

	statuses := store.Status()
	services := map[string]bool{}
	for _, s := range statuses {
		services[s.Service] = true
	}
	if !services["registry"] || !services["announcements"] {
		t.Errorf("Status() = %+v, want registry and announcements both registered", statuses)
	}
	if len(statuses) != 2 {
		t.Errorf("len(statuses) = %d, want 2 (traderegister/certifications/associations/primarysearch left unconfigured)", len(statuses))
	}
}

func TestBulkDatasetJobs_NamesAndCachePatterns(t *testing.T) {
	os.Setenv("FIRMIA_BULKSTATIC_ENTITIES_URL", "https://example.invalid/entities.csv")
	defer os.Unsetenv("FIRMIA_BULKSTATIC_ENTITIES_URL")

	jobs := bulkDatasetJobs()
	if len(jobs) != 3 {
		t.Fatalf("len(jobs) = %d, want 3", len(jobs))
	}

	byName := map[string]bool{}
	for _, j := range jobs {
		byName[j.Name] = true
		if j.CronExpr == "" {
			t.Errorf("job %s has no CronExpr", j.Name)
		}
		if len(j.CachePatterns) == 0 {
			t.Errorf("job %s has no CachePatterns to flush on load", j.Name)
		}
	}
	for _, want := range []string{"entities", "events", "contracts"} {
		if !byName[want] {
			t.Errorf("bulkDatasetJobs() missing job %q", want)
		}
	}
}

func TestHealthHandler_ReturnsOK(t *testing.T) {
	w := httptest.NewRecorder()
	healthHandler(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Code = %d, want 200", w.Code)
	}
}

func TestReadinessHandler_ReportsCredentialStatus(t *testing.T) {
	store := credential.NewStore(0, nil)
	store.Register(&credential.StaticBearerClient{ServiceName: "announcements", Bearer: "tok", Clock: clockconfig.RealClock{}})

	w := httptest.NewRecorder()
	readinessHandler(store)(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Code = %d, want 200", w.Code)
	}
}
