package clockconfig

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSecretString_NeverPrintsValue(t *testing.T) {
	s := SecretString("top-secret")

	if s.String() != "***" {
		t.Errorf("String() = %q, want ***", s.String())
	}
	if s.GoString() != "***" {
		t.Errorf("GoString() = %q, want ***", s.GoString())
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("MarshalJSON error = %v", err)
	}
	if string(data) != `"***"` {
		t.Errorf("MarshalJSON() = %s, want \"***\"", data)
	}

	if s.Reveal() != "top-secret" {
		t.Errorf("Reveal() = %q, want top-secret", s.Reveal())
	}
}

func TestSecretString_FmtDoesNotLeak(t *testing.T) {
	s := SecretString("top-secret")
	formatted := strings.TrimSpace((&struct{ S SecretString }{S: s}).S.String())
	if strings.Contains(formatted, "top-secret") {
		t.Error("formatted output leaked the secret value")
	}
}

func TestLoad_DefaultsApplyWithoutEnv(t *testing.T) {
	opts, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if opts.ServiceName != "firmia-gateway" {
		t.Errorf("ServiceName = %q, want firmia-gateway", opts.ServiceName)
	}
	if opts.Port != 8080 {
		t.Errorf("Port = %d, want 8080", opts.Port)
	}
	if len(opts.Providers) != len(KnownProviders) {
		t.Errorf("len(Providers) = %d, want %d", len(opts.Providers), len(KnownProviders))
	}
}

func TestLoad_PerProviderPrefixExpansion(t *testing.T) {
	t.Setenv("FIRMIA_REGISTRY_BASE_URL", "https://registry.example/api")
	t.Setenv("FIRMIA_REGISTRY_CLIENT_ID", "client-123")
	t.Setenv("FIRMIA_REGISTRY_CEILING", "30")

	opts, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	creds := opts.Providers["registry"]
	if creds.BaseURL != "https://registry.example/api" {
		t.Errorf("BaseURL = %q, want https://registry.example/api", creds.BaseURL)
	}
	if creds.ClientID != "client-123" {
		t.Errorf("ClientID = %q, want client-123", creds.ClientID)
	}

	rl := opts.RateLimits["registry"]
	if rl.Ceiling != 30 {
		t.Errorf("Ceiling = %d, want 30", rl.Ceiling)
	}
}

func TestLoad_RejectsUnknownOption(t *testing.T) {
	t.Setenv("FIRMIA_REGISTRY_TOKEN_URLL", "typo")

	if _, err := Load(); err == nil {
		t.Error("Load() should fail on a misspelled provider option")
	}
}

func TestLoad_RejectsUnknownGlobalOption(t *testing.T) {
	t.Setenv("FIRMIA_NOT_A_REAL_OPTION", "x")

	if _, err := Load(); err == nil {
		t.Error("Load() should fail on an unrecognized global option")
	}
}

func TestValidateNoUnknownKeys_IgnoresOtherPrefixes(t *testing.T) {
	t.Setenv("SOME_OTHER_APP_SETTING", "x")

	opts, err := Load()
	if err != nil {
		t.Errorf("Load() should ignore env vars outside SecretPrefix, got error %v", err)
	}
	_ = opts
}

func TestContains(t *testing.T) {
	list := []string{"a", "b", "c"}
	if !contains(list, "b") {
		t.Error("contains() = false for a present element")
	}
	if contains(list, "z") {
		t.Error("contains() = true for an absent element")
	}
}
