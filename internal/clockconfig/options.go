package clockconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// SecretString never prints its value: String/GoString/MarshalJSON all
// return a fixed mask, grounded on spec §4.1 point 6 ("without leaking
// credentials into logs").
type SecretString string

func (SecretString) String() string       { return "***" }
func (SecretString) GoString() string     { return "***" }
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"***"`), nil
}

// Reveal returns the underlying value; callers must not log or print it.
func (s SecretString) Reveal() string { return string(s) }

// ProviderCredentials bundles the configuration needed to materialize any
// of the three credential shapes of spec §4.1 for a single service.
type ProviderCredentials struct {
	BaseURL      string       `env:"BASE_URL"`
	TokenURL     string       `env:"TOKEN_URL"`
	ClientID     string       `env:"CLIENT_ID"`
	ClientSecret SecretString `env:"CLIENT_SECRET"`
	Scope        string       `env:"SCOPE"`
	Username     string       `env:"USERNAME"`
	Password     SecretString `env:"PASSWORD"`
	StaticBearer SecretString `env:"STATIC_BEARER"`
}

// RateLimitConfig configures C3 for one provider.
type RateLimitConfig struct {
	Ceiling int           `env:"CEILING" envDefault:"60"`
	Window  time.Duration `env:"WINDOW" envDefault:"60s"`
}

// BreakerConfig configures C4 for one provider.
type BreakerConfig struct {
	MaxFailures     int           `env:"MAX_FAILURES" envDefault:"5"`
	RecoveryTimeout time.Duration `env:"RECOVERY_TIMEOUT" envDefault:"30s"`
	HalfOpenMax     int           `env:"HALF_OPEN_MAX" envDefault:"3"`
}

// CacheTTLs holds the per-kind default TTLs of spec §4.6.
type CacheTTLs struct {
	Search          time.Duration `env:"CACHE_TTL_SEARCH" envDefault:"300s"`
	Profile         time.Duration `env:"CACHE_TTL_PROFILE" envDefault:"3600s"`
	Documents       time.Duration `env:"CACHE_TTL_DOCUMENTS" envDefault:"86400s"`
	Announcements   time.Duration `env:"CACHE_TTL_ANNOUNCEMENTS" envDefault:"300s"`
	Certifications  time.Duration `env:"CACHE_TTL_CERTIFICATIONS" envDefault:"3600s"`
}

// Options is the fully-resolved set of boot-time options (spec §6
// Environment). Unknown environment keys under the gateway's own prefix are
// rejected by ValidateNoUnknownKeys.
type Options struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"firmia-gateway"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	Region      string `env:"REGION" envDefault:"eu"`
	SecretPrefix string `env:"SECRET_PREFIX" envDefault:"FIRMIA_"`

	KVURL           string `env:"KV_URL" envDefault:"redis://localhost:6379/0"`
	AnalyticDBPath  string `env:"ANALYTIC_DB_PATH" envDefault:"./data/analytics.db"`
	AuditDir        string `env:"AUDIT_DIR" envDefault:"./data/audit"`
	ScratchDir      string `env:"SCRATCH_DIR" envDefault:"./data/scratch"`

	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	DocumentTimeout time.Duration `env:"DOCUMENT_TIMEOUT" envDefault:"300s"`
	TokenSkew       time.Duration `env:"TOKEN_SKEW" envDefault:"300s"`
	FanoutSemaphore int           `env:"FANOUT_SEMAPHORE" envDefault:"5"`

	AuditFlushSize     int           `env:"AUDIT_FLUSH_SIZE" envDefault:"100"`
	AuditFlushInterval time.Duration `env:"AUDIT_FLUSH_INTERVAL" envDefault:"60s"`

	CacheTTLs CacheTTLs

	Providers map[string]ProviderCredentials `env:"-"`
	RateLimits map[string]RateLimitConfig    `env:"-"`
	Breakers   map[string]BreakerConfig      `env:"-"`

	Port int `env:"PORT" envDefault:"8080"`
}

// KnownProviders are the upstreams C9 speaks to; used to expand the
// per-provider env namespaces (e.g. FIRMIA_REGISTRY_TOKEN_URL).
var KnownProviders = []string{
	"registry", "traderegister", "announcements", "associations",
	"certifications", "primarysearch", "bulkstatic", "documents",
}

// Load resolves Options from the environment, following the teacher's
// EnvOrSecret precedence (env var, then default) since the Marble/TEE
// secret-injection path is out of scope here (spec §1).
func Load() (*Options, error) {
	opts := &Options{}
	if err := env.Parse(opts); err != nil {
		return nil, fmt.Errorf("clockconfig: parse options: %w", err)
	}

	opts.Providers = make(map[string]ProviderCredentials, len(KnownProviders))
	opts.RateLimits = make(map[string]RateLimitConfig, len(KnownProviders))
	opts.Breakers = make(map[string]BreakerConfig, len(KnownProviders))

	for _, name := range KnownProviders {
		prefix := opts.SecretPrefix + strings.ToUpper(name) + "_"

		var creds ProviderCredentials
		if err := env.ParseWithOptions(&creds, env.Options{Prefix: prefix}); err != nil {
			return nil, fmt.Errorf("clockconfig: parse credentials for %s: %w", name, err)
		}
		opts.Providers[name] = creds

		var rl RateLimitConfig
		if err := env.ParseWithOptions(&rl, env.Options{Prefix: prefix}); err != nil {
			return nil, fmt.Errorf("clockconfig: parse rate limit for %s: %w", name, err)
		}
		opts.RateLimits[name] = rl

		var br BreakerConfig
		if err := env.ParseWithOptions(&br, env.Options{Prefix: prefix}); err != nil {
			return nil, fmt.Errorf("clockconfig: parse breaker for %s: %w", name, err)
		}
		opts.Breakers[name] = br
	}

	if err := opts.ValidateNoUnknownKeys(); err != nil {
		return nil, err
	}

	return opts, nil
}

// knownSuffixes enumerates every environment variable suffix this process
// understands, used by ValidateNoUnknownKeys to reject typos such as
// FIRMIA_REGISTRY_TOKEN_URLL (spec §6: "Unknown options rejected").
var knownSuffixes = []string{
	"BASE_URL", "TOKEN_URL", "CLIENT_ID", "CLIENT_SECRET", "SCOPE", "USERNAME", "PASSWORD",
	"STATIC_BEARER", "CEILING", "WINDOW", "MAX_FAILURES", "RECOVERY_TIMEOUT",
	"HALF_OPEN_MAX",
}

var knownGlobalKeys = []string{
	"SERVICE_NAME", "LOG_LEVEL", "LOG_FORMAT", "REGION", "SECRET_PREFIX",
	"KV_URL", "ANALYTIC_DB_PATH", "AUDIT_DIR", "SCRATCH_DIR", "HTTP_TIMEOUT",
	"DOCUMENT_TIMEOUT", "TOKEN_SKEW", "FANOUT_SEMAPHORE", "AUDIT_FLUSH_SIZE",
	"AUDIT_FLUSH_INTERVAL", "CACHE_TTL_SEARCH", "CACHE_TTL_PROFILE",
	"CACHE_TTL_DOCUMENTS", "CACHE_TTL_ANNOUNCEMENTS", "CACHE_TTL_CERTIFICATIONS",
	"BULKSTATIC_ENTITIES_URL", "BULKSTATIC_EVENTS_URL", "BULKSTATIC_CONTRACTS_URL",
	"PORT",
}

// ValidateNoUnknownKeys scans the process environment for keys under
// SecretPrefix that this gateway does not recognize, and fails boot rather
// than silently ignore a misspelled option (spec §6, exit code 2).
func (o *Options) ValidateNoUnknownKeys() error {
	for _, kv := range os.Environ() {
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			continue
		}
		key := kv[:idx]
		if !strings.HasPrefix(key, o.SecretPrefix) {
			continue
		}
		rest := strings.TrimPrefix(key, o.SecretPrefix)

		if contains(knownGlobalKeys, rest) {
			continue
		}

		matched := false
		for _, provider := range KnownProviders {
			providerPrefix := strings.ToUpper(provider) + "_"
			if strings.HasPrefix(rest, providerPrefix) {
				suffix := strings.TrimPrefix(rest, providerPrefix)
				if contains(knownSuffixes, suffix) {
					matched = true
				}
				break
			}
		}
		if !matched {
			return fmt.Errorf("clockconfig: unknown option %q", key)
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
