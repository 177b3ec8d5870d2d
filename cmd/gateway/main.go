// Command gateway boots the aggregating intelligence gateway: it resolves
// configuration, wires every C1-C13 collaborator, pre-authenticates every
// registered provider, starts the ingestion scheduler, and serves the tool
// surface over HTTP until signaled to stop. Grounded on the teacher's
// cmd/service/main.go bootstrap sequence (config -> logger -> infra ->
// handlers -> graceful shutdown).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/bacoco/firmia/internal/analyticstore"
	"github.com/bacoco/firmia/internal/audit"
	"github.com/bacoco/firmia/internal/breaker"
	"github.com/bacoco/firmia/internal/clockconfig"
	"github.com/bacoco/firmia/internal/credential"
	"github.com/bacoco/firmia/internal/fanout"
	"github.com/bacoco/firmia/internal/httpcaller"
	"github.com/bacoco/firmia/internal/httputil"
	"github.com/bacoco/firmia/internal/ingestion"
	"github.com/bacoco/firmia/internal/kvcache"
	"github.com/bacoco/firmia/internal/obslog"
	"github.com/bacoco/firmia/internal/privacy"
	"github.com/bacoco/firmia/internal/providers"
	"github.com/bacoco/firmia/internal/ratelimit"
	"github.com/bacoco/firmia/internal/toolserver"
)

// Exit codes of spec §6.
const (
	exitOK              = 0
	exitBadConfig       = 2
	exitAuthUnrecoverable = 3
	exitStorageInit     = 4
	exitNetworkInit     = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	opts, err := clockconfig.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return exitBadConfig
	}

	logger := obslog.New(opts.ServiceName, opts.LogLevel, opts.LogFormat)
	clock := clockconfig.RealClock{}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := analyticstore.Open(opts.AnalyticDBPath, opts.ScratchDir)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Error("analytic store init failed")
		return exitStorageInit
	}
	defer store.Close()

	auditLedger, err := audit.New(audit.Config{
		Dir:           opts.AuditDir,
		BufferSize:    opts.AuditFlushSize,
		FlushInterval: opts.AuditFlushInterval,
		Clock:         clock,
	})
	if err != nil {
		logger.WithContext(ctx).WithError(err).Error("audit ledger init failed")
		return exitStorageInit
	}

	cache, err := buildCache(ctx, opts.KVURL, logger)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Error("cache init failed")
		return exitStorageInit
	}

	redisClient := cache.redisClient

	credentials := credential.NewStore(opts.TokenSkew, clock)
	registerCredentials(credentials, opts, clock)

	limiter := ratelimit.New(redisClient)
	breakers := breaker.NewRegistry(func(provider string, from, to breaker.State) {
		logger.LogBreakerTransition(ctx, provider, from.String(), to.String())
	})
	for _, name := range clockconfig.KnownProviders {
		rl := opts.RateLimits[name]
		limiter.Configure(name, ratelimit.Config{Ceiling: rl.Ceiling, Window: rl.Window})
		br := opts.Breakers[name]
		breakers.Configure(name, breaker.Config{
			MaxFailures: br.MaxFailures,
			Timeout:     br.RecoveryTimeout,
			HalfOpenMax: br.HalfOpenMax,
		})
	}

	caller := httpcaller.New(httpcaller.Config{
		HTTPClient:     &http.Client{},
		Limiter:        limiter,
		Breakers:       breakers,
		Credentials:    credentials,
		Logger:         logger,
		DefaultTimeout: opts.HTTPTimeout,
	})

	registryAdapter := providers.NewRegistryAdapter(opts.Providers["registry"].BaseURL, caller)
	tradeRegisterAdapter := providers.NewTradeRegisterAdapter(opts.Providers["traderegister"].BaseURL, caller)
	announcementsAdapter := providers.NewAnnouncementsAdapter(opts.Providers["announcements"].BaseURL, caller)
	associationsAdapter := providers.NewAssociationsAdapter(opts.Providers["associations"].BaseURL, caller)
	certificationsAdapter := providers.NewCertificationsAdapter(opts.Providers["certifications"].BaseURL, caller, clock)
	primarySearchAdapter := providers.NewPrimarySearchAdapter(opts.Providers["primarysearch"].BaseURL, caller)
	bulkStaticAdapter := providers.NewBulkStaticAdapter(store, "entities")
	documentsAdapter := providers.NewDocumentsAdapter(opts.Providers["documents"].BaseURL, caller, clock)

	if err := credentials.PreAuthenticate(ctx); err != nil {
		logger.WithContext(ctx).WithError(err).Error("boot-time pre-authentication failed")
		return exitAuthUnrecoverable
	}

	scheduler := ingestion.New(ingestion.Config{
		Store:      store,
		Cache:      cache.Cache,
		Logger:     logger,
		Clock:      clock,
		ScratchDir: opts.ScratchDir,
	})
	for _, job := range bulkDatasetJobs() {
		if err := scheduler.AddJob(job); err != nil {
			logger.WithContext(ctx).WithError(err).Error("register ingestion job failed")
			return exitBadConfig
		}
	}
	scheduler.Start(ctx)

	ttlPolicy := kvcache.TTLPolicy{
		Search:         opts.CacheTTLs.Search,
		Profile:        opts.CacheTTLs.Profile,
		Documents:      opts.CacheTTLs.Documents,
		Announcements:  opts.CacheTTLs.Announcements,
		Certifications: opts.CacheTTLs.Certifications,
	}

	engine := fanout.New(fanout.Config{
		Registry:       registryAdapter,
		TradeRegister:  tradeRegisterAdapter,
		Certifications: certificationsAdapter,
		PrimarySearch:  primarySearchAdapter,
		Associations:   associationsAdapter,
		BulkStatic:     bulkStaticAdapter,
		Documents:      documentsAdapter,
		Cache:          cache.Cache,
		TTLPolicy:      ttlPolicy,
		Redactor:       privacy.New(),
		Audit:          auditLedger,
		Clock:          clock,
		MaxParallel:    opts.FanoutSemaphore,
	})

	tools := toolserver.New(toolserver.Config{
		Engine:         engine,
		Documents:      documentsAdapter,
		Announcements:  announcementsAdapter,
		Associations:   associationsAdapter,
		Certifications: certificationsAdapter,
		Cache:          cache.Cache,
		TTLPolicy:      ttlPolicy,
		Audit:          auditLedger,
		Clock:          clock,
		Logger:         logger,
	})

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", healthHandler)
	router.Get("/readyz", readinessHandler(credentials))
	router.Handle("/metrics", promhttp.Handler())
	router.Mount("/", tools.Routes())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	serverErrs := make(chan error, 1)
	go func() {
		logger.WithContext(ctx).WithFields(map[string]interface{}{"port": opts.Port}).Info("gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrs <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.WithContext(ctx).Info("shutdown signal received")
	case err := <-serverErrs:
		logger.WithContext(ctx).WithError(err).Error("listener failed")
		return exitNetworkInit
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_ = server.Shutdown(shutdownCtx)
	scheduler.Stop()
	_ = auditLedger.Close(shutdownCtx)

	return exitOK
}

// cacheResult bundles the Cache interface actually used by every
// collaborator with the concrete *redis.Client underneath it, since
// ratelimit.New needs the client directly rather than the Cache abstraction
// (nil when running on the in-memory fallback).
type cacheResult struct {
	kvcache.Cache
	redisClient *redis.Client
}

// buildCache connects to Redis, falling back to an in-process cache when
// the KV store is unreachable (spec §4.6's degrade-to-direct posture
// extended to boot time: an unreachable cache must not block startup).
func buildCache(ctx context.Context, url string, logger *obslog.Logger) (cacheResult, error) {
	client, err := kvcache.NewRedisClientFromURL(ctx, url)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Warn("redis unavailable, falling back to in-memory cache")
		return cacheResult{Cache: kvcache.NewMemoryCache(10 * time.Minute)}, nil
	}
	return cacheResult{Cache: kvcache.NewRedisCache(client), redisClient: client}, nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readinessHandler(credentials *credential.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "ready", "credentials": credentials.Status()})
	}
}

// registerCredentials wires one credential.Client per provider per spec
// §4.1's three shapes, skipping a provider entirely when its base config is
// empty (useful in partial-deployment/tests).
func registerCredentials(store *credential.Store, opts *clockconfig.Options, clock clockconfig.Clock) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	if creds := opts.Providers["registry"]; creds.TokenURL != "" {
		store.Register(&credential.ClientCredentialsClient{
			ServiceName: "registry", TokenURL: creds.TokenURL,
			ClientID: creds.ClientID, ClientSecret: creds.ClientSecret.Reveal(),
			Scope: creds.Scope, HTTPClient: httpClient,
		})
	}
	if creds := opts.Providers["documents"]; creds.TokenURL != "" {
		store.Register(&credential.ClientCredentialsClient{
			ServiceName: "documents", TokenURL: creds.TokenURL,
			ClientID: creds.ClientID, ClientSecret: creds.ClientSecret.Reveal(),
			Scope: creds.Scope, HTTPClient: httpClient,
		})
	}
	if creds := opts.Providers["traderegister"]; creds.TokenURL != "" {
		store.Register(&credential.PasswordBearerClient{
			ServiceName: "traderegister", LoginURL: creds.TokenURL,
			Username: creds.Username, Password: creds.Password.Reveal(), HTTPClient: httpClient,
		})
	}
	for _, name := range []string{"announcements", "associations", "certifications", "primarysearch"} {
		if bearer := opts.Providers[name].StaticBearer.Reveal(); bearer != "" {
			store.Register(&credential.StaticBearerClient{ServiceName: name, Bearer: bearer, Clock: clock})
		}
	}
}

// bulkDatasetJobs describes the ingestion jobs for the bulk-static dataset
// backing BulkStaticAdapter, grounded on original_source/src/pipeline's
// entities/events/contracts dataset trio (spec §6 Persisted state).
func bulkDatasetJobs() []ingestion.Job {
	return []ingestion.Job{
		{
			Name:          "entities",
			CronExpr:      "0 3 * * *",
			SourceURL:     os.Getenv("FIRMIA_BULKSTATIC_ENTITIES_URL"),
			TargetTable:   "entities",
			CachePatterns: []string{"search:*", "profile:*"},
		},
		{
			Name:          "events",
			CronExpr:      "30 3 * * *",
			SourceURL:     os.Getenv("FIRMIA_BULKSTATIC_EVENTS_URL"),
			TargetTable:   "events",
			CachePatterns: []string{"announcements:*"},
		},
		{
			Name:          "contracts",
			CronExpr:      "0 4 * * *",
			SourceURL:     os.Getenv("FIRMIA_BULKSTATIC_CONTRACTS_URL"),
			TargetTable:   "contracts",
			CachePatterns: []string{"certifications:*"},
		},
	}
}
