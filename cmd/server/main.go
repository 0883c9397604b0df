package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/novaos/backend/internal/api"
	"github.com/novaos/backend/internal/audit"
	"github.com/novaos/backend/internal/authz"
	"github.com/novaos/backend/internal/config"
	"github.com/novaos/backend/internal/entity"
	"github.com/novaos/backend/internal/guard"
	"github.com/novaos/backend/internal/lens"
	"github.com/novaos/backend/internal/llm"
	"github.com/novaos/backend/internal/middleware"
	"github.com/novaos/backend/internal/provider"
	"github.com/novaos/backend/internal/ratelimit"
	"github.com/novaos/backend/internal/sanitize"
	"github.com/novaos/backend/internal/secure"
	"github.com/novaos/backend/internal/store"
	"github.com/novaos/backend/internal/telemetry"
)

const serviceVersion = "1.0.0"

func main() {
	log.Println("🚀 Starting NovaOS Live-Data Lens Gate...")

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Redis when configured, in-process store otherwise.
	st := buildStore(cfg)

	// Encryption key material is validated at startup so a bad key fails
	// fast instead of at the first credential write.
	if cfg.Auth.EncryptionKey != "" {
		key := secure.DeriveKey([]byte(cfg.Auth.EncryptionKey), []byte("novaos-lens-gate"))
		if _, err := secure.NewKeyring("primary", 1, key); err != nil {
			log.Fatalf("encryption key: %v", err)
		}
		log.Println("🔐 credential keyring ready")
	}

	metrics := telemetry.NewMetrics()
	events := telemetry.NewEventLogger()

	// Audit chain.
	auditLog := audit.NewLog(st, nil)
	recorder := audit.NewRecorder(auditLog)

	// Rate limiting.
	providerLimiter := ratelimit.NewLimiter(ratelimit.LimiterOptions{})
	defer providerLimiter.Stop()
	tierLimiter := ratelimit.NewTierLimiter(nil, nil)
	defer tierLimiter.Stop()

	// Providers.
	httpClient := &http.Client{Timeout: time.Duration(cfg.Providers.FetchTimeoutMs) * time.Millisecond}
	registry := provider.NewRegistry()
	registry.Register(provider.NewFinnhubProvider(cfg.Providers.FinnhubKey, httpClient))
	registry.Register(provider.NewExchangeRateProvider("", httpClient))
	registry.Register(provider.NewOpenWeatherProvider(cfg.Providers.OpenWeatherKey, httpClient))

	breakers := provider.NewBreakerSet(provider.DefaultBreakerConfig(), nil)
	fetcher := provider.NewFetcher(registry, st, providerLimiter, breakers, provider.FetcherOptions{
		MaxRetries: cfg.Providers.MaxRetries,
		Timeout:    time.Duration(cfg.Providers.FetchTimeoutMs) * time.Millisecond,
	})

	validator := entity.NewValidator(fetcher, 0, nil)

	// Secured LLM client.
	sanitizer := sanitize.New()
	adapter := llm.NewOpenAIAdapter(cfg.LLM.OpenAIKey, cfg.LLM.Model, httpClient)
	llmClient := llm.NewClient(adapter, sanitizer, llm.ClientOptions{
		CacheTTL:           5 * time.Minute,
		HallucinationCheck: curriculumCheck,
		AuditSink: func(a llm.Audit) {
			result := "ok"
			if a.Error != "" {
				result = "error"
			}
			if a.Blocked {
				result = "blocked"
			}
			metrics.RecordLLMCall(string(a.Purpose), result, a.TokensUsed)
		},
	})

	// The gate.
	classifier := lens.NewClassifier(lens.NewModelClassifier(llmClient))
	gate := lens.NewGate(lens.GateOptions{
		Classifier: classifier,
		Validator:  validator,
		Fetcher:    fetcher,
		LLM:        llmClient,
		Auditor:    recorder,
	})

	checker := authz.NewChecker(nil, recorder)
	auth := middleware.NewAuthenticator([]byte(cfg.Auth.JWTSecret), nil)

	health := buildHealth(st, registry, llmClient, breakers, metrics)

	// Retention sweeper: one pass a day keeps the chain within policy.
	stopSweeper := make(chan struct{})
	go retentionSweeper(auditLog, cfg.Audit.RetentionDays, events, stopSweeper)
	defer close(stopSweeper)

	server := api.NewServer(api.Options{
		Gate:        gate,
		AuditLog:    auditLog,
		Checker:     checker,
		Health:      health,
		Auth:        auth,
		TierLimiter: tierLimiter,
		Env:         cfg.Server.Env,
		Version:     serviceVersion,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.Server.Port) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server: %v", err)
		}
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("⚠️ shutdown: %v", err)
		}
	}

	log.Println("bye 👋")
}

// buildStore prefers Redis and degrades to the in-process store so local
// development needs no infrastructure.
func buildStore(cfg *config.Config) store.Store {
	if cfg.Redis.URL == "" {
		log.Println("no REDIS_URL, using in-process store")
		return store.NewMemoryStore()
	}
	rs, err := store.NewRedisStore(cfg.Redis.URL, "", 0)
	if err != nil {
		log.Printf("⚠️ redis unavailable (%v), falling back to in-process store", err)
		return store.NewMemoryStore()
	}
	log.Printf("connected to redis at %s", cfg.Redis.URL)
	return rs
}

// curriculumCheck flags citation-shaped claims and unverified URLs in
// structured curriculum output. Critical findings make the client reject
// the draft. Call sites with resource context run the full index check
// themselves.
func curriculumCheck(content string) (string, bool) {
	var c guard.Curriculum
	if err := json.Unmarshal([]byte(content), &c); err != nil {
		c = guard.Curriculum{Steps: []guard.CurriculumStep{{Description: content}}}
	}
	report := guard.CheckCurriculum(c, 0, nil)
	if !report.HasHallucinations {
		return "", false
	}
	summary, _ := json.Marshal(report.CountByType)
	return string(summary), report.HasCritical
}

func buildHealth(st store.Store, registry *provider.Registry, llmClient *llm.Client, breakers *provider.BreakerSet, metrics *telemetry.Metrics) *telemetry.HealthRegistry {
	health := telemetry.NewHealthRegistry()

	health.Register("store", true, func(ctx context.Context) (telemetry.CheckStatus, string) {
		probe := "health:probe"
		if err := st.Set(ctx, probe, []byte("ok"), 10*time.Second); err != nil {
			return telemetry.StatusUnhealthy, err.Error()
		}
		if _, err := st.Get(ctx, probe); err != nil {
			return telemetry.StatusUnhealthy, err.Error()
		}
		return telemetry.StatusHealthy, ""
	})

	health.Register("providers", false, func(ctx context.Context) (telemetry.CheckStatus, string) {
		for name, state := range breakers.States() {
			metrics.RecordBreakerState(name, state)
			if state == "open" {
				return telemetry.StatusDegraded, name + " breaker open"
			}
		}
		for _, name := range registry.Names() {
			if p, ok := registry.Get(name); ok && !p.IsAvailable() {
				return telemetry.StatusDegraded, name + " not configured"
			}
		}
		return telemetry.StatusHealthy, ""
	})

	health.Register("llm", false, func(ctx context.Context) (telemetry.CheckStatus, string) {
		if state := llmClient.BreakerState(); state == "open" {
			return telemetry.StatusDegraded, "llm breaker open"
		}
		return telemetry.StatusHealthy, ""
	})

	return health
}

// retentionSweeper deletes audit entries past the retention window.
func retentionSweeper(auditLog *audit.Log, retentionDays int, events *telemetry.EventLogger, stop <-chan struct{}) {
	if retentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			deleted, err := auditLog.DeleteForRetention(ctx, cutoff)
			cancel()
			if err != nil {
				log.Printf("⚠️ audit retention sweep: %v", err)
				continue
			}
			if deleted > 0 {
				events.Emit(telemetry.OperationalEvent{
					Event:  "audit.retention_sweep",
					Fields: map[string]any{"deleted": deleted, "cutoff": cutoff.Format(time.RFC3339)},
				})
			}
		case <-stop:
			return
		}
	}
}
