package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/okuzmin/vectorize-api/internal/admission"
	"github.com/okuzmin/vectorize-api/internal/auth"
	"github.com/okuzmin/vectorize-api/internal/config"
	"github.com/okuzmin/vectorize-api/internal/converter"
	"github.com/okuzmin/vectorize-api/internal/idempotency"
	"github.com/okuzmin/vectorize-api/internal/job"
	"github.com/okuzmin/vectorize-api/internal/monitor"
	"github.com/okuzmin/vectorize-api/internal/pool"
	"github.com/okuzmin/vectorize-api/internal/respcache"
	"github.com/okuzmin/vectorize-api/internal/storage"
)

// application holds the wired components shared by the router and the
// server lifecycle.
type application struct {
	config *config.Config
	logger *slog.Logger

	blobs        storage.Store
	registry     *converter.Registry
	slots        *pool.Pool[int]
	notifier     *job.Notifier
	orchestrator *job.Orchestrator
	admission    *admission.Controller
	idempotency  *idempotency.Store
	respCache    *respcache.Store
	validators   *respcache.Validators
	monitor      *monitor.Monitor
	throttler    *monitor.Throttler
	tokens       auth.TokenService
	keystore     *auth.Keystore
}

// slotFactory mints opaque converter slot tokens for the pool. The handle
// itself carries no state; the pool's bookkeeping is the resource.
type slotFactory struct {
	next int
}

func (f *slotFactory) Create(_ context.Context) (int, error) {
	f.next++
	return f.next, nil
}

func (f *slotFactory) Destroy(int) error { return nil }
func (f *slotFactory) Validate(int) bool { return true }

// newApplication wires every component from configuration.
func newApplication(cfg *config.Config, l *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: l}

	blobs, err := buildStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to set up storage: %w", err)
	}
	app.blobs = blobs

	app.registry = converter.NewRegistry()
	for _, cc := range converterConfigs(cfg.Converters) {
		app.registry.Register(converter.NewExecTool(execToolConfig(cc), blobs, l))
	}

	if cfg.Pool.Max > 0 {
		app.slots = pool.New[int](&slotFactory{}, pool.Policy{
			Min:            cfg.Pool.Min,
			Max:            cfg.Pool.Max,
			IdleTimeout:    time.Duration(cfg.Pool.IdleTimeoutSeconds) * time.Second,
			AcquireTimeout: time.Duration(cfg.Pool.AcquireTimeoutSeconds) * time.Second,
			CreateTimeout:  5 * time.Second,
			MaxUses:        cfg.Pool.MaxUses,
		}, l)
	}

	app.validators = respcache.NewValidators()
	app.respCache = respcache.NewStore(
		time.Duration(cfg.Cache.TTLSeconds)*time.Second,
		time.Duration(cfg.Cache.SweepSeconds)*time.Second,
		l)
	app.idempotency = idempotency.NewStore(
		time.Duration(cfg.Idempotency.TTLSeconds)*time.Second,
		time.Duration(cfg.Idempotency.SweepSeconds)*time.Second,
		l)

	app.notifier = job.NewNotifier(l)
	app.notifier.Register(job.ObserverFunc(app.onJobEvent))

	app.orchestrator = job.NewOrchestrator(app.registry, job.NewMemoryStore(), blobs, app.notifier, app.slots, l)

	app.admission = admission.NewController(quotaTable(cfg.Admission), l)

	if cfg.Monitor.Enabled {
		app.monitor = monitor.New(
			time.Duration(cfg.Monitor.SampleSeconds)*time.Second,
			monitor.Thresholds{
				WarningMB:     cfg.Monitor.WarningMB,
				CriticalMB:    cfg.Monitor.CriticalMB,
				EmergencyMB:   cfg.Monitor.EmergencyMB,
				CPUWarningPct: cfg.Monitor.CPUWarningPct,
			}, l)
		app.monitor.AddCache(app.respCache)
		app.monitor.EmergencyHook = func() {
			sentry.CaptureMessage("resource monitor reached emergency level")
		}
		app.monitor.Start()
		app.throttler = monitor.NewThrottler(app.monitor, cfg.Monitor.MaxConcurrent, l)
	}

	if cfg.Auth.TokenSecret != "" {
		tokens, err := auth.NewTokenService(cfg.Auth.TokenSecret,
			time.Duration(cfg.Auth.TokenLifetimeMinutes)*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("failed to set up token service: %w", err)
		}
		app.tokens = tokens
	}

	keys := make([]auth.APIKey, len(cfg.Auth.APIKeys))
	for i, k := range cfg.Auth.APIKeys {
		keys[i] = auth.APIKey{ID: k.ID, SecretHash: k.SecretHash, Tier: k.Tier}
	}
	app.keystore = auth.NewKeystore(keys)

	return app, nil
}

// onJobEvent keeps the conditional-request and response-cache layers
// coherent with job state: every state change bumps the status resource's
// validator and drops stale cached representations of it.
func (app *application) onJobEvent(e job.Event) {
	statusPath := fmt.Sprintf("/api/convert/%s/status", e.Job.ID)
	app.validators.Register(statusPath, respcache.Validator{
		ETag: respcache.MakeETag(e.Job.ID.String(), e.Job.Version()),
	})
	// The cache key varies on request headers, so a targeted invalidation
	// is not possible; stale status entries age out within the cache TTL.
}

func buildStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "s3":
		return storage.NewS3Store(context.Background(), storage.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	default:
		return storage.NewLocalStore(cfg.LocalDir)
	}
}

// converterConfigs returns the configured tools, or the built-in set when
// the config lists none.
func converterConfigs(configured []config.ConverterConfig) []config.ConverterConfig {
	if len(configured) > 0 {
		return configured
	}
	return []config.ConverterConfig{
		{
			Name:           "vtracer",
			Binary:         "vtracer",
			Args:           []string{"--input", "{input}", "--output", "{output}"},
			OutputExt:      ".svg",
			ContentType:    "image/svg+xml",
			TimeoutSeconds: 120,
			AllowedParams:  []string{"mode", "color_precision", "filter_speckle"},
			BaseTimeMs:     500,
			TimePerMBMs:    2000,
		},
		{
			Name:           "potrace",
			Binary:         "potrace",
			Args:           []string{"--svg", "-o", "{output}", "{input}"},
			OutputExt:      ".svg",
			ContentType:    "image/svg+xml",
			TimeoutSeconds: 120,
			AllowedParams:  []string{"turdsize", "alphamax"},
			BaseTimeMs:     300,
			TimePerMBMs:    1500,
		},
	}
}

func execToolConfig(cc config.ConverterConfig) converter.ExecToolConfig {
	allowed := make(map[string]bool, len(cc.AllowedParams))
	for _, p := range cc.AllowedParams {
		allowed[p] = true
	}
	return converter.ExecToolConfig{
		Name:          cc.Name,
		Binary:        cc.Binary,
		Args:          cc.Args,
		OutputExt:     cc.OutputExt,
		ContentType:   cc.ContentType,
		Timeout:       time.Duration(cc.TimeoutSeconds) * time.Second,
		AllowedParams: allowed,
		BaseTime:      time.Duration(cc.BaseTimeMs) * time.Millisecond,
		TimePerMB:     time.Duration(cc.TimePerMBMs) * time.Millisecond,
	}
}

// quotaTable converts config overrides onto the default tier table.
func quotaTable(cfg config.AdmissionConfig) map[admission.Tier]admission.Quota {
	table := admission.DefaultQuotas()
	for tier, q := range cfg.Quotas {
		table[admission.Tier(tier)] = admission.Quota{
			Requests:      q.Requests,
			Uploads:       q.Uploads,
			Conversions:   q.Conversions,
			Window:        time.Duration(q.WindowSeconds) * time.Second,
			MaxConcurrent: q.MaxConcurrent,
		}
	}
	return table
}

// cleanup releases every component in reverse dependency order.
func (app *application) cleanup() {
	app.orchestrator.Stop()
	if app.slots != nil {
		app.slots.Drain()
	}
	if app.monitor != nil {
		app.monitor.Stop()
	}
	app.respCache.Close()
	app.idempotency.Close()
	sentry.Flush(2 * time.Second)
	app.logger.Info("application cleanup completed")
}
