package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/artifacts"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/config"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/crypto"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/database"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/dispatch"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/location"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/observability"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/policy"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/receipts"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/store"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/store/ledger"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/target"
	"github.com/SergeKhachatour/Stellar-GeoLink/pkg/verifier"
)

// runtime is the wired dispatcher and everything it owns.
type runtime struct {
	cfg        *config.Config
	db         *database.DB
	ledger     ledger.Ledger
	settings   store.Settings
	receipts   receipts.Store
	artifacts  artifacts.Store
	targets    *target.Registry
	receiptKey *crypto.Ed25519Signer
	metrics    *observability.Metrics
	otel       *observability.Provider
	dispatcher *dispatch.Dispatcher
	health     []func(context.Context) error
	closers    []func(context.Context) error
}

// loadConfig reads the environment and the optional YAML overlay.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if cfg.ConfigFile != "" {
		f, err := config.LoadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.Apply(f)
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

//nolint:gocognit,gocyclo
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, metrics: observability.NewMetrics("geolink")}
	ready := false
	defer func() {
		if !ready {
			_ = rt.Close(context.Background())
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	// Storage
	switch cfg.LedgerBackend {
	case config.LedgerMemory:
		rt.ledger = ledger.NewMemoryLedger()
		rt.settings = store.NewMemorySettings()
		rt.receipts = receipts.NewMemoryStore()
		log.Println("[dispatcher] storage: memory (state is lost on exit)")
	case config.LedgerFile:
		fl, err := ledger.NewFileLedger(filepath.Join(cfg.DataDir, "nonces.json"))
		if err != nil {
			return nil, err
		}
		fs, err := store.NewFileSettings(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		rs, err := receipts.NewFileStore(filepath.Join(cfg.DataDir, "receipts.jsonl"))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func(context.Context) error { return rs.Close() })
		rt.ledger, rt.settings, rt.receipts = fl, fs, rs
		log.Printf("[dispatcher] storage: files under %s", cfg.DataDir)
	default:
		if err := rt.openSQL(ctx); err != nil {
			return nil, err
		}
		if cfg.LedgerBackend == config.LedgerRedis {
			rl := ledger.NewRedisLedger(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			if err := rl.Ping(ctx); err != nil {
				_ = rl.Close()
				return nil, fmt.Errorf("redis ping failed: %w", err)
			}
			rt.ledger = rl
			rt.health = append(rt.health, rl.Ping)
			rt.closers = append(rt.closers, func(context.Context) error { return rl.Close() })
			log.Printf("[dispatcher] ledger: redis at %s", cfg.RedisAddr)
		}
	}

	// Artifacts back both receipt archival and wasm module loading.
	var err error
	rt.artifacts, err = artifacts.NewStore(ctx, artifactOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to init artifact store: %w", err)
	}
	log.Printf("[dispatcher] artifacts: %s", cfg.ArtifactStorageType)

	rt.receiptKey, err = loadOrGenerateSigner(cfg.DataDir, cfg.ReceiptSigningKey)
	if err != nil {
		return nil, fmt.Errorf("failed to init receipt signer: %w", err)
	}
	chain := receipts.NewChain(rt.receipts, rt.receiptKey,
		receipts.WithArchiver(rt.artifacts), receipts.WithLogger(logger))

	if err := rt.mountTargets(ctx); err != nil {
		return nil, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.OTLPEndpoint = cfg.OTelEndpoint
	obsCfg.Insecure = cfg.OTelInsecure
	rt.otel, err = observability.New(ctx, obsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	rt.closers = append(rt.closers, rt.otel.Shutdown)

	deps := dispatch.Deps{
		Ledger:   rt.ledger,
		Settings: rt.settings,
		Resolver: verifier.NewResolver(verifier.WebAuthnOptions{
			RequireUserVerification: cfg.RequireUserVerification,
			AllowedOrigins:          cfg.AllowedOrigins,
		}, &http.Client{Timeout: cfg.VerifierTimeout}),
		Targets:  rt.targets,
		Receipts: chain,
		Metrics:  rt.metrics,
		Tracer:   rt.otel,
		Logger:   logger,
	}
	if rules := cfg.Policies(); len(rules) > 0 {
		ev, err := policy.New(rules)
		if err != nil {
			return nil, err
		}
		deps.Policy = ev
		log.Printf("[dispatcher] policy: %d rules", ev.Len())
	}

	rt.dispatcher = dispatch.New(dispatch.Config{
		ClockSkew:             cfg.ClockSkew,
		AllowVerifierRotation: cfg.AllowVerifierRotation,
	}, deps)

	if cfg.VerifierRef != "" {
		err := rt.dispatcher.Initialize(ctx, cfg.VerifierRef)
		switch {
		case errors.Is(err, dispatch.ErrVerifierAlreadySet):
			stored, _ := rt.dispatcher.VerifierRef(ctx)
			logger.Warn("VERIFIER_REF ignored, a different reference is already stored",
				"configured", cfg.VerifierRef, "stored", stored)
		case err != nil:
			return nil, fmt.Errorf("failed to initialize verifier reference: %w", err)
		}
	}
	ready = true
	return rt, nil
}

func artifactOptions(cfg *config.Config) artifacts.Options {
	return artifacts.Options{
		Type:       artifacts.StoreType(cfg.ArtifactStorageType),
		DataDir:    cfg.DataDir,
		S3Bucket:   cfg.ArtifactS3Bucket,
		S3Region:   cfg.ArtifactS3Region,
		S3Endpoint: cfg.ArtifactS3Endpoint,
		S3Prefix:   cfg.ArtifactS3Prefix,
		GCSBucket:  cfg.ArtifactGCSBucket,
		GCSPrefix:  cfg.ArtifactGCSPrefix,
	}
}

func (rt *runtime) openSQL(ctx context.Context) error {
	db, err := database.Open(ctx, database.Options{URL: rt.cfg.DatabaseURL, DataDir: rt.cfg.DataDir})
	if err != nil {
		return err
	}
	rt.db = db
	rt.closers = append(rt.closers, func(context.Context) error { return db.Close() })
	rt.health = append(rt.health, db.PingContext)
	if db.Dialect == database.DialectSQLite {
		log.Printf("[dispatcher] lite mode: sqlite under %s", rt.cfg.DataDir)
	} else {
		log.Println("[dispatcher] postgres: connected")
	}

	sl := ledger.NewSQLLedger(db.DB, db.Dialect)
	if err := sl.Init(ctx); err != nil {
		return fmt.Errorf("failed to init ledger: %w", err)
	}
	ss := store.NewSQLSettings(db.DB, db.Dialect)
	if err := ss.Init(ctx); err != nil {
		return fmt.Errorf("failed to init settings: %w", err)
	}
	rs, err := store.NewSQLReceiptStore(ctx, db.DB, db.Dialect)
	if err != nil {
		return fmt.Errorf("failed to init receipt store: %w", err)
	}
	rt.ledger, rt.settings, rt.receipts = sl, ss, rs
	return nil
}

func (rt *runtime) mountTargets(ctx context.Context) error {
	rt.targets = target.NewRegistry()
	for _, t := range rt.cfg.Targets() {
		desc := target.Descriptor{ID: t.ID, Version: t.Version, Requires: t.Requires}
		var impl target.Target
		switch t.Kind {
		case config.TargetLocation:
			reg := location.NewRegistry()
			if err := reg.Persist(ctx, rt.settings, "target/"+t.ID); err != nil {
				return fmt.Errorf("target %s: %w", t.ID, err)
			}
			impl = reg.Target()
		case config.TargetWasm:
			wt, err := target.NewWasmTarget(ctx, rt.artifacts, t.Module, target.WasmLimits{
				MemoryLimitBytes: t.MemoryBytes,
				TimeLimit:        time.Duration(t.TimeoutMs) * time.Millisecond,
			})
			if err != nil {
				return fmt.Errorf("target %s: %w", t.ID, err)
			}
			rt.closers = append(rt.closers, wt.Close)
			impl = wt
		default:
			return fmt.Errorf("target %s: unknown kind %q", t.ID, t.Kind)
		}
		if err := rt.targets.Register(desc, impl); err != nil {
			return err
		}
		log.Printf("[dispatcher] target %s (%s) mounted", t.ID, t.Kind)
	}
	return nil
}

// Health runs every readiness probe.
func (rt *runtime) Health(ctx context.Context) error {
	for _, probe := range rt.health {
		if err := probe(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
