// Package app assembles the research engine from configuration. The server
// binary and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/archive"
	"github.com/Kocoro-lab/deepresearch/internal/circuitbreaker"
	"github.com/Kocoro-lab/deepresearch/internal/config"
	"github.com/Kocoro-lab/deepresearch/internal/db"
	"github.com/Kocoro-lab/deepresearch/internal/embeddings"
	"github.com/Kocoro-lab/deepresearch/internal/evidence"
	"github.com/Kocoro-lab/deepresearch/internal/launcher"
	"github.com/Kocoro-lab/deepresearch/internal/llm"
	"github.com/Kocoro-lab/deepresearch/internal/ratecontrol"
	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/Kocoro-lab/deepresearch/internal/status"
	"github.com/Kocoro-lab/deepresearch/internal/streaming"
	"github.com/Kocoro-lab/deepresearch/internal/vectordb"
)

// App holds the long-lived collaborators of one process.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	DB         *db.Client
	Redis      redis.UniversalClient
	RedisHook  *circuitbreaker.RedisHook
	Streams    *streaming.Manager
	Archive    *archive.Store
	Recorder   *status.Recorder
	Identities *llm.IdentitySet
	Limiters   *ratecontrol.Limiters
	Generation research.Generation
	Embeddings *embeddings.Service
	VectorDB   *vectordb.Client
	Ingester   *evidence.Ingester
	Evidence   *evidence.Pool
	Components research.Components
	Clarifier  *research.Clarifier

	closers []func() error
}

// Options trims what Build brings up.
type Options struct {
	// SkipEvidence leaves Evidence nil, for commands that never search.
	SkipEvidence bool
	// SkipGeneration leaves the generation client unset.
	SkipGeneration bool
}

// Build connects stores and wires the engine. Close releases everything Build
// opened, also when Build fails part way.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.build(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg, logger := a.Config, a.Logger
	circuitbreaker.Configure(cfg.CircuitBreakers)

	dbc, err := db.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	a.DB = dbc
	a.closers = append(a.closers, dbc.Close)
	if applied, err := dbc.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	} else if applied > 0 {
		logger.Info("Applied database migrations", zap.Int("count", applied))
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.RedisHook = circuitbreaker.NewRedisHook("redis", "streaming", logger)
		rdb.AddHook(a.RedisHook)
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)
	}

	a.Streams = streaming.NewManager(streaming.Options{
		Capacity:  cfg.Streaming.Capacity,
		Redis:     a.Redis,
		MaxLen:    cfg.Streaming.MaxLen,
		StreamTTL: cfg.Streaming.StreamTTL,
	}, logger)

	var archiver status.Archiver
	if cfg.Archive.Enabled {
		store, err := archive.New(cfg.Archive.Config, logger)
		if err != nil {
			return err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return err
		}
		a.Archive = store
		archiver = store
	}
	a.Recorder = status.NewRecorder(dbc, a.Streams, archiver, logger)

	models, err := config.LoadModels(filepath.Join(cfg.Service.ConfigDir, cfg.Service.ModelsFile))
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	a.Identities = llm.NewIdentitySet(models.Identities)
	a.Limiters = ratecontrol.NewLimiters(models.Config)

	if !opts.SkipGeneration {
		client, err := a.generationClient(ctx)
		if err != nil {
			return err
		}
		a.Generation = research.Generation{Client: client, Live: a.Identities}
		a.Clarifier = research.NewClarifier(a.Generation)
	}

	var cache embeddings.EmbeddingCache
	if a.Redis != nil {
		cache = embeddings.NewRedisCache(a.Redis)
	}
	emb, err := embeddings.NewFromConfig(ctx, cfg.Embeddings, cache, logger)
	if err != nil {
		// Jobs without an index still run.
		logger.Warn("Embeddings unavailable; index evidence disabled", zap.Error(err))
	} else {
		a.Embeddings = emb
		a.VectorDB = vectordb.NewClient(cfg.VectorDB, nil, logger)
		a.Ingester = evidence.NewIngester(emb, a.VectorDB, cfg.Embeddings.Chunking)
	}

	if !opts.SkipEvidence {
		web, err := evidence.NewWebFactory(cfg.Evidence.Web, logger)
		if err != nil {
			return err
		}
		var index func(ctx context.Context, indexID string) (evidence.Source, error)
		if a.Embeddings != nil {
			index = evidence.NewIndexFactory(a.Embeddings, a.VectorDB)
		}
		a.Evidence = evidence.NewPool(evidence.NewOpener(web, index), logger)
		a.closers = append(a.closers, a.Evidence.Close)
	}

	var pool research.EvidencePool
	if a.Evidence != nil {
		pool = a.Evidence
	}
	a.Components = research.NewComponents(a.Generation, cfg.Research.ExtractTimeout, pool, a.Recorder, a.Recorder)
	return nil
}

// generationClient registers a backend for each configured provider.
func (a *App) generationClient(ctx context.Context) (llm.Client, error) {
	cfg := a.Config.LLM
	backends := map[llm.Provider]llm.Backend{}
	if cfg.GenAI.APIKey != "" || cfg.GenAI.BaseURL != "" {
		b, err := llm.NewGenAIBackend(ctx, cfg.GenAI)
		if err != nil {
			return nil, err
		}
		backends[llm.ProviderGemini] = b
	}
	if cfg.Service.BaseURL != "" {
		backends[llm.ProviderLLMService] = llm.NewServiceBackend(cfg.Service, a.Logger)
	}
	if len(backends) == 0 {
		return nil, errors.New("no generation backend configured: set GEMINI_API_KEY or llm.service.base_url")
	}
	return llm.NewRouter(backends, a.Limiters, a.Logger), nil
}

// ApplyModels installs a reloaded models file.
func (a *App) ApplyModels(mc config.ModelsConfig) {
	a.Identities.Store(mc.Identities)
	a.Limiters.Update(mc.Config)
	ids := a.Identities.Load()
	a.Logger.Info("Model configuration applied",
		zap.String("primary", ids.Primary.String()),
		zap.String("fallback", ids.Fallback.String()),
		zap.String("deep", ids.Deep.String()))
}

// jobStore marks jobs running in the database and routes terminal updates
// through the recorder so streams end and reports are archived.
type jobStore struct {
	*db.Client
	rec *status.Recorder
}

func (s jobStore) UpdateStatus(ctx context.Context, jobID string, upd research.JobUpdate) error {
	return s.rec.UpdateStatus(ctx, jobID, upd)
}

// LauncherStore is the bookkeeping handed to launchers.
func (a *App) LauncherStore() launcher.Store { return jobStore{Client: a.DB, rec: a.Recorder} }

// LocalLauncher runs jobs on goroutines of this process.
func (a *App) LocalLauncher() *launcher.Local {
	return launcher.NewLocal(research.NewLocalRunner(a.Components, a.Logger), a.LauncherStore(), a.Logger)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
