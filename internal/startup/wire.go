package startup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"rulegate/internal/archive"
	"rulegate/internal/audit"
	"rulegate/internal/catalog"
	"rulegate/internal/config"
	"rulegate/internal/dryrun"
	"rulegate/internal/events"
	"rulegate/internal/generation"
	"rulegate/internal/logging"
	"rulegate/internal/overlap"
	"rulegate/internal/policygate"
	"rulegate/internal/records"
	"rulegate/internal/sampling"
	"rulegate/internal/suggestion"
	"rulegate/internal/validate"
)

// Runtime is the wired suggestion pipeline plus the connection handles
// that need closing on shutdown.
type Runtime struct {
	Config  *config.Config
	Service *suggestion.Service
	Trail   *audit.Trail
	Catalog *catalog.Catalog
	Policy  *catalog.PolicyConfig

	// Publisher and Archiver are nil when the integration is disabled.
	Publisher *events.Publisher
	Archiver  *archive.Archiver

	pool    *pgxpool.Pool
	chStore *records.ClickHouseStore
	logger  *slog.Logger
}

// Build wires the full pipeline from configuration: catalog and policy,
// generation client with cache and limiter, record store, sampler,
// dry-run engine, overlap analyzer, persistence, audit trail, and the
// optional Kafka and S3 integrations.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg, logger: logger}

	cat, policy, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	rt.Catalog = cat
	rt.Policy = policy

	gate, err := policygate.New(cat, policy)
	if err != nil {
		return nil, fmt.Errorf("building policy gate: %w", err)
	}

	genSvc, err := buildGeneration(cfg, policy)
	if err != nil {
		return nil, err
	}
	logger.Info("generation client configured",
		"endpoint", cfg.Generation.Client.BaseURL,
		"model", cfg.Generation.Client.Model,
		"api_key", logging.MaskAPIKey(cfg.Generation.Client.APIKey),
		"cache_backend", cfg.Generation.CacheBackend,
	)

	recStore, err := rt.buildRecords(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sgStore, auditStore, err := rt.buildStores(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	trail, err := audit.NewTrail(ctx, auditStore, []byte(cfg.Audit.Secret))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("building audit trail: %w", err)
	}
	rt.Trail = trail

	deps := suggestion.Deps{
		Catalog:   cat,
		Validator: validate.New(cat, policy),
		Gate:      gate,
		Generator: genSvc,
		Sampler:   sampling.New(recStore, cfg.Sampling),
		Engine:    dryrun.New(0),
		Analyzer:  overlap.New(cfg.Overlap),
		Store:     sgStore,
		Trail:     trail,
		Logger:    logger,
	}

	if cfg.Events.Enabled() {
		pub, err := events.NewPublisher(cfg.Events, logger)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("building event publisher: %w", err)
		}
		rt.Publisher = pub
		deps.Events = pub
	}

	if cfg.Archive.Enabled() {
		archiver, err := archive.NewArchiver(ctx, cfg.Archive, logger)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("building archiver: %w", err)
		}
		rt.Archiver = archiver
		deps.Archiver = archiver
	}

	svc, err := suggestion.NewService(cfg.Suggestion, deps)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Service = svc

	return rt, nil
}

// Close releases connection handles. Safe on a partially built runtime.
func (r *Runtime) Close() {
	if r.Publisher != nil {
		if err := r.Publisher.Close(); err != nil {
			r.logger.Error("event publisher close failed", "error", err)
		}
	}
	if r.chStore != nil {
		if err := r.chStore.Close(); err != nil {
			r.logger.Error("clickhouse close failed", "error", err)
		}
	}
	if r.pool != nil {
		r.pool.Close()
	}
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, *catalog.PolicyConfig, error) {
	cat := catalog.Default()
	if cfg.Catalog.CatalogPath != "" {
		loaded, err := catalog.Load(cfg.Catalog.CatalogPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading catalog: %w", err)
		}
		cat = loaded
	}

	policy := catalog.DefaultPolicy()
	if cfg.Catalog.PolicyPath != "" {
		loaded, err := catalog.LoadPolicy(cfg.Catalog.PolicyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading policy: %w", err)
		}
		policy = loaded
	}

	return cat, policy, nil
}

func buildGeneration(cfg *config.Config, policy *catalog.PolicyConfig) (*generation.Service, error) {
	client := generation.NewClient(cfg.Generation.Client, policy)

	var cache generation.Cache
	switch cfg.Generation.CacheBackend {
	case "redis":
		rc, err := generation.NewRedisCache(cfg.Generation.Redis, cfg.Generation.Cache)
		if err != nil {
			return nil, fmt.Errorf("building redis cache: %w", err)
		}
		cache = rc
	default:
		cache = generation.NewMemoryCache(cfg.Generation.Cache)
	}

	limiter := generation.NewRateLimiter(cfg.Generation.RateLimit)

	return generation.NewService(client, cache, limiter), nil
}

func (r *Runtime) buildRecords(ctx context.Context, cfg *config.Config) (records.Store, error) {
	if cfg.Records.Mode == "clickhouse" {
		store, err := records.NewClickHouseStore(cfg.Records.ClickHouse)
		if err != nil {
			return nil, fmt.Errorf("connecting to clickhouse: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("ensuring clickhouse schema: %w", err)
		}
		r.chStore = store
		return store, nil
	}

	recs := records.Synthetic(cfg.Records.Synthetic.Count, cfg.Records.Synthetic.Seed)
	r.logger.Info("using synthetic record store",
		"count", len(recs),
		"seed", cfg.Records.Synthetic.Seed,
	)
	return records.NewMemoryStore(recs), nil
}

func (r *Runtime) buildStores(ctx context.Context, cfg *config.Config) (suggestion.Store, audit.Store, error) {
	if cfg.Postgres.DSN == "" {
		r.logger.Warn("no postgres dsn configured; suggestions and audit entries are lost on restart")
		return suggestion.NewMemoryStore(), audit.NewMemoryStore(), nil
	}

	pool, err := suggestion.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	r.pool = pool
	r.logger.Info("postgres connected", "dsn", logging.MaskDSN(cfg.Postgres.DSN))

	sgStore := suggestion.NewPostgresStore(pool)
	if err := sgStore.EnsureSchema(ctx); err != nil {
		return nil, nil, fmt.Errorf("ensuring suggestion schema: %w", err)
	}

	auditStore := audit.NewPostgresStore(pool)
	if err := auditStore.EnsureSchema(ctx); err != nil {
		return nil, nil, fmt.Errorf("ensuring audit schema: %w", err)
	}

	return sgStore, auditStore, nil
}
