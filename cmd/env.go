package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/arbiter"
	"github.com/sells-group/entity-resolver/internal/extractor"
	"github.com/sells-group/entity-resolver/internal/pipeline"
	"github.com/sells-group/entity-resolver/internal/scorer"
	"github.com/sells-group/entity-resolver/internal/store"
	anthropicpkg "github.com/sells-group/entity-resolver/pkg/anthropic"
	"github.com/sells-group/entity-resolver/pkg/gleif"
)

// resolverEnv bundles the runner and its store for commands that execute
// resolutions. Callers should defer env.Close().
type resolverEnv struct {
	Store  store.Store
	Runner *pipeline.Runner
}

func (e *resolverEnv) Close() {
	_ = e.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "resolver.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initRunner sets up the store, the GLEIF client, the optional advisory
// oracle, and the pipeline Runner.
func initRunner(ctx context.Context) (*resolverEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	gleifClient := gleif.NewClient(
		gleif.WithBaseURL(cfg.GLEIF.BaseURL),
		gleif.WithRateLimit(cfg.GLEIF.RateLimitRPS, 5),
		gleif.WithPageSize(cfg.GLEIF.PageSize),
	)

	// The oracle is advisory. Without an API key arbitration runs purely
	// deterministic.
	var oracle arbiter.Oracle
	if cfg.Anthropic.Enabled && cfg.Anthropic.Key != "" {
		anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
		oracle = arbiter.NewAnthropicOracle(anthropicClient, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
		zap.L().Info("advisory oracle enabled", zap.String("model", cfg.Anthropic.Model))
	} else {
		zap.L().Debug("advisory oracle disabled, arbitration is deterministic only")
	}

	var domainMap *extractor.DomainMap
	if cfg.Extractor.DomainMapPath != "" {
		domainMap, err = extractor.LoadDomainMap(cfg.Extractor.DomainMapPath)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load domain map")
		}
		zap.L().Info("domain map loaded", zap.String("path", cfg.Extractor.DomainMapPath))
	}

	runner := pipeline.New(
		cfg,
		st,
		extractor.New(domainMap),
		scorer.New(cfg.Scorer),
		gleifClient,
		arbiter.NewEngine(cfg.Arbiter, oracle),
	)

	return &resolverEnv{Store: st, Runner: runner}, nil
}
