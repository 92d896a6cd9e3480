package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/material-audit/internal/audit"
	"github.com/sells-group/material-audit/internal/matching"
	"github.com/sells-group/material-audit/internal/model"
	"github.com/sells-group/material-audit/internal/reasonability"
	"github.com/sells-group/material-audit/internal/store"
	"github.com/sells-group/material-audit/pkg/oracle"
)

// auditEnv holds the store and orchestrator shared by the run commands.
type auditEnv struct {
	Store        store.Store
	Orchestrator *audit.Orchestrator
}

// Close releases resources held by the environment.
func (ae *auditEnv) Close() {
	if ae.Store != nil {
		_ = ae.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "audit.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv sets up the store, migrates it, and builds the orchestrator.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*auditEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var orc oracle.PriceOracle
	if cfg.Oracle.Enabled {
		if cfg.Oracle.Key == "" {
			_ = st.Close()
			return nil, eris.New("oracle API key is required (AUDIT_ORACLE_KEY)")
		}
		orc = oracle.NewAnthropic(oracle.Config{
			Key:       cfg.Oracle.Key,
			Model:     cfg.Oracle.Model,
			TimeoutMS: cfg.Oracle.TimeoutMS,
			Retries:   cfg.Oracle.Retries,
			RPS:       float64(cfg.Oracle.RPS),
		})
		zap.L().Info("price oracle enabled", zap.String("model", cfg.Oracle.Model))
	}

	orch := audit.New(audit.Config{
		BatchSize:    cfg.Audit.BatchSize,
		MaxWorkers:   cfg.Audit.MaxWorkers,
		Hierarchical: cfg.Audit.Hierarchical,
		Matching: matching.Config{
			AutoThreshold:   cfg.Matching.AutoThreshold,
			ReviewThreshold: cfg.Matching.ReviewThreshold,
			TopK:            cfg.Matching.TopK,
			CandidateLimit:  cfg.Matching.CandidateLimit,
		},
		Bands: reasonability.Bands{
			Low:    cfg.Audit.Bands.Low,
			Medium: cfg.Audit.Bands.Medium,
			High:   cfg.Audit.Bands.High,
		},
	}, st, orc, nil)

	return &auditEnv{Store: st, Orchestrator: orch}, nil
}

// scopeFlags is the shared set of scope flags on the run commands.
type scopeFlags struct {
	month    string
	province string
	city     string
	district string
}

func (sf *scopeFlags) scope() model.MatchingScope {
	return model.MatchingScope{
		PriceDate: sf.month,
		Province:  sf.province,
		City:      sf.city,
		District:  sf.district,
	}
}
