// Package audit runs the end-to-end audit over a project's bill of
// materials: scope resolution, matching, price reasonability, history.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/material-audit/internal/catalogue"
	"github.com/sells-group/material-audit/internal/history"
	"github.com/sells-group/material-audit/internal/matching"
	"github.com/sells-group/material-audit/internal/model"
	"github.com/sells-group/material-audit/internal/reasonability"
	"github.com/sells-group/material-audit/internal/scope"
	"github.com/sells-group/material-audit/internal/store"
	"github.com/sells-group/material-audit/pkg/oracle"
)

// Config tunes the audit run.
type Config struct {
	BatchSize    int  `mapstructure:"batch_size"`
	MaxWorkers   int  `mapstructure:"max_workers"`
	Hierarchical bool `mapstructure:"hierarchical"`

	Matching matching.Config     `mapstructure:"matching"`
	Bands    reasonability.Bands `mapstructure:"bands"`
}

// DefaultConfig returns the standard audit settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:  100,
		MaxWorkers: 8,
		Matching:   matching.DefaultConfig(),
		Bands:      reasonability.DefaultBands(),
	}
}

// Report summarizes one audit run.
type Report struct {
	ProjectID int64                   `json:"project_id"`
	Scope     model.ResolvedScope     `json:"scope"`
	Stats     model.ProjectStats      `json:"stats"`
	Processed int                     `json:"processed"`
	Failures  map[model.ErrorKind]int `json:"failures,omitempty"`
	Elapsed   time.Duration           `json:"elapsed"`
}

// Orchestrator drives the audit: it resolves the catalogue scope once,
// then walks the bill of materials in fixed-size chunks, matching and
// analyzing each material with a bounded worker pool.
type Orchestrator struct {
	cfg      Config
	st       store.Store
	resolver *scope.Resolver
	eval     *reasonability.Evaluator
	trail    *history.Log
	clock    history.Clock
}

// New wires an orchestrator. orc may be nil to skip oracle predictions,
// clock may be nil for the system clock.
func New(cfg Config, st store.Store, orc oracle.PriceOracle, clock history.Clock) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if clock == nil {
		clock = history.SystemClock{}
	}
	return &Orchestrator{
		cfg:      cfg,
		st:       st,
		resolver: scope.NewResolver(st, cfg.Hierarchical),
		eval:     reasonability.NewEvaluator(cfg.Bands, orc),
		trail:    history.NewLog(st, clock),
		clock:    clock,
	}
}

// mode selects which stages a run executes.
type mode int

const (
	modeFull mode = iota
	modeMatchOnly
	modeAnalyzeOnly
)

// Run audits every material of the project under the requested scope.
// Per-material failures are tallied in the report rather than aborting
// the run; cancellation is honored between chunks.
func (o *Orchestrator) Run(ctx context.Context, projectID int64, req model.MatchingScope) (*Report, error) {
	return o.run(ctx, projectID, req, modeFull)
}

// RunMatch matches every material without analyzing prices.
func (o *Orchestrator) RunMatch(ctx context.Context, projectID int64, req model.MatchingScope) (*Report, error) {
	return o.run(ctx, projectID, req, modeMatchOnly)
}

// RunAnalyze analyzes already-matched materials, skipping the rest.
func (o *Orchestrator) RunAnalyze(ctx context.Context, projectID int64, req model.MatchingScope) (*Report, error) {
	return o.run(ctx, projectID, req, modeAnalyzeOnly)
}

func (o *Orchestrator) run(ctx context.Context, projectID int64, req model.MatchingScope, runMode mode) (*Report, error) {
	start := time.Now()
	log := zap.L().With(zap.Int64("project_id", projectID))

	if _, err := o.st.GetProject(ctx, projectID); err != nil {
		return nil, eris.Wrapf(err, "audit: load project %d", projectID)
	}

	res, err := o.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "audit: resolve scope")
	}
	idx := catalogue.New()
	idx.Rebuild(res.Resolved.Scope, res.Materials, res.Aliases)
	engine := matching.NewEngine(o.cfg.Matching, idx, o.st)

	log.Info("audit: scope resolved",
		zap.String("tier", string(res.Resolved.Tier)),
		zap.String("price_date", res.Resolved.Scope.PriceDate),
		zap.Int("catalogue_size", idx.Len()),
	)

	report := &Report{
		ProjectID: projectID,
		Scope:     res.Resolved,
		Failures:  map[model.ErrorKind]int{},
	}
	var mu sync.Mutex

	skipped := 0
	for offset := 0; ; offset += o.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return report, model.NewError(model.KindCancelled, err)
		}

		chunk, err := o.listChunk(ctx, projectID, offset)
		if err != nil {
			// Skip the chunk after the retry; keep the run going unless
			// the repository looks gone for good.
			log.Warn("audit: chunk load failed, skipping",
				zap.Int("offset", offset),
				zap.Error(err),
			)
			mu.Lock()
			report.Failures[model.KindRepository]++
			mu.Unlock()
			skipped++
			if skipped >= 3 {
				return report, model.NewError(model.KindRepository, err)
			}
			continue
		}
		skipped = 0
		if len(chunk) == 0 {
			break
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(min(o.cfg.MaxWorkers, len(chunk)))
		for _, m := range chunk {
			m := m
			g.Go(func() error {
				kind, pm := o.process(gCtx, engine, idx, m, res.Resolved, runMode)
				mu.Lock()
				report.Processed++
				if kind != "" {
					report.Failures[kind]++
				}
				tallyStats(&report.Stats, pm)
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if err := o.st.UpdateProjectStats(ctx, projectID, report.Stats); err != nil {
			log.Warn("audit: stats update failed", zap.Error(err))
		}
	}

	if err := o.st.UpdateProjectStats(ctx, projectID, report.Stats); err != nil {
		log.Warn("audit: final stats update failed", zap.Error(err))
	}
	report.Elapsed = time.Since(start)

	log.Info("audit: run complete",
		zap.Int("processed", report.Processed),
		zap.Int("priced", report.Stats.Priced),
		zap.Int("needs_review", report.Stats.NeedsReview),
		zap.Int("problematic", report.Stats.Problematic),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// listChunk loads one page of the bill of materials, retrying a
// repository failure once before giving up on the chunk.
func (o *Orchestrator) listChunk(ctx context.Context, projectID int64, offset int) ([]model.ProjectMaterial, error) {
	chunk, err := o.st.ListProjectMaterials(ctx, projectID, offset, o.cfg.BatchSize)
	if err == nil {
		return chunk, nil
	}
	zap.L().Debug("audit: retrying chunk load", zap.Int("offset", offset), zap.Error(err))
	return o.st.ListProjectMaterials(ctx, projectID, offset, o.cfg.BatchSize)
}

// process runs the selected stages for one material. The returned kind
// is empty on success; the material reflects its persisted state.
func (o *Orchestrator) process(ctx context.Context, engine *matching.Engine, idx *catalogue.Index, m model.ProjectMaterial, resolved model.ResolvedScope, runMode mode) (model.ErrorKind, model.ProjectMaterial) {
	var base model.BaseMaterial

	if runMode == modeAnalyzeOnly {
		if !m.IsMatched || m.MatchedBaseID == nil {
			return "", m
		}
		entry, ok := idx.ByID(*m.MatchedBaseID)
		if !ok {
			// Matched against a different scope; nothing to compare with here.
			return "", m
		}
		base = entry.Material
	} else {
		outcome, err := engine.MatchAndPersist(ctx, m, resolved.Scope.PriceDate)
		if err != nil {
			zap.L().Warn("audit: match persist failed",
				zap.Int64("material_id", m.ID),
				zap.Error(err),
			)
			return model.KindOf(err), m
		}

		switch outcome.Class {
		case model.ClassNeedsReview:
			m.NeedsReview = true
			return "", m
		case model.ClassUnmatched:
			return "", m
		}

		best := outcome.Best()
		m.IsMatched = true
		m.MatchedBaseID = &best.Material.ID
		m.MatchScore = best.Result.Score
		base = best.Material
	}

	if runMode == modeMatchOnly {
		return "", m
	}

	verdict := o.eval.Evaluate(ctx, m, base, resolved.Tier)
	analysis := o.analysisFrom(m.ID, verdict)
	if err := o.st.WriteAnalysis(ctx, analysis); err != nil {
		zap.L().Warn("audit: write analysis failed",
			zap.Int64("material_id", m.ID),
			zap.Error(err),
		)
		return model.KindOf(err), m
	}

	analyzed := verdict.Status == model.StatusCompleted
	m.IsAnalyzed = analyzed
	m.IsProblematic = verdict.Problematic
	if err := o.st.UpdateAnalysisFlags(ctx, m.ID, analyzed, verdict.Problematic); err != nil {
		return model.KindOf(err), m
	}
	if _, err := o.trail.Append(ctx, analysis, "audit run"); err != nil {
		return model.KindOf(err), m
	}
	return "", m
}

func (o *Orchestrator) analysisFrom(materialID int64, v reasonability.Verdict) model.PriceAnalysis {
	now := o.clock.Now()
	return model.PriceAnalysis{
		ID:            uuid.NewString(),
		MaterialID:    materialID,
		Status:        v.Status,
		Band:          v.Band,
		Confidence:    v.Confidence,
		IsReasonable:  v.IsReasonable,
		PriceVariance: v.Variance,
		RiskLevel:     v.Risk,
		Tier:          v.Tier,
		FailedReason:  v.FailedReason,
		ModelID:       v.ModelID,
		CostUSD:       v.CostUSD,
		Elapsed:       v.Elapsed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func tallyStats(s *model.ProjectStats, m model.ProjectMaterial) {
	s.Total++
	switch {
	case m.IsMatched:
		s.Priced++
	case m.NeedsReview:
		s.NeedsReview++
	default:
		s.Unpriced++
	}
	if m.IsProblematic {
		s.Problematic++
	}
}
