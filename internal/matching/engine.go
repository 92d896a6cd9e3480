// Package matching ranks catalogue candidates for each project material
// and classifies the result as auto, needs-review, or unmatched.
package matching

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/material-audit/internal/catalogue"
	"github.com/sells-group/material-audit/internal/model"
	"github.com/sells-group/material-audit/internal/similarity"
	"github.com/sells-group/material-audit/internal/store"
)

// Config holds the matching thresholds.
type Config struct {
	AutoThreshold   float64 `mapstructure:"auto_threshold"`
	ReviewThreshold float64 `mapstructure:"review_threshold"`
	TopK            int     `mapstructure:"top_k"`
	CandidateLimit  int     `mapstructure:"candidate_limit"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		AutoThreshold:   0.85,
		ReviewThreshold: 0.65,
		TopK:            5,
		CandidateLimit:  200,
	}
}

// Candidate is one scored catalogue entry.
type Candidate struct {
	Material model.BaseMaterial `json:"material"`
	Result   similarity.Result  `json:"result"`
	ViaAlias bool               `json:"via_alias"`
}

// Outcome is the classification for one project material plus its ranked
// candidates.
type Outcome struct {
	Class      model.MatchClass `json:"class"`
	Candidates []Candidate      `json:"candidates"`
}

// Best returns the top candidate, or nil when there are none.
func (o Outcome) Best() *Candidate {
	if len(o.Candidates) == 0 {
		return nil
	}
	return &o.Candidates[0]
}

// Engine matches project materials against a scoped catalogue index.
type Engine struct {
	cfg  Config
	idx  *catalogue.Index
	repo store.MaterialRepository
}

// NewEngine creates a matching engine over a built index. repo may be nil
// for interactive-only use.
func NewEngine(cfg Config, idx *catalogue.Index, repo store.MaterialRepository) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = DefaultConfig().CandidateLimit
	}
	return &Engine{cfg: cfg, idx: idx, repo: repo}
}

// Match scores and classifies one material without touching persistence.
// A material with an empty name is unmatched with no candidates.
func (e *Engine) Match(m model.ProjectMaterial, scopeDate string) Outcome {
	if m.Name == "" {
		return Outcome{Class: model.ClassUnmatched}
	}

	query := similarity.Prepare(m.Name, m.Specification, m.Unit)
	entries := e.idx.CandidatesFor(query.Name.Tokens, query.Name.Keywords, e.cfg.CandidateLimit)
	if len(entries) == 0 {
		return Outcome{Class: model.ClassUnmatched}
	}

	cands := make([]Candidate, 0, len(entries))
	for _, entry := range entries {
		cands = append(cands, e.scoreEntry(query, entry))
	}
	sortCandidates(cands, scopeDate)

	if len(cands) > e.cfg.TopK {
		cands = cands[:e.cfg.TopK]
	}
	return Outcome{Class: e.classify(cands[0].Result.Score), Candidates: cands}
}

// scoreEntry scores the query against the base tuple and every alias
// tuple, keeping the best. Alias tuples fall back to the base unit.
func (e *Engine) scoreEntry(query similarity.Prepared, entry catalogue.Entry) Candidate {
	best := Candidate{Material: entry.Material, Result: similarity.Score(query, entry.Prepared)}
	for _, al := range entry.Aliases {
		tuple := al.Name
		tuple.Unit = entry.Prepared.Unit
		if r := similarity.Score(query, tuple); r.Score > best.Result.Score {
			best.Result = r
			best.ViaAlias = true
		}
	}
	return best
}

func (e *Engine) classify(top float64) model.MatchClass {
	switch {
	case top >= e.cfg.AutoThreshold:
		return model.ClassAuto
	case top >= e.cfg.ReviewThreshold:
		return model.ClassNeedsReview
	default:
		return model.ClassUnmatched
	}
}

// sortCandidates orders by score descending, breaking ties on higher unit
// similarity, then effective-date proximity to the scope month, then lower
// catalogue id.
func sortCandidates(cands []Candidate, scopeDate string) {
	ref, refErr := time.Parse("2006-01", scopeDate)
	refOK := refErr == nil
	proximity := func(c Candidate) float64 {
		if !refOK {
			return 0
		}
		return math.Abs(c.Material.EffectiveDate.Sub(ref).Hours())
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Result.Score != b.Result.Score {
			return a.Result.Score > b.Result.Score
		}
		if a.Result.UnitSim != b.Result.UnitSim {
			return a.Result.UnitSim > b.Result.UnitSim
		}
		if pa, pb := proximity(a), proximity(b); pa != pb {
			return pa < pb
		}
		return a.Material.ID < b.Material.ID
	})
}

// MatchAndPersist runs Match and writes the outcome to the repository.
// Auto matches persist the top candidate; needs-review persists the score
// and flag only, leaving the material unmatched.
func (e *Engine) MatchAndPersist(ctx context.Context, m model.ProjectMaterial, scopeDate string) (Outcome, error) {
	out := e.Match(m, scopeDate)

	upd := store.MatchUpdate{}
	switch out.Class {
	case model.ClassAuto:
		best := out.Best()
		method := model.MatchMethodAuto
		if best.ViaAlias {
			method = model.MatchMethodAlias
		}
		upd = store.MatchUpdate{
			BaseID: &best.Material.ID,
			Score:  best.Result.Score,
			Method: method,
		}
	case model.ClassNeedsReview:
		upd = store.MatchUpdate{Score: out.Best().Result.Score, NeedsReview: true}
	case model.ClassUnmatched:
		if best := out.Best(); best != nil {
			upd.Score = best.Result.Score
		}
	}

	if err := e.repo.UpdateMatch(ctx, m.ID, upd); err != nil {
		return out, model.NewError(model.KindRepository, eris.Wrap(err, "matching: persist"))
	}
	return out, nil
}

// ConfirmManual forces a manual match regardless of similarity.
func (e *Engine) ConfirmManual(ctx context.Context, materialID, baseID int64) error {
	err := e.repo.UpdateMatch(ctx, materialID, store.MatchUpdate{
		BaseID: &baseID,
		Score:  1.0,
		Method: model.MatchMethodManual,
	})
	if err != nil {
		return model.NewError(model.KindRepository, eris.Wrap(err, "matching: confirm manual"))
	}
	zap.L().Info("matching: manual confirm",
		zap.Int64("material_id", materialID),
		zap.Int64("base_id", baseID),
	)
	return nil
}

// Unmatch clears matching state for a material.
func (e *Engine) Unmatch(ctx context.Context, materialID int64) error {
	if err := e.repo.UpdateMatch(ctx, materialID, store.MatchUpdate{}); err != nil {
		return model.NewError(model.KindRepository, eris.Wrap(err, "matching: unmatch"))
	}
	return nil
}
