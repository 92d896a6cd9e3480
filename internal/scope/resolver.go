// Package scope selects the base-price catalogue window for a batch run
// using the province → city → district hierarchy with temporal fallback.
package scope

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/material-audit/internal/model"
	"github.com/sells-group/material-audit/internal/store"
)

// maxMonthFallback bounds how far back the resolver walks for an earlier
// price publication.
const maxMonthFallback = 12

// Resolution is the outcome of resolving a requested scope: the scope that
// actually produced catalogue rows, its fallback tier, and the rows.
type Resolution struct {
	Resolved  model.ResolvedScope
	Materials []model.BaseMaterial
	Aliases   []model.MaterialAlias
}

// Resolver walks the fallback ladder against a catalogue repository.
type Resolver struct {
	repo    store.CatalogueRepository
	enabled bool // hierarchical matching; false short-circuits to nationwide
}

// NewResolver creates a resolver. When hierarchical is false, Resolve
// returns the nationwide view directly.
func NewResolver(repo store.CatalogueRepository, hierarchical bool) *Resolver {
	return &Resolver{repo: repo, enabled: hierarchical}
}

// Resolve returns the first non-empty scope in fallback order:
// exact (date, province, city, district); then (date, province, city);
// then (date, province); then the same ladder for each earlier month up to
// twelve back; finally the unscoped nationwide view. A fully empty
// catalogue yields a KindScopeEmpty error.
func (r *Resolver) Resolve(ctx context.Context, req model.MatchingScope) (*Resolution, error) {
	if !r.enabled {
		return r.loadNationwide(ctx)
	}

	dates := fallbackDates(req.PriceDate)
	for _, date := range dates {
		for _, cand := range geoLadder(req, date) {
			mats, aliases, err := r.repo.LoadScope(ctx, cand.Scope)
			if err != nil {
				return nil, eris.Wrap(err, "scope: load")
			}
			if len(mats) == 0 {
				continue
			}
			if cand.Scope != req {
				zap.L().Info("scope: fallback applied",
					zap.String("tier", string(cand.Tier)),
					zap.String("price_date", cand.Scope.PriceDate),
				)
			}
			return &Resolution{Resolved: cand, Materials: mats, Aliases: aliases}, nil
		}
	}

	return r.loadNationwide(ctx)
}

func (r *Resolver) loadNationwide(ctx context.Context) (*Resolution, error) {
	nation := model.MatchingScope{}
	mats, aliases, err := r.repo.LoadScope(ctx, nation)
	if err != nil {
		return nil, eris.Wrap(err, "scope: load nationwide")
	}
	if len(mats) == 0 {
		return nil, model.NewError(model.KindScopeEmpty, eris.New("scope: catalogue empty at every fallback tier"))
	}
	return &Resolution{
		Resolved:  model.ResolvedScope{Scope: nation, Tier: model.TierNationwide},
		Materials: mats,
		Aliases:   aliases,
	}, nil
}

// geoLadder lists the geographic fallback candidates for one month, most
// specific first. Levels missing from the request are skipped.
func geoLadder(req model.MatchingScope, date string) []model.ResolvedScope {
	var out []model.ResolvedScope
	if req.Province != "" && req.City != "" && req.District != "" {
		out = append(out, model.ResolvedScope{
			Scope: model.MatchingScope{PriceDate: date, Province: req.Province, City: req.City, District: req.District},
			Tier:  model.TierDistrict,
		})
	}
	if req.Province != "" && req.City != "" {
		out = append(out, model.ResolvedScope{
			Scope: model.MatchingScope{PriceDate: date, Province: req.Province, City: req.City},
			Tier:  model.TierCity,
		})
	}
	if req.Province != "" {
		out = append(out, model.ResolvedScope{
			Scope: model.MatchingScope{PriceDate: date, Province: req.Province},
			Tier:  model.TierProvince,
		})
	}
	return out
}

// fallbackDates returns the requested month followed by up to twelve
// earlier months. An unparsable or empty month key yields itself only.
func fallbackDates(month string) []string {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return []string{month}
	}
	out := make([]string, 0, maxMonthFallback+1)
	for i := 0; i <= maxMonthFallback; i++ {
		out = append(out, t.AddDate(0, -i, 0).Format("2006-01"))
	}
	return out
}
