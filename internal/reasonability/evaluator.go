// Package reasonability compares a project material's quoted unit price
// against its matched catalogue reference and emits a verdict.
package reasonability

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/material-audit/internal/model"
	"github.com/sells-group/material-audit/internal/unitconv"
	"github.com/sells-group/material-audit/pkg/oracle"
)

// Bands are the |variance| cutoffs (percent) separating the risk levels.
type Bands struct {
	Low    float64 `mapstructure:"low"`    // below: low risk
	Medium float64 `mapstructure:"medium"` // below: medium risk
	High   float64 `mapstructure:"high"`   // below: high; at or above: severe
}

// DefaultBands returns the 20/40/60 cutoffs.
func DefaultBands() Bands {
	return Bands{Low: 20, Medium: 40, High: 60}
}

// Verdict is the tagged outcome of evaluating one material. Status is
// StatusCompleted or StatusFailed; FailedReason is set only for failures.
type Verdict struct {
	Status       model.AnalysisStatus `json:"status"`
	FailedReason string               `json:"failed_reason,omitempty"`

	Band       *model.PriceBand `json:"band,omitempty"`
	Confidence float64          `json:"confidence"`

	Variance     *float64        `json:"variance,omitempty"` // signed percent
	Risk         model.RiskLevel `json:"risk"`
	IsReasonable bool            `json:"is_reasonable"`
	Problematic  bool            `json:"problematic"`

	Tier    model.FallbackTier `json:"tier,omitempty"`
	ModelID string             `json:"model_id,omitempty"`
	CostUSD float64            `json:"cost_usd,omitempty"`
	Elapsed time.Duration      `json:"elapsed,omitempty"`
}

func failed(reason string) Verdict {
	return Verdict{Status: model.StatusFailed, FailedReason: reason, Risk: model.RiskUnknown}
}

// Evaluator computes verdicts, optionally consulting a price oracle.
type Evaluator struct {
	bands  Bands
	oracle oracle.PriceOracle // nil disables prediction
}

// NewEvaluator creates an evaluator. orc may be nil.
func NewEvaluator(bands Bands, orc oracle.PriceOracle) *Evaluator {
	if bands.Low <= 0 || bands.Medium <= bands.Low || bands.High <= bands.Medium {
		bands = DefaultBands()
	}
	return &Evaluator{bands: bands, oracle: orc}
}

// RiskFromVariance maps an absolute variance to a risk level. Total over
// its domain; a nil variance is unknown.
func (e *Evaluator) RiskFromVariance(variance *float64) model.RiskLevel {
	if variance == nil {
		return model.RiskUnknown
	}
	v := *variance
	if v < 0 {
		v = -v
	}
	switch {
	case v < e.bands.Low:
		return model.RiskLow
	case v < e.bands.Medium:
		return model.RiskMedium
	case v < e.bands.High:
		return model.RiskHigh
	default:
		return model.RiskSevere
	}
}

// Evaluate produces the verdict for a matched material against its
// reference. Oracle failures degrade to reference-price-only
// reasonability; unit incompatibility fails the verdict without marking
// the material problematic.
func (e *Evaluator) Evaluate(ctx context.Context, m model.ProjectMaterial, ref model.BaseMaterial, tier model.FallbackTier) Verdict {
	if m.Name == "" {
		return failed("invalid input: empty material name")
	}
	if m.UnitPrice.IsNegative() || ref.Price.Sign() <= 0 {
		return failed(fmt.Sprintf("invalid input: project price %s, reference price %s", m.UnitPrice, ref.Price))
	}

	refPrice, ok := reconcile(ref.Price, ref.Unit, m.Unit)
	if !ok {
		return Verdict{
			Status: model.StatusFailed,
			FailedReason: fmt.Sprintf("unit incompatible: %s vs %s",
				unitconv.Normalize(m.Unit), unitconv.Normalize(ref.Unit)),
			Risk: model.RiskUnknown,
			Tier: tier,
		}
	}

	v := Verdict{Status: model.StatusCompleted, Tier: tier}

	if e.oracle != nil {
		pred, err := e.oracle.Predict(ctx, oracle.Query{
			Name:          m.Name,
			Specification: m.Specification,
			Unit:          unitconv.Normalize(m.Unit),
			RegionLabel:   ref.RegionLabel,
			PriceDate:     ref.PriceDate,
		})
		switch {
		case err != nil:
			zap.L().Warn("reasonability: oracle failed, using reference price",
				zap.Int64("material_id", m.ID),
				zap.Error(err),
			)
		case pred.Band.Avg.Sign() > 0:
			band := pred.Band
			v.Band = &band
			v.Confidence = pred.Confidence
			v.ModelID = pred.ModelID
			v.CostUSD = pred.CostUSD
			v.Elapsed = pred.Elapsed
			refPrice = pred.Band.Avg
		}
	}

	variance := varianceOf(m.UnitPrice, refPrice)
	v.Variance = &variance
	v.Risk = e.RiskFromVariance(&variance)
	v.IsReasonable = abs(variance) < e.bands.Low
	v.Problematic = v.Risk == model.RiskHigh || v.Risk == model.RiskSevere
	return v
}

// reconcile expresses the reference price in the project material's unit.
func reconcile(refPrice decimal.Decimal, refUnit, projUnit string) (decimal.Decimal, bool) {
	if unitconv.Normalize(refUnit) == unitconv.Normalize(projUnit) {
		return refPrice, true
	}
	return unitconv.ConvertUnitPrice(refPrice, refUnit, projUnit)
}

// varianceOf is (project − reference) / reference · 100, computed on
// decimals and rounded to 4 places before conversion.
func varianceOf(projPrice, refPrice decimal.Decimal) float64 {
	diff := projPrice.Sub(refPrice)
	pct := diff.Div(refPrice).Mul(decimal.NewFromInt(100)).Round(4)
	f, _ := pct.Float64()
	return f
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
