// Package oracle predicts market unit-price bands for construction
// materials. The core treats predictions as best-effort: any failure here
// degrades a verdict, never a batch.
package oracle

import (
	"context"
	"time"

	"github.com/sells-group/material-audit/internal/model"
)

// Query identifies the material and market window to predict for.
type Query struct {
	Name          string `json:"name"`
	Specification string `json:"specification"`
	Unit          string `json:"unit"`
	RegionLabel   string `json:"region_label"`
	PriceDate     string `json:"price_date"` // "YYYY-MM"
}

// Prediction is a predicted unit-price band with bookkeeping for history
// snapshots.
type Prediction struct {
	Band       model.PriceBand `json:"band"`
	Confidence float64         `json:"confidence"`
	ModelID    string          `json:"model_id"`
	CostUSD    float64         `json:"cost_usd"`
	Elapsed    time.Duration   `json:"elapsed"`
}

// PriceOracle produces a predicted [min, avg, max] band for a material.
type PriceOracle interface {
	Predict(ctx context.Context, q Query) (*Prediction, error)
}
