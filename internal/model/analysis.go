package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AnalysisStatus is the lifecycle of a price analysis.
type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "pending"
	StatusProcessing AnalysisStatus = "processing"
	StatusCompleted  AnalysisStatus = "completed"
	StatusFailed     AnalysisStatus = "failed"
)

// RiskLevel is derived from the absolute price variance. The mapping is a
// total function; see reasonability.RiskFromVariance.
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskSevere  RiskLevel = "severe"
	RiskUnknown RiskLevel = "unknown"
)

// PriceBand is a predicted [min, avg, max] unit-price interval from the
// price oracle.
type PriceBand struct {
	Min decimal.Decimal `json:"min"`
	Avg decimal.Decimal `json:"avg"`
	Max decimal.Decimal `json:"max"`
}

// PriceAnalysis is the current reasonability verdict for one project
// material. Replaced in place; every replacement also appends a history
// snapshot.
type PriceAnalysis struct {
	ID         string         `json:"id"`
	MaterialID int64          `json:"material_id"`
	Status     AnalysisStatus `json:"status"`

	Band       *PriceBand `json:"band,omitempty"`
	Confidence float64    `json:"confidence"`

	IsReasonable  bool      `json:"is_reasonable"`
	PriceVariance *float64  `json:"price_variance,omitempty"` // signed percent vs. reference
	RiskLevel     RiskLevel `json:"risk_level"`

	Tier         FallbackTier `json:"tier,omitempty"`
	FailedReason string       `json:"failed_reason,omitempty"`

	ModelID   string        `json:"model_id,omitempty"`
	CostUSD   float64       `json:"cost_usd,omitempty"`
	Elapsed   time.Duration `json:"elapsed,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// AnalysisSnapshot is one append-only history row. Once written it is
// never updated or deleted by core flows.
type AnalysisSnapshot struct {
	ID           string         `json:"id"`
	AnalysisID   string         `json:"analysis_id"`
	MaterialID   int64          `json:"material_id"`
	Status       AnalysisStatus `json:"status"`
	Band         *PriceBand     `json:"band,omitempty"`
	Confidence   float64        `json:"confidence"`
	IsReasonable bool           `json:"is_reasonable"`
	Variance     *float64       `json:"variance,omitempty"`
	RiskLevel    RiskLevel      `json:"risk_level"`
	Tier         FallbackTier   `json:"tier,omitempty"`
	FailedReason string         `json:"failed_reason,omitempty"`
	ModelID      string         `json:"model_id,omitempty"`
	Elapsed      time.Duration  `json:"elapsed,omitempty"`
	CostUSD      float64        `json:"cost_usd,omitempty"`
	Note         string         `json:"note,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
