package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchMethod records how a project material was matched to the catalogue.
type MatchMethod string

const (
	MatchMethodAuto   MatchMethod = "auto"
	MatchMethodAlias  MatchMethod = "alias"
	MatchMethodManual MatchMethod = "manual"
)

// MatchClass is the classification the matching engine assigns to a
// project material. Every material maps to exactly one class.
type MatchClass string

const (
	ClassAuto        MatchClass = "auto"
	ClassNeedsReview MatchClass = "needs_review"
	ClassUnmatched   MatchClass = "unmatched"
)

// ProjectMaterial is one line of a project's bill of materials, plus the
// mutable matching and analysis state the engine maintains for it.
type ProjectMaterial struct {
	ID            int64           `json:"id"`
	ProjectID     int64           `json:"project_id"`
	Name          string          `json:"name"`
	Specification string          `json:"specification"`
	Unit          string          `json:"unit"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`

	IsMatched     bool        `json:"is_matched"`
	MatchedBaseID *int64      `json:"matched_base_id,omitempty"`
	MatchScore    float64     `json:"match_score"`
	MatchMethod   MatchMethod `json:"match_method,omitempty"`
	NeedsReview   bool        `json:"needs_review"`

	IsAnalyzed    bool `json:"is_analyzed"`
	IsProblematic bool `json:"is_problematic"`
}

// ProjectStats holds the running counters the orchestrator maintains for a
// project. Updated atomically at chunk boundaries, not per material.
type ProjectStats struct {
	Total       int `json:"total"`
	Priced      int `json:"priced"` // auto + manual matched
	Unpriced    int `json:"unpriced"`
	NeedsReview int `json:"needs_review"`
	Problematic int `json:"problematic"`
}

// Project is the parent of a set of bill-of-material lines.
type Project struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Province  string       `json:"province"`
	City      string       `json:"city"`
	District  string       `json:"district"`
	PriceDate string       `json:"price_date"` // "YYYY-MM"
	Stats     ProjectStats `json:"stats"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
