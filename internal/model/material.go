package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceType distinguishes which catalogue publication a base price came from.
type PriceType string

const (
	PriceTypeProvincial PriceType = "provincial"
	PriceTypeMunicipal  PriceType = "municipal"
)

// BaseMaterial is a single entry in the reference price catalogue.
// Immutable in the matching path.
type BaseMaterial struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Specification string          `json:"specification"`
	Unit          string          `json:"unit"`
	Price         decimal.Decimal `json:"price"`
	EffectiveDate time.Time       `json:"effective_date"`
	Province      string          `json:"province"`
	City          string          `json:"city"`
	District      string          `json:"district"`
	RegionLabel   string          `json:"region_label"`
	PriceType     PriceType       `json:"price_type"`
	PriceDate     string          `json:"price_date"` // month key "YYYY-MM"
}

// MaterialAlias broadens candidate generation for a base material.
type MaterialAlias struct {
	BaseMaterialID     int64   `json:"base_material_id"`
	AliasName          string  `json:"alias_name"`
	AliasSpecification string  `json:"alias_specification"`
	SimilarityScore    float64 `json:"similarity_score"`
}

// FallbackTier records which step of the hierarchical resolver yielded the
// scope actually used for a batch, so verdicts can report provenance.
type FallbackTier string

const (
	TierDistrict   FallbackTier = "district"
	TierCity       FallbackTier = "city"
	TierProvince   FallbackTier = "province"
	TierNationwide FallbackTier = "nationwide"
)

// MatchingScope narrows the catalogue view for one batch run.
type MatchingScope struct {
	PriceDate string `json:"price_date"` // "YYYY-MM"
	Province  string `json:"province"`
	City      string `json:"city"`
	District  string `json:"district"`
}

// IsNationwide reports whether the scope places no geographic restriction.
func (s MatchingScope) IsNationwide() bool {
	return s.Province == "" && s.City == "" && s.District == ""
}

// ResolvedScope pairs the scope that was actually used with the fallback
// tier that produced it.
type ResolvedScope struct {
	Scope MatchingScope `json:"scope"`
	Tier  FallbackTier  `json:"tier"`
}
