// Package unitconv normalizes measurement units and converts quantities
// and unit prices between compatible units. All arithmetic uses
// shopspring decimals; binary floats never touch a price.
package unitconv

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Family groups units that convert into one another.
type Family string

const (
	FamilyLength Family = "length"
	FamilyMass   Family = "mass"
	FamilyArea   Family = "area"
	FamilyVolume Family = "volume"
	FamilyCount  Family = "count"
)

// factors maps each canonical unit to its value in the family's base unit
// (length: m, mass: kg, area: m², volume: m³, count: itself).
var factors = map[Family]map[string]decimal.Decimal{
	FamilyLength: {
		"mm": decimal.RequireFromString("0.001"),
		"cm": decimal.RequireFromString("0.01"),
		"m":  decimal.RequireFromString("1"),
		"km": decimal.RequireFromString("1000"),
	},
	FamilyMass: {
		"g":  decimal.RequireFromString("0.001"),
		"kg": decimal.RequireFromString("1"),
		"t":  decimal.RequireFromString("1000"),
	},
	FamilyArea: {
		"cm²": decimal.RequireFromString("0.0001"),
		"m²":  decimal.RequireFromString("1"),
	},
	FamilyVolume: {
		"cm³": decimal.RequireFromString("0.000001"),
		"ml":  decimal.RequireFromString("0.000001"),
		"l":   decimal.RequireFromString("0.001"),
		"m³":  decimal.RequireFromString("1"),
	},
	// Count units never convert between one another; each is its own scale.
	FamilyCount: {
		"件": decimal.RequireFromString("1"),
		"个": decimal.RequireFromString("1"),
		"套": decimal.RequireFromString("1"),
		"组": decimal.RequireFromString("1"),
	},
}

// aliases folds the common Chinese, case and notation variants into the
// canonical unit spelling.
var aliases = map[string]string{
	"㎡":    "m²",
	"m2":   "m²",
	"m^2":  "m²",
	"平方":   "m²",
	"平方米":  "m²",
	"平米":   "m²",
	"cm2":  "cm²",
	"cm^2": "cm²",
	"平方厘米": "cm²",
	"m3":   "m³",
	"m^3":  "m³",
	"立方":   "m³",
	"立方米":  "m³",
	"立米":   "m³",
	"cm3":  "cm³",
	"cm^3": "cm³",
	"立方厘米": "cm³",
	"毫升":   "ml",
	"升":    "l",
	"公升":   "l",
	"米":    "m",
	"厘米":   "cm",
	"毫米":   "mm",
	"公里":   "km",
	"千米":   "km",
	"克":    "g",
	"千克":   "kg",
	"公斤":   "kg",
	"吨":    "t",
	"只":    "个",
	"pcs":  "个",
	"set":  "套",
}

// Normalize returns the canonical spelling of a unit. Unknown units come
// back lowercased and trimmed so equality comparisons stay meaningful.
func Normalize(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	if u == "" {
		return ""
	}
	if canon, ok := aliases[u]; ok {
		return canon
	}
	return u
}

// FamilyOf returns the family of a canonical unit, or ok=false for units
// the registry does not know.
func FamilyOf(unit string) (Family, bool) {
	for fam, units := range factors {
		if _, ok := units[unit]; ok {
			return fam, true
		}
	}
	return "", false
}

// CanConvert reports whether two units (raw or canonical) belong to the
// same convertible family. Count units convert only to themselves.
func CanConvert(u1, u2 string) bool {
	c1, c2 := Normalize(u1), Normalize(u2)
	if c1 == "" || c2 == "" {
		return false
	}
	f1, ok1 := FamilyOf(c1)
	f2, ok2 := FamilyOf(c2)
	if !ok1 || !ok2 || f1 != f2 {
		return false
	}
	if f1 == FamilyCount {
		return c1 == c2
	}
	return true
}

// Factor returns how many `to` units one `from` unit equals. ok=false when
// the units are incompatible.
func Factor(from, to string) (decimal.Decimal, bool) {
	if !CanConvert(from, to) {
		return decimal.Zero, false
	}
	cf, ct := Normalize(from), Normalize(to)
	fam, _ := FamilyOf(cf)
	return factors[fam][cf].Div(factors[fam][ct]), true
}

// ConvertQuantity converts a quantity expressed in `from` units into `to`
// units.
func ConvertQuantity(q decimal.Decimal, from, to string) (decimal.Decimal, bool) {
	f, ok := Factor(from, to)
	if !ok {
		return decimal.Zero, false
	}
	return q.Mul(f), true
}

// ConvertUnitPrice converts a price-per-`from` into a price-per-`to`.
// Unit price scales by the inverse of the quantity factor.
func ConvertUnitPrice(p decimal.Decimal, from, to string) (decimal.Decimal, bool) {
	f, ok := Factor(from, to)
	if !ok || f.IsZero() {
		return decimal.Zero, false
	}
	return p.Div(f), true
}
