// Package normalize converts provider values into canonical units.
//
// Providers do not tag their units, so conversions are range heuristics keyed by
// (market, metal). Apply the same rule to primary and backup readings before they
// are compared.
package normalize

import (
	"fmt"

	"github.com/shopspring/decimal"

	"metalwatch/internal/model"
)

// PoundsPerTonne converts USD/lb into USD/t.
var PoundsPerTonne = decimal.RequireFromString("2204.62")

var (
	hundred  = decimal.NewFromInt(100)
	fifty    = decimal.NewFromInt(50)
	tenK     = decimal.NewFromInt(10_000)
	oneMilli = decimal.NewFromInt(1_000_000)
)

// Rule is a single range-triggered conversion.
type Rule struct {
	Key         model.Key
	Description string
	Applies     func(v decimal.Decimal) bool
	Convert     func(v decimal.Decimal) decimal.Decimal
}

var quoteRules = []Rule{
	{
		Key:         model.Key{Market: model.MarketComex, Metal: model.MetalCopper},
		Description: "cents/lb -> USD/lb (value > 100, divided by 100)",
		Applies:     func(v decimal.Decimal) bool { return v.GreaterThan(hundred) },
		Convert:     func(v decimal.Decimal) decimal.Decimal { return v.Div(hundred) },
	},
	{
		Key:         model.Key{Market: model.MarketLondon, Metal: model.MetalCopper},
		Description: "USD/lb -> USD/t (value < 50, multiplied by 2204.62)",
		Applies:     func(v decimal.Decimal) bool { return v.IsPositive() && v.LessThan(fifty) },
		Convert:     func(v decimal.Decimal) decimal.Decimal { return v.Mul(PoundsPerTonne) },
	},
}

var units = map[model.Key]string{
	{Market: model.MarketLondon, Metal: model.MetalGold}:     "USD/oz",
	{Market: model.MarketLondon, Metal: model.MetalSilver}:   "USD/oz",
	{Market: model.MarketLondon, Metal: model.MetalCopper}:   "USD/t",
	{Market: model.MarketComex, Metal: model.MetalGold}:      "USD/oz",
	{Market: model.MarketComex, Metal: model.MetalSilver}:    "USD/oz",
	{Market: model.MarketComex, Metal: model.MetalCopper}:    "USD/lb",
	{Market: model.MarketShanghai, Metal: model.MetalGold}:   "CNY/g",
	{Market: model.MarketShanghai, Metal: model.MetalSilver}: "CNY/kg",
	{Market: model.MarketShanghai, Metal: model.MetalCopper}: "CNY/t",
}

// CanonicalUnit returns the unit all values of key are stored in.
func CanonicalUnit(key model.Key) string {
	if u, ok := units[key]; ok {
		return u
	}
	return "unknown"
}

// Quote converts raw into the canonical unit of key.
func Quote(key model.Key, raw decimal.Decimal) decimal.Decimal {
	v, _ := Explain(key, raw)
	return v
}

// Explain is Quote plus a description of the conversion applied, empty when none.
func Explain(key model.Key, raw decimal.Decimal) (decimal.Decimal, string) {
	for _, r := range quoteRules {
		if r.Key == key && r.Applies(raw) {
			return r.Convert(raw), r.Description
		}
	}
	return raw, ""
}

// Inventory holds the three quantities of a warehouse row.
type Inventory struct {
	Total      decimal.Decimal
	Eligible   decimal.Decimal
	Registered decimal.Decimal
}

// inventoryDivisors lists, per reporting source, the divisor that brings a raw
// total above 10,000 into the canonical unit. Only CME publishes in ounces and
// pounds; LME and SHFE already report tonnes, where 85,000 t of copper is a
// normal figure, so they have no entry.
var inventoryDivisors = map[string]map[model.Metal]decimal.Decimal{
	"CME": {
		model.MetalSilver: oneMilli,
		model.MetalGold:   oneMilli,
		model.MetalCopper: PoundsPerTonne,
	},
}

var inventoryUnits = map[string]map[model.Metal]string{
	"CME":  {model.MetalSilver: "Moz", model.MetalGold: "Moz", model.MetalCopper: "t"},
	"LME":  {model.MetalSilver: "t", model.MetalGold: "t", model.MetalCopper: "t"},
	"SHFE": {model.MetalSilver: "t", model.MetalGold: "t", model.MetalCopper: "t"},
}

// InventoryUnit returns the canonical reporting unit of a warehouse source.
func InventoryUnit(source string, metal model.Metal) string {
	if u, ok := inventoryUnits[source][metal]; ok {
		return u
	}
	return "unknown"
}

// NormalizeInventory rescales a warehouse row whose total exceeds 10,000. The
// divisor is chosen from the total and applied to all three quantities so the
// balance identity is preserved.
func NormalizeInventory(source string, metal model.Metal, inv Inventory) (Inventory, string) {
	div, ok := inventoryDivisors[source][metal]
	if !ok || !inv.Total.GreaterThan(tenK) {
		return inv, ""
	}
	out := Inventory{
		Total:      inv.Total.Div(div),
		Eligible:   inv.Eligible.Div(div),
		Registered: inv.Registered.Div(div),
	}
	return out, fmt.Sprintf("raw total > 10000, divided by %s", div.String())
}
