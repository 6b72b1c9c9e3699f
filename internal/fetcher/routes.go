package fetcher

import (
	"fmt"
	"sort"

	"metalwatch/internal/model"
)

// Binding names a provider and the symbol it knows a series by.
type Binding struct {
	Provider string
	Symbol   string
}

// Route assigns a primary and an optional backup binding to a series.
type Route struct {
	Key     model.Key
	Primary Binding
	Backup  *Binding
}

// Routes is the symbol-to-provider mapping table.
type Routes map[model.Key]Route

// DefaultRoutes returns the built-in table. Shanghai contracts are quoted in CNY
// and have no same-unit backup, so they carry none.
func DefaultRoutes() Routes {
	sina := func(sym string) Binding { return Binding{Provider: sinaName, Symbol: sym} }
	yahoo := func(sym string) *Binding { return &Binding{Provider: yahooName, Symbol: sym} }

	table := []Route{
		{Key: model.Key{Market: model.MarketLondon, Metal: model.MetalGold}, Primary: sina("hf_XAU"), Backup: yahoo("XAUUSD=X")},
		{Key: model.Key{Market: model.MarketLondon, Metal: model.MetalSilver}, Primary: sina("hf_XAG"), Backup: yahoo("XAGUSD=X")},
		{Key: model.Key{Market: model.MarketLondon, Metal: model.MetalCopper}, Primary: sina("hf_CAD"), Backup: yahoo("HG=F")},
		{Key: model.Key{Market: model.MarketComex, Metal: model.MetalGold}, Primary: sina("hf_GC"), Backup: yahoo("GC=F")},
		{Key: model.Key{Market: model.MarketComex, Metal: model.MetalSilver}, Primary: sina("hf_SI"), Backup: yahoo("SI=F")},
		{Key: model.Key{Market: model.MarketComex, Metal: model.MetalCopper}, Primary: sina("hf_HG"), Backup: yahoo("HG=F")},
		{Key: model.Key{Market: model.MarketShanghai, Metal: model.MetalGold}, Primary: sina("nf_AU0")},
		{Key: model.Key{Market: model.MarketShanghai, Metal: model.MetalSilver}, Primary: sina("nf_AG0")},
		{Key: model.Key{Market: model.MarketShanghai, Metal: model.MetalCopper}, Primary: sina("nf_CU0")},
	}

	out := make(Routes, len(table))
	for _, r := range table {
		out[r.Key] = r
	}
	return out
}

// Lookup returns the route for (market, metal).
func (r Routes) Lookup(market model.Market, metal model.Metal) (Route, bool) {
	route, ok := r[model.Key{Market: market, Metal: metal}]
	return route, ok
}

// With returns a copy of r with overrides replacing matching keys.
func (r Routes) With(overrides ...Route) Routes {
	out := make(Routes, len(r)+len(overrides))
	for k, v := range r {
		out[k] = v
	}
	for _, o := range overrides {
		out[o.Key] = o
	}
	return out
}

// ForMarket lists the market's routes in metal order.
func (r Routes) ForMarket(market model.Market) []Route {
	var out []Route
	for _, metal := range model.Metals {
		if route, ok := r.Lookup(market, metal); ok {
			out = append(out, route)
		}
	}
	return out
}

// Registry resolves provider names used in routes.
type Registry map[string]QuoteProvider

// NewRegistry indexes providers by Name.
func NewRegistry(providers ...QuoteProvider) Registry {
	reg := make(Registry, len(providers))
	for _, p := range providers {
		reg[p.Name()] = p
	}
	return reg
}

// Get returns the named provider.
func (r Registry) Get(name string) (QuoteProvider, error) {
	p, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}
	return p, nil
}

// Check verifies every binding in routes resolves to a registered provider.
func (r Registry) Check(routes Routes) error {
	ordered := make([]Route, 0, len(routes))
	for _, route := range routes {
		ordered = append(ordered, route)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Key.String() < ordered[j].Key.String() })
	for _, route := range ordered {
		if _, err := r.Get(route.Primary.Provider); err != nil {
			return fmt.Errorf("route %s primary: %w", route.Key, err)
		}
		if route.Backup != nil {
			if _, err := r.Get(route.Backup.Provider); err != nil {
				return fmt.Errorf("route %s backup: %w", route.Key, err)
			}
		}
	}
	return nil
}
