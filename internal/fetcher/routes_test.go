package fetcher

import (
	"testing"

	"metalwatch/internal/model"
)

func TestDefaultRoutesCoverEverySeries(t *testing.T) {
	routes := DefaultRoutes()
	for _, market := range model.Markets {
		for _, metal := range model.Metals {
			route, ok := routes.Lookup(market, metal)
			if !ok {
				t.Fatalf("missing route for %s %s", market, metal)
			}
			if market == model.MarketShanghai && route.Backup != nil {
				t.Fatalf("%s should not have a backup", route.Key)
			}
			if market != model.MarketShanghai && route.Backup == nil {
				t.Fatalf("%s should have a backup", route.Key)
			}
		}
	}
}

func TestRoutesWithOverride(t *testing.T) {
	base := DefaultRoutes()
	key := model.Key{Market: model.MarketComex, Metal: model.MetalGold}
	over := base.With(Route{Key: key, Primary: Binding{Provider: yahooName, Symbol: "GC=F"}})

	if got, _ := over.Lookup(model.MarketComex, model.MetalGold); got.Primary.Provider != yahooName || got.Backup != nil {
		t.Fatalf("override not applied: %+v", got)
	}
	if got, _ := base.Lookup(model.MarketComex, model.MetalGold); got.Primary.Provider != sinaName {
		t.Fatal("With must not mutate the receiver")
	}
	if n := len(over.ForMarket(model.MarketComex)); n != 3 {
		t.Fatalf("want 3 comex routes, got %d", n)
	}
}

func TestRegistryCheck(t *testing.T) {
	sina := NewSina(SinaOptions{}, noopLogger())
	reg := NewRegistry(sina)
	if err := reg.Check(DefaultRoutes()); err == nil {
		t.Fatal("yahoo backups should fail the check when yahoo is not registered")
	}
	reg = NewRegistry(sina, NewYahoo(YahooOptions{}, noopLogger()))
	if err := reg.Check(DefaultRoutes()); err != nil {
		t.Fatalf("full registry should pass: %v", err)
	}
}
