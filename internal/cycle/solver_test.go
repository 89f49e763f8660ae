package cycle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/triarb/internal/book"
	"github.com/coachpo/triarb/internal/money"
)

func mustPrice(t *testing.T, s string) money.Price {
	t.Helper()
	p, err := money.ParsePrice(s)
	if err != nil {
		t.Fatalf("ParsePrice(%q): %v", s, err)
	}
	return p
}

func mustAmount(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.ParseAmount(s)
	if err != nil {
		t.Fatalf("ParseAmount(%q): %v", s, err)
	}
	return a
}

func symbolForCurrency(currency string) (string, bool) {
	switch currency {
	case "BTC":
		return "tBTCUSD", true
	case "ETH":
		return "tETHUSD", true
	default:
		return "", false
	}
}

func buildTestStore(t *testing.T, btcAskSize string) *book.Store {
	t.Helper()
	s := book.NewStore(nil)
	s.ApplySnapshot("tBTCUSD", []book.Level{
		{Price: mustPrice(t, "49990"), Count: 1, Size: mustAmount(t, "1")},
	}, []book.Level{
		{Price: mustPrice(t, "50000"), Count: 1, Size: mustAmount(t, btcAskSize)},
	})
	s.ApplySnapshot("tETHBTC", []book.Level{
		{Price: mustPrice(t, "0.0599"), Count: 1, Size: mustAmount(t, "10")},
	}, []book.Level{
		{Price: mustPrice(t, "0.06"), Count: 1, Size: mustAmount(t, "10")},
	})
	s.ApplySnapshot("tETHUSD", []book.Level{
		{Price: mustPrice(t, "3050"), Count: 1, Size: mustAmount(t, "10")},
	}, []book.Level{
		{Price: mustPrice(t, "3051"), Count: 1, Size: mustAmount(t, "10")},
	})
	return s
}

func baseConfig() Config {
	return Config{
		Currencies:    []string{"USD", "BTC", "ETH"},
		BaseCurrency:  "USD",
		StartAmount:   money.NewAmount(decimal.NewFromInt(1000)),
		MinPathLength: 2,
		MaxPathLength: 4,
		MinProfitUSD:  money.NewAmount(decimal.Zero),
		TakerFee:      decimal.NewFromFloat(0.002),
		MinOrderSize: map[string]money.Amount{
			"OTHER": money.NewAmount(decimal.Zero),
		},
		TimeBudget: DefaultTimeBudget,
		Pairs: []PairSpec{
			{Symbol: "tBTCUSD", Base: "BTC", Quote: "USD", AmountStep: "0.0001"},
			{Symbol: "tETHBTC", Base: "ETH", Quote: "BTC", AmountStep: "0.0001"},
			{Symbol: "tETHUSD", Base: "ETH", Quote: "USD", AmountStep: "0.0001"},
		},
		USDReference: USDPairReference("USD", symbolForCurrency),
	}
}

func TestSolveFindsTriangularProfit(t *testing.T) {
	store := buildTestStore(t, "5")
	cfg := baseConfig()

	sol, ok := Solve(context.Background(), store.SnapshotForSolver(), cfg.StartAmount, cfg)
	if !ok {
		t.Fatalf("expected an admissible cycle")
	}
	if !sol.ProfitBase.IsPositive() || !sol.ProfitUSD.IsPositive() {
		t.Fatalf("expected positive profit, got base=%s usd=%s", sol.ProfitBase, sol.ProfitUSD)
	}
	if len(sol.Instructions) != 4 { // 3 hops + end marker
		t.Fatalf("expected 3 hops plus end marker, got %d", len(sol.Instructions))
	}
}

func TestSolveRejectsBelowMinProfitThreshold(t *testing.T) {
	store := buildTestStore(t, "5")
	cfg := baseConfig()
	cfg.MinProfitUSD = money.NewAmount(decimal.NewFromInt(100))

	_, ok := Solve(context.Background(), store.SnapshotForSolver(), cfg.StartAmount, cfg)
	if ok {
		t.Fatalf("expected no cycle to clear a 100 USD profit floor")
	}
}

func TestSolveRejectsBelowMinOrderSize(t *testing.T) {
	store := buildTestStore(t, "0.0001")
	cfg := baseConfig()
	cfg.MinOrderSize["BTC"] = money.NewAmount(decimal.NewFromFloat(0.002))

	_, ok := Solve(context.Background(), store.SnapshotForSolver(), cfg.StartAmount, cfg)
	if ok {
		t.Fatalf("expected the capacity-capped BTC leg to fail the min order size gate")
	}
}

func TestUSDPairReferenceResolvesNonUSDCurrencyViaChainedSymbol(t *testing.T) {
	store := buildTestStore(t, "5")
	snap := store.SnapshotForSolver()
	ref := USDPairReference("USD", symbolForCurrency)

	rate, ok := ref(snap, "BTC")
	if !ok {
		t.Fatalf("expected a chained USD reference for BTC via tBTCUSD")
	}
	want := mustPrice(t, "49990").Decimal() // tBTCUSD best bid
	if !rate.Equal(want) {
		t.Fatalf("expected BTC USD reference %s, got %s", want, rate)
	}

	if _, ok := ref(snap, "XRP"); ok {
		t.Fatalf("expected no USD reference for a currency with no direct pair")
	}
}

func TestSolveConvertsProfitToUSDWhenBaseCurrencyIsNotTheUSDQuote(t *testing.T) {
	store := buildTestStore(t, "5")
	cfg := baseConfig()
	// A solver rooted at BTC still converts profit_base (denominated in BTC)
	// to USD via the literal "USD" quote currency, not via the cycle's own
	// base currency — this only exercises USDPairReference's chained branch
	// when the two differ.
	cfg.BaseCurrency = "BTC"

	sol, ok := Solve(context.Background(), store.SnapshotForSolver(), cfg.StartAmount, cfg)
	if !ok {
		t.Fatalf("expected an admissible cycle rooted at BTC")
	}
	if sol.ProfitUSD.Equal(sol.ProfitBase) {
		t.Fatalf("expected profit_usd to be converted via the BTC/USD reference price, not equal profit_base: base=%s usd=%s", sol.ProfitBase, sol.ProfitUSD)
	}
}

func TestSolveAbortsOnCrossedBook(t *testing.T) {
	store := buildTestStore(t, "5")
	// Cross tBTCUSD: best bid at or above best ask.
	store.ApplySnapshot("tBTCUSD", []book.Level{
		{Price: mustPrice(t, "50010"), Count: 1, Size: mustAmount(t, "1")},
	}, []book.Level{
		{Price: mustPrice(t, "50000"), Count: 1, Size: mustAmount(t, "5")},
	})
	cfg := baseConfig()

	_, ok := Solve(context.Background(), store.SnapshotForSolver(), cfg.StartAmount, cfg)
	if ok {
		t.Fatalf("expected a crossed book to abort the solving attempt")
	}
}

func TestSolveDiscardsAttemptOnExceededBudget(t *testing.T) {
	store := buildTestStore(t, "5")
	cfg := baseConfig()
	cfg.TimeBudget = time.Nanosecond

	_, ok := Solve(context.Background(), store.SnapshotForSolver(), cfg.StartAmount, cfg)
	if ok {
		t.Fatalf("expected a near-zero budget to discard the attempt")
	}
}
