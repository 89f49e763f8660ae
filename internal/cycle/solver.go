// Package cycle implements the triangular arbitrage search: given an
// immutable order book snapshot, it enumerates simple closed cycles of
// currency conversions rooted at a base currency and returns the most
// profitable admissible one, within a hard wall-clock budget. The
// decimal-first arithmetic and admissibility checks build on internal/money
// and re-verify decimal thresholds at the point of use rather than trusting
// float comparisons or a prior check.
package cycle

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/triarb/internal/book"
	"github.com/coachpo/triarb/internal/money"
)

// DefaultTimeBudget is T_max from §4.4.
const DefaultTimeBudget = 850 * time.Millisecond

// PairSpec declares one tradable pair and its precision metadata.
type PairSpec struct {
	Symbol     string
	Base       string
	Quote      string
	AmountStep string // decimal step string, e.g. "0.0001"
}

// Config parameterizes one solve attempt.
type Config struct {
	Currencies    []string // C: the max-volume currency subgraph
	Pairs         []PairSpec
	BaseCurrency  string // c0
	StartAmount   money.Amount // A0
	MinPathLength int
	MaxPathLength int
	MinProfitUSD  money.Amount
	TakerFee      decimal.Decimal // f
	MinOrderSize  map[string]money.Amount // per currency; "OTHER" is the default
	TimeBudget    time.Duration

	// USDReference resolves a reference price converting 1 unit of
	// currency into USD, via direct or chained lookup against the
	// snapshot. A nil function disables profit_usd conversion (USD
	// admissibility then always fails).
	USDReference func(snap book.Snapshot, currency string) (decimal.Decimal, bool)
}

// Instruction is one hop of a cycle, expressed as a venue order.
type Instruction struct {
	Symbol       string
	ActionPrice  money.Price
	ActionAmount money.Amount // signed: positive buys the pair's base, negative sells it
	EndMarker    bool
}

// Solution is an admissible, ranked cycle.
type Solution struct {
	Instructions      []Instruction
	ProfitBase        decimal.Decimal
	ProfitUSD         decimal.Decimal
}

type edge struct {
	from, to     string
	symbol       string
	amountStep   string
	rate         decimal.Decimal // units of `to` per unit of `from`, before fee
	capacityFrom decimal.Decimal // max input amount expressed in `from` currency
	actionPrice  money.Price
	buysBase     bool // true: edge buys the pair's base currency
}

// Solve searches for the top profitable cycle. It returns (solution, true)
// when an admissible cycle exists, or (Solution{}, false) otherwise —
// including when the wall-clock budget is exceeded, per §4.4's "exceeding
// it discards the attempt without trading."
func Solve(ctx context.Context, snap book.Snapshot, walletAvailable money.Amount, cfg Config) (Solution, bool) {
	budget := cfg.TimeBudget
	if budget <= 0 {
		budget = DefaultTimeBudget
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	a0 := cfg.StartAmount.Decimal()
	if walletAvailable.Decimal().LessThan(a0) {
		a0 = walletAvailable.Decimal()
	}
	if !a0.IsPositive() {
		return Solution{}, false
	}

	edgesByVertex, ok := buildGraph(snap, cfg)
	if !ok {
		return Solution{}, false
	}

	type result struct {
		sol      Solution
		ok       bool
		panicked any
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{panicked: r}
			}
		}()
		sols := search(ctx, cfg, snap, edgesByVertex, a0)
		sort.Slice(sols, func(i, j int) bool { return sols[i].ProfitUSD.GreaterThan(sols[j].ProfitUSD) })
		if len(sols) == 0 {
			done <- result{}
			return
		}
		done <- result{sol: sols[0], ok: true}
	}()

	select {
	case <-ctx.Done():
		return Solution{}, false
	case r := <-done:
		if r.panicked != nil {
			panic(r.panicked)
		}
		return r.sol, r.ok
	}
}

// buildGraph turns the snapshot's best bid/ask per pair into directed
// currency-conversion edges. A crossed book (best bid >= best ask) on any
// in-scope pair aborts the whole attempt rather than feeding a spurious
// buy-then-sell cycle into the search, per §3's "best bid < best ask at all
// times a solution is read" invariant.
func buildGraph(snap book.Snapshot, cfg Config) (map[string][]edge, bool) {
	inSet := make(map[string]bool, len(cfg.Currencies))
	for _, c := range cfg.Currencies {
		inSet[c] = true
	}
	graph := make(map[string][]edge)
	for _, p := range cfg.Pairs {
		if !inSet[p.Base] || !inSet[p.Quote] {
			continue
		}
		ask, hasAsk := snap.BestAsk(p.Symbol)
		bid, hasBid := snap.BestBid(p.Symbol)
		if hasAsk && hasBid && bid.Price.Decimal().GreaterThanOrEqual(ask.Price.Decimal()) {
			return nil, false
		}
		if hasAsk && !ask.Price.IsZero() {
			rate := decimal.NewFromInt(1).Div(ask.Price.Decimal())
			capacity := ask.Size.Decimal().Mul(ask.Price.Decimal()) // quote units
			e := edge{
				from: p.Quote, to: p.Base, symbol: p.Symbol, amountStep: p.AmountStep,
				rate: rate, capacityFrom: capacity, actionPrice: ask.Price, buysBase: true,
			}
			graph[p.Quote] = append(graph[p.Quote], e)
		}
		if hasBid {
			e := edge{
				from: p.Base, to: p.Quote, symbol: p.Symbol, amountStep: p.AmountStep,
				rate: bid.Price.Decimal(), capacityFrom: bid.Size.Decimal(), actionPrice: bid.Price, buysBase: false,
			}
			graph[p.Base] = append(graph[p.Base], e)
		}
	}
	return graph, true
}

// search performs the depth-first simple-cycle enumeration rooted at
// cfg.BaseCurrency, evaluating every cycle whose edge length falls within
// [MinPathLength, MaxPathLength].
func search(ctx context.Context, cfg Config, snap book.Snapshot, graph map[string][]edge, a0 decimal.Decimal) []Solution {
	var out []Solution
	visited := map[string]bool{cfg.BaseCurrency: true}
	var path []edge

	var dfs func(current string)
	dfs = func(current string) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if len(path) >= cfg.MaxPathLength {
			return
		}
		for _, e := range graph[current] {
			closing := e.to == cfg.BaseCurrency
			if !closing && visited[e.to] {
				continue
			}
			path = append(path, e)
			if closing {
				// A closing edge completes a simple cycle; evaluate it here
				// instead of recursing, so the walk never continues past c0
				// and revisits the base currency as an interior vertex.
				if len(path) >= cfg.MinPathLength {
					if sol, ok := evaluate(path, cfg, snap, a0); ok {
						out = append(out, sol)
					}
				}
			} else {
				visited[e.to] = true
				dfs(e.to)
				visited[e.to] = false
			}
			path = path[:len(path)-1]
		}
	}
	dfs(cfg.BaseCurrency)
	return out
}

// evaluate walks a candidate cycle forward, applying capacity caps and the
// taker fee at each hop, and checks admissibility.
func evaluate(path []edge, cfg Config, snap book.Snapshot, a0 decimal.Decimal) (Solution, bool) {
	if a0.IsZero() {
		return Solution{}, false
	}
	oneMinusFee := decimal.NewFromInt(1).Sub(cfg.TakerFee)

	// First pass: find the binding scale factor so the whole path uses a
	// single starting amount that respects every hop's capacity, per
	// "if capping binds, reduce a_i retroactively."
	scale := decimal.NewFromInt(1)
	cur := a0
	for _, e := range path {
		if cur.GreaterThan(e.capacityFrom) && cur.IsPositive() {
			ratio := e.capacityFrom.Div(cur)
			if ratio.LessThan(scale) {
				scale = ratio
			}
		}
		cur = cur.Mul(e.rate).Mul(oneMinusFee)
	}
	boundA0 := a0.Mul(scale)
	if !boundA0.IsPositive() {
		return Solution{}, false
	}

	instructions := make([]Instruction, 0, len(path))
	cur = boundA0
	for _, e := range path {
		// Order amounts are always expressed in the pair's base currency,
		// rounded to its step, whichever side of the book the hop trades.
		var rawBaseAmount decimal.Decimal
		if e.buysBase {
			rawBaseAmount = cur.Div(e.actionPrice.Decimal())
		} else {
			rawBaseAmount = cur
		}
		baseRounded := money.RoundStep(rawBaseAmount, e.amountStep)
		baseCurrency := baseCurrencyFor(e)
		minSize := minOrderSize(cfg, baseCurrency)
		if baseRounded.Decimal().LessThan(minSize.Decimal()) {
			return Solution{}, false
		}

		var signed money.Amount
		var spentOrReceived decimal.Decimal // amount of `e.from` this hop consumes
		if e.buysBase {
			signed = baseRounded
			spentOrReceived = baseRounded.Decimal().Mul(e.actionPrice.Decimal())
		} else {
			signed = baseRounded.Neg()
			spentOrReceived = baseRounded.Decimal()
		}
		instructions = append(instructions, Instruction{
			Symbol: e.symbol, ActionPrice: e.actionPrice, ActionAmount: signed,
		})
		cur = spentOrReceived.Mul(e.rate).Mul(oneMinusFee)
	}
	instructions = append(instructions, Instruction{EndMarker: true})

	profitBase := cur.Sub(boundA0)
	if !profitBase.IsPositive() {
		return Solution{}, false
	}

	profitUSD, ok := convertToUSD(cfg, snap, cfg.BaseCurrency, profitBase)
	if !ok || profitUSD.LessThan(cfg.MinProfitUSD.Decimal()) {
		return Solution{}, false
	}

	return Solution{Instructions: instructions, ProfitBase: profitBase, ProfitUSD: profitUSD}, true
}

func baseCurrencyFor(e edge) string {
	if e.buysBase {
		return e.to
	}
	return e.from
}

func minOrderSize(cfg Config, currency string) money.Amount {
	if v, ok := cfg.MinOrderSize[currency]; ok {
		return v
	}
	return cfg.MinOrderSize["OTHER"]
}

// convertToUSD expresses amountInBase (denominated in baseCurrency) as a USD
// value, using cfg.USDReference to look up a per-unit USD rate for
// baseCurrency against the same snapshot the cycle was solved on.
func convertToUSD(cfg Config, snap book.Snapshot, baseCurrency string, amountInBase decimal.Decimal) (decimal.Decimal, bool) {
	if cfg.USDReference == nil {
		return decimal.Zero, false
	}
	rate, ok := cfg.USDReference(snap, baseCurrency)
	if !ok {
		return decimal.Zero, false
	}
	return amountInBase.Mul(rate), true
}
