package cycle

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/triarb/internal/book"
)

// USDPairReference builds a USDReference function that looks up a currency's
// USD price via a direct pair against usdQuote (e.g. "USD"), using the
// snapshot's best bid as the conservative (sell-side) reference price.
// usdQuote itself is treated as already USD-denominated; usdQuote must be a
// literal currency code, not the cycle's own base currency, or the chained
// symbolFor lookup below can never run.
func USDPairReference(usdQuote string, symbolFor func(currency string) (string, bool)) func(snap book.Snapshot, currency string) (decimal.Decimal, bool) {
	return func(snap book.Snapshot, currency string) (decimal.Decimal, bool) {
		if currency == usdQuote {
			return decimal.NewFromInt(1), true
		}
		symbol, ok := symbolFor(currency)
		if !ok {
			return decimal.Zero, false
		}
		lvl, ok := snap.BestBid(symbol)
		if !ok {
			return decimal.Zero, false
		}
		return lvl.Price.Decimal(), true
	}
}
