package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/coachpo/triarb/internal/book"
	"github.com/coachpo/triarb/internal/cycle"
	"github.com/coachpo/triarb/internal/money"
)

func TestSinkNilPoolReturnsError(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	price, err := money.ParsePrice("50000")
	if err != nil {
		t.Fatalf("ParsePrice: %v", err)
	}
	size, err := money.ParseAmount("1")
	if err != nil {
		t.Fatalf("ParseAmount: %v", err)
	}
	levels := []book.Level{{Price: price, Count: 1, Size: size}}

	if err := s.PersistLadders(ctx, "tBTCUSD", levels, levels); err == nil {
		t.Fatalf("expected an error when pool is nil")
	}

	sol := cycle.Solution{ProfitBase: decimal.NewFromInt(1), ProfitUSD: decimal.NewFromInt(1)}
	if err := s.RecordChainOutcome(ctx, "USD", sol, "DONE"); err == nil {
		t.Fatalf("expected an error when pool is nil")
	}
}

func TestLevelsToWireFormatsDecimalStrings(t *testing.T) {
	price, _ := money.ParsePrice("100.10")
	size, _ := money.ParseAmount("5")
	wire := levelsToWire([]book.Level{{Price: price, Count: 2, Size: size}})
	if len(wire) != 1 || wire[0].Price != "100.1" || wire[0].Count != 2 || wire[0].Size != "5" {
		t.Fatalf("unexpected wire levels: %+v", wire)
	}
}
