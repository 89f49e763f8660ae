package wallet

import (
	"testing"

	"github.com/coachpo/triarb/internal/money"
)

func TestStaleWalletIsUnusableUntilRecompute(t *testing.T) {
	s := NewStore()
	key := Key{WalletType: "exchange", Currency: "USD"}

	if _, ok := s.Available(key.WalletType, key.Currency); ok {
		t.Fatalf("expected unknown wallet to be unavailable")
	}

	avail, err := money.ParseAmount("1000")
	if err != nil {
		t.Fatalf("ParseAmount: %v", err)
	}
	s.Update(key, Balance{Total: avail, Available: &avail})

	got, ok := s.Available(key.WalletType, key.Currency)
	if !ok || got.String() != "1000" {
		t.Fatalf("expected available balance 1000, got %v ok=%v", got, ok)
	}

	s.Invalidate(key)
	if _, ok := s.Available(key.WalletType, key.Currency); ok {
		t.Fatalf("expected wallet to be stale after invalidation")
	}
}
