package session

import (
	"context"
	"testing"

	"github.com/coachpo/triarb/internal/book"
	"github.com/coachpo/triarb/internal/orderstore"
	"github.com/coachpo/triarb/internal/subscription"
	"github.com/coachpo/triarb/internal/wallet"
	"github.com/coachpo/triarb/internal/wire"
)

func newTestSession() *Session {
	return New(Config{URL: "wss://example.invalid", RequiredSymbols: []string{"tBTCUSD"}}, nil,
		subscription.NewRegistry(), book.NewStore(nil), wallet.NewStore(), orderstore.NewStore(), nil, nil, nil)
}

func TestApplyBookPayloadSnapshotAndDelta(t *testing.T) {
	store := book.NewStore(nil)
	snapshot := []byte(`[["100.10",1,-5],["100.20",2,-10]]`)
	applyBookPayload(store, "tBTCUSD", snapshot)

	best, ok := store.BestAsk("tBTCUSD")
	if !ok || best.Price.String() != "100.1" {
		t.Fatalf("expected best ask 100.10, got %+v ok=%v", best, ok)
	}

	delta := []byte(`["100.10",0,-1]`)
	applyBookPayload(store, "tBTCUSD", delta)

	best, ok = store.BestAsk("tBTCUSD")
	if !ok || best.Price.String() != "100.2" {
		t.Fatalf("expected remaining ask 100.20, got %+v ok=%v", best, ok)
	}
}

func TestBookHandlerRoutesThroughRegistryDispatch(t *testing.T) {
	s := newTestSession()
	s.registry.Add(subscription.Request{Channel: "book", Symbol: "tBTCUSD"}, s.bookHandler("tBTCUSD"))
	s.registry.Confirm("book", "tBTCUSD", 5)

	s.registry.Dispatch(5, wire.BookUpdate{ChanID: 5, Payload: []byte(`["100.10",1,-5]`)}.Payload)

	best, ok := s.books.BestAsk("tBTCUSD")
	if !ok || best.Price.String() != "100.1" {
		t.Fatalf("expected the registry to dispatch the payload into the book store, got %+v ok=%v", best, ok)
	}
}

func TestHandleInfoVersionMismatchIsFatal(t *testing.T) {
	s := newTestSession()
	s.handleInfo(context.Background(), wire.Info{Version: APIVersion + 1})

	select {
	case err := <-s.Fatal():
		if err == nil {
			t.Fatalf("expected non-nil fatal error")
		}
	default:
		t.Fatalf("expected a fatal error to be signaled")
	}
}

func TestHandleInfoMaintenanceTransitions(t *testing.T) {
	s := newTestSession()
	s.handleInfo(context.Background(), wire.Info{Version: APIVersion, Code: int(wire.InfoCodeMaintenanceIn)})
	if !s.InMaintenance() {
		t.Fatalf("expected maintenance mode to be entered")
	}

	s.handleInfo(context.Background(), wire.Info{Version: APIVersion, Code: int(wire.InfoCodeMaintenanceOut)})
	if s.InMaintenance() {
		t.Fatalf("expected maintenance mode to be cleared")
	}
}

func TestHandleAuthCapabilities(t *testing.T) {
	s := newTestSession()
	s.handleAuth(wire.Auth{Status: "OK", Capabilities: map[string]int{"orders.read": 1, "orders.write": 1}})
	if !s.Authenticated() || !s.CanTrade() {
		t.Fatalf("expected authenticated session with trading capability")
	}
}

func TestHandleAuthFailureLeavesTradingDisabled(t *testing.T) {
	s := newTestSession()
	s.handleAuth(wire.Auth{Status: "FAILED"})
	if s.Authenticated() || s.CanTrade() {
		t.Fatalf("expected auth failure to leave trading disabled")
	}
}

func TestHandleWalletQueuesCalcRequestOnStaleness(t *testing.T) {
	s := newTestSession()
	s.handleWallet(wire.Wallet{WalletType: "exchange", Currency: "USD", Balance: "1000"})

	s.calcMu.Lock()
	_, queued := s.pendingCalc[wire.WalletKey("exchange", "USD")]
	s.calcMu.Unlock()
	if !queued {
		t.Fatalf("expected a stale wallet update to queue a calc request")
	}

	s.flushCalcBatch(context.Background())

	s.calcMu.Lock()
	_, stillQueued := s.pendingCalc[wire.WalletKey("exchange", "USD")]
	s.calcMu.Unlock()
	if stillQueued {
		t.Fatalf("expected flushCalcBatch to drain the pending key")
	}
}

func TestHandleWalletStalenessOnNilAvailable(t *testing.T) {
	s := newTestSession()
	s.handleWallet(wire.Wallet{WalletType: "exchange", Currency: "USD", Balance: "1000"})
	if _, ok := s.wallets.Available("exchange", "USD"); ok {
		t.Fatalf("expected stale wallet to be unavailable")
	}

	avail := "900"
	s.handleWallet(wire.Wallet{WalletType: "exchange", Currency: "USD", Balance: "1000", BalanceAvailable: &avail})
	got, ok := s.wallets.Available("exchange", "USD")
	if !ok || got.String() != "900" {
		t.Fatalf("expected available 900, got %v ok=%v", got, ok)
	}
}
