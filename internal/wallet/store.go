// Package wallet tracks per-(wallet-type, currency) balances reported by the
// venue, including staleness after a balance is invalidated pending a calc
// recomputation request.
package wallet

import (
	"sync"

	"github.com/coachpo/triarb/internal/money"
)

// Key identifies a wallet by type (e.g. "exchange", "margin", "funding")
// and currency.
type Key struct {
	WalletType string
	Currency   string
}

// Balance captures the reported total and available balance for a wallet.
// Available is a pointer: nil means "stale — recomputation required", per
// the data model and Open Question (c).
type Balance struct {
	Total     money.Amount
	Available *money.Amount
}

// Store holds the latest known balance per wallet key.
type Store struct {
	mu       sync.RWMutex
	balances map[Key]Balance
}

// NewStore constructs an empty wallet Store.
func NewStore() *Store {
	return &Store{balances: make(map[Key]Balance)}
}

// Update records a fresh balance report (a "ws"/"wu" frame).
func (s *Store) Update(key Key, bal Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[key] = bal
}

// Invalidate marks a wallet's available balance as stale, forcing callers to
// treat it as unusable until a calc response refreshes it.
func (s *Store) Invalidate(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.balances[key]
	bal.Available = nil
	s.balances[key] = bal
}

// Get returns the current balance for key, if any.
func (s *Store) Get(key Key) (Balance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bal, ok := s.balances[key]
	return bal, ok
}

// Available returns the usable available balance for (walletType, currency).
// It returns (amount, false) when the wallet is unknown or currently stale,
// matching the "unusable until recompute returns" contract from Open
// Question (c).
func (s *Store) Available(walletType, currency string) (money.Amount, bool) {
	bal, ok := s.Get(Key{WalletType: walletType, Currency: currency})
	if !ok || bal.Available == nil {
		return money.Amount{}, false
	}
	return *bal.Available, true
}
