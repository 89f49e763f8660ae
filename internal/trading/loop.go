// Package trading paces solve attempts against the five guards of §4.6: a
// fixed-interval ticker fires, a set of cheap boolean checks gates the
// expensive work, and only a pass admits a side effect (here: a solver
// invocation and a fresh order chain).
package trading

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/coachpo/triarb/internal/book"
	"github.com/coachpo/triarb/internal/chain"
	"github.com/coachpo/triarb/internal/cycle"
	"github.com/coachpo/triarb/internal/guard"
	"github.com/coachpo/triarb/internal/money"
	"github.com/coachpo/triarb/internal/orderstore"
	"github.com/coachpo/triarb/internal/telemetry"
	"github.com/coachpo/triarb/internal/wallet"
)

// SafetyTimeout is the coarse backstop that releases the trading flag even
// if a chain never reaches a terminal callback (§4.6, §5).
const SafetyTimeout = 60 * time.Second

// Session is the subset of session.Session the loop needs to gate on and
// submit through.
type Session interface {
	chain.Sender
	Connected() bool
	Connecting() bool
	InMaintenance() bool
	Authenticated() bool
	CanTrade() bool
}

// Registry is the subset of subscription.Registry the loop gates on.
type Registry interface {
	AllBooksReady(required []string) bool
}

// Recorder persists a finished chain's outcome durably. A
// postgres.Sink satisfies this; it is optional.
type Recorder interface {
	RecordChainOutcome(ctx context.Context, baseCurrency string, sol cycle.Solution, outcome string) error
}

// Loop drives the fixed-interval solve/chain cycle described in §4.6.
type Loop struct {
	cfg      cycle.Config
	interval time.Duration

	stepTimeout  time.Duration
	totalTimeout time.Duration

	session  Session
	registry Registry
	books    *book.Store
	wallets  *wallet.Store
	orders   *orderstore.Store
	guard    *guard.Guard
	metrics  *telemetry.Metrics
	recorder Recorder
	log      *log.Logger

	requiredSymbols []string

	trading atomic.Bool
	limiter *rate.Limiter

	chainMu sync.Mutex
	active  *chain.Chain
}

// New constructs a Loop. metrics, g and recorder may be nil. stepTimeout and
// totalTimeout are forwarded to every chain.New call this loop makes; a
// non-positive value falls back to chain's own defaults.
func New(cfg cycle.Config, interval time.Duration, session Session, registry Registry, books *book.Store, wallets *wallet.Store, orders *orderstore.Store, g *guard.Guard, metrics *telemetry.Metrics, recorder Recorder, requiredSymbols []string, logger *log.Logger, stepTimeout, totalTimeout time.Duration) *Loop {
	if logger == nil {
		logger = log.New(log.Writer(), "trading ", log.LstdFlags)
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Loop{
		cfg:             cfg,
		interval:        interval,
		stepTimeout:     stepTimeout,
		totalTimeout:    totalTimeout,
		session:         session,
		registry:        registry,
		books:           books,
		wallets:         wallets,
		orders:          orders,
		guard:           g,
		metrics:         metrics,
		recorder:        recorder,
		log:             logger,
		requiredSymbols: requiredSymbols,
		limiter:         rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Run fires an attempt every interval until ctx is canceled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.attempt(ctx)
		}
	}
}

// ActiveChain reports the chain currently in flight, if any, so the
// session's order/trade callbacks can be routed to it.
func (l *Loop) ActiveChain() *chain.Chain {
	l.chainMu.Lock()
	defer l.chainMu.Unlock()
	return l.active
}

func (l *Loop) attempt(ctx context.Context) {
	if !l.guardsPass() {
		return
	}
	if !l.trading.CompareAndSwap(false, true) {
		return
	}

	snap := l.books.SnapshotForSolver()
	walletAvail, _ := l.wallets.Available("exchange", l.cfg.BaseCurrency)

	start := time.Now()
	sol, found := l.solve(ctx, snap, walletAvail)
	l.metrics.RecordSolve(ctx, time.Since(start), found)
	l.metrics.RecordBookStaleness(ctx, time.Since(snap.TakenAt))

	if !found {
		l.trading.Store(false)
		return
	}
	if err := l.guard.Evaluate(sol); err != nil {
		l.log.Printf("guard vetoed candidate: %v", err)
		l.trading.Store(false)
		return
	}

	c := chain.New(sol.Instructions, l.session, l.orders, l.log, l.stepTimeout, l.totalTimeout, func(state chain.ChainState) {
		l.metrics.RecordChainOutcome(context.Background(), string(state))
		if l.recorder != nil {
			if err := l.recorder.RecordChainOutcome(context.Background(), l.cfg.BaseCurrency, sol, string(state)); err != nil {
				l.log.Printf("record chain outcome: %v", err)
			}
		}
		l.trading.Store(false)
		l.chainMu.Lock()
		l.active = nil
		l.chainMu.Unlock()
	})
	l.chainMu.Lock()
	l.active = c
	l.chainMu.Unlock()

	time.AfterFunc(SafetyTimeout, func() {
		if l.trading.CompareAndSwap(true, false) {
			l.chainMu.Lock()
			l.active = nil
			l.chainMu.Unlock()
			l.log.Printf("safety timeout releasing trading flag")
		}
	})

	if err := c.Start(ctx); err != nil {
		l.log.Printf("start chain: %v", err)
		l.trading.Store(false)
		l.chainMu.Lock()
		l.active = nil
		l.chainMu.Unlock()
	}
}

// solve runs the cycle search on a conc worker so a panic inside the DFS
// (e.g. a malformed book snapshot) is caught and logged rather than taking
// down the trading loop's own goroutine (§4.4).
func (l *Loop) solve(ctx context.Context, snap book.Snapshot, walletAvailable money.Amount) (sol cycle.Solution, found bool) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Printf("solver panic recovered: %v", r)
			found = false
		}
	}()
	var wg conc.WaitGroup
	wg.Go(func() {
		sol, found = cycle.Solve(ctx, snap, walletAvailable, l.cfg)
	})
	wg.Wait()
	return sol, found
}

func (l *Loop) guardsPass() bool {
	if !l.session.Connected() || l.session.Connecting() || l.session.InMaintenance() {
		return false
	}
	if !l.session.Authenticated() || !l.session.CanTrade() {
		return false
	}
	if !l.limiter.Allow() {
		return false
	}
	if !l.registry.AllBooksReady(l.requiredSymbols) {
		return false
	}
	if l.trading.Load() {
		return false
	}
	return true
}
