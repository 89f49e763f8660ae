// Package engine assembles the session controller, stores, solver loop and
// order-chain coordinator into the single long-running process described by
// §5: start() opens the connection and the supervisory reconnect timer,
// waits out a settle delay, then starts the trading timer; stop() drains any
// in-flight chain before tearing the connection down. Folded into a
// reusable type so cmd/triarb/main.go stays a thin flag-and-signal shim.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coachpo/triarb/internal/book"
	"github.com/coachpo/triarb/internal/config"
	"github.com/coachpo/triarb/internal/cycle"
	"github.com/coachpo/triarb/internal/guard"
	"github.com/coachpo/triarb/internal/money"
	"github.com/coachpo/triarb/internal/orderstore"
	"github.com/coachpo/triarb/internal/session"
	"github.com/coachpo/triarb/internal/subscription"
	"github.com/coachpo/triarb/internal/telemetry"
	"github.com/coachpo/triarb/internal/trading"
	"github.com/coachpo/triarb/internal/wallet"
	"github.com/coachpo/triarb/internal/wire"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
)

// StartupDelay is the settle period between opening the connection and
// arming the trading timer (§5), giving the initial book snapshots and wallet
// balance time to arrive before the solver runs for the first time.
const StartupDelay = 5 * time.Second

// StopPollInterval is how often stop() checks whether a chain is still in
// flight before unsubscribing and tearing the connection down (§5).
const StopPollInterval = 50 * time.Millisecond

// timeoutCheckInterval is how often the engine polls the active chain for
// per-step and whole-chain timeouts (§4.5).
const timeoutCheckInterval = 250 * time.Millisecond

// ChainOutcomeRecorder persists a finished chain's result. A postgres.Sink
// satisfies this; it is optional.
type ChainOutcomeRecorder interface {
	RecordChainOutcome(ctx context.Context, baseCurrency string, sol cycle.Solution, outcome string) error
}

// Engine owns every long-lived component and exposes only Start/Stop: per
// §5, it does not own a CLI of its own.
type Engine struct {
	cfg config.Config
	log *log.Logger

	registry *subscription.Registry
	books    *book.Store
	wallets  *wallet.Store
	orders   *orderstore.Store
	session  *session.Session
	loop     *trading.Loop
	metrics  *telemetry.Metrics

	lifecycleMu sync.Mutex
	loopCancel  context.CancelFunc
	lifecycle   conc.WaitGroup
}

// New builds an Engine from a resolved configuration. sink, metrics and
// recorder may be nil; a nil sink falls back to book.NopSink.
func New(cfg config.Config, sink book.Sink, logger *log.Logger, metrics *telemetry.Metrics, recorder ChainOutcomeRecorder) (*Engine, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "engine ", log.LstdFlags)
	}

	cycleCfg, err := buildCycleConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: build solver config: %w", err)
	}

	var g *guard.Guard
	if cfg.ExtraGuardScriptPath != "" {
		source, err := os.ReadFile(cfg.ExtraGuardScriptPath) // #nosec G304 -- operator-controlled path
		if err != nil {
			return nil, fmt.Errorf("engine: read guard script: %w", err)
		}
		g, err = guard.Load(cfg.ExtraGuardScriptPath, string(source), 200*time.Millisecond)
		if err != nil {
			return nil, fmt.Errorf("engine: load guard script: %w", err)
		}
	}

	e := &Engine{cfg: cfg, log: logger, metrics: metrics}

	registry := subscription.NewRegistry()
	books := book.NewStore(sink)
	wallets := wallet.NewStore()
	orders := orderstore.NewStore()

	sessionCfg := session.Config{
		URL:               cfg.VenueURL,
		APIKey:            cfg.APIKey,
		APISecret:         cfg.APISecret,
		RequiredSymbols:   cfg.RequiredSymbols,
		ReconnectInterval: cfg.ReconnectInterval,
	}
	sess := session.New(sessionCfg, logger, registry, books, wallets, orders,
		e.dispatchNotification, e.dispatchOrder, e.dispatchTrade)

	loop := trading.New(cycleCfg, time.Duration(cfg.MinTradingIntervalMs)*time.Millisecond,
		sess, registry, books, wallets, orders, g, metrics, recorder, cfg.RequiredSymbols, logger,
		cfg.StepTimeout, cfg.ChainTotalTimeout)

	e.registry = registry
	e.books = books
	e.wallets = wallets
	e.orders = orders
	e.session = sess
	e.loop = loop
	return e, nil
}

// dispatchNotification forwards request-level acks to the active chain, if
// any; there is no active chain between trading attempts.
func (e *Engine) dispatchNotification(n wire.Notification) {
	if c := e.loop.ActiveChain(); c != nil {
		c.OnNotification(context.Background(), n)
	}
}

func (e *Engine) dispatchOrder(o orderstore.Order) {
	if c := e.loop.ActiveChain(); c != nil {
		c.OnOrder(context.Background(), o)
	}
}

func (e *Engine) dispatchTrade(orderID string) {
	if c := e.loop.ActiveChain(); c != nil {
		c.OnTrade(context.Background(), orderID)
	}
}

// Start opens the venue connection, arms the supervisory reconnect timer,
// waits StartupDelay for initial state to arrive, then starts the trading
// timer and the chain-timeout poller (§5).
func (e *Engine) Start(ctx context.Context) {
	e.session.Run(ctx)

	e.lifecycle.Go(func() {
		select {
		case <-time.After(StartupDelay):
		case <-ctx.Done():
			return
		}
		e.log.Print("startup delay elapsed, arming trading loop")

		loopCtx, cancel := context.WithCancel(ctx)
		e.lifecycleMu.Lock()
		e.loopCancel = cancel
		e.lifecycleMu.Unlock()
		e.lifecycle.Go(func() { e.loop.Run(loopCtx) })
		e.lifecycle.Go(func() { e.pollTimeouts(loopCtx) })
	})
}

func (e *Engine) pollTimeouts(ctx context.Context) {
	ticker := time.NewTicker(timeoutCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c := e.loop.ActiveChain(); c != nil {
				c.CheckTimeouts(ctx)
			}
		}
	}
}

// Stop waits for any in-flight chain to finish, then clears the
// subscription registry and closes the connection (§5). ctx bounds how long it waits before giving up and
// tearing down anyway. The context passed to Start must also be canceled by
// the caller so any goroutine still waiting out the startup delay unblocks.
func (e *Engine) Stop(ctx context.Context) {
	e.lifecycleMu.Lock()
	cancel := e.loopCancel
	e.lifecycleMu.Unlock()
	if cancel != nil {
		cancel()
	}
	ticker := time.NewTicker(StopPollInterval)
	defer ticker.Stop()
waitForIdle:
	for e.loop.ActiveChain() != nil {
		select {
		case <-ctx.Done():
			e.log.Print("stop: timed out waiting for active chain, tearing down anyway")
			break waitForIdle
		case <-ticker.C:
		}
	}
	e.session.UnsubscribeAll(ctx)
	e.lifecycle.Wait()
}

// Books exposes the order-book store for persistence snapshotting.
func (e *Engine) Books() *book.Store { return e.books }

func buildCycleConfig(cfg config.Config) (cycle.Config, error) {
	startAmount, err := money.ParseAmount(cfg.StartAmount)
	if err != nil {
		return cycle.Config{}, fmt.Errorf("parse maxAmount: %w", err)
	}
	minProfit, err := money.ParseAmount(cfg.MinPathProfitUSD)
	if err != nil {
		return cycle.Config{}, fmt.Errorf("parse minPathProfitUsd: %w", err)
	}
	takerFee, err := decimal.NewFromString(cfg.TakerFee)
	if err != nil {
		return cycle.Config{}, fmt.Errorf("parse takerFee: %w", err)
	}

	minOrderSize := make(map[string]money.Amount, len(cfg.MinOrderSizes))
	for currency, raw := range cfg.MinOrderSizeMap() {
		amt, err := money.ParseAmount(raw)
		if err != nil {
			return cycle.Config{}, fmt.Errorf("parse minOrderSize for %s: %w", currency, err)
		}
		minOrderSize[currency] = amt
	}

	usdQuote := cfg.USDQuoteCurrency
	if usdQuote == "" {
		usdQuote = "USD"
	}
	symbolFor := func(currency string) (string, bool) {
		for _, p := range cfg.Pairs {
			if p.Base == currency && p.Quote == usdQuote {
				return p.Symbol, true
			}
		}
		return "", false
	}

	return cycle.Config{
		Currencies:    cfg.Currencies,
		Pairs:         cfg.PairSpecs(),
		BaseCurrency:  cfg.BaseCurrency,
		StartAmount:   startAmount,
		MinPathLength: cfg.MinPathLength,
		MaxPathLength: cfg.MaxPathLength,
		MinProfitUSD:  minProfit,
		TakerFee:      takerFee,
		MinOrderSize:  minOrderSize,
		TimeBudget:    cfg.SolverTimeBudget,
		USDReference:  cycle.USDPairReference(usdQuote, symbolFor),
	}, nil
}
