// Package postgres implements the durable persistence hooks (book ladder
// snapshots, chain outcomes) against PostgreSQL via jackc/pgx/v5:
// hand-written parameterized SQL over a shared *pgxpool.Pool, JSON-encoded
// for the nested/variable-shape columns.
package postgres

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/triarb/internal/book"
	"github.com/coachpo/triarb/internal/cycle"
)

// Sink persists book ladders and chain outcomes to PostgreSQL. It satisfies
// book.Sink so it can be wired directly into book.NewStore.
type Sink struct {
	pool *pgxpool.Pool
}

// New constructs a Sink backed by pool.
func New(pool *pgxpool.Pool) *Sink {
	return &Sink{pool: pool}
}

const ladderInsertSQL = `
INSERT INTO book_ladders (symbol, bids, asks, captured_at)
VALUES (@symbol, @bids::jsonb, @asks::jsonb, NOW());
`

// PersistLadders implements book.Sink, called from book.Store.Persist on
// the engine's 30s persistence ticker.
func (s *Sink) PersistLadders(ctx context.Context, symbol string, bids, asks []book.Level) error {
	if s.pool == nil {
		return fmt.Errorf("persistence: nil pool")
	}
	bidsJSON, err := json.Marshal(levelsToWire(bids))
	if err != nil {
		return fmt.Errorf("persistence: marshal bids: %w", err)
	}
	asksJSON, err := json.Marshal(levelsToWire(asks))
	if err != nil {
		return fmt.Errorf("persistence: marshal asks: %w", err)
	}
	_, err = s.pool.Exec(ctx, ladderInsertSQL, pgx.NamedArgs{
		"symbol": symbol,
		"bids":   bidsJSON,
		"asks":   asksJSON,
	})
	if err != nil {
		return fmt.Errorf("persistence: insert book_ladders: %w", err)
	}
	return nil
}

type levelWire struct {
	Price string `json:"price"`
	Count int    `json:"count"`
	Size  string `json:"size"`
}

func levelsToWire(levels []book.Level) []levelWire {
	out := make([]levelWire, 0, len(levels))
	for _, l := range levels {
		out = append(out, levelWire{Price: l.Price.String(), Count: l.Count, Size: l.Size.String()})
	}
	return out
}

const chainOutcomeInsertSQL = `
INSERT INTO chain_outcomes (base_currency, path_length, profit_base, profit_usd, outcome, instructions, completed_at)
VALUES (@base_currency, @path_length, @profit_base, @profit_usd, @outcome, @instructions::jsonb, NOW());
`

// RecordChainOutcome persists a completed cycle's trade path and final
// state, the hook the engine calls when a chain reaches a terminal state.
func (s *Sink) RecordChainOutcome(ctx context.Context, baseCurrency string, sol cycle.Solution, outcome string) error {
	if s.pool == nil {
		return fmt.Errorf("persistence: nil pool")
	}
	type instructionWire struct {
		Symbol    string `json:"symbol,omitempty"`
		Price     string `json:"price,omitempty"`
		Amount    string `json:"amount,omitempty"`
		EndMarker bool   `json:"endMarker,omitempty"`
	}
	path := make([]instructionWire, 0, len(sol.Instructions))
	for _, ins := range sol.Instructions {
		if ins.EndMarker {
			path = append(path, instructionWire{EndMarker: true})
			continue
		}
		path = append(path, instructionWire{Symbol: ins.Symbol, Price: ins.ActionPrice.String(), Amount: ins.ActionAmount.String()})
	}
	instructionsJSON, err := json.Marshal(path)
	if err != nil {
		return fmt.Errorf("persistence: marshal instructions: %w", err)
	}
	_, err = s.pool.Exec(ctx, chainOutcomeInsertSQL, pgx.NamedArgs{
		"base_currency": baseCurrency,
		"path_length":   len(sol.Instructions),
		"profit_base":   sol.ProfitBase.String(),
		"profit_usd":    sol.ProfitUSD.String(),
		"outcome":       outcome,
		"instructions":  instructionsJSON,
	})
	if err != nil {
		return fmt.Errorf("persistence: insert chain_outcomes: %w", err)
	}
	return nil
}
