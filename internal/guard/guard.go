// Package guard loads an optional JavaScript veto script that the Trading
// Loop consults before submitting a solved cycle: a compiled Program runs
// inside a fresh, isolated goja.Runtime instantiated per evaluation and
// torn down immediately after, so a misbehaving script can never retain
// state across trades.
package guard

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/coachpo/triarb/internal/cycle"
)

// ErrVetoed is returned by Evaluate when the script's allowTrade function
// returns a falsy value.
var ErrVetoed = fmt.Errorf("guard: trade vetoed by script")

// Guard wraps a compiled veto script. A nil *Guard always allows trading,
// matching the "optional extension" contract: the engine runs unguarded
// when no script is configured.
type Guard struct {
	program *goja.Program
	timeout time.Duration
}

// Load compiles source (the body of a script exposing an allowTrade(cycle)
// function) without executing it.
func Load(name, source string, timeout time.Duration) (*Guard, error) {
	program, err := goja.Compile(name, source, true)
	if err != nil {
		return nil, fmt.Errorf("guard: compile %s: %w", name, err)
	}
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &Guard{program: program, timeout: timeout}, nil
}

// solutionView is the read-only shape exposed to the script; it mirrors a
// Solution but with plain Go scalars goja can marshal without reflection
// surprises on decimal.Decimal.
type solutionView struct {
	ProfitBase string       `json:"profitBase"`
	ProfitUSD  string       `json:"profitUsd"`
	Hops       []hopView    `json:"hops"`
}

type hopView struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

func toSolutionView(sol cycle.Solution) solutionView {
	view := solutionView{ProfitBase: sol.ProfitBase.String(), ProfitUSD: sol.ProfitUSD.String()}
	for _, ins := range sol.Instructions {
		if ins.EndMarker {
			continue
		}
		view.Hops = append(view.Hops, hopView{
			Symbol: ins.Symbol,
			Price:  ins.ActionPrice.String(),
			Amount: ins.ActionAmount.String(),
		})
	}
	return view
}

// Evaluate runs the script's allowTrade function against sol in a fresh
// runtime, returning nil if the trade is allowed, ErrVetoed if the script
// returned false, or a wrapped error if the script misbehaved or exceeded
// its timeout.
func (g *Guard) Evaluate(sol cycle.Solution) error {
	if g == nil {
		return nil
	}

	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	done := make(chan error, 1)
	timer := time.AfterFunc(g.timeout, func() { rt.Interrupt("guard: evaluation timed out") })
	defer timer.Stop()

	go func() {
		if _, err := rt.RunProgram(g.program); err != nil {
			done <- fmt.Errorf("guard: run script: %w", err)
			return
		}
		fnValue := rt.Get("allowTrade")
		if goja.IsUndefined(fnValue) || goja.IsNull(fnValue) {
			done <- fmt.Errorf("guard: script does not define allowTrade")
			return
		}
		fn, ok := goja.AssertFunction(fnValue)
		if !ok {
			done <- fmt.Errorf("guard: allowTrade is not callable")
			return
		}
		result, err := fn(goja.Undefined(), rt.ToValue(toSolutionView(sol)))
		if err != nil {
			done <- fmt.Errorf("guard: allowTrade: %w", err)
			return
		}
		if result.ToBoolean() {
			done <- nil
			return
		}
		done <- ErrVetoed
	}()

	return <-done
}
