// Package chain drives a sequence of dependent new-order requests to
// completion or compensating cancel: one coordinator owns a strictly
// ordered list of steps, advances each on confirmation of the previous,
// and reacts to any step's terminal failure by canceling everything still
// open.
package chain

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachpo/triarb/errs"
	"github.com/coachpo/triarb/internal/cycle"
	"github.com/coachpo/triarb/internal/money"
	"github.com/coachpo/triarb/internal/orderstore"
	"github.com/coachpo/triarb/internal/wire"
)

// State is a step's lifecycle state, per §4.5.
type State string

const (
	StatePending  State = "PENDING"
	StateSubmitted State = "SUBMITTED"
	StateAckReq   State = "ACK_REQ"
	StateAckOrder State = "ACK_ORDER"
	StateFilled   State = "FILLED"
	StateCanceled State = "CANCELED"
	StateFailed   State = "FAILED"
)

func (s State) terminal() bool {
	return s == StateFilled || s == StateCanceled || s == StateFailed
}

func (s State) open() bool {
	return s == StateSubmitted || s == StateAckReq || s == StateAckOrder
}

// ChainState is the coordinator's overall lifecycle.
type ChainState string

const (
	ChainIdle        ChainState = "IDLE"
	ChainRunning     ChainState = "RUNNING"
	ChainCompensating ChainState = "COMPENSATING"
	ChainDone        ChainState = "DONE"
	ChainFailed      ChainState = "FAILED"
)

// DefaultStepTimeout is the per-step deadline used when New is given a
// non-positive stepTimeout: generous enough for a venue round trip (§5
// Cancellation/timeout).
const DefaultStepTimeout = 10 * time.Second

// DefaultTotalTimeout is the coarse one-minute hard cap used when New is
// given a non-positive totalTimeout (§4.5, §5).
const DefaultTotalTimeout = 60 * time.Second

// Sender transmits an already-marshaled outbound frame. Session satisfies
// this directly via SendRaw.
type Sender interface {
	SendRaw(ctx context.Context, raw []byte) error
}

// Step tracks one instruction's progress through the order lifecycle.
type Step struct {
	Index        int
	Instruction  cycle.Instruction
	ClientID     uint64
	ClientIDDate string
	OrderID      string
	State        State
	deadline     time.Time
}

// Chain coordinates a full cycle's instructions end to end.
type Chain struct {
	mu           sync.Mutex
	traceID      string
	steps        []*Step
	state        ChainState
	sender       Sender
	orders       *orderstore.Store
	log          *log.Logger
	started      time.Time
	onDone       func(ChainState)
	stepTimeout  time.Duration
	totalTimeout time.Duration
}

// New builds a Chain from a solved cycle's instructions, dropping the
// trailing end marker instruction the solver appends. Each chain is tagged
// with a fresh trace id so its log lines can be correlated across steps.
// stepTimeout and totalTimeout configure the per-step deadline and the
// whole-chain hard cap; a non-positive value falls back to
// DefaultStepTimeout/DefaultTotalTimeout.
func New(instructions []cycle.Instruction, sender Sender, orders *orderstore.Store, logger *log.Logger, stepTimeout, totalTimeout time.Duration, onDone func(ChainState)) *Chain {
	if logger == nil {
		logger = log.New(log.Writer(), "chain ", log.LstdFlags)
	}
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	if totalTimeout <= 0 {
		totalTimeout = DefaultTotalTimeout
	}
	steps := make([]*Step, 0, len(instructions))
	for i, ins := range instructions {
		if ins.EndMarker {
			continue
		}
		steps = append(steps, &Step{Index: i, Instruction: ins, State: StatePending})
	}
	return &Chain{
		traceID: uuid.NewString(), steps: steps, state: ChainIdle, sender: sender, orders: orders,
		log: logger, onDone: onDone, stepTimeout: stepTimeout, totalTimeout: totalTimeout,
	}
}

// TraceID identifies this chain instance across its log lines.
func (c *Chain) TraceID() string { return c.traceID }

// State reports the coordinator's current lifecycle state.
func (c *Chain) State() ChainState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether the chain has not yet reached a terminal state,
// the gate the Trading Loop checks before allowing a new solve (§4.5
// "at most one chain is active engine-wide").
func (c *Chain) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == ChainRunning || c.state == ChainCompensating
}

// Start submits step 0, the only step submitted on enqueue; every
// subsequent step advances only on the terminal FILLED event of its
// predecessor (§4.5 step ordering).
func (c *Chain) Start(ctx context.Context) error {
	c.mu.Lock()
	if len(c.steps) == 0 {
		c.state = ChainDone
		c.mu.Unlock()
		c.notifyDone(ChainDone)
		return nil
	}
	c.state = ChainRunning
	c.started = time.Now()
	step := c.steps[0]
	c.mu.Unlock()
	c.log.Printf("chain %s: starting, %d steps", c.traceID, len(c.steps))
	return c.submit(ctx, step)
}

func (c *Chain) submit(ctx context.Context, step *Step) error {
	cid, err := newClientID()
	if err != nil {
		return err
	}
	date := time.Now().UTC().Format("2006-01-02")

	c.mu.Lock()
	step.ClientID = cid
	step.ClientIDDate = date
	step.State = StateSubmitted
	step.deadline = time.Now().Add(c.stepTimeout)
	c.mu.Unlock()

	raw, err := wire.BuildNewOrder(wire.NewOrderPayload{
		CID:    cid,
		Type:   "EXCHANGE LIMIT",
		Symbol: step.Instruction.Symbol,
		Amount: step.Instruction.ActionAmount.String(),
		Price:  step.Instruction.ActionPrice.String(),
	})
	if err != nil {
		return err
	}
	return c.sender.SendRaw(ctx, raw)
}

// OnNotification handles an "on-req"/"oc-req" acknowledgment, advancing the
// matching step from SUBMITTED to ACK_REQ, or to FAILED on an ERROR status.
func (c *Chain) OnNotification(ctx context.Context, n wire.Notification) {
	raw, ok := n.Info.(json.RawMessage)
	if !ok {
		return
	}
	order, ok := wire.DecodeOrderInfo(raw)
	if !ok {
		return
	}

	c.mu.Lock()
	step := c.findByClientID(order.ClientID)
	if step == nil || step.State != StateSubmitted {
		c.mu.Unlock()
		return
	}
	if n.Status == "ERROR" {
		step.State = StateFailed
		c.mu.Unlock()
		c.onStepTerminal(ctx, step)
		return
	}
	step.State = StateAckReq
	c.mu.Unlock()
}

// OnOrder handles an "on"/"ou"/"oc" order snapshot or update, binding the
// venue order id (ACK_REQ -> ACK_ORDER) and reacting to venue-initiated
// cancellation or terminal execution.
func (c *Chain) OnOrder(ctx context.Context, o orderstore.Order) {
	c.mu.Lock()
	step := c.findByClientID(o.ClientID)
	if step == nil || step.State.terminal() {
		c.mu.Unlock()
		return
	}
	if step.State == StateAckReq {
		step.State = StateAckOrder
		step.OrderID = o.ID
	}
	switch o.Status {
	case orderstore.StatusCanceled, orderstore.StatusPostOnlyCanceled:
		step.State = StateCanceled
		c.mu.Unlock()
		c.onStepTerminal(ctx, step)
		return
	case orderstore.StatusExecuted:
		step.State = StateFilled
		c.mu.Unlock()
		c.onStepTerminal(ctx, step)
		return
	}
	c.mu.Unlock()
}

// OnTrade handles a "te"/"tu" execution by re-summing every recorded trade
// against orderID in the order store, marking the owning step FILLED once
// the cumulative filled amount reaches the instructed amount.
func (c *Chain) OnTrade(ctx context.Context, orderID string) {
	c.mu.Lock()
	var step *Step
	for _, s := range c.steps {
		if s.OrderID == orderID {
			step = s
			break
		}
	}
	if step == nil || step.State.terminal() {
		c.mu.Unlock()
		return
	}
	target := step.Instruction.ActionAmount.Abs()
	c.mu.Unlock()

	filled := money.NewAmount(decimal.Zero)
	for _, t := range c.orders.TradesFor(orderID) {
		amt, err := money.ParseAmount(t.Amount)
		if err != nil {
			continue
		}
		filled = money.NewAmount(filled.Decimal().Add(amt.Abs().Decimal()))
	}
	if !filled.GreaterThanOrEqual(target) {
		return
	}

	c.mu.Lock()
	if step.State.terminal() {
		c.mu.Unlock()
		return
	}
	step.State = StateFilled
	c.mu.Unlock()
	c.onStepTerminal(ctx, step)
}

// onStepTerminal advances the chain to its next step on FILLED. On FAILED or
// CANCELED it enters COMPENSATING, sends a cancel for every step still open,
// and then ends the chain as FAILED.
func (c *Chain) onStepTerminal(ctx context.Context, step *Step) {
	c.mu.Lock()
	if step.State == StateFilled {
		next := c.nextStepLocked(step.Index)
		if next == nil {
			c.state = ChainDone
			c.mu.Unlock()
			c.notifyDone(ChainDone)
			return
		}
		c.mu.Unlock()
		if err := c.submit(ctx, next); err != nil {
			c.log.Printf("submit step %d: %v", next.Index, err)
			c.mu.Lock()
			next.State = StateFailed
			c.mu.Unlock()
			c.onStepTerminal(ctx, next)
		}
		return
	}

	// FAILED or CANCELED: compensate every still-open step.
	c.state = ChainCompensating
	c.log.Printf("%v", errs.New("chain", errs.CodeExchange,
		errs.WithCanonicalCode(errs.CanonicalChainCompensating),
		errs.WithMessage(fmt.Sprintf("chain %s: step %d terminal, unwinding", c.traceID, step.Index))))
	open := make([]*Step, 0, len(c.steps))
	for _, s := range c.steps {
		if s.State.open() {
			open = append(open, s)
		}
	}
	c.mu.Unlock()

	for _, s := range open {
		c.cancelStep(ctx, s)
	}

	c.mu.Lock()
	c.state = ChainFailed
	c.mu.Unlock()
	c.notifyDone(ChainFailed)
}

func (c *Chain) cancelStep(ctx context.Context, s *Step) {
	var raw []byte
	var err error
	if s.OrderID != "" {
		raw, err = wire.BuildCancelByID(s.OrderID)
	} else {
		raw, err = wire.BuildCancelByClientID(s.ClientID, s.ClientIDDate)
	}
	if err != nil {
		c.log.Printf("build cancel for step %d: %v", s.Index, err)
		return
	}
	if err := c.sender.SendRaw(ctx, raw); err != nil {
		c.log.Printf("send cancel for step %d: %v", s.Index, err)
	}
}

// CheckTimeouts fails any step past its per-step deadline, or forces the
// whole chain into compensation past the coarse total deadline (§5).
func (c *Chain) CheckTimeouts(ctx context.Context) {
	c.mu.Lock()
	now := time.Now()
	if c.state == ChainRunning && !c.started.IsZero() && now.Sub(c.started) > c.totalTimeout {
		c.mu.Unlock()
		c.forceFail(ctx)
		return
	}
	var timedOut *Step
	for _, s := range c.steps {
		if s.State.open() && !s.deadline.IsZero() && now.After(s.deadline) {
			timedOut = s
			break
		}
	}
	if timedOut != nil {
		timedOut.State = StateFailed
	}
	c.mu.Unlock()
	if timedOut != nil {
		c.log.Printf("%v", errs.New("chain", errs.CodeTimeout,
			errs.WithMessage(fmt.Sprintf("step %d exceeded its deadline", timedOut.Index))))
		c.onStepTerminal(ctx, timedOut)
	}
}

func (c *Chain) forceFail(ctx context.Context) {
	c.mu.Lock()
	var anyOpen *Step
	for _, s := range c.steps {
		if s.State.open() {
			anyOpen = s
			break
		}
	}
	c.mu.Unlock()
	if anyOpen == nil {
		return
	}
	c.log.Printf("%v", errs.New("chain", errs.CodeTimeout, errs.WithMessage("chain total timeout exceeded, forcing compensation")))
	c.mu.Lock()
	anyOpen.State = StateFailed
	c.mu.Unlock()
	c.onStepTerminal(ctx, anyOpen)
}

func (c *Chain) nextStepLocked(currentIndex int) *Step {
	for _, s := range c.steps {
		if s.Index == currentIndex+1 {
			return s
		}
	}
	return nil
}

func (c *Chain) findByClientID(cid uint64) *Step {
	for _, s := range c.steps {
		if s.ClientID == cid {
			return s
		}
	}
	return nil
}

func (c *Chain) notifyDone(final ChainState) {
	c.log.Printf("chain %s: done, state=%s", c.traceID, final)
	if c.onDone != nil {
		c.onDone(final)
	}
}

// newClientID generates a fresh 45-bit random client id, regenerated on
// every submission (including retransmits) to keep uniqueness within a UTC
// day, per §4.5.
func newClientID() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("chain: generate client id: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]) & ((1 << 45) - 1), nil
}

