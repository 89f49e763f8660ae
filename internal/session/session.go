// Package session owns the single websocket connection to the venue: the
// authentication handshake, maintenance-mode transitions, reconnect and
// resubscribe, and routing of every inbound frame to the owning store. The
// dial/backoff/reconnect shape is adapted from a persistent-stream market
// data client's supervisory loop to this venue's auth+subscribe protocol.
package session

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/coachpo/triarb/errs"
	"github.com/coachpo/triarb/internal/book"
	"github.com/coachpo/triarb/internal/money"
	"github.com/coachpo/triarb/internal/orderstore"
	"github.com/coachpo/triarb/internal/subscription"
	"github.com/coachpo/triarb/internal/wallet"
	"github.com/coachpo/triarb/internal/wire"
)

// APIVersion is the protocol version compiled into this build; an info
// frame advertising a different version is a fatal mismatch (§4.3, §7).
const APIVersion = 2

// DefaultReconnectInterval is the supervisory timer's period used when
// Config.ReconnectInterval is non-positive (§4.3).
const DefaultReconnectInterval = 2500 * time.Millisecond

// calcBatchSize is the maximum number of wallet keys folded into a single
// outbound calc request (§5: 30 per batch).
const calcBatchSize = 30

// calcFlushInterval is how often the pending calc queue is checked for
// work; the limiter below is what actually bounds the send rate to 8
// batches/second (§5), this just needs to be finer-grained than that.
const calcFlushInterval = 50 * time.Millisecond

// Config configures a Session.
type Config struct {
	URL               string
	APIKey            string
	APISecret         string
	RequiredSymbols   []string
	ReconnectInterval time.Duration // non-positive falls back to DefaultReconnectInterval
}

func (c Config) reconnectInterval() time.Duration {
	if c.ReconnectInterval <= 0 {
		return DefaultReconnectInterval
	}
	return c.ReconnectInterval
}

// NotificationHandler receives request-level acknowledgments the order
// chain coordinator depends on.
type NotificationHandler func(wire.Notification)

// OrderHandler receives every order snapshot/update after it has been
// upserted into the shared orderstore, the order chain coordinator's
// second input alongside NotificationHandler.
type OrderHandler func(orderstore.Order)

// TradeHandler receives every execution report's order id after it has
// been recorded into the shared orderstore.
type TradeHandler func(orderID string)

// Session owns the connection lifecycle and all inbound frame routing.
type Session struct {
	cfg Config
	log *log.Logger

	registry *subscription.Registry
	books    *book.Store
	wallets  *wallet.Store
	orders   *orderstore.Store

	onNotification NotificationHandler
	onOrder        OrderHandler
	onTrade        TradeHandler

	connMu sync.Mutex
	conn   *websocket.Conn

	connected   atomic.Bool
	connecting  atomic.Bool
	maintenance atomic.Bool
	authed      atomic.Bool
	capMu       sync.RWMutex
	caps        wire.Auth

	fatal chan error

	sendMu sync.Mutex

	calcMu      sync.Mutex
	pendingCalc map[string]struct{}
	calcLimiter *rate.Limiter
}

// New constructs a Session wired to the given stores and registry.
// onOrder and onTrade may be nil; they are only needed once an order chain
// coordinator is active.
func New(cfg Config, logger *log.Logger, registry *subscription.Registry, books *book.Store, wallets *wallet.Store, orders *orderstore.Store, onNotification NotificationHandler, onOrder OrderHandler, onTrade TradeHandler) *Session {
	if logger == nil {
		logger = log.New(log.Writer(), "session ", log.LstdFlags)
	}
	return &Session{
		cfg:            cfg,
		log:            logger,
		registry:       registry,
		books:          books,
		wallets:        wallets,
		orders:         orders,
		onNotification: onNotification,
		onOrder:        onOrder,
		onTrade:        onTrade,
		fatal:          make(chan error, 1),
		pendingCalc:    make(map[string]struct{}),
		calcLimiter:    rate.NewLimiter(rate.Limit(8), 8),
	}
}

// Connected reports whether the underlying websocket is currently open.
func (s *Session) Connected() bool { return s.connected.Load() }

// Connecting reports whether a connection attempt is in flight.
func (s *Session) Connecting() bool { return s.connecting.Load() }

// InMaintenance reports whether the venue has signaled maintenance mode.
func (s *Session) InMaintenance() bool { return s.maintenance.Load() }

// Authenticated reports whether the auth handshake succeeded.
func (s *Session) Authenticated() bool { return s.authed.Load() }

// CanTrade reports whether the stored capability matrix grants both
// orders.read and orders.write.
func (s *Session) CanTrade() bool {
	s.capMu.RLock()
	defer s.capMu.RUnlock()
	return s.caps.CanTrade()
}

// Fatal returns a channel that receives at most one error, sent on a
// protocol version mismatch (§7). Sending it does not stop the session, and
// the engine does not read this channel.
func (s *Session) Fatal() <-chan error { return s.fatal }

// Run dials the venue and services the connection until ctx is canceled. It
// also starts the 2.5s supervisory reconnect timer described in §4.3/§5.
func (s *Session) Run(ctx context.Context) {
	go s.supervise(ctx)
	go s.calcBatcher(ctx)
	s.connectOnce(ctx)
}

// calcBatcher drains pendingCalc at most calcBatchSize keys at a time,
// throttled to 8 batches/second by calcLimiter (§5).
func (s *Session) calcBatcher(ctx context.Context) {
	ticker := time.NewTicker(calcFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flushCalcBatch(ctx)
		}
	}
}

func (s *Session) flushCalcBatch(ctx context.Context) {
	s.calcMu.Lock()
	if len(s.pendingCalc) == 0 {
		s.calcMu.Unlock()
		return
	}
	keys := make([]string, 0, calcBatchSize)
	for k := range s.pendingCalc {
		keys = append(keys, k)
		if len(keys) == calcBatchSize {
			break
		}
	}
	for _, k := range keys {
		delete(s.pendingCalc, k)
	}
	s.calcMu.Unlock()

	if err := s.calcLimiter.Wait(ctx); err != nil {
		return
	}
	raw, err := wire.BuildCalcBalance(keys)
	if err != nil {
		s.log.Printf("build calc batch: %v", err)
		return
	}
	if err := s.SendRaw(ctx, raw); err != nil {
		s.log.Printf("send calc batch: %v", err)
	}
}

// queueCalc enqueues a wallet recomputation request, coalesced with any
// other keys still pending the next batch flush.
func (s *Session) queueCalc(walletType, currency string) {
	s.calcMu.Lock()
	s.pendingCalc[wire.WalletKey(walletType, currency)] = struct{}{}
	s.calcMu.Unlock()
}

func (s *Session) supervise(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.reconnectInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.connected.Load() && !s.connecting.Load() {
				s.registry.Clear()
				s.connectOnce(ctx)
			}
		}
	}
}

func (s *Session) connectOnce(ctx context.Context) {
	if s.connecting.Load() {
		return
	}
	s.connecting.Store(true)
	defer s.connecting.Store(false)

	conn, err := s.dialWithBackoff(ctx)
	if err != nil {
		s.log.Printf("dial %s: %v", s.cfg.URL, err)
		return
	}
	conn.SetReadLimit(8 * 1024 * 1024)

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.connected.Store(true)
	s.authed.Store(false)

	if err := s.authenticate(ctx); err != nil {
		s.log.Printf("authenticate: %v", err)
	}
	if err := s.resubscribeAll(ctx); err != nil {
		s.log.Printf("resubscribe: %v", err)
	}

	go s.readLoop(ctx, conn)
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		s.connected.Store(false)
		s.connMu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.connMu.Unlock()
	}()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Printf("read: %v", err)
			}
			return
		}
		frame, err := wire.Decode(data)
		if err != nil {
			s.log.Printf("decode frame: %v", err)
			continue
		}
		s.handle(ctx, frame)
	}
}

// handle dispatches a decoded frame to the owning store or control path.
func (s *Session) handle(ctx context.Context, frame wire.Frame) {
	switch f := frame.(type) {
	case wire.Info:
		s.handleInfo(ctx, f)
	case wire.Subscribed:
		s.registry.Confirm(f.Channel, f.Symbol, f.ChanID)
	case wire.Unsubscribed:
		s.registry.Remove(f.ChanID)
	case wire.Auth:
		s.handleAuth(f)
	case wire.ErrorFrame:
		s.log.Printf("%v", errs.New("session", errs.CodeExchange,
			errs.WithRawCode(strconv.Itoa(f.Code)), errs.WithRawMessage(f.Msg)))
	case wire.Heartbeat:
		// dropped
	case wire.Wallet:
		s.handleWallet(f)
	case wire.OrderReport:
		s.handleOrder(f)
	case wire.Trade:
		s.handleTrade(f)
	case wire.Notification:
		if s.onNotification != nil {
			s.onNotification(f)
		}
	case wire.BookUpdate:
		s.registry.Dispatch(f.ChanID, f.Payload)
	case wire.Unknown:
		s.log.Printf("dropping unknown frame: %s", string(f.Raw))
	default:
		s.log.Printf("unhandled frame type %T", frame)
	}
}

func (s *Session) handleInfo(ctx context.Context, f wire.Info) {
	if f.Version != 0 && f.Version != APIVersion {
		err := errs.New("session", errs.CodeVersionMismatch,
			errs.WithMessage(fmt.Sprintf("venue protocol version %d != compiled %d", f.Version, APIVersion)))
		select {
		case s.fatal <- err:
		default:
		}
		return
	}
	switch wire.InfoCode(f.Code) {
	case wire.InfoCodeRestart:
		s.connected.Store(false)
		s.closeConn()
	case wire.InfoCodeMaintenanceIn:
		s.maintenance.Store(true)
		s.log.Printf("%v", errs.New("session", errs.CodeExchange,
			errs.WithCanonicalCode(errs.CanonicalMaintenanceMode), errs.WithMessage("venue entered maintenance")))
	case wire.InfoCodeMaintenanceOut:
		s.maintenance.Store(false)
		s.registry.Clear()
		if err := s.authenticate(ctx); err != nil {
			s.log.Printf("re-authenticate after maintenance: %v", err)
		}
		if err := s.resubscribeAll(ctx); err != nil {
			s.log.Printf("resubscribe after maintenance: %v", err)
		}
	}
}

func (s *Session) handleAuth(f wire.Auth) {
	s.capMu.Lock()
	s.caps = f
	s.capMu.Unlock()
	s.authed.Store(f.Status == "OK")
	if f.Status != "OK" {
		s.log.Printf("%v", errs.New("session", errs.CodeAuth, errs.WithMessage(fmt.Sprintf("auth status=%s", f.Status))))
		return
	}
	if !f.CanTrade() {
		s.log.Printf("%v", errs.New("session", errs.CodeAuth,
			errs.WithCanonicalCode(errs.CanonicalCapabilityMissing),
			errs.WithMessage(fmt.Sprintf("capability shortfall, trading disabled: caps=%v", f.Capabilities))))
	}
}

func (s *Session) handleWallet(f wire.Wallet) {
	total, err := money.ParseAmount(f.Balance)
	if err != nil {
		s.log.Printf("wallet balance parse: %v", err)
		return
	}
	key := wallet.Key{WalletType: f.WalletType, Currency: f.Currency}
	if f.BalanceAvailable == nil {
		s.wallets.Invalidate(key)
		s.queueCalc(f.WalletType, f.Currency)
		return
	}
	avail, err := money.ParseAmount(*f.BalanceAvailable)
	if err != nil {
		s.wallets.Invalidate(key)
		return
	}
	s.wallets.Update(key, wallet.Balance{Total: total, Available: &avail})
}

func (s *Session) handleOrder(f wire.OrderReport) {
	order := orderstore.Order{
		ID:           f.ID,
		ClientID:     f.ClientID,
		ClientIDDate: f.ClientIDDate,
		GID:          f.GID,
		Symbol:       f.Symbol,
		Type:         f.Type,
		AmountSigned: f.AmountSigned,
		Price:        f.Price,
		Status:       orderstore.Status(f.Status),
		UpdatedAt:    time.Now(),
	}
	s.orders.Upsert(order)
	if s.onOrder != nil {
		s.onOrder(order)
	}
}

func (s *Session) handleTrade(f wire.Trade) {
	s.orders.RecordTrade(orderstore.Trade{
		OrderID:   f.OrderID,
		Symbol:    f.Symbol,
		Price:     f.Price,
		Amount:    f.Amount,
		Fee:       f.Fee,
		FeeAsset:  f.FeeAsset,
		Timestamp: time.Now(),
	})
	if s.onTrade != nil {
		s.onTrade(f.OrderID)
	}
}

// bookHandler binds a confirmed book channel's payloads to symbol, routed
// through the subscription registry's Dispatch rather than a direct
// chan-id-to-symbol lookup at read time.
func (s *Session) bookHandler(symbol string) subscription.Handler {
	return func(payload any) {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			return
		}
		applyBookPayload(s.books, symbol, raw)
	}
}

// applyBookPayload interprets a book-channel payload: either a snapshot
// (an array of [price, count, amount] triples) or a single delta (one
// [price, count, amount] triple).
func applyBookPayload(store *book.Store, symbol string, payload json.RawMessage) {
	var triple [3]json.RawMessage
	if err := json.Unmarshal(payload, &triple); err == nil {
		if lvl, ok := decodeTriple(triple); ok {
			_ = store.ApplyDelta(symbol, lvl.Price, lvl.Count, signedAmount(lvl))
			return
		}
	}

	var rows [][3]json.RawMessage
	if err := json.Unmarshal(payload, &rows); err != nil {
		return
	}
	var bids, asks []book.Level
	for _, row := range rows {
		lvl, ok := decodeTriple(row)
		if !ok {
			continue
		}
		if lvl.bidSide {
			bids = append(bids, book.Level{Price: lvl.Price, Count: lvl.Count, Size: lvl.Size})
		} else {
			asks = append(asks, book.Level{Price: lvl.Price, Count: lvl.Count, Size: lvl.Size})
		}
	}
	store.ApplySnapshot(symbol, bids, asks)
}

type rawLevel struct {
	Price   money.Price
	Count   int
	Size    money.Amount
	bidSide bool
}

func decodeTriple(triple [3]json.RawMessage) (rawLevel, bool) {
	var priceStr string
	var count int
	var amount string
	if err := json.Unmarshal(triple[0], &priceStr); err != nil {
		var f float64
		if err2 := json.Unmarshal(triple[0], &f); err2 != nil {
			return rawLevel{}, false
		}
		priceStr = fmt.Sprintf("%v", f)
	}
	if err := json.Unmarshal(triple[1], &count); err != nil {
		return rawLevel{}, false
	}
	if err := json.Unmarshal(triple[2], &amount); err != nil {
		var f float64
		if err2 := json.Unmarshal(triple[2], &f); err2 != nil {
			return rawLevel{}, false
		}
		amount = fmt.Sprintf("%v", f)
	}
	price, err := money.ParsePrice(priceStr)
	if err != nil {
		return rawLevel{}, false
	}
	amt, err := money.ParseAmount(amount)
	if err != nil {
		return rawLevel{}, false
	}
	return rawLevel{Price: price, Count: count, Size: amt.Abs(), bidSide: amt.Sign() >= 0}, true
}

func signedAmount(l rawLevel) money.Amount {
	if l.bidSide {
		return l.Size
	}
	return l.Size.Neg()
}

func (s *Session) authenticate(ctx context.Context) error {
	req := wire.BuildAuthRequest(s.cfg.APIKey, s.cfg.APISecret, time.Now())
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return s.send(ctx, raw)
}

func (s *Session) resubscribeAll(ctx context.Context) error {
	for _, symbol := range s.cfg.RequiredSymbols {
		s.registry.Add(subscription.Request{Channel: "book", Symbol: symbol}, s.bookHandler(symbol))
		raw, err := json.Marshal(wire.BuildSubscribeBook(symbol))
		if err != nil {
			return err
		}
		if err := s.send(ctx, raw); err != nil {
			return err
		}
	}
	return nil
}

// UnsubscribeAll clears the registry and closes the connection; used on
// stop() per §5. It sends no per-channel unsubscribe frames: the venue-side
// subscriptions end with the connection.
func (s *Session) UnsubscribeAll(ctx context.Context) {
	s.registry.Clear()
	s.closeConn()
}

func (s *Session) closeConn() {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
}

// Send serializes and writes an arbitrary outbound payload.
func (s *Session) Send(ctx context.Context, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.send(ctx, raw)
}

// SendRaw writes already-marshaled bytes (used by the order chain, which
// builds frames with the wire package's Build* helpers).
func (s *Session) SendRaw(ctx context.Context, raw []byte) error {
	return s.send(ctx, raw)
}

func (s *Session) send(ctx context.Context, raw []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return errs.New("session", errs.CodeNetwork, errs.WithMessage("not connected"))
	}
	return conn.Write(ctx, websocket.MessageText, raw)
}

// dialWithBackoff retries the initial dial a bounded number of times within
// one supervisory tick, pacing retries with an exponential backoff capped at
// the configured reconnect interval; a failure after the bound is surfaced
// to the caller and picked up again by the next supervisory tick.
func (s *Session) dialWithBackoff(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = s.cfg.reconnectInterval()

	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		conn, _, err := websocket.Dial(ctx, s.cfg.URL, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}
