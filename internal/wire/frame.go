// Package wire decodes the venue's streaming JSON frames into the tagged
// variants the session controller dispatches on: dynamic, heterogeneous
// wire payloads become concrete Go types instead of being threaded through
// the rest of the engine as raw JSON.
package wire

import (
	"github.com/goccy/go-json"
)

// Frame is the sum type every decoded inbound message satisfies.
type Frame interface{ frameTag() string }

// Info is a control event carrying the venue's protocol version and,
// optionally, an operational code (maintenance, restart, ...).
type Info struct {
	Version int    `json:"version"`
	Code    int    `json:"code,omitempty"`
	Msg     string `json:"msg,omitempty"`
}

func (Info) frameTag() string { return "info" }

// InfoCode enumerates the operational codes the session controller reacts to.
type InfoCode int

const (
	InfoCodeRestart         InfoCode = 20051
	InfoCodeMaintenanceIn   InfoCode = 20060
	InfoCodeMaintenanceOut  InfoCode = 20061
)

// Subscribed acknowledges a subscription request.
type Subscribed struct {
	Channel string `json:"channel"`
	ChanID  int64  `json:"chanId"`
	Symbol  string `json:"symbol"`
}

func (Subscribed) frameTag() string { return "subscribed" }

// Unsubscribed acknowledges an unsubscribe request.
type Unsubscribed struct {
	ChanID int64  `json:"chanId"`
	Status string `json:"status"`
}

func (Unsubscribed) frameTag() string { return "unsubscribed" }

// Auth reports the outcome of an authentication handshake.
type Auth struct {
	Status       string            `json:"status"`
	ChanID       int64             `json:"chanId"`
	Capabilities map[string]int    `json:"caps,omitempty"`
	Code         int               `json:"code,omitempty"`
}

func (Auth) frameTag() string { return "auth" }

// CanTrade reports whether the capability matrix grants both required bits.
func (a Auth) CanTrade() bool {
	return a.Capabilities["orders.read"] == 1 && a.Capabilities["orders.write"] == 1
}

// ErrorFrame reports a control-plane error.
type ErrorFrame struct {
	Msg  string `json:"msg"`
	Code int    `json:"code"`
}

func (ErrorFrame) frameTag() string { return "error" }

// Heartbeat is the "hb" data message, always dropped.
type Heartbeat struct{ ChanID int64 }

func (Heartbeat) frameTag() string { return "hb" }

// Wallet carries a "ws"/"wu" balance report.
type Wallet struct {
	ChanID            int64
	MsgType           string
	WalletType        string
	Currency          string
	Balance           string
	BalanceAvailable  *string
}

func (Wallet) frameTag() string { return "wallet" }

// OrderReport carries an "os"/"on"/"ou"/"oc" order snapshot or update.
type OrderReport struct {
	ChanID       int64
	MsgType      string
	ID           string
	ClientID     uint64
	ClientIDDate string
	GID          int64
	Symbol       string
	Type         string
	AmountSigned string
	Price        string
	Status       string
}

func (OrderReport) frameTag() string { return "order" }

// Trade carries a "te"/"tu" execution report.
type Trade struct {
	ChanID    int64
	MsgType   string
	OrderID   string
	Symbol    string
	Price     string
	Amount    string
	Fee       string
	FeeAsset  string
}

func (Trade) frameTag() string { return "trade" }

// Notification carries an "n" frame acknowledging a request-level action
// such as on-req/oc-req.
type Notification struct {
	ChanID int64
	Type   string
	Info   any
	Status string
	Text   string
}

func (Notification) frameTag() string { return "notification" }

// BookUpdate carries a data frame on a non-zero channel: either a snapshot
// (array of levels) or a single-level delta. The payload is left as decoded
// JSON for the session's book-channel handler to interpret.
type BookUpdate struct {
	ChanID  int64
	Payload json.RawMessage
}

func (BookUpdate) frameTag() string { return "book" }

// Unknown is returned for any tag the core does not recognize; callers log
// and drop it per the error handling design.
type Unknown struct {
	Raw json.RawMessage
}

func (Unknown) frameTag() string { return "unknown" }
