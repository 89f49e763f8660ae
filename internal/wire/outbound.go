package wire

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// AuthRequest builds the outbound auth frame. The signature is an
// HMAC-SHA384 digest over the literal byte string "AUTH"+nonce+nonce, where
// nonce is the current wall-clock time in milliseconds times 1000 rendered
// as a decimal string, and the digest is rendered as lowercase hex, per
// §4.3.
type AuthRequest struct {
	Event       string `json:"event"`
	APIKey      string `json:"apiKey"`
	AuthSig     string `json:"authSig"`
	AuthPayload string `json:"authPayload"`
	AuthNonce   string `json:"authNonce"`
	Calc        int    `json:"calc"`
}

// BuildAuthRequest constructs a signed auth frame for apiKey/apiSecret at
// the given wall-clock time.
func BuildAuthRequest(apiKey, apiSecret string, now time.Time) AuthRequest {
	nonce := strconv.FormatInt(now.UnixMilli()*1000, 10)
	payload := "AUTH" + nonce
	sig := signAuthPayload(payload+nonce, apiSecret)
	return AuthRequest{
		Event:       "auth",
		APIKey:      apiKey,
		AuthSig:     sig,
		AuthPayload: payload + nonce,
		AuthNonce:   nonce,
		Calc:        1,
	}
}

func signAuthPayload(payload, secret string) string {
	mac := hmac.New(sha512.New384, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SubscribeBookRequest builds the outbound book-subscribe frame.
type SubscribeBookRequest struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
	Prec    string `json:"prec"`
	Freq    string `json:"freq"`
	Len     string `json:"len"`
}

// BuildSubscribeBook constructs a book-channel subscribe request for symbol.
func BuildSubscribeBook(symbol string) SubscribeBookRequest {
	return SubscribeBookRequest{
		Event:   "subscribe",
		Channel: "book",
		Symbol:  symbol,
		Prec:    "P0",
		Freq:    "F1",
		Len:     "100",
	}
}

// UnsubscribeRequest builds the outbound unsubscribe frame.
type UnsubscribeRequest struct {
	Event  string `json:"event"`
	ChanID int64  `json:"chanId"`
}

// BuildUnsubscribe constructs an unsubscribe request for chanID.
func BuildUnsubscribe(chanID int64) UnsubscribeRequest {
	return UnsubscribeRequest{Event: "unsubscribe", ChanID: chanID}
}

// NewOrderPayload is the body of an outbound new-order data frame.
type NewOrderPayload struct {
	GID    int64  `json:"gid,omitempty"`
	CID    uint64 `json:"cid"`
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
	Price  string `json:"price"`
	Hidden int    `json:"hidden"`
}

// BuildNewOrder marshals a new-order data frame: [0, "on", null, payload].
func BuildNewOrder(p NewOrderPayload) ([]byte, error) {
	return json.Marshal([]any{0, "on", nil, p})
}

// CancelByIDPayload cancels an order by venue-assigned id.
type CancelByIDPayload struct {
	ID string `json:"id"`
}

// BuildCancelByID marshals a cancel-by-id data frame.
func BuildCancelByID(id string) ([]byte, error) {
	return json.Marshal([]any{0, "oc", nil, CancelByIDPayload{ID: id}})
}

// CancelByClientIDPayload cancels an order by (client id, client id date).
type CancelByClientIDPayload struct {
	CID     uint64 `json:"cid"`
	CIDDate string `json:"cid_date"`
}

// BuildCancelByClientID marshals a cancel-by-client-id data frame.
func BuildCancelByClientID(cid uint64, date string) ([]byte, error) {
	return json.Marshal([]any{0, "oc", nil, CancelByClientIDPayload{CID: cid, CIDDate: date}})
}

// BuildCalcBalance marshals a balance recomputation request for the given
// wallet keys, formatted as "wallet_<type>_<currency>" strings.
func BuildCalcBalance(keys []string) ([]byte, error) {
	rows := make([][]string, len(keys))
	for i, k := range keys {
		rows[i] = []string{k}
	}
	return json.Marshal([]any{0, "calc", nil, rows})
}

// WalletKey formats a wallet recomputation key.
func WalletKey(walletType, currency string) string {
	return fmt.Sprintf("wallet_%s_%s", walletType, currency)
}
