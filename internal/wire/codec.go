package wire

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// Decode parses one inbound frame: either a JSON object (a control event) or
// a JSON array [chan_id, msg_type, payload] (a data event). Malformed frames
// return an error so the caller can log and drop them, per the error
// handling design's "malformed frames are dropped with a log" policy.
func Decode(raw []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("wire: empty frame")
	}
	switch trimmed[0] {
	case '{':
		return decodeControl(trimmed)
	case '[':
		return decodeData(trimmed)
	default:
		return nil, fmt.Errorf("wire: frame does not start with '{' or '['")
	}
}

func decodeControl(raw []byte) (Frame, error) {
	var head struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("wire: decode control head: %w", err)
	}
	switch head.Event {
	case "info":
		var f Info
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("wire: decode info: %w", err)
		}
		return f, nil
	case "subscribed":
		var f Subscribed
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("wire: decode subscribed: %w", err)
		}
		return f, nil
	case "unsubscribed":
		var f Unsubscribed
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("wire: decode unsubscribed: %w", err)
		}
		return f, nil
	case "auth":
		var f Auth
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("wire: decode auth: %w", err)
		}
		return f, nil
	case "error":
		var f ErrorFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("wire: decode error: %w", err)
		}
		return f, nil
	default:
		return Unknown{Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func decodeData(raw []byte) (Frame, error) {
	var envelope []json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("wire: decode data envelope: %w", err)
	}
	if len(envelope) < 2 {
		return nil, fmt.Errorf("wire: data envelope too short")
	}
	var chanID int64
	if err := json.Unmarshal(envelope[0], &chanID); err != nil {
		return nil, fmt.Errorf("wire: decode chan_id: %w", err)
	}

	// Heartbeats and channel-0 control messages carry a msg_type string in
	// position 1; raw book updates instead carry the level payload directly
	// in position 1 (no type tag), which the session's book handler interprets.
	var msgType string
	if err := json.Unmarshal(envelope[1], &msgType); err != nil {
		return BookUpdate{ChanID: chanID, Payload: envelope[1]}, nil
	}

	switch msgType {
	case "hb":
		return Heartbeat{ChanID: chanID}, nil
	case "ws", "wu":
		return decodeWallet(chanID, msgType, envelope)
	case "os", "on", "ou", "oc":
		return decodeOrder(chanID, msgType, envelope)
	case "te", "tu":
		return decodeTrade(chanID, msgType, envelope)
	case "n":
		return decodeNotification(chanID, envelope)
	default:
		return Unknown{Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func payloadOf(envelope []json.RawMessage) json.RawMessage {
	if len(envelope) < 3 {
		return nil
	}
	return envelope[2]
}

func decodeWallet(chanID int64, msgType string, envelope []json.RawMessage) (Frame, error) {
	var row []json.RawMessage
	if err := json.Unmarshal(payloadOf(envelope), &row); err != nil || len(row) < 3 {
		return nil, fmt.Errorf("wire: decode wallet payload")
	}
	var walletType, currency, balance string
	var available *string
	_ = json.Unmarshal(row[0], &walletType)
	_ = json.Unmarshal(row[1], &currency)
	_ = json.Unmarshal(row[2], &balance)
	if len(row) > 4 {
		var a string
		if err := json.Unmarshal(row[4], &a); err == nil {
			available = &a
		}
	}
	return Wallet{
		ChanID:           chanID,
		MsgType:          msgType,
		WalletType:       walletType,
		Currency:         currency,
		Balance:          balance,
		BalanceAvailable: available,
	}, nil
}

func decodeOrder(chanID int64, msgType string, envelope []json.RawMessage) (Frame, error) {
	var row []json.RawMessage
	if err := json.Unmarshal(payloadOf(envelope), &row); err != nil || len(row) < 9 {
		return nil, fmt.Errorf("wire: decode order payload")
	}
	var o OrderReport
	o.ChanID = chanID
	o.MsgType = msgType
	o.ID = decodeOrderID(row[0])
	_ = json.Unmarshal(row[1], &o.GID)
	_ = json.Unmarshal(row[2], &o.ClientID)
	_ = json.Unmarshal(row[3], &o.Symbol)
	_ = json.Unmarshal(row[6], &o.AmountSigned)
	_ = json.Unmarshal(row[8], &o.Type)
	if len(row) > 16 {
		_ = json.Unmarshal(row[16], &o.Price)
	}
	if len(row) > 13 {
		_ = json.Unmarshal(row[13], &o.Status)
	}
	return o, nil
}

// decodeOrderID accepts either the venue's numeric order id or a
// pre-stringified one, always returning a plain decimal string.
func decodeOrderID(raw json.RawMessage) string {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

func decodeTrade(chanID int64, msgType string, envelope []json.RawMessage) (Frame, error) {
	var row []json.RawMessage
	if err := json.Unmarshal(payloadOf(envelope), &row); err != nil || len(row) < 6 {
		return nil, fmt.Errorf("wire: decode trade payload")
	}
	var tr Trade
	tr.ChanID = chanID
	tr.MsgType = msgType
	_ = json.Unmarshal(row[3], &tr.Symbol)
	_ = json.Unmarshal(row[4], &tr.Amount)
	_ = json.Unmarshal(row[5], &tr.Price)
	if len(row) > 2 {
		_ = json.Unmarshal(row[2], &tr.OrderID)
	}
	return tr, nil
}

// DecodeOrderInfo parses the nested order row carried in a notification's
// Info field (e.g. the proposed order echoed back by an "on-req"
// acknowledgment), using the same column layout as a full order report.
func DecodeOrderInfo(raw json.RawMessage) (OrderReport, bool) {
	var row []json.RawMessage
	if err := json.Unmarshal(raw, &row); err != nil || len(row) < 9 {
		return OrderReport{}, false
	}
	var o OrderReport
	o.ID = decodeOrderID(row[0])
	_ = json.Unmarshal(row[1], &o.GID)
	_ = json.Unmarshal(row[2], &o.ClientID)
	_ = json.Unmarshal(row[3], &o.Symbol)
	_ = json.Unmarshal(row[6], &o.AmountSigned)
	_ = json.Unmarshal(row[8], &o.Type)
	if len(row) > 16 {
		_ = json.Unmarshal(row[16], &o.Price)
	}
	if len(row) > 13 {
		_ = json.Unmarshal(row[13], &o.Status)
	}
	return o, true
}

func decodeNotification(chanID int64, envelope []json.RawMessage) (Frame, error) {
	var row []json.RawMessage
	if err := json.Unmarshal(payloadOf(envelope), &row); err != nil || len(row) < 7 {
		return nil, fmt.Errorf("wire: decode notification payload")
	}
	var n Notification
	n.ChanID = chanID
	_ = json.Unmarshal(row[1], &n.Type)
	n.Info = row[4]
	_ = json.Unmarshal(row[6], &n.Status)
	if len(row) > 7 {
		_ = json.Unmarshal(row[7], &n.Text)
	}
	return n, nil
}
