package wire

import (
	"testing"
	"time"
)

func TestDecodeInfoFrame(t *testing.T) {
	f, err := Decode([]byte(`{"event":"info","version":2}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	info, ok := f.(Info)
	if !ok || info.Version != 2 {
		t.Fatalf("expected Info{Version:2}, got %#v", f)
	}
}

func TestDecodeSubscribedFrame(t *testing.T) {
	f, err := Decode([]byte(`{"event":"subscribed","channel":"book","chanId":5,"symbol":"tBTCUSD"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	sub, ok := f.(Subscribed)
	if !ok || sub.ChanID != 5 || sub.Symbol != "tBTCUSD" {
		t.Fatalf("unexpected frame: %#v", f)
	}
}

func TestDecodeAuthCapabilities(t *testing.T) {
	f, err := Decode([]byte(`{"event":"auth","status":"OK","chanId":0,"caps":{"orders.read":1,"orders.write":1}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	auth, ok := f.(Auth)
	if !ok || !auth.CanTrade() {
		t.Fatalf("expected trading-capable auth, got %#v", f)
	}
}

func TestDecodeHeartbeat(t *testing.T) {
	f, err := Decode([]byte(`[0,"hb"]`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := f.(Heartbeat); !ok {
		t.Fatalf("expected Heartbeat, got %#v", f)
	}
}

func TestDecodeBookUpdateFallsThroughOnNonStringMsgType(t *testing.T) {
	f, err := Decode([]byte(`[5,[["100.10",1,5]]]`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	bu, ok := f.(BookUpdate)
	if !ok || bu.ChanID != 5 {
		t.Fatalf("expected BookUpdate on chan 5, got %#v", f)
	}
}

func TestDecodeUnknownEventIsDropped(t *testing.T) {
	f, err := Decode([]byte(`{"event":"something-new"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := f.(Unknown); !ok {
		t.Fatalf("expected Unknown frame, got %#v", f)
	}
}

func TestDecodeMalformedFrameErrors(t *testing.T) {
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed frame")
	}
	if _, err := Decode([]byte(``)); err == nil {
		t.Fatalf("expected error for empty frame")
	}
}

func TestBuildAuthRequestSignatureIsHexSHA384(t *testing.T) {
	req := BuildAuthRequest("key", "secret", time.Unix(1700000000, 0))
	if len(req.AuthSig) != 96 {
		t.Fatalf("expected a 96-character hex SHA384 digest, got %d chars", len(req.AuthSig))
	}
	for _, c := range req.AuthSig {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Fatalf("expected lowercase hex digest, got %q", req.AuthSig)
		}
	}
}

func TestDecodeOrderInfoExtractsClientID(t *testing.T) {
	row := []byte(`[1234,0,987654321,"tBTCUSD",0,0,"0.01","0.01","EXCHANGE LIMIT",null,null,null,0,"ACTIVE",null,null,"50000",0,0,0,null,null,null]`)
	o, ok := DecodeOrderInfo(row)
	if !ok {
		t.Fatalf("expected DecodeOrderInfo to succeed")
	}
	if o.ID != "1234" || o.ClientID != 987654321 || o.Symbol != "tBTCUSD" { // numeric row[0]=1234 decodes to "1234"
		t.Fatalf("unexpected decode: %+v", o)
	}
}

func TestBuildNewOrderShape(t *testing.T) {
	raw, err := BuildNewOrder(NewOrderPayload{CID: 123, Type: "EXCHANGE LIMIT", Symbol: "tBTCUSD", Amount: "0.01", Price: "50000"})
	if err != nil {
		t.Fatalf("BuildNewOrder: %v", err)
	}
	want := `[0,"on",null,{"cid":123,"type":"EXCHANGE LIMIT","symbol":"tBTCUSD","amount":"0.01","price":"50000","hidden":0}]`
	if string(raw) != want {
		t.Fatalf("got %s, want %s", raw, want)
	}
}
