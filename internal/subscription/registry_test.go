package subscription

import "testing"

func TestConfirmMatchesExactlyOneUnconfirmedRequest(t *testing.T) {
	r := NewRegistry()
	var got any
	r.Add(Request{Channel: "book", Symbol: "tBTCUSD"}, func(p any) { got = p })

	r.Confirm("book", "tBTCUSD", 42)
	if !r.AllBooksReady([]string{"tBTCUSD"}) {
		t.Fatalf("expected book subscription to be ready")
	}

	r.Dispatch(42, "payload")
	if got != "payload" {
		t.Fatalf("expected dispatch to reach handler, got %v", got)
	}
}

func TestConfirmWithNoMatchIsSilentNoop(t *testing.T) {
	r := NewRegistry()
	r.Add(Request{Channel: "book", Symbol: "tBTCUSD"}, nil)
	r.Confirm("book", "tETHUSD", 7)
	if r.AllBooksReady([]string{"tBTCUSD"}) {
		t.Fatalf("expected no subscription confirmed")
	}
}

func TestAllBooksReadyRequiresSetEquality(t *testing.T) {
	r := NewRegistry()
	r.Add(Request{Channel: "book", Symbol: "tBTCUSD"}, nil)
	r.Add(Request{Channel: "book", Symbol: "tETHUSD"}, nil)
	r.Confirm("book", "tBTCUSD", 1)
	r.Confirm("book", "tETHUSD", 2)

	if r.AllBooksReady([]string{"tBTCUSD"}) {
		t.Fatalf("expected extra confirmed subscription to break set equality")
	}
	if !r.AllBooksReady([]string{"tBTCUSD", "tETHUSD"}) {
		t.Fatalf("expected both confirmed subscriptions to satisfy required set")
	}
}

func TestRemoveAndClear(t *testing.T) {
	r := NewRegistry()
	r.Add(Request{Channel: "book", Symbol: "tBTCUSD"}, nil)
	r.Confirm("book", "tBTCUSD", 1)
	r.Remove(1)
	if r.AllBooksReady([]string{"tBTCUSD"}) {
		t.Fatalf("expected removed subscription to no longer be ready")
	}

	r.Add(Request{Channel: "book", Symbol: "tBTCUSD"}, nil)
	r.Confirm("book", "tBTCUSD", 2)
	r.Clear()
	if r.AllBooksReady([]string{"tBTCUSD"}) {
		t.Fatalf("expected Clear to drop confirmed subscriptions")
	}
}

func TestDispatchDropsUnknownChannel(t *testing.T) {
	r := NewRegistry()
	r.Dispatch(99, "ignored") // must not panic
}
