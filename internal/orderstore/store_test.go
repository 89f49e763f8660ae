package orderstore

import "testing"

func TestUpsertIndexesByIDAndClientID(t *testing.T) {
	s := NewStore()
	s.Upsert(Order{ID: "1001", ClientID: 42, ClientIDDate: "2026-08-06", Symbol: "tBTCUSD", Status: StatusActive})

	byID, ok := s.ByID("1001")
	if !ok || byID.Symbol != "tBTCUSD" {
		t.Fatalf("expected lookup by id to find order, got %+v ok=%v", byID, ok)
	}
	byClient, ok := s.ByClientID(42, "2026-08-06")
	if !ok || byClient.ID != "1001" {
		t.Fatalf("expected lookup by client id to find order, got %+v ok=%v", byClient, ok)
	}
	if !s.ClientIDInUse(42, "2026-08-06") {
		t.Fatalf("expected client id to be marked in use")
	}
	if s.ClientIDInUse(42, "2026-08-07") {
		t.Fatalf("expected client id scoped to its own date")
	}
}

func TestUpsertWithoutClientIDSkipsClientIndex(t *testing.T) {
	s := NewStore()
	s.Upsert(Order{ID: "2002", Symbol: "tETHUSD", Status: StatusActive})

	if _, ok := s.ByID("2002"); !ok {
		t.Fatalf("expected lookup by id to succeed")
	}
	if s.ClientIDInUse(0, "") {
		t.Fatalf("expected a zero client id to never be marked in use")
	}
}

func TestRecordTradeAccumulatesPerOrder(t *testing.T) {
	s := NewStore()
	s.RecordTrade(Trade{OrderID: "1001", Amount: "0.01"})
	s.RecordTrade(Trade{OrderID: "1001", Amount: "0.02"})
	s.RecordTrade(Trade{OrderID: "9999", Amount: "5"})

	trades := s.TradesFor("1001")
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades for order 1001, got %d", len(trades))
	}
	if len(s.TradesFor("absent")) != 0 {
		t.Fatalf("expected no trades for an unknown order")
	}
}

func TestUpsertReplacesPriorRecordForSameID(t *testing.T) {
	s := NewStore()
	s.Upsert(Order{ID: "1001", Status: StatusActive})
	s.Upsert(Order{ID: "1001", Status: StatusExecuted})

	o, ok := s.ByID("1001")
	if !ok || o.Status != StatusExecuted {
		t.Fatalf("expected the later upsert to win, got %+v ok=%v", o, ok)
	}
}
