package domain

import (
	"testing"
)

func TestOrderTypeValid(t *testing.T) {
	for _, typ := range []OrderType{OrderTypeDineIn, OrderTypeCollection, OrderTypeDelivery, OrderTypeWaiting} {
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if OrderType("TAKEAWAY").Valid() {
		t.Errorf("unknown order type must be invalid")
	}
}

func TestDraftSessionItemsRoundTrip(t *testing.T) {
	s := &DraftOrderSession{}
	in := []OrderItem{
		{MenuItemID: "m1", Name: "Margherita", Quantity: 2, UnitPrice: 9.5, Modifiers: []string{"extra cheese"}},
		{MenuItemID: "m2", Name: "Cola", Quantity: 1, UnitPrice: 2, Notes: "no ice"},
	}
	if err := s.SetItems(in); err != nil {
		t.Fatalf("SetItems: %v", err)
	}
	out, err := s.Items()
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if len(out) != 2 || out[0].MenuItemID != "m1" || out[1].Notes != "no ice" {
		t.Fatalf("round-trip mismatch: %+v", out)
	}
}

func TestDraftSessionItems_CorruptColumn(t *testing.T) {
	s := &DraftOrderSession{ItemsJSON: "{not json"}
	if _, err := s.Items(); err == nil {
		t.Fatalf("expected error for corrupt snapshot column")
	}
}

func TestDraftSessionItems_Empty(t *testing.T) {
	s := &DraftOrderSession{}
	items, err := s.Items()
	if err != nil || items != nil {
		t.Fatalf("empty column should decode to nil, got %v err=%v", items, err)
	}
}

func TestPrintJobTerminal(t *testing.T) {
	cases := []struct {
		name   string
		job    PrintJob
		max    int
		expect bool
	}{
		{"queued", PrintJob{Status: JobQueued}, 3, false},
		{"succeeded immutable", PrintJob{Status: JobSucceeded}, 3, true},
		{"failed below ceiling", PrintJob{Status: JobFailed, AttemptCount: 2}, 3, false},
		{"failed at ceiling", PrintJob{Status: JobFailed, AttemptCount: 3}, 3, true},
		{"failed past ceiling", PrintJob{Status: JobFailed, AttemptCount: 5}, 3, true},
	}
	for _, tc := range cases {
		if got := tc.job.Terminal(tc.max); got != tc.expect {
			t.Errorf("%s: Terminal(%d) = %v; want %v", tc.name, tc.max, got, tc.expect)
		}
	}
}

func TestCustomerTabHasItems(t *testing.T) {
	tab := &CustomerTab{}
	if tab.HasItems() {
		t.Errorf("empty tab should not report items")
	}
	tab.Items = []OrderItem{{MenuItemID: "m1", Quantity: 1}}
	if !tab.HasItems() {
		t.Errorf("tab with a line should report items")
	}
}
