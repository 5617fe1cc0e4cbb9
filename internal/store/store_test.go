package store

import "testing"

func TestDirectKeyCanonicalOrder(t *testing.T) {
	if DirectKey(7, 3) != DirectKey(3, 7) {
		t.Fatal("direct key depends on argument order")
	}
	if got, want := DirectKey(3, 7), "dm:3:7"; got != want {
		t.Fatalf("key = %q, want %q", got, want)
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []Status{StatusOnline, StatusAway, StatusDoNotDisturb, StatusOffline} {
		if !ValidStatus(s) {
			t.Fatalf("%q rejected", s)
		}
	}
	if ValidStatus("invisible") {
		t.Fatal("unknown status accepted")
	}
}
