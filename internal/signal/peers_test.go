package signal

import (
	"reflect"
	"sort"
	"testing"
)

func TestKnownPeers(t *testing.T) {
	p := NewKnownPeers()

	if !p.Observe("x") {
		t.Fatal("first sighting should report new")
	}
	if p.Observe("x") {
		t.Fatal("second sighting should be a duplicate")
	}
	p.Observe("y")
	if p.Len() != 2 {
		t.Fatalf("expected 2 peers, got %d", p.Len())
	}

	if !p.Forget("x") {
		t.Fatal("forgetting a known peer should report true")
	}
	if p.Forget("x") {
		t.Fatal("forgetting twice should report false")
	}
	if p.Contains("x") {
		t.Fatal("x should be gone")
	}

	p.Observe("z")
	got := p.Drain()
	sort.Strings(got)
	if !reflect.DeepEqual(got, []string{"y", "z"}) {
		t.Fatalf("unexpected drain: %v", got)
	}
	if p.Len() != 0 {
		t.Fatal("drain should empty the set")
	}
}
