package xid

import (
	"strings"
	"testing"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("po")
	b := New("po")
	if !strings.HasPrefix(a, "po-") || a == b {
		t.Fatalf("unexpected ids %q %q", a, b)
	}
}

func TestDedupKey(t *testing.T) {
	if got := DedupKey("po-1", 42); got != "po-1-42" {
		t.Fatalf("unexpected dedup key %q", got)
	}
}
