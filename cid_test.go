package spacehost

import (
	"strings"
	"testing"
)

func TestComputeCIDDeterministic(t *testing.T) {
	a, err := ComputeCID(map[string]any{"text": "hello", "langs": []any{"en"}})
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	b, err := ComputeCID(map[string]any{"langs": []any{"en"}, "text": "hello"})
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if a != b {
		t.Fatalf("cid depends on key order: %s != %s", a, b)
	}
	if !strings.HasPrefix(a, "zx") {
		t.Fatalf("unexpected cid prefix: %s", a)
	}
}

func TestComputeCIDDistinguishesContent(t *testing.T) {
	a, _ := ComputeCID(map[string]any{"text": "hello"})
	b, _ := ComputeCID(map[string]any{"text": "hello!"})
	if a == b {
		t.Fatalf("distinct bodies share cid %s", a)
	}
}

func TestNewRevMonotonic(t *testing.T) {
	prev := NewRev()
	for i := 0; i < 100; i++ {
		next := NewRev()
		if next <= prev {
			t.Fatalf("rev went backwards: %s then %s", prev, next)
		}
		prev = next
	}
}
