package cache

import "testing"

func TestNop(t *testing.T) {
	n := NewNop[string, string]()
	n.Put("key", "val")
	val, ok := n.Get("key")
	if ok {
		t.Errorf("expected ok to be false, got true")
	}
	if val != "" {
		t.Errorf("expected val to be empty, got %v", val)
	}
	n.Delete("key") // should not panic
	if n.Len() != 0 {
		t.Errorf("expected len 0, got %d", n.Len())
	}
}
