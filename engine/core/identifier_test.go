package core

import (
	"sync"
	"testing"
)

func TestIDPoolReusesReleasedIDs(t *testing.T) {
	p := NewIDPool(4)
	a, b, c := p.Acquire("a"), p.Acquire("b"), p.Acquire("c")
	if a != 0 || b != 1 || c != 2 {
		t.Fatalf("ids: got %d %d %d", a, b, c)
	}
	if err := p.Release(b); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := p.Release(b); err == nil {
		t.Fatalf("double Release succeeded")
	}
	if err := p.Release(42); err == nil {
		t.Fatalf("Release out of range succeeded")
	}
	if p.Owner(b) != nil {
		t.Fatalf("released id still owned")
	}
	if d := p.Acquire("d"); d != b {
		t.Fatalf("released id not reused: got %d, want %d", d, b)
	}
	if p.Owner(c) != "c" || p.Owner(99) != nil {
		t.Fatalf("Owner lookups wrong")
	}
}

func TestIDPoolConcurrentAcquire(t *testing.T) {
	p := NewIDPool(0)
	const n = 64
	ids := make([]uint32, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i] = p.Acquire(i)
		}()
	}
	wg.Wait()
	seen := make(map[uint32]bool, n)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("id %d handed out twice", id)
		}
		seen[id] = true
	}
}
