package containers

import (
	"errors"
	"testing"
)

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[int](3)
	for i := 1; i <= 3; i++ {
		if err := rq.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}
	if err := rq.Enqueue(4); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue on full queue: got %v, want ErrQueueFull", err)
	}
	if v, _ := rq.Peek(); v != 1 {
		t.Fatalf("Peek: got %d, want 1", v)
	}
	for want := 1; want <= 3; want++ {
		v, err := rq.Dequeue()
		if err != nil || v != want {
			t.Fatalf("Dequeue: got (%d, %v), want %d", v, err, want)
		}
	}
	if _, err := rq.Dequeue(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("Dequeue on empty queue: got %v, want ErrQueueEmpty", err)
	}
}

func TestRingQueuePushOverwritesOldest(t *testing.T) {
	rq := NewRingQueue[int](4)
	for i := 0; i < 10; i++ {
		rq.Push(i)
	}
	if rq.Len() != 4 {
		t.Fatalf("Len: got %d, want 4", rq.Len())
	}
	var got []int
	rq.Each(func(v int) { got = append(got, v) })
	want := []int{6, 7, 8, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Each: got %v, want %v", got, want)
		}
	}
}
