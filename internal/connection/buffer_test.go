package connection

import (
	"fmt"
	"testing"
)

func TestPendingQueue_FIFO(t *testing.T) {
	q := newPendingQueue(4)

	frames := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for _, f := range frames {
		q.Append(f)
	}

	if q.Len() != 3 {
		t.Errorf("Len = %d, want 3", q.Len())
	}

	for i, want := range frames {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop %d returned ok=false", i)
		}
		if string(got) != string(want) {
			t.Errorf("Pop %d = %q, want %q", i, got, want)
		}
	}

	if _, ok := q.Pop(); ok {
		t.Error("Pop on empty queue returned ok=true")
	}
}

func TestPendingQueue_PeekDoesNotRemove(t *testing.T) {
	q := newPendingQueue(2)
	q.Append([]byte("head"))

	for i := 0; i < 3; i++ {
		got, ok := q.Peek()
		if !ok || string(got) != "head" {
			t.Fatalf("Peek %d = %q (ok=%v), want head", i, got, ok)
		}
	}
	if q.Len() != 1 {
		t.Errorf("Len after Peek = %d, want 1", q.Len())
	}

	if _, ok := q.Pop(); !ok {
		t.Error("Pop after Peek returned ok=false")
	}
	if _, ok := q.Peek(); ok {
		t.Error("Peek on empty queue returned ok=true")
	}
}

func TestPendingQueue_GrowPreservesOrder(t *testing.T) {
	q := newPendingQueue(2)

	for i := 0; i < 9; i++ {
		q.Append([]byte(fmt.Sprintf("frame-%d", i)))
	}
	if q.Len() != 9 {
		t.Fatalf("Len = %d, want 9", q.Len())
	}

	for i := 0; i < 9; i++ {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop %d returned ok=false", i)
		}
		if want := fmt.Sprintf("frame-%d", i); string(got) != want {
			t.Errorf("Pop %d = %q, want %q", i, got, want)
		}
	}
}

func TestPendingQueue_GrowAfterWrap(t *testing.T) {
	q := newPendingQueue(4)

	// Advance head so the ring wraps before it grows
	q.Append([]byte("x"))
	q.Append([]byte("y"))
	q.Pop()
	q.Pop()

	for i := 0; i < 6; i++ {
		q.Append([]byte(fmt.Sprintf("frame-%d", i)))
	}

	for i := 0; i < 6; i++ {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop %d returned ok=false", i)
		}
		if want := fmt.Sprintf("frame-%d", i); string(got) != want {
			t.Errorf("Pop %d = %q, want %q", i, got, want)
		}
	}
}

func TestPendingQueue_Counters(t *testing.T) {
	q := newPendingQueue(2)

	q.Append([]byte("a"))
	q.Append([]byte("b"))
	q.Pop()

	if q.totalQueued != 2 {
		t.Errorf("totalQueued = %d, want 2", q.totalQueued)
	}
	if q.totalFlushed != 1 {
		t.Errorf("totalFlushed = %d, want 1", q.totalFlushed)
	}
}

func TestPendingQueue_MinimumCapacity(t *testing.T) {
	q := newPendingQueue(0)

	q.Append([]byte("a"))
	q.Append([]byte("b"))

	got, ok := q.Pop()
	if !ok || string(got) != "a" {
		t.Errorf("Pop = %q (ok=%v), want a", got, ok)
	}
}
