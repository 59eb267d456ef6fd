package headerssync

import "testing"

// TestBitFIFO exercises push/pop ordering across word boundaries.
func TestBitFIFO(t *testing.T) {
	var fifo bitFIFO

	if _, ok := fifo.popFront(); ok {
		t.Fatal("popFront on empty fifo succeeded")
	}

	// A deterministic pseudo-random-looking bit pattern spanning several
	// words.
	bit := func(i int) bool { return (i*i+i/3)%3 == 0 }

	const count = 1000
	for i := 0; i < count; i++ {
		fifo.pushBack(bit(i))
	}
	if fifo.len() != count {
		t.Fatalf("len: got %d, want %d", fifo.len(), count)
	}

	for i := 0; i < count; i++ {
		got, ok := fifo.popFront()
		if !ok {
			t.Fatalf("popFront %d: unexpectedly empty", i)
		}
		if got != bit(i) {
			t.Fatalf("popFront %d: got %t, want %t", i, got, bit(i))
		}
	}
	if fifo.len() != 0 {
		t.Fatalf("len after drain: got %d, want 0", fifo.len())
	}
}

// TestBitFIFOInterleaved ensures ordering holds when pushes and pops
// interleave and the front offset crosses word boundaries.
func TestBitFIFOInterleaved(t *testing.T) {
	var fifo bitFIFO

	next := 0 // next value to push
	expect := 0

	push := func(n int) {
		for i := 0; i < n; i++ {
			fifo.pushBack(next%5 == 0 || next%7 == 0)
			next++
		}
	}
	pop := func(n int) {
		for i := 0; i < n; i++ {
			got, ok := fifo.popFront()
			if !ok {
				t.Fatalf("popFront: unexpectedly empty at %d", expect)
			}
			want := expect%5 == 0 || expect%7 == 0
			if got != want {
				t.Fatalf("popFront %d: got %t, want %t", expect, got, want)
			}
			expect++
		}
	}

	push(70)
	pop(65)
	push(130)
	pop(100)
	push(3)
	pop(fifo.lenInt())

	if fifo.len() != 0 {
		t.Fatalf("len after full drain: got %d", fifo.len())
	}

	fifo.pushBack(true)
	fifo.clear()
	if fifo.len() != 0 {
		t.Fatal("clear left bits behind")
	}
}

// lenInt is a test convenience.
func (f *bitFIFO) lenInt() int {
	return int(f.len())
}
