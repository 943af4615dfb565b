package taskpool

import "testing"

func TestRing_appendGet(t *testing.T) {
	var r ring[int64]
	if r.Len() != 0 {
		t.Error(r.Len())
	}
	for i := int64(0); i < 20; i++ {
		r.Append(i)
	}
	if r.Len() != 20 {
		t.Error(r.Len())
	}
	for i := 0; i < 20; i++ {
		if v := r.Get(i); v != int64(i) {
			t.Errorf(`expected %d, got %d`, i, v)
		}
	}
}

func TestRing_removeBefore(t *testing.T) {
	var r ring[int64]
	for i := int64(0); i < 10; i++ {
		r.Append(i)
	}
	r.RemoveBefore(4)
	if r.Len() != 6 {
		t.Error(r.Len())
	}
	if v := r.Get(0); v != 4 {
		t.Error(v)
	}
	r.RemoveBefore(6)
	if r.Len() != 0 {
		t.Error(r.Len())
	}
	// offsets reset once empty, so the buffer is reusable indefinitely
	if r.r != 0 || r.w != 0 {
		t.Error(r.r, r.w)
	}
}

// exercises wrap-around: interleaved appends and removals that straddle the
// backing array boundary
func TestRing_wrap(t *testing.T) {
	var r ring[int64]
	var next, oldest int64
	for cycle := 0; cycle < 50; cycle++ {
		for i := 0; i < 3; i++ {
			r.Append(next)
			next++
		}
		r.RemoveBefore(2)
		oldest += 2
		for i := 0; i < r.Len(); i++ {
			if v := r.Get(i); v != oldest+int64(i) {
				t.Fatalf(`cycle %d: expected %d at %d, got %d`, cycle, oldest+int64(i), i, v)
			}
		}
	}
}

func TestRing_getOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error(`expected panic`)
		}
	}()
	var r ring[int64]
	r.Append(1)
	r.Get(1)
}

func TestRing_removeBeforeOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error(`expected panic`)
		}
	}()
	var r ring[int64]
	r.RemoveBefore(1)
}
