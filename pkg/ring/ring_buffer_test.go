package ring

import (
	"reflect"
	"testing"
)

func TestNewRingBuffer(t *testing.T) {
	size := 10
	rb := NewRingBuffer[float64](size)
	if rb == nil {
		t.Fatal("NewRingBuffer returned nil")
	}
	if rb.Cap() != size {
		t.Errorf("expected size %d, got %d", size, rb.Cap())
	}
	if rb.Len() != 0 {
		t.Errorf("expected count to be 0, got %d", rb.Len())
	}

	// Test with invalid size
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("NewRingBuffer did not panic with non-positive size")
		}
	}()
	NewRingBuffer[float64](0)
}

func TestRingBuffer_Chronological(t *testing.T) {
	rb := NewRingBuffer[int](3)
	if got := rb.Chronological(); len(got) != 0 {
		t.Errorf("expected empty slice, got %v", got)
	}
	if _, ok := rb.Last(); ok {
		t.Errorf("Last on empty buffer should report false")
	}

	rb.Add(1)
	rb.Add(2)
	if got := rb.Chronological(); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("expected [1 2], got %v", got)
	}
	if rb.Full() {
		t.Errorf("buffer should not be full after 2 adds")
	}

	rb.Add(3)
	rb.Add(4)
	rb.Add(5)
	if got := rb.Chronological(); !reflect.DeepEqual(got, []int{3, 4, 5}) {
		t.Errorf("expected [3 4 5] after wrap, got %v", got)
	}
	if last, ok := rb.Last(); !ok || last != 5 {
		t.Errorf("expected last 5, got %v (%v)", last, ok)
	}
	if !rb.Full() {
		t.Errorf("buffer should be full")
	}
}
