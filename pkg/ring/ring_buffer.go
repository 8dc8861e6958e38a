// Package ring provides a fixed-size circular buffer used for rolling windows.
package ring

// RingBuffer holds the most recent items in a circular buffer.
type RingBuffer[T any] struct {
	items []T
	size  int
	head  int // Points to the next available slot for writing
	count int // Number of elements currently in the buffer
}

// NewRingBuffer creates a new RingBuffer with the given size.
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size <= 0 {
		panic("ring buffer size must be positive")
	}
	return &RingBuffer[T]{
		items: make([]T, size),
		size:  size,
	}
}

// Add adds an item to the RingBuffer.
// If the buffer is full, the oldest item is overwritten.
func (rb *RingBuffer[T]) Add(item T) {
	rb.items[rb.head] = item
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
}

// Len returns the number of items held.
func (rb *RingBuffer[T]) Len() int {
	return rb.count
}

// Cap returns the buffer size.
func (rb *RingBuffer[T]) Cap() int {
	return rb.size
}

// Full reports whether the buffer has wrapped at least once.
func (rb *RingBuffer[T]) Full() bool {
	return rb.count == rb.size
}

// Chronological returns the items in the order they were added, oldest first.
func (rb *RingBuffer[T]) Chronological() []T {
	result := make([]T, rb.count)
	if rb.count < rb.size { // Buffer not yet full
		copy(result, rb.items[:rb.head])
	} else { // Oldest element is at rb.head
		copied := copy(result, rb.items[rb.head:])
		copy(result[copied:], rb.items[:rb.head])
	}
	return result
}

// Last returns the newest item, or false when empty.
func (rb *RingBuffer[T]) Last() (T, bool) {
	var zero T
	if rb.count == 0 {
		return zero, false
	}
	return rb.items[(rb.head-1+rb.size)%rb.size], true
}
