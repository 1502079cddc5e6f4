package utils

import "sync"

// RingBuffer is a fixed-capacity FIFO that overwrites its oldest element
// once full. It is safe for concurrent use.
//
//	rb := NewRingBuffer[int](3)
//	rb.Push(1)
//	rb.Push(2)
//	rb.Push(3)
//	rb.Push(4)
//	rb.ToSlice() // [2 3 4]
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	data  []T
	count int
	head  int // oldest element
}

// NewRingBuffer panics unless size is positive.
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size <= 0 {
		panic("ring buffer size must be positive")
	}
	return &RingBuffer[T]{data: make([]T, size)}
}

// Push appends item, overwriting the oldest element when the buffer is full.
func (rb *RingBuffer[T]) Push(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.data)
	if rb.count < size {
		rb.data[(rb.head+rb.count)%size] = item
		rb.count++
		return
	}

	rb.data[rb.head] = item
	rb.head = (rb.head + 1) % size
}

// ToSlice copies the elements out, oldest first.
func (rb *RingBuffer[T]) ToSlice() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	out := make([]T, rb.count)
	for i := range out {
		out[i] = rb.data[(rb.head+i)%len(rb.data)]
	}
	return out
}
