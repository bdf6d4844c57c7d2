package md

// RingBuffer keeps the last size values added, oldest first on read.
type RingBuffer[T any] struct {
	values []T
	size   int
	index  int
	filled bool
}

func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer[T]{
		values: make([]T, size),
		size:   size,
	}
}

func (r *RingBuffer[T]) Add(value T) {
	r.values[r.index] = value
	r.index = (r.index + 1) % r.size
	if r.index == 0 {
		r.filled = true
	}
}

func (r *RingBuffer[T]) Len() int {
	if r.filled {
		return r.size
	}
	return r.index
}

func (r *RingBuffer[T]) Values() []T {
	length := r.Len()
	result := make([]T, 0, length)
	if length == 0 {
		return result
	}
	if r.filled {
		result = append(result, r.values[r.index:]...)
	}
	result = append(result, r.values[:r.index]...)
	return result
}

// Last returns the most recently added value.
func (r *RingBuffer[T]) Last() (T, bool) {
	var zero T
	if r.Len() == 0 {
		return zero, false
	}
	return r.values[(r.index-1+r.size)%r.size], true
}

// Tail returns up to n of the most recent values, oldest first.
func (r *RingBuffer[T]) Tail(n int) []T {
	values := r.Values()
	if n >= 0 && n < len(values) {
		return values[len(values)-n:]
	}
	return values
}
