package buffer

import (
	"sync"

	"github.com/domody/syris/errors"
)

// circularBuffer is a thread-safe ring buffer. The backing slice grows
// until it reaches capacity; the oldest item sits at tail and the next write
// lands at (tail+size) mod len(items).
type circularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	tail     int
	stats    *Statistics
	metrics  *bufferMetrics
	opts     *bufferOptions[T]
	closed   bool
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	initial := capacity
	if initial > 64 {
		initial = 64
	}

	return &circularBuffer[T]{
		items:    make([]T, 0, initial),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Write adds an item according to the overflow policy. The drop callback
// runs after the buffer lock is released.
func (cb *circularBuffer[T]) Write(item T) error {
	dropped, hasDropped, err := cb.write(item)
	if err != nil {
		return err
	}
	if hasDropped && cb.opts.dropCallback != nil {
		cb.opts.dropCallback(dropped)
	}
	return nil
}

func (cb *circularBuffer[T]) write(item T) (dropped T, hasDropped bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return dropped, false, errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	if cb.size == cb.capacity {
		cb.stats.Overflow()
		cb.stats.Drop()
		if cb.metrics != nil {
			cb.metrics.recordOverflow()
			cb.metrics.recordDrop()
		}

		if cb.opts.overflowPolicy == DropNewest {
			return item, true, nil
		}

		var zero T
		dropped = cb.items[cb.tail]
		cb.items[cb.tail] = zero
		cb.tail = (cb.tail + 1) % len(cb.items)
		cb.size--
		hasDropped = true
	}

	if cb.size < len(cb.items) {
		cb.items[(cb.tail+cb.size)%len(cb.items)] = item
	} else {
		cb.grow()
		cb.items = append(cb.items, item)
	}
	cb.size++

	cb.stats.Write()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordWrite(cb.size, cb.capacity)
	}

	return dropped, hasDropped, nil
}

// Read removes and returns the oldest item.
func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	if cb.size == 0 {
		return zero, false
	}

	item := cb.pop()
	cb.stats.Read()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordRead(cb.size, cb.capacity)
	}
	return item, true
}

// ReadBatch removes and returns up to max items, oldest first.
func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if max <= 0 || cb.size == 0 {
		return nil
	}

	n := max
	if n > cb.size {
		n = cb.size
	}

	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, cb.pop())
		cb.stats.Read()
	}

	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordRead(cb.size, cb.capacity)
	}
	return out
}

// pop removes the oldest item. Caller must hold the write lock and
// guarantee size > 0.
func (cb *circularBuffer[T]) pop() T {
	var zero T
	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero
	cb.tail = (cb.tail + 1) % len(cb.items)
	cb.size--
	if cb.size == 0 {
		cb.reset()
	}
	return item
}

// grow makes room for one append by linearizing the ring so tail is zero.
// Caller must hold the write lock and guarantee size == len(items) < capacity.
func (cb *circularBuffer[T]) grow() {
	if cb.tail == 0 {
		return
	}
	next := make([]T, cb.size, min(cb.capacity, 2*cb.size+1))
	for i := 0; i < cb.size; i++ {
		next[i] = cb.items[(cb.tail+i)%len(cb.items)]
	}
	cb.items = next
	cb.tail = 0
}

// reset rewinds an empty buffer so growth resumes from index zero.
func (cb *circularBuffer[T]) reset() {
	cb.items = cb.items[:0]
	cb.tail = 0
}

// Peek returns the oldest item without removing it.
func (cb *circularBuffer[T]) Peek() (T, bool) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	var zero T
	if cb.size == 0 {
		return zero, false
	}

	cb.stats.Peek()
	if cb.metrics != nil {
		cb.metrics.recordPeek()
	}
	return cb.items[cb.tail], true
}

// Items returns a snapshot of the buffer contents, oldest first.
func (cb *circularBuffer[T]) Items() []T {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	out := make([]T, cb.size)
	for i := 0; i < cb.size; i++ {
		out[i] = cb.items[(cb.tail+i)%len(cb.items)]
	}
	return out
}

func (cb *circularBuffer[T]) Size() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

func (cb *circularBuffer[T]) IsFull() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == cb.capacity
}

func (cb *circularBuffer[T]) IsEmpty() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == 0
}

// Clear removes all items.
func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	clear(cb.items)
	cb.size = 0
	cb.reset()

	cb.stats.UpdateSize(0)
	if cb.metrics != nil {
		cb.metrics.updateSize(0, cb.capacity)
	}
}

func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

// Close marks the buffer closed. Retained items stay readable.
func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.closed = true
	return nil
}
