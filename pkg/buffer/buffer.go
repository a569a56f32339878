// Package buffer provides a generic, thread-safe bounded ring buffer.
//
// The ring backs the event store's message window and the dispatcher's
// offline outbound queue. Overflow is handled by a policy (DropOldest or
// DropNewest); a drop callback observes every evicted item. Statistics are
// always collected; Prometheus metrics are optional via WithMetrics.
package buffer

// Buffer represents a generic bounded buffer.
type Buffer[T any] interface {
	// Write adds an item. Behavior on a full buffer depends on the overflow policy.
	Write(item T) error

	// Read retrieves and removes the oldest item.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items, oldest first.
	ReadBatch(max int) []T

	// Peek retrieves the oldest item without removing it.
	Peek() (T, bool)

	// Items returns a copy of the retained items, oldest first.
	Items() []T

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	IsFull() bool
	IsEmpty() bool

	// Clear removes all items without invoking the drop callback.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close shuts down the buffer. Writes after Close fail.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room for the new one.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped by the overflow policy.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a ring buffer holding at most capacity items.
// Storage grows lazily, so a large capacity costs nothing until it is used.
// Returns an error if metrics registration fails when metrics are requested.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
