package router

import "sync"

// Broadcaster publishes every value to all registered listener buffers.
type Broadcaster[T any] struct {
	mu        sync.RWMutex
	listeners []*GrowableBuffer[T]
	maxSize   int
	closed    bool
	published int64
}

// NewBroadcaster creates a Broadcaster whose listener buffers hold at most
// maxSize items each (0 = unbounded).
func NewBroadcaster[T any](maxSize int) *Broadcaster[T] {
	return &Broadcaster[T]{maxSize: maxSize}
}

// Listen registers a new listener. Values published before the call are not
// delivered. After Close, the returned buffer is already closed.
func (b *Broadcaster[T]) Listen(initialCapacity int) *GrowableBuffer[T] {
	buf := NewBoundedBuffer[T](initialCapacity, b.maxSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		buf.Close()
		return buf
	}
	b.listeners = append(b.listeners, buf)
	return buf
}

// Unlisten removes and closes a listener buffer.
func (b *Broadcaster[T]) Unlisten(buf *GrowableBuffer[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, l := range b.listeners {
		if l == buf {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			buf.Close()
			return
		}
	}
}

// Publish delivers v to every listener. Never blocks.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, l := range b.listeners {
		l.Send(v)
	}
	b.published++
}

// Close closes all listener buffers. Later Publish calls are ignored.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, l := range b.listeners {
		l.Close()
	}
	b.listeners = nil
}

// Stats returns broadcaster statistics.
func (b *Broadcaster[T]) Stats() BroadcastStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BroadcastStats{
		Listeners: len(b.listeners),
		Published: b.published,
	}
	for _, l := range b.listeners {
		stats.Dropped += l.Stats().Dropped
	}
	return stats
}

// BroadcastStats contains broadcaster statistics.
type BroadcastStats struct {
	Listeners int
	Published int64
	Dropped   int64
}
