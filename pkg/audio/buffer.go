package audio

import (
	"sync"
	"time"
)

// Buffer is a bounded, concurrency-safe byte buffer for PCM streams.
//
// Writes past capacity evict the oldest bytes so the newest audio always
// fits; writes never fail. Reads are strict: Read(n) returns nil unless at
// least n bytes are buffered. Eviction and reads always operate on whole
// samples, so the buffered length stays sample-aligned as long as writes are.
type Buffer struct {
	mu   sync.Mutex
	data []byte
	max  int
}

// NewBuffer creates a Buffer holding at most max bytes. max is rounded down
// to a whole number of samples; values below one sample fall back to the
// default 100 ms at the canonical format.
func NewBuffer(max int) *Buffer {
	max -= max % BytesPerSample
	if max < BytesPerSample {
		max = DefaultFormat().FrameBytes(100 * time.Millisecond)
	}
	return &Buffer{max: max}
}

// Write appends p, evicting the oldest bytes first if the buffer would
// exceed its capacity. Writes never fail. Input longer than the capacity
// keeps only the newest capacity bytes.
func (b *Buffer) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) >= b.max {
		b.data = append(b.data[:0], p[len(p)-b.max:]...)
		return
	}
	if excess := len(b.data) + len(p) - b.max; excess > 0 {
		b.data = b.data[excess:]
	}
	b.data = append(b.data, p...)
}

// Read removes and returns exactly n bytes, or nil if fewer than n bytes are
// buffered. A failed read leaves the buffer unchanged.
func (b *Buffer) Read(n int) []byte {
	if n <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) < n {
		return nil
	}
	out := make([]byte, n)
	copy(out, b.data[:n])
	b.data = b.data[n:]
	return out
}

// ReadAll drains and returns the entire buffered contents. Returns nil when
// empty.
func (b *Buffer) ReadAll() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.data) == 0 {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	b.data = b.data[:0]
	return out
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Cap returns the maximum number of bytes the buffer retains.
func (b *Buffer) Cap() int { return b.max }

// Clear discards all buffered bytes.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}
