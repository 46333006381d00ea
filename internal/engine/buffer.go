package engine

import (
	"strings"
	"sync"
)

// truncationMarker is inserted exactly once between the preserved head
// and the rolling tail of truncated output.
const truncationMarker = "\n[... output truncated ...]\n"

// tailReserveCeiling caps the bytes reserved for the rolling tail.
const tailReserveCeiling = 8 * 1024

// outputBuffer is a size-bounded accumulator for one output stream.
//
// Content below the cap is kept verbatim. Once the head would exceed the
// cap minus the tail allowance, at most half of the remaining head
// capacity is taken from the overflowing chunk, the truncation marker is
// appended once, and the buffer switches to tail mode: subsequent chunks
// are queued and the oldest are dropped whenever the queued total
// exceeds the allowance. The final output therefore shows the start of
// the stream and the most recent activity with a single omission in
// between.
//
// Writes arrive from the pipe-copy goroutine while snapshots may be
// taken from the finalizing caller, so all state is mutex-guarded.
type outputBuffer struct {
	mu        sync.Mutex
	max       int
	reserve   int
	head      []byte
	headSize  int // content bytes in head, excluding the marker
	truncated bool
	tail      [][]byte
	tailSize  int
}

func newOutputBuffer(max int) *outputBuffer {
	reserve := max / 10
	if reserve > tailReserveCeiling {
		reserve = tailReserveCeiling
	}
	return &outputBuffer{max: max, reserve: reserve}
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if b.truncated {
		b.pushTail(p)
		return n, nil
	}

	limit := b.max - b.reserve
	if b.headSize+n <= limit {
		b.head = append(b.head, p...)
		b.headSize += n
		return n, nil
	}

	keep := (limit - b.headSize) / 2
	if keep > 0 {
		b.head = append(b.head, p[:keep]...)
		b.headSize += keep
	}
	b.head = append(b.head, truncationMarker...)
	b.truncated = true
	if keep < n {
		b.pushTail(p[keep:])
	}
	return n, nil
}

// pushTail queues a copy of the chunk and evicts the oldest entries
// while the queued total exceeds the tail allowance. A chunk larger
// than the allowance is trimmed to its most recent bytes so the tail
// always ends with the latest output. The chunk must be copied: exec's
// pipe copier reuses its buffer between writes.
func (b *outputBuffer) pushTail(p []byte) {
	if b.reserve <= 0 {
		return
	}
	if len(p) > b.reserve {
		p = p[len(p)-b.reserve:]
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	b.tail = append(b.tail, chunk)
	b.tailSize += len(chunk)
	for len(b.tail) > 0 && b.tailSize > b.reserve {
		b.tailSize -= len(b.tail[0])
		b.tail = b.tail[1:]
	}
}

// Len reports the buffered content size in bytes, marker excluded. It
// never exceeds the configured maximum.
func (b *outputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.headSize + b.tailSize
}

// Truncated reports whether the stream overflowed the cap.
func (b *outputBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// Snapshot returns the head content followed by the queued tail.
func (b *outputBuffer) Snapshot() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var s strings.Builder
	s.Grow(len(b.head) + b.tailSize)
	s.Write(b.head)
	for _, chunk := range b.tail {
		s.Write(chunk)
	}
	return s.String()
}
