package recording

import (
	"sync"
	"time"

	"screen-hr-sync/internal/models"
)

// ChunkBuffer is an append-only, ordered store of recorded segments.
// Once frozen it rejects every write.
type ChunkBuffer struct {
	mu     sync.RWMutex
	chunks []models.Chunk
	bytes  int64
	frozen bool
}

// NewChunkBuffer creates an empty buffer
func NewChunkBuffer() *ChunkBuffer {
	return &ChunkBuffer{}
}

// Append copies payload and stores it after every chunk appended before it
func (b *ChunkBuffer) Append(payload []byte, at time.Time) error {
	buf := make([]byte, len(payload))
	copy(buf, payload)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return ErrBufferFrozen
	}
	b.chunks = append(b.chunks, models.Chunk{ArrivedAt: at, Payload: buf})
	b.bytes += int64(len(buf))
	return nil
}

// Reset discards every chunk. A frozen buffer cannot be reset.
func (b *ChunkBuffer) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return ErrBufferFrozen
	}
	b.chunks = nil
	b.bytes = 0
	return nil
}

// Freeze prevents further writes and returns the full ordered sequence.
// Calling it again returns the same sequence.
func (b *ChunkBuffer) Freeze() []models.Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frozen = true
	return b.copyLocked()
}

// Frozen reports whether Freeze has been called
func (b *ChunkBuffer) Frozen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frozen
}

// Snapshot returns the chunks held so far. Payloads are shared with the
// buffer and must be treated as read-only.
func (b *ChunkBuffer) Snapshot() []models.Chunk {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.copyLocked()
}

// Len returns the number of chunks
func (b *ChunkBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.chunks)
}

// Size returns the total payload size in bytes
func (b *ChunkBuffer) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bytes
}

func (b *ChunkBuffer) copyLocked() []models.Chunk {
	out := make([]models.Chunk, len(b.chunks))
	copy(out, b.chunks)
	return out
}
