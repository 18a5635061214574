package recording

import (
	"context"
	"time"
)

// ChunkHandler receives recorded segments in the order the recorder flushes them
type ChunkHandler func(payload []byte, at time.Time)

// CaptureSource acquires a live capture stream. Acquire may block while the
// underlying capability is negotiated; chunks start flowing to onChunk once
// it returns.
type CaptureSource interface {
	Acquire(ctx context.Context, onChunk ChunkHandler) (Stream, error)
}

// Stream is an acquired capture stream, exclusively owned by one session
type Stream interface {
	// Pause suspends frame production at the source.
	Pause() error
	// Resume restarts frame production after Pause.
	Resume() error
	// OnEnded registers a one-shot end-of-stream notifier. If the stream has
	// already ended, fn is invoked immediately.
	OnEnded(fn func())
	// Release stops all underlying tracks. It is safe to call more than once.
	Release() error
	// MimeType is the container type of the produced chunks.
	MimeType() string
}
