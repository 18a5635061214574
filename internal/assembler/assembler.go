// Package assembler turns a stopped recording session into deliverable
// artifacts: the concatenated video and the synchronized heart-rate document.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"screen-hr-sync/internal/models"
	"screen-hr-sync/internal/recording"
)

// Source is the read-only view of a session the assembler needs
type Source interface {
	ID() string
	State() recording.State
	Chunks() []models.Chunk
	MimeType() string
	StartInstant() (time.Time, bool)
}

// Converter transcodes a media binary into another container format
type Converter interface {
	Convert(ctx context.Context, data []byte, onProgress func(models.ConversionProgress)) ([]byte, error)
	MimeType() string
}

// Blob is a single contiguous binary object tagged with its MIME type
type Blob struct {
	Data     []byte
	MimeType string
}

// Size returns the blob length in bytes
func (b Blob) Size() int {
	return len(b.Data)
}

// Assembler builds artifacts from one stopped session. Every method reads
// the session's frozen chunks and never modifies them, so the direct and
// transcoded paths can run any number of times against the same session.
type Assembler struct {
	src    Source
	logger *zap.SugaredLogger
}

// New creates an assembler for src
func New(src Source, logger *zap.SugaredLogger) *Assembler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Assembler{src: src, logger: logger}
}

// Blob concatenates the recorded chunks in arrival order
func (a *Assembler) Blob() (Blob, error) {
	if state := a.src.State(); state != recording.Stopped {
		return Blob{}, fmt.Errorf("assemble session %s while %s: %w", a.src.ID(), state, recording.ErrInvalidState)
	}

	chunks := a.src.Chunks()
	if len(chunks) == 0 {
		return Blob{}, fmt.Errorf("assemble session %s: %w", a.src.ID(), recording.ErrEmptyBuffer)
	}

	total := 0
	for _, c := range chunks {
		total += c.Size()
	}
	data := make([]byte, 0, total)
	for _, c := range chunks {
		data = append(data, c.Payload...)
	}

	return Blob{Data: data, MimeType: a.src.MimeType()}, nil
}

// Direct returns the concatenated recording in its native container
func (a *Assembler) Direct() (Blob, error) {
	return a.Blob()
}

// Transcode hands the concatenated recording to conv. A conversion failure
// is wrapped in ErrConversion and leaves the direct path usable.
func (a *Assembler) Transcode(ctx context.Context, conv Converter, onProgress func(models.ConversionProgress)) (Blob, error) {
	blob, err := a.Blob()
	if err != nil {
		return Blob{}, err
	}
	if onProgress == nil {
		onProgress = func(models.ConversionProgress) {}
	}

	a.logger.Infof("Assembler: converting %d bytes of %s to %s", blob.Size(), blob.MimeType, conv.MimeType())
	out, err := conv.Convert(ctx, blob.Data, onProgress)
	if err != nil {
		if errors.Is(err, recording.ErrConversion) {
			return Blob{}, err
		}
		return Blob{}, fmt.Errorf("%w: %v", recording.ErrConversion, err)
	}

	a.logger.Infof("Assembler: converted to %d bytes of %s", len(out), conv.MimeType())
	return Blob{Data: out, MimeType: conv.MimeType()}, nil
}

// StartedAt returns the recording start instant for the exported document
func (a *Assembler) StartedAt() (time.Time, error) {
	start, ok := a.src.StartInstant()
	if !ok {
		return time.Time{}, recording.ErrNoReferenceInstant
	}
	return start, nil
}
