package assembler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"screen-hr-sync/internal/models"
	"screen-hr-sync/internal/recording"
)

// Sink persists one exported artifact and returns where it was written
type Sink interface {
	Write(ctx context.Context, data []byte, filename string) (string, error)
}

// ExportRequest describes one export of a stopped session
type ExportRequest struct {
	Device  string
	Samples []models.SyncedHeartRate

	// Converter, when set, produces the video through the transcoded path.
	Converter  Converter
	OnProgress func(models.ConversionProgress)

	// FallbackToDirect writes the native container when conversion fails
	// instead of returning the conversion error.
	FallbackToDirect bool

	// Now stamps the export identifier. Defaults to time.Now.
	Now func() time.Time
}

// ExportResult lists what an export wrote
type ExportResult struct {
	ID            string
	VideoFile     string
	VideoMimeType string
	VideoBytes    int
	DataFile      string
	Transcoded    bool
	ConversionErr error
}

var extensions = map[string]string{
	"video/x-matroska": "mkv",
	"video/webm":       "webm",
	"video/mp4":        "mp4",
}

// ExtensionFor maps a MIME type to a file extension, ignoring parameters.
// Unknown types map to webm.
func ExtensionFor(mimeType string) string {
	key := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	if ext, ok := extensions[key]; ok {
		return ext
	}
	return "webm"
}

// NewExportID returns an identifier shared by the artifacts of one export.
// It is unique per call even within the same millisecond.
func NewExportID(now time.Time) string {
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.UTC().Format("2006-01-02T15:04:05.000Z"))
	return stamp + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// VideoFilename names the video artifact of an export
func VideoFilename(id, mimeType string) string {
	return fmt.Sprintf("capture_%s.%s", id, ExtensionFor(mimeType))
}

// DataFilename names the heart-rate artifact of an export
func DataFilename(id string) string {
	return fmt.Sprintf("hr_%s.json", id)
}

// StartedAtLayout formats the recording start in the exported document
const StartedAtLayout = "2006-01-02T15:04:05.000Z"

// HeartRateDocument builds the JSON side-channel document
func HeartRateDocument(device string, startedAt time.Time, samples []models.SyncedHeartRate) models.HeartRateExport {
	if samples == nil {
		samples = []models.SyncedHeartRate{}
	}
	return models.HeartRateExport{
		Device:    device,
		StartedAt: startedAt.UTC().Format(StartedAtLayout),
		Samples:   samples,
	}
}

// EncodeHeartRateDocument renders the document as indented JSON
func EncodeHeartRateDocument(doc models.HeartRateExport) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal heart-rate document: %w", err)
	}
	return data, nil
}

// Export writes the heart-rate document and the video to sink under a
// freshly generated, shared identifier. The document is written first so
// that an empty recording or a failed conversion still leaves the sensor
// series on disk; the video error is returned with DataFile set.
func (a *Assembler) Export(ctx context.Context, sink Sink, req ExportRequest) (ExportResult, error) {
	now := time.Now
	if req.Now != nil {
		now = req.Now
	}
	result := ExportResult{ID: NewExportID(now())}

	if state := a.src.State(); state != recording.Stopped {
		return result, fmt.Errorf("export session %s while %s: %w", a.src.ID(), state, recording.ErrInvalidState)
	}
	startedAt, err := a.StartedAt()
	if err != nil {
		return result, err
	}

	doc, err := EncodeHeartRateDocument(HeartRateDocument(req.Device, startedAt, req.Samples))
	if err != nil {
		return result, err
	}
	if result.DataFile, err = sink.Write(ctx, doc, DataFilename(result.ID)); err != nil {
		return result, fmt.Errorf("failed to write heart-rate document: %w", err)
	}

	// An empty recording still leaves its heart-rate series behind.
	direct, err := a.Direct()
	if err != nil {
		return result, err
	}

	video := direct
	if req.Converter != nil {
		converted, convErr := a.Transcode(ctx, req.Converter, req.OnProgress)
		switch {
		case convErr == nil:
			video = converted
			result.Transcoded = true
		case req.FallbackToDirect:
			a.logger.Warnf("Assembler: conversion failed, exporting %s instead: %v", direct.MimeType, convErr)
			result.ConversionErr = convErr
		default:
			result.ConversionErr = convErr
			return result, convErr
		}
	}

	result.VideoMimeType = video.MimeType
	result.VideoBytes = video.Size()
	if result.VideoFile, err = sink.Write(ctx, video.Data, VideoFilename(result.ID, video.MimeType)); err != nil {
		return result, fmt.Errorf("failed to write video: %w", err)
	}

	a.logger.Infof("Assembler: exported %s (%d bytes) and %s (%d samples)",
		result.VideoFile, result.VideoBytes, result.DataFile, len(req.Samples))
	return result, nil
}
