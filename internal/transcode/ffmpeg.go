// Package transcode converts recorded WebM into MP4 with an ffmpeg binary.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"screen-hr-sync/internal/models"
	"screen-hr-sync/internal/recording"
)

// OutputMimeType is the container produced by Convert
const OutputMimeType = "video/mp4"

// Service runs ffmpeg conversions. The binary is resolved lazily on the first
// conversion and the result is kept for the lifetime of the Service; create
// one per owner instead of sharing a process-wide instance.
type Service struct {
	ffmpegPath string
	logger     *zap.SugaredLogger

	once    sync.Once
	binary  string
	loadErr error
}

// New creates a conversion service. ffmpegPath may be a bare name looked up on PATH.
func New(ffmpegPath string, logger *zap.SugaredLogger) *Service {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{ffmpegPath: ffmpegPath, logger: logger}
}

// MimeType returns the output container type
func (s *Service) MimeType() string {
	return OutputMimeType
}

// Args returns the ffmpeg arguments converting input into an MP4 at output
func Args(input, output string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", input,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-crf", "28",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		output,
	}
}

func (s *Service) load(onProgress func(models.ConversionProgress)) error {
	onProgress(models.ConversionProgress{Stage: models.StageLoading, Progress: 0, Message: "loading ffmpeg"})

	s.once.Do(func() {
		s.binary, s.loadErr = exec.LookPath(s.ffmpegPath)
		if s.loadErr == nil {
			s.logger.Infof("Transcoder: using %s", s.binary)
		}
	})
	if s.loadErr != nil {
		return fmt.Errorf("failed to load ffmpeg: %w", s.loadErr)
	}

	onProgress(models.ConversionProgress{Stage: models.StageLoading, Progress: 100, Message: "ffmpeg loaded"})
	return nil
}

// Convert transcodes data into MP4. The input is streamed to ffmpeg's stdin
// and progress follows the share of input consumed. Any failure wraps
// recording.ErrConversion.
func (s *Service) Convert(ctx context.Context, data []byte, onProgress func(models.ConversionProgress)) ([]byte, error) {
	if onProgress == nil {
		onProgress = func(models.ConversionProgress) {}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", recording.ErrConversion)
	}
	if err := s.load(onProgress); err != nil {
		return nil, fmt.Errorf("%w: %v", recording.ErrConversion, err)
	}

	// +faststart rewrites the header after encoding, so output must be seekable.
	dir, err := os.MkdirTemp("", "screen-hr-sync-*")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create work dir: %v", recording.ErrConversion, err)
	}
	defer os.RemoveAll(dir)
	output := filepath.Join(dir, "output.mp4")

	reporter := newProgressReporter(len(data), onProgress)
	reporter.start()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.binary, Args("pipe:0", output)...)
	cmd.Stdin = &countingReader{r: bytes.NewReader(data), onRead: reporter.advance}
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", recording.ErrConversion, err, strings.TrimSpace(lastLines(stderr.String(), 5)))
	}

	out, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read output: %v", recording.ErrConversion, err)
	}

	reporter.finish()
	onProgress(models.ConversionProgress{Stage: models.StageComplete, Progress: 100, Message: "conversion complete"})
	s.logger.Infof("Transcoder: converted %d bytes into %d bytes", len(data), len(out))
	return out, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
