// Package capture records the screen through an ffmpeg child process and
// delivers its WebM output as timesliced chunks.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"screen-hr-sync/internal/recording"
)

// Config holds the ffmpeg capture settings
type Config struct {
	FFmpegPath   string
	Format       string // input device, e.g. x11grab, avfoundation, gdigrab
	Input        string
	AudioFormat  string // optional audio device, e.g. pulse
	AudioInput   string
	FrameRate    int
	Timeslice    time.Duration
	VideoBitrate string
	AudioBitrate string
}

// DefaultConfig mirrors the recorder defaults: 30 fps VP9 at 2.5 Mbps,
// Opus at 128 kbps, one chunk per second.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:   "ffmpeg",
		Format:       "x11grab",
		Input:        ":0.0",
		FrameRate:    30,
		Timeslice:    time.Second,
		VideoBitrate: "2500k",
		AudioBitrate: "128k",
	}
}

// FFmpegSource is a recording.CaptureSource backed by ffmpeg
type FFmpegSource struct {
	cfg    Config
	logger *zap.SugaredLogger
	clock  func() time.Time
}

// NewFFmpegSource creates a capture source. clock stamps chunk arrival and
// must be the same clock the recording session uses; nil means time.Now.
func NewFFmpegSource(cfg Config, logger *zap.SugaredLogger, clock func() time.Time) *FFmpegSource {
	def := DefaultConfig()
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = def.FrameRate
	}
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = def.Timeslice
	}
	if cfg.VideoBitrate == "" {
		cfg.VideoBitrate = def.VideoBitrate
	}
	if cfg.AudioBitrate == "" {
		cfg.AudioBitrate = def.AudioBitrate
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = time.Now
	}
	return &FFmpegSource{cfg: cfg, logger: logger, clock: clock}
}

func (f *FFmpegSource) hasAudio() bool {
	return f.cfg.AudioFormat != "" && f.cfg.AudioInput != ""
}

// MimeType returns the container type of the produced chunks
func (f *FFmpegSource) MimeType() string {
	if f.hasAudio() {
		return "video/webm;codecs=vp9,opus"
	}
	return "video/webm;codecs=vp9"
}

// Args returns the ffmpeg command line writing WebM to stdout
func (f *FFmpegSource) Args() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", f.cfg.Format,
		"-framerate", strconv.Itoa(f.cfg.FrameRate),
		"-i", f.cfg.Input,
	}
	if f.hasAudio() {
		args = append(args, "-f", f.cfg.AudioFormat, "-i", f.cfg.AudioInput)
	}
	args = append(args,
		"-c:v", "libvpx-vp9",
		"-deadline", "realtime",
		"-b:v", f.cfg.VideoBitrate,
	)
	if f.hasAudio() {
		args = append(args, "-c:a", "libopus", "-b:a", f.cfg.AudioBitrate)
	}
	return append(args, "-f", "webm", "pipe:1")
}

// Acquire starts ffmpeg. Failure to locate or start the binary is reported as
// recording.ErrSourceUnavailable.
func (f *FFmpegSource) Acquire(ctx context.Context, onChunk recording.ChunkHandler) (recording.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", recording.ErrSourceUnavailable, err)
	}
	if f.cfg.Format == "" || f.cfg.Input == "" {
		return nil, fmt.Errorf("%w: capture format and input must be set", recording.ErrSourceUnavailable)
	}

	binary, err := exec.LookPath(f.cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", recording.ErrSourceUnavailable, err)
	}

	// The process outlives ctx; Release ends it.
	cmd := exec.Command(binary, f.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: open ffmpeg stdout: %v", recording.ErrSourceUnavailable, err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", recording.ErrSourceUnavailable, err)
	}

	s := &ffmpegStream{
		cmd:            cmd,
		mime:           f.MimeType(),
		logger:         f.logger,
		flushes:        make(chan chan struct{}),
		finished:       make(chan struct{}),
		releaseTimeout: releaseTimeout,
	}
	f.logger.Infof("Capture: started ffmpeg pid=%d (%s %s)", cmd.Process.Pid, f.cfg.Format, f.cfg.Input)

	go func() {
		ticker := time.NewTicker(f.cfg.Timeslice)
		defer ticker.Stop()

		c := &chunker{}
		readErr := c.run(stdout, ticker.C, s.flushes, pauseSettle, func(p []byte) { onChunk(p, f.clock()) })
		waitErr := cmd.Wait()
		if readErr != nil {
			f.logger.Debugf("Capture: read stopped: %v", readErr)
		}
		if waitErr != nil && !s.isReleased() {
			f.logger.Warnf("Capture: ffmpeg exited: %v: %s", waitErr, strings.TrimSpace(stderr.String()))
		}
		close(s.finished)
		s.markEnded()
	}()

	return s, nil
}

const (
	// pauseSettle is how long the pipe must stay quiet after SIGSTOP before
	// the pending bytes are cut.
	pauseSettle = 50 * time.Millisecond

	releaseTimeout = 5 * time.Second
)

var errCaptureEnded = errors.New("capture has ended")

type ffmpegStream struct {
	cmd            *exec.Cmd
	mime           string
	logger         *zap.SugaredLogger
	flushes        chan chan struct{}
	finished       chan struct{} // closed once every byte has been delivered
	releaseTimeout time.Duration

	mu       sync.Mutex
	ended    bool
	released bool
	onEnded  []func()
}

func (s *ffmpegStream) MimeType() string {
	return s.mime
}

// Pause suspends ffmpeg and then delivers everything it wrote before the
// suspension, so those bytes reach the session while it is still recording.
func (s *ffmpegStream) Pause() error {
	s.mu.Lock()
	if s.ended || s.released {
		s.mu.Unlock()
		return errCaptureEnded
	}
	if err := suspend(s.cmd.Process); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.flush()
	return nil
}

func (s *ffmpegStream) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.released {
		return errCaptureEnded
	}
	return resume(s.cmd.Process)
}

// flush asks the reader to cut the pending bytes and waits for the chunk to
// be delivered
func (s *ffmpegStream) flush() {
	reply := make(chan struct{})
	select {
	case s.flushes <- reply:
	case <-s.finished:
		return
	}
	select {
	case <-reply:
	case <-s.finished:
	}
}

func (s *ffmpegStream) OnEnded(fn func()) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		fn()
		return
	}
	s.onEnded = append(s.onEnded, fn)
	s.mu.Unlock()
}

// Release kills ffmpeg and waits until the reader has delivered what was
// already written to the pipe, including the partial timeslice.
func (s *ffmpegStream) Release() error {
	s.mu.Lock()
	if s.released || s.ended {
		s.released = true
		s.mu.Unlock()
		return nil
	}
	s.released = true
	s.mu.Unlock()

	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill ffmpeg: %w", err)
	}
	s.logger.Infof("Capture: released ffmpeg pid=%d", s.cmd.Process.Pid)

	select {
	case <-s.finished:
	case <-time.After(s.releaseTimeout):
		s.logger.Warnf("Capture: ffmpeg output still open after %s, dropping the tail", s.releaseTimeout)
	}
	return nil
}

func (s *ffmpegStream) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *ffmpegStream) markEnded() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	callbacks := s.onEnded
	s.onEnded = nil
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
