// Package export writes assembled artifacts to the local filesystem.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FileSink writes each artifact as a new file under Dir
type FileSink struct {
	Dir    string
	logger *zap.SugaredLogger
}

// NewFileSink creates a sink rooted at dir
func NewFileSink(dir string, logger *zap.SugaredLogger) *FileSink {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FileSink{Dir: dir, logger: logger}
}

// Write stores data as filename. Existing files are never overwritten.
func (s *FileSink) Write(ctx context.Context, data []byte, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("invalid artifact name %q", filename)
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(s.Dir, filename)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}

	s.logger.Debugf("FileSink: wrote %s (%d bytes)", path, len(data))
	return path, nil
}

// IsExist reports whether err came from writing over an existing artifact
func IsExist(err error) bool {
	return errors.Is(err, os.ErrExist)
}
