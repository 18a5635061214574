package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_WritesIntoNestedDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings", "today")
	sink := NewFileSink(dir, nil)

	path, err := sink.Write(context.Background(), []byte("payload"), "capture_x.webm")

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "capture_x.webm"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestFileSink_RefusesOverwrite(t *testing.T) {
	sink := NewFileSink(t.TempDir(), nil)
	_, err := sink.Write(context.Background(), []byte("one"), "hr_x.json")
	require.NoError(t, err)

	_, err = sink.Write(context.Background(), []byte("two"), "hr_x.json")

	require.Error(t, err)
	assert.True(t, IsExist(err))
	data, err := os.ReadFile(filepath.Join(sink.Dir, "hr_x.json"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}

func TestFileSink_RejectsPaths(t *testing.T) {
	sink := NewFileSink(t.TempDir(), nil)

	for _, name := range []string{"", "../escape.webm", "sub/file.json", ".hidden"} {
		_, err := sink.Write(context.Background(), []byte("x"), name)
		assert.Error(t, err, name)
	}
}

func TestFileSink_CancelledContext(t *testing.T) {
	sink := NewFileSink(t.TempDir(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sink.Write(ctx, []byte("x"), "capture_x.webm")

	assert.ErrorIs(t, err, context.Canceled)
}
