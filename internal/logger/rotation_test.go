package logger

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter_Write(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "nested", "test.log")

	w, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)

	n, err := w.Write([]byte("line\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.NoError(t, w.Close())
}

func TestRotatingWriter_Rotation(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "test.log")

	w, err := NewRotatingWriter(logFile, 1, 0, false)
	require.NoError(t, err)
	defer w.Close()

	chunk := bytes.Repeat([]byte("x"), 700*1024)
	_, err = w.Write(chunk)
	require.NoError(t, err)
	_, err = w.Write(chunk)
	require.NoError(t, err)

	rotated, err := filepath.Glob(logFile + ".*")
	require.NoError(t, err)
	require.Len(t, rotated, 1)

	info, err := os.Stat(logFile)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), info.Size())
}

func TestRotatingWriter_Compress(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "test.log")

	w, err := NewRotatingWriter(logFile, 1, 0, true)
	require.NoError(t, err)
	defer w.Close()

	chunk := bytes.Repeat([]byte("y"), 700*1024)
	for i := 0; i < 2; i++ {
		_, err = w.Write(chunk)
		require.NoError(t, err)
	}

	gz, err := filepath.Glob(logFile + ".*.gz")
	require.NoError(t, err)
	require.Len(t, gz, 1)

	f, err := os.Open(gz[0])
	require.NoError(t, err)
	defer f.Close()
	r, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, chunk, data)
}

func TestRotatingWriter_NoLimit(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	w, err := NewRotatingWriter(logFile, 0, 0, false)
	require.NoError(t, err)
	defer w.Close()

	chunk := bytes.Repeat([]byte("z"), 1024)
	for i := 0; i < 4; i++ {
		_, err = w.Write(chunk)
		require.NoError(t, err)
	}

	rotated, _ := filepath.Glob(logFile + ".*")
	assert.Empty(t, rotated)
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "test.log")

	old := logFile + ".20200101-000000.000"
	fresh := logFile + ".20990101-000000.000"
	other := filepath.Join(dir, "other.log.1")
	for _, p := range []string{old, fresh, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(other, past, past))

	w, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer w.Close()

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
}
