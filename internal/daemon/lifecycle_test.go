package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleManager_StartStop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	lm := NewLifecycleManager(dir, zerolog.Nop())
	assert.Equal(t, filepath.Join(dir, PIDFileName), lm.PIDFile())

	require.NoError(t, lm.Start())

	pid, err := ReadPID(lm.PIDFile())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	running, err := RunningPID(lm.PIDFile())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), running)

	require.NoError(t, lm.Stop())
	assert.NoFileExists(t, lm.PIDFile())
	assert.NoError(t, lm.Stop())
}

func TestLifecycleManager_StopWithoutStartKeepsFile(t *testing.T) {
	dir := t.TempDir()
	pidFile := PIDFile(dir)
	require.NoError(t, os.WriteFile(pidFile, []byte("12345"), 0644))

	lm := NewLifecycleManager(dir, zerolog.Nop())
	require.NoError(t, lm.Stop())
	assert.FileExists(t, pidFile)
}

func TestLifecycleManager_StalePIDFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(PIDFile(dir), []byte("2147483646"), 0644))

	_, err := RunningPID(PIDFile(dir))
	assert.ErrorIs(t, err, ErrNotRunning)

	lm := NewLifecycleManager(dir, zerolog.Nop())
	require.NoError(t, lm.Start())
	defer lm.Stop()

	pid, err := ReadPID(PIDFile(dir))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadPID(filepath.Join(dir, "missing.pid"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("not a pid"), 0644))
	_, err = ReadPID(bad)
	assert.Error(t, err)

	good := filepath.Join(dir, "good.pid")
	require.NoError(t, os.WriteFile(good, []byte(strconv.Itoa(42)+"\n"), 0644))
	pid, err := ReadPID(good)
	require.NoError(t, err)
	assert.Equal(t, 42, pid)
}
