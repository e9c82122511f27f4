package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireForPortWritesPID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := AcquireForPort(dir, 6502)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	assert.Equal(t, filepath.Join(dir, "vicebridge-6502.lock"), l.Path())
	pid, err := ReadPID(l.Path())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireRejectsSecondHolder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := AcquireForPort(dir, 6510)
	require.NoError(t, err)

	_, err = AcquireForPort(dir, 6510)
	require.ErrorIs(t, err, ErrHeld)

	other, err := AcquireForPort(dir, 6511)
	require.NoError(t, err)
	require.NoError(t, other.Release())

	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	again, err := AcquireForPort(dir, 6510)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestAcquireInvalidInput(t *testing.T) {
	t.Parallel()

	_, err := AcquireForPort(t.TempDir(), 0)
	assert.Error(t, err)
	_, err = Acquire("")
	assert.Error(t, err)
}
