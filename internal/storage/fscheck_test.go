package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedFS(name string) fsDetector {
	return func(string) (string, error) { return name, nil }
}

func TestCheckLocalFilesystemAcceptsLocalDisk(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.db")
	assert.NoError(t, checkLocalFilesystem(path, fixedFS("ext4")))
}

func TestCheckLocalFilesystemRejectsNetworkMount(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.db")
	err := checkLocalFilesystem(path, fixedFS("nfs"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `network filesystem "nfs"`)
	assert.Contains(t, err.Error(), "history.path")
}

func TestCheckLocalFilesystemInspectsNearestExistingDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	err := checkLocalFilesystem(filepath.Join(root, "a", "b", "history.db"), func(p string) (string, error) {
		inspected = p
		return "apfs", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, inspected)
}

func TestCheckLocalFilesystemDetectorError(t *testing.T) {
	t.Parallel()

	err := checkLocalFilesystem(filepath.Join(t.TempDir(), "history.db"), func(string) (string, error) {
		return "", errors.New("statfs broke")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statfs broke")
}

func TestCheckLocalFilesystemEmptyPath(t *testing.T) {
	t.Parallel()

	assert.Error(t, checkLocalFilesystem("", fixedFS("ext4")))
}

func TestIsRemoteFilesystem(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"nfs":    true,
		"SMBFS":  true,
		" cifs ": true,
		"fuse":   true,
		"apfs":   false,
		"0x6969": false,
		"":       false,
	}
	for fs, want := range cases {
		assert.Equal(t, want, isRemoteFilesystem(fs), fs)
	}
}
