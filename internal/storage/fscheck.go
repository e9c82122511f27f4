package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// remoteFilesystems are filesystem names on which SQLite file locking is
// unreliable.
var remoteFilesystems = map[string]bool{
	"afpfs":  true,
	"cifs":   true,
	"fuse":   true,
	"nfs":    true,
	"smb2":   true,
	"smbfs":  true,
	"webdav": true,
}

// fsDetector names the filesystem holding path.
type fsDetector func(path string) (string, error)

// CheckLocalFilesystem refuses database paths that live on a network mount.
func CheckLocalFilesystem(path string) error {
	return checkLocalFilesystem(path, detectFilesystemType)
}

func checkLocalFilesystem(path string, detect fsDetector) error {
	if path == "" {
		return errors.New("history database path is empty")
	}

	dir, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve history database path %q: %w", path, err)
	}

	fsType, err := detect(dir)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", dir, err)
	}
	if isRemoteFilesystem(fsType) {
		return fmt.Errorf("history database %q is on network filesystem %q; SQLite needs local disk for locking, set history.path to a local file", path, fsType)
	}
	return nil
}

// existingAncestor walks up from path to the first component that exists,
// so a database that has not been created yet is checked by its directory.
func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", dir, err)
		case filepath.Dir(dir) == dir:
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
	}
}

func isRemoteFilesystem(fsType string) bool {
	return remoteFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
}
