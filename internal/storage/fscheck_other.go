//go:build !darwin && !linux

package storage

// Without a statfs equivalent every path is treated as local.
func detectFilesystemType(string) (string, error) {
	return "local", nil
}
