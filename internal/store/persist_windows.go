//go:build windows

// ABOUTME: Windows store writer: direct write, since rename over an open file is not atomic there
// ABOUTME: A store directory removed underneath us is treated as a no-op, not an error

package store

import (
	"errors"
	"io/fs"
	"os"
)

const storeFileMode os.FileMode = 0o600

func writeStoreFile(path string, data []byte) error {
	err := os.WriteFile(path, data, storeFileMode)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
