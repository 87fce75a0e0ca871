package ioutils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrExists is returned by MoveNoReplace when the destination is taken.
	ErrExists = errors.New("destination already exists")

	// ErrSourceLeft is returned by MoveNoReplace when the destination is in
	// place but the source could not be unlinked. The move itself succeeded.
	ErrSourceLeft = errors.New("source left behind")
)

// EnsureDir creates a directory and all parent directories if they don't exist.
//
// Directories are created with mode 0755 (rwxr-xr-x).
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// Exists reports whether something is present at path.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// ExpandPath expands $VARS and a leading "~" in a user supplied path.
func ExpandPath(path string) string {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// MoveNoReplace moves src to dst and fails with ErrExists if dst exists.
//
// A hard link is used to claim dst atomically. Where links are unsupported
// (cross-device, some network filesystems) it falls back to a rename guarded
// by an existence check, and further to a copy when rename crosses devices.
func MoveNoReplace(src, dst string) error {
	err := os.Link(src, dst)
	switch {
	case err == nil:
		if rerr := os.Remove(src); rerr != nil && !os.IsNotExist(rerr) {
			return fmt.Errorf("%w: %w", ErrSourceLeft, rerr)
		}
		return nil
	case errors.Is(err, os.ErrExist):
		return ErrExists
	}

	if Exists(dst) {
		return ErrExists
	}
	return moveFile(src, dst)
}

// MoveReplace moves src to dst, replacing any existing file.
func MoveReplace(src, dst string) error {
	return moveFile(src, dst)
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !isCrossDevice(err) {
		return err
	}

	// Copy to a sibling temp file first so dst never holds a partial copy.
	tmp := dst + ".moving"
	if err := CopyFile(src, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return false
	}
	return strings.Contains(linkErr.Err.Error(), "cross-device")
}

// CopyFile copies a file from source to destination.
//
// The destination file is created with mode 0644 if it doesn't exist,
// or truncated if it does. Data is synced before returning.
func CopyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := destFile.Sync(); err != nil {
		destFile.Close()
		return err
	}
	return destFile.Close()
}
