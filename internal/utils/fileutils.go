// Package utils provides file system helpers and the worker pool shared by
// the intake and worker services.
package utils

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// SkippedPrefixes marks files that are still being written or belong to the
// operating system.
var SkippedPrefixes = []string{".", "~", "_"}

// IsSkippedFile reports whether a spool entry must be ignored.
func IsSkippedFile(filePath string) bool {
	base := filepath.Base(filePath)
	for _, p := range SkippedPrefixes {
		if strings.HasPrefix(base, p) {
			return true
		}
	}
	ext := strings.ToLower(filepath.Ext(base))
	return ext == ".part" || ext == ".tmp" || ext == ".crdownload"
}

// CalculateFileHash calculates SHA1 hash of a file.
func CalculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha1.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// MoveFile renames src to dst, copying across filesystems when a rename is
// not possible.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	if err := CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// CopyFile copies src to dst, replacing dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
