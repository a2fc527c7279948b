package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrDestinationExists is returned when a copy would replace an existing file
// and overwrite was not requested.
var ErrDestinationExists = errors.New("destination already exists")

// afterCopy runs between writing the temporary copy and hashing it back.
var afterCopy = func(string) {}

// CopyOptions tunes CopyFileVerified.
type CopyOptions struct {
	Overwrite bool
	Mode      os.FileMode
}

// CopyFileVerified streams src into a temporary sibling of dst, checks its size
// and compares the SHA256 of the source stream against the temporary file read
// back from disk, then moves it into place. Without Overwrite the final
// step is a hard link, so an existing dst is never replaced even if it appears
// during the copy.
func CopyFileVerified(src, dst string, opts CopyOptions) error {
	if !opts.Overwrite {
		if _, err := os.Lstat(dst); err == nil {
			return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
		}
	}
	mode := opts.Mode
	if mode == 0 {
		mode = 0o644
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if !srcInfo.Mode().IsRegular() {
		return fmt.Errorf("source %s is not a regular file", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".partial-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	srcHasher := sha256.New()
	written, err := io.Copy(tmp, io.TeeReader(in, srcHasher))
	if err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if written != srcInfo.Size() {
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}
	afterCopy(tmpPath)
	dstSum, err := fileSHA256(tmpPath)
	if err != nil {
		return fmt.Errorf("hash copy: %w", err)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstSum) {
		return errors.New("copy hash mismatch: file corrupted during copy")
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}

	if opts.Overwrite {
		return os.Rename(tmpPath, dst)
	}
	if err := os.Link(tmpPath, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
		}
		return err
	}
	return nil
}

// Exists reports whether path exists. Errors other than "not exist" are returned.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// DirEmpty reports whether dir has no entries, ignoring names in skip.
func DirEmpty(dir string, skip ...string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	ignored := make(map[string]struct{}, len(skip))
	for _, name := range skip {
		ignored[name] = struct{}{}
	}
	for _, entry := range entries {
		if _, ok := ignored[entry.Name()]; !ok {
			return false, nil
		}
	}
	return true, nil
}
