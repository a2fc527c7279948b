package testsupport

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"testing"
)

// tiffHeader is a little-endian TIFF magic number; stages never read past it.
var tiffHeader = []byte{'I', 'I', 42, 0}

// WriteFile writes a stand-in raw plate image of size bytes. The body is
// seeded from the file name so two plates never share content, which keeps
// checksum comparisons in workspace staging honest.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size < int64(len(tiffHeader)) {
		size = int64(len(tiffHeader))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(filepath.Base(path)))
	seed := h.Sum32()

	data := make([]byte, size)
	copy(data, tiffHeader)
	for i := len(tiffHeader); i < len(data); i++ {
		seed = seed*1664525 + 1013904223
		data[i] = byte(seed >> 24)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
