package fileutil

import (
	"errors"
	"os"
	"strings"
	"path/filepath"
	"testing"
)

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.tiff")
	dst := filepath.Join(dir, "dst.tiff")

	content := []byte("raw plate bytes")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CopyFileVerified(src, dst, CopyOptions{}); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected temp file cleaned up, found %d entries", len(entries))
	}
}

func TestCopyFileVerifiedRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.tiff")
	dst := filepath.Join(dir, "dst.tiff")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := CopyFileVerified(src, dst, CopyOptions{})
	if !errors.Is(err, ErrDestinationExists) {
		t.Fatalf("expected ErrDestinationExists, got %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "old" {
		t.Fatalf("destination was modified: %q", got)
	}

	if err := CopyFileVerified(src, dst, CopyOptions{Overwrite: true}); err != nil {
		t.Fatalf("overwrite copy failed: %v", err)
	}
	got, _ = os.ReadFile(dst)
	if string(got) != "new" {
		t.Fatalf("expected overwritten content, got %q", got)
	}
}

func TestCopyFileVerifiedDetectsCorruptedCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.tiff")
	dst := filepath.Join(dir, "dst.tiff")
	if err := os.WriteFile(src, []byte("raw plate bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	orig := afterCopy
	t.Cleanup(func() { afterCopy = orig })
	afterCopy = func(tmpPath string) {
		if err := os.WriteFile(tmpPath, []byte("raw plate byteZ"), 0o644); err != nil {
			t.Errorf("corrupt temp copy: %v", err)
		}
	}

	err := CopyFileVerified(src, dst, CopyOptions{})
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Fatalf("corrupted copy reached destination, stat err=%v", statErr)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected temp file removed, found %d entries", len(entries))
	}
}

func TestCopyFileVerifiedMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := CopyFileVerified(filepath.Join(dir, "missing"), filepath.Join(dir, "dst"), CopyOptions{}); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestExistsAndDirEmpty(t *testing.T) {
	dir := t.TempDir()
	ok, err := Exists(filepath.Join(dir, "nope"))
	if err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v", ok, err)
	}
	empty, err := DirEmpty(dir)
	if err != nil || !empty {
		t.Fatalf("DirEmpty(fresh) = %v, %v", empty, err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".marker"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if empty, _ := DirEmpty(dir, ".marker"); !empty {
		t.Fatal("expected skipped names to be ignored")
	}
	if empty, _ := DirEmpty(dir); empty {
		t.Fatal("expected non-empty directory")
	}
	ok, err = Exists(filepath.Join(dir, ".marker"))
	if err != nil || !ok {
		t.Fatalf("Exists(marker) = %v, %v", ok, err)
	}
}

func TestSameContentAndFreeBytes(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	c := filepath.Join(dir, "c")
	for path, body := range map[string]string{a: "same", b: "same", c: "diff"} {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if same, err := SameContent(a, b); err != nil || !same {
		t.Fatalf("SameContent(a, b) = %v, %v", same, err)
	}
	if same, err := SameContent(a, c); err != nil || same {
		t.Fatalf("SameContent(a, c) = %v, %v", same, err)
	}
	free, err := FreeBytes(dir)
	if err != nil {
		t.Fatalf("FreeBytes: %v", err)
	}
	if free == 0 {
		t.Fatal("expected some free space in temp dir")
	}
}
