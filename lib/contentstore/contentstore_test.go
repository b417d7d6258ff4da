package contentstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kwiberg/frz/lib/fsutil"
	"github.com/kwiberg/frz/lib/stream"
)

func TestCopyInsertStripsWritePermissions(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(filepath.Join(dir, "content"))
	dst, err := s.CopyInsert(src)
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "hello" {
		t.Fatalf("content = %q, %v", got, err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !fsutil.IsReadonly(info.Mode().Perm()) {
		t.Fatalf("inserted file mode = %v, want readonly", info.Mode().Perm())
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatal("CopyInsert should leave the source file in place")
	}
}

func TestMoveInsertRemovesSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.WriteFile(src, []byte("world"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(filepath.Join(dir, "content"))
	dst, err := s.MoveInsert(src)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("MoveInsert should remove the source file")
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "world" {
		t.Fatalf("content = %q, %v", got, err)
	}
}

func TestMoveInsertOnSymlinkCopiesInstead(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	if err := os.WriteFile(target, []byte("linked"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	s := New(filepath.Join(dir, "content"))
	dst, err := s.MoveInsert(link)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Lstat(link); err != nil {
		t.Fatal("MoveInsert on a symlink should leave the symlink in place")
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "linked" {
		t.Fatalf("content = %q, %v", got, err)
	}
}

func TestStreamInsertDiscardsOnReject(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "content"))
	path, kept, err := s.StreamInsert(func(sink stream.Sink) (bool, error) {
		sink.AddBytes([]byte("nope"))
		return false, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if kept || path != "" {
		t.Fatalf("StreamInsert rejected = %q, %v", path, kept)
	}
	entries, err := os.ReadDir(s.Root())
	if err != nil {
		if !os.IsNotExist(err) {
			t.Fatal(err)
		}
		return
	}
	if len(entries) != 0 {
		t.Fatalf("expected no leftover files, found %d", len(entries))
	}
}

func TestStreamInsertKeepsOnAccept(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "content"))
	path, kept, err := s.StreamInsert(func(sink stream.Sink) (bool, error) {
		sink.AddBytes([]byte("yes"))
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !kept {
		t.Fatal("expected StreamInsert to keep the file")
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "yes" {
		t.Fatalf("content = %q, %v", got, err)
	}
}

func TestForEachVisitsInsertedFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "content"))
	src := filepath.Join(dir, "src")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst, err := s.CopyInsert(src)
	if err != nil {
		t.Fatal(err)
	}

	visited := 0
	err = s.ForEach(func(path, canonical string) error {
		visited++
		if path != dst {
			t.Fatalf("ForEach path = %q, want %q", path, dst)
		}
		if filepath.Join(s.Root(), canonical) != dst {
			t.Fatalf("canonical %q does not resolve back to %q", canonical, dst)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if visited != 1 {
		t.Fatalf("visited %d files, want 1", visited)
	}
}

func TestForEachOnMissingStoreIsNoop(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "never-created"))
	if err := s.ForEach(func(string, string) error {
		t.Fatal("unexpected visit")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}
