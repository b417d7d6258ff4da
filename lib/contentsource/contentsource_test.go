package contentsource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kwiberg/frz/lib/applog"
	"github.com/kwiberg/frz/lib/contentstore"
	"github.com/kwiberg/frz/lib/hash"
	"github.com/kwiberg/frz/lib/hasher"
	"github.com/kwiberg/frz/lib/stream"
)

func hashOf(t *testing.T, data []byte) hash.HashAndSize {
	t.Helper()
	h := hasher.NewSizeHasher(hasher.NewBlake3())
	if err := h.AddBytes(data); err != nil {
		t.Fatal(err)
	}
	return h.Finish()
}

func TestDirSourceFetchReadOnlyCopies(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "external")
	if err := os.MkdirAll(filepath.Join(srcDir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	data := []byte("needle content")
	target := filepath.Join(srcDir, "sub", "file.txt")
	if err := os.WriteFile(target, data, 0o644); err != nil {
		t.Fatal(err)
	}
	// A decoy of a different size: it lands in another size bucket and is
	// never hashed for this lookup.
	if err := os.WriteFile(filepath.Join(srcDir, "decoy"), []byte("xx"), 0o644); err != nil {
		t.Fatal(err)
	}

	hs := hashOf(t, data)
	m := stream.NewMultiThreaded(2, 64, 2)
	defer m.Close()
	src := NewDir(srcDir, true, m, hasher.NewBlake3)
	store := contentstore.New(filepath.Join(dir, "content"))

	log := applog.New(nil)
	path, found, err := src.Fetch(log, hs, store)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected to find the content")
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != string(data) {
		t.Fatalf("content at %q = %q, %v", path, got, err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatal("read-only source file should not have been removed")
	}
}

func TestDirSourceFetchNotFound(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "external")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "f"), []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}

	hs := hashOf(t, []byte("not present"))
	m := stream.NewMultiThreaded(2, 64, 2)
	defer m.Close()
	src := NewDir(srcDir, true, m, hasher.NewBlake3)
	store := contentstore.New(filepath.Join(dir, "content"))

	_, found, err := src.Fetch(applog.New(nil), hs, store)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected not to find content with a size no candidate has")
	}
}

func TestDirSourceIgnoresSymlinks(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "external")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		t.Fatal(err)
	}
	data := []byte("needle content")
	real := filepath.Join(srcDir, "real.txt")
	if err := os.WriteFile(real, data, 0o644); err != nil {
		t.Fatal(err)
	}
	// A symlink of the same size, pointing at content that would hash
	// identically to real.txt if it were followed. It must never be
	// treated as a candidate.
	link := filepath.Join(srcDir, "link.txt")
	if err := os.Symlink("real.txt", link); err != nil {
		t.Fatal(err)
	}

	hs := hashOf(t, data)
	m := stream.NewMultiThreaded(2, 64, 2)
	defer m.Close()
	src := NewDir(srcDir, true, m, hasher.NewBlake3)
	store := contentstore.New(filepath.Join(dir, "content"))

	log := applog.New(nil)
	path, found, err := src.Fetch(log, hs, store)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected to find the content via the regular file")
	}
	if path == link {
		t.Fatalf("Fetch selected the symlink %q instead of the regular file", link)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != string(data) {
		t.Fatalf("content at %q = %q, %v", path, got, err)
	}
}

func TestDirSourceFetchNotReadOnlyMovesAndInsertsViaForking(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "unused-content")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		t.Fatal(err)
	}
	data := []byte("owned content")
	target := filepath.Join(srcDir, "file")
	if err := os.WriteFile(target, data, 0o644); err != nil {
		t.Fatal(err)
	}

	hs := hashOf(t, data)
	m := stream.NewMultiThreaded(2, 64, 1)
	defer m.Close()
	src := NewDir(srcDir, false, m, hasher.NewBlake3)
	store := contentstore.New(filepath.Join(dir, "content"))

	path, found, err := src.Fetch(applog.New(nil), hs, store)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected to find the content")
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != string(data) {
		t.Fatalf("content at %q = %q, %v", path, got, err)
	}
}
