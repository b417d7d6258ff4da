// Package contentstore implements the write-once, content-addressed file
// pool that backs a repository's hash directory: files inserted here are
// named randomly rather than by content, made read-only, and found again
// only by following a symlink out of the hash index.
package contentstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kwiberg/frz/lib/base32"
	"github.com/kwiberg/frz/lib/fsutil"
	"github.com/kwiberg/frz/lib/stream"
)

// maxDepth bounds how many shard-directory levels a colliding insert will
// walk down before giving up on shortening the search; it does not bound
// the number of collisions tolerated, since depth simply stops growing
// past this point and retries keep drawing fresh random names.
const maxDepth = 4

// Store owns a content directory: a flat-ish pool of randomly named,
// read-only files reachable only via the hash index's symlinks.
type Store struct {
	root string
	mu   sync.Mutex
	rng  *rand.Rand
}

// New returns a Store rooted at dir. dir need not exist yet; it is
// created on demand as files are inserted.
func New(dir string) *Store {
	return &Store{
		root: dir,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Root returns the store's content directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) randomDigit(low, high int) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return base32.Digit(low + s.rng.Intn(high-low+1))
}

// suggestDestination returns a candidate destination path for depth
// shard-directory levels, creating those directories, and advances depth
// for the next attempt (capped at maxDepth).
func (s *Store) suggestDestination(depth *int) (string, error) {
	destination := s.root
	for i := 0; i < *depth; i++ {
		dirname := string([]byte{s.randomDigit(0, 15), s.randomDigit(0, 31)})
		destination = filepath.Join(destination, dirname)
	}
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return "", fmt.Errorf("contentstore: create %s: %w", destination, err)
	}
	filename := string([]byte{s.randomDigit(16, 31), s.randomDigit(0, 31)})
	destination = filepath.Join(destination, filename)
	if *depth < maxDepth {
		*depth++
	}
	return destination, nil
}

// CopyInsert copies source, a regular file, into the store under a
// randomly generated name and returns its new path.
func (s *Store) CopyInsert(source string) (string, error) {
	depth := 0
	for {
		destination, err := s.suggestDestination(&depth)
		if err != nil {
			return "", err
		}
		if err := copyFileExclusive(source, destination); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return "", err
		}
		if err := fsutil.RemoveWritePermissions(destination); err != nil {
			return "", err
		}
		return destination, nil
	}
}

// MoveInsert moves source into the store, falling back to CopyInsert if
// source is a symlink (neither the link nor its target is what a caller
// asking to "move" almost certainly means) or if source and the store
// are on different filesystems.
func (s *Store) MoveInsert(source string) (string, error) {
	info, err := os.Lstat(source)
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return s.CopyInsert(source)
	}

	depth := 0
	for {
		destination, err := s.suggestDestination(&depth)
		if err != nil {
			return "", err
		}
		err = os.Link(source, destination)
		switch {
		case err == nil:
			if err := os.Remove(source); err != nil {
				return "", err
			}
			if err := fsutil.RemoveWritePermissions(destination); err != nil {
				return "", err
			}
			return destination, nil
		case errors.Is(err, fs.ErrExist):
			continue
		case fsutil.IsCrossDevice(err):
			return s.CopyInsert(source)
		default:
			return "", fmt.Errorf("contentstore: link %s to %s: %w", source, destination, err)
		}
	}
}

// StreamInsert picks a destination, opens it for exclusive creation, and
// passes the resulting stream.Sink to fn. If fn returns true the file is
// kept (after having its write permissions stripped) and its path
// returned; if fn returns false or errors, the partially written file is
// removed and a zero value is returned.
func (s *Store) StreamInsert(fn func(sink stream.Sink) (bool, error)) (string, bool, error) {
	depth := 0
	for {
		destination, err := s.suggestDestination(&depth)
		if err != nil {
			return "", false, err
		}
		f, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return "", false, err
		}
		keep, ferr := fn(fileSink{f})
		closeErr := f.Close()
		if ferr != nil {
			os.Remove(destination)
			return "", false, ferr
		}
		if closeErr != nil {
			os.Remove(destination)
			return "", false, closeErr
		}
		if !keep {
			if err := os.Remove(destination); err != nil {
				return "", false, err
			}
			return "", false, nil
		}
		if err := fsutil.RemoveWritePermissions(destination); err != nil {
			return "", false, err
		}
		return destination, true, nil
	}
}

type fileSink struct{ f *os.File }

func (s fileSink) AddBytes(p []byte) error {
	_, err := s.f.Write(p)
	return err
}

// ForEach calls fn for every regular file (symlinks excluded) under the
// content directory, with its path relative to the store's root.
func (s *Store) ForEach(fn func(path, canonical string) error) error {
	if _, err := os.Stat(s.root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		canonical, ok := s.CanonicalPath(path)
		if !ok {
			return fmt.Errorf("contentstore: %s is not below %s", path, s.root)
		}
		return fn(path, canonical)
	})
}

// CanonicalPath returns file expressed relative to the store's root, or
// ok=false if file does not lie below the root.
func (s *Store) CanonicalPath(file string) (canonical string, ok bool) {
	return fsutil.RelativeSubtreePath(file, s.root)
}

func copyFileExclusive(source, destination string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(destination)
		return err
	}
	return out.Close()
}
