// Package hashindex implements the persistent map from content hashes to
// content-file paths: a disk-backed variant stored as the sharded
// symlink tree under a repository's .frz/<algo> directory, and an
// in-memory variant used by standalone hashing tools that have no
// repository to anchor a disk index to.
package hashindex

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kwiberg/frz/lib/applog"
	"github.com/kwiberg/frz/lib/base32"
	"github.com/kwiberg/frz/lib/hash"
)

// IsGood is called by Scrub for every leaf symlink that still parses as
// a valid hash token; it decides whether the entry should be kept.
type IsGood func(hs hash.HashAndSize, resolvedTarget string) bool

// Index is a persistent hs -> path map.
type Index interface {
	// Insert records that hs's content lives at path. It returns
	// inserted=false without error if hs is already present (a
	// duplicate, not a failure).
	Insert(hs hash.HashAndSize, path string) (inserted bool, err error)
	// Contains reports whether hs is indexed.
	Contains(hs hash.HashAndSize) (bool, error)
	// Scrub walks every indexed entry and removes those is_good rejects,
	// along with any structurally invalid entries found along the way.
	Scrub(log applog.Log, isGood IsGood) error
}

// RAMIndex is an in-memory Index with no persistence, suitable for
// short-lived tools that build and query a hash map without a
// repository.
type RAMIndex struct {
	mu    sync.Mutex
	index map[hash.HashAndSize]string
}

// NewRAM returns an empty in-memory Index.
func NewRAM() *RAMIndex {
	return &RAMIndex{index: make(map[hash.HashAndSize]string)}
}

func (r *RAMIndex) Insert(hs hash.HashAndSize, path string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[hs]; ok {
		return false, nil
	}
	r.index[hs] = path
	return true, nil
}

func (r *RAMIndex) Contains(hs hash.HashAndSize) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[hs]
	return ok, nil
}

func (r *RAMIndex) Scrub(_ applog.Log, isGood IsGood) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hs, path := range r.index {
		if !isGood(hs, path) {
			delete(r.index, hs)
		}
	}
	return nil
}

// StructuralError reports that the on-disk hash index contains an entry
// that cannot be a valid shard or symlink - something other than this
// package created it, or it was damaged.
type StructuralError struct {
	Path string
	Msg  string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("hashindex: %s: %s", e.Path, e.Msg)
}

// DiskIndex is an Index backed by the sharded symlink tree described in
// lib/base32: dir/<token[0:2]>/<token[2:4]>/<token[4:]>, where the
// symlink's target is path made relative to the symlink's directory.
type DiskIndex struct {
	dir string
}

// NewDisk returns an Index rooted at dir (e.g. R/.frz/blake3). dir
// need not exist yet.
func NewDisk(dir string) *DiskIndex {
	return &DiskIndex{dir: dir}
}

func (d *DiskIndex) symlinkPath(hs hash.HashAndSize) string {
	return filepath.Join(d.dir, base32.SymlinkPath(hs.ToBase32()))
}

func (d *DiskIndex) Insert(hs hash.HashAndSize, path string) (bool, error) {
	link := d.symlinkPath(hs)
	info, err := os.Lstat(link)
	switch {
	case err == nil:
		if info.Mode()&os.ModeSymlink != 0 {
			return false, nil
		}
		return false, &StructuralError{Path: link, Msg: "exists but is not a symlink"}
	case !errors.Is(err, fs.ErrNotExist):
		return false, fmt.Errorf("hashindex: stat %s: %w", link, err)
	}

	symlinkDir := filepath.Dir(link)
	if err := os.MkdirAll(symlinkDir, 0o755); err != nil {
		return false, fmt.Errorf("hashindex: create %s: %w", symlinkDir, err)
	}
	target, err := filepath.Rel(symlinkDir, path)
	if err != nil {
		return false, fmt.Errorf("hashindex: relativize %s from %s: %w", path, symlinkDir, err)
	}
	if err := os.Symlink(target, link); err != nil {
		return false, fmt.Errorf("hashindex: create symlink %s: %w", link, err)
	}
	return true, nil
}

func (d *DiskIndex) Contains(hs hash.HashAndSize) (bool, error) {
	link := d.symlinkPath(hs)
	info, err := os.Lstat(link)
	switch {
	case err == nil:
		if info.Mode()&os.ModeSymlink != 0 {
			return true, nil
		}
		return false, &StructuralError{Path: link, Msg: "exists but is not a symlink"}
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("hashindex: stat %s: %w", link, err)
	}
}

func (d *DiskIndex) Scrub(log applog.Log, isGood IsGood) error {
	info, err := os.Lstat(d.dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("hashindex: stat %s: %w", d.dir, err)
	case !info.IsDir():
		return &StructuralError{Path: d.dir, Msg: "is not a directory"}
	}
	return d.scrubDir(log, isGood, d.dir, "")
}

func (d *DiskIndex) scrubDir(log applog.Log, isGood IsGood, dir, prefix string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("hashindex: read %s: %w", dir, err)
	}
	// Sorting isn't required for correctness, but it makes Scrub's
	// removal order (and hence its logging) deterministic.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var toRemove []string
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if len(prefix) == base32.SymlinkSubdirs*base32.SymlinkSubdirDigits {
			info, err := entry.Info()
			if err != nil {
				return fmt.Errorf("hashindex: stat %s: %w", path, err)
			}
			isSymlink := info.Mode()&os.ModeSymlink != 0
			hs, ok := hash.FromBase32(prefix + entry.Name())
			switch {
			case !isSymlink:
				log.Info("Removing %s because it isn't a symlink.", path)
				toRemove = append(toRemove, path)
			case !ok:
				log.Info("Removing %s because its filename is not a hash.", path)
				toRemove = append(toRemove, path)
			default:
				target, err := os.Readlink(path)
				if err != nil {
					return fmt.Errorf("hashindex: read symlink %s: %w", path, err)
				}
				resolved := filepath.Join(filepath.Dir(path), target)
				if !isGood(hs, resolved) {
					toRemove = append(toRemove, path)
				}
			}
			continue
		}

		name := entry.Name()
		switch {
		case !entry.IsDir():
			log.Info("Removing %s because it's not a directory.", path)
			toRemove = append(toRemove, path)
		case len(name) != base32.SymlinkSubdirDigits || !base32.IsNumber(name):
			log.Info("Removing %s because its name is malformed.", path)
			toRemove = append(toRemove, path)
		default:
			if err := d.scrubDir(log, isGood, path, prefix+name); err != nil {
				return err
			}
		}
	}
	for _, p := range toRemove {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("hashindex: remove %s: %w", p, err)
		}
	}
	return nil
}
