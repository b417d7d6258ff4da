// Package repo implements the repository root: the directory tree rooted
// at a ".frz" content directory, together with the operations (add,
// fill, repair) that keep its user symlinks, hash index and content
// store consistent with each other.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kwiberg/frz/lib/contentstore"
	"github.com/kwiberg/frz/lib/hashindex"
	"github.com/kwiberg/frz/lib/hasher"
	"github.com/kwiberg/frz/lib/stream"
)

// ErrNoRepository is returned when no repository root can be found by
// walking upward from a given path.
var ErrNoRepository = errors.New("repo: no repository root found")

// hashDirName is the name given to the hash index under .frz. It is also
// the "algo" element a user symlink's target must name.
const hashDirName = "blake3"

// root bundles the per-repository-root state a Top instance caches once
// discovered: the hash index and the two content stores (one for
// content reachable from the index, one for orphaned content kept
// around in case it turns out to be useful again).
type root struct {
	path         string // absolute, canonicalized directory
	hashIndex    *hashindex.DiskIndex
	contentStore *contentstore.Store
	unusedStore  *contentstore.Store
}

func newRoot(path string) *root {
	frz := filepath.Join(path, ".frz")
	return &root{
		path:         path,
		hashIndex:    hashindex.NewDisk(filepath.Join(frz, hashDirName)),
		contentStore: contentstore.New(filepath.Join(frz, "content")),
		unusedStore:  contentstore.New(filepath.Join(frz, "unused-content")),
	}
}

// Top owns the cache of repository roots discovered so far, plus the
// shared streaming machinery used to hash and move file content. A
// single Top is meant to be reused across every add/fill/repair call in
// a process so that roots visited more than once are only discovered
// once.
type Top struct {
	newHasher func() hasher.Hasher
	streamer  stream.ForkedStreamer

	mu    sync.Mutex
	roots map[string]*root
}

// NewTop returns a Top that hashes with newHasher and streams with
// streamer. Both are shared by every root the Top discovers.
func NewTop(newHasher func() hasher.Hasher, streamer stream.ForkedStreamer) *Top {
	return &Top{
		newHasher: newHasher,
		streamer:  streamer,
		roots:     make(map[string]*root),
	}
}

// isTopDir reports whether dir contains a real ".frz" directory (not a
// symlink to one, which would mean dir is merely a non-root worktree
// directory that has its own upward-pointing .frz link).
func isTopDir(dir string) bool {
	info, err := os.Lstat(filepath.Join(dir, ".frz"))
	return err == nil && info.IsDir()
}

// nonLeafCanonical resolves symlinks in every component of p except the
// last, so that walking upward from the result's parent directory
// cannot be fooled by a symlinked ancestor.
func nonLeafCanonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("repo: %w", err)
	}
	dir, base := filepath.Split(abs)
	dir = filepath.Clean(dir)
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("repo: resolve %s: %w", dir, err)
	}
	return filepath.Join(realDir, base), nil
}

// findRoot locates the repository root that owns p, a file (which need
// not yet exist) that a caller is about to add: it canonicalizes p's
// parent directory and walks upward from there until a directory with a
// real .frz subdirectory is found. It returns the root along with the
// number of directory levels between p's canonical parent directory and
// the root (0 if p's parent directory is itself the root).
func (t *Top) findRoot(p string) (*root, int, error) {
	canon, err := nonLeafCanonical(p)
	if err != nil {
		return nil, 0, err
	}
	return t.rootAbove(filepath.Dir(canon), p)
}

// findRootForDir locates the repository root above (or at) dir, an
// existing directory a caller wants to walk. Unlike findRoot, dir itself
// - not its parent - is the first candidate checked.
func (t *Top) findRootForDir(dir string) (*root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("repo: %w", err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("repo: resolve %s: %w", abs, err)
	}
	r, _, err := t.rootAbove(canon, dir)
	return r, err
}

// rootAbove walks upward from dir (itself a candidate) until it finds a
// cached root or a directory with a real .frz subdirectory, caching any
// newly discovered root. described is used only for error messages.
func (t *Top) rootAbove(dir, described string) (*root, int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	depth := 0
	cur := dir
	for {
		if r, ok := t.roots[cur]; ok {
			return r, depth, nil
		}
		if isTopDir(cur) {
			r := newRoot(cur)
			t.roots[cur] = r
			return r, depth, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return nil, 0, fmt.Errorf("%w: above %s", ErrNoRepository, described)
		}
		cur = parent
		depth++
	}
}

// hashdirSymlinkTarget is the target a directory `depth` levels below its
// repository root must give its ".frz" symlink, so that following it
// reaches the root's real .frz directory.
func hashdirSymlinkTarget(depth int) string {
	target := ".frz"
	for i := 0; i < depth; i++ {
		target = filepath.Join("..", target)
	}
	return target
}

// ensureHashdirSymlink makes sure dir, which is depth levels below its
// repository root, has a ".frz" entry that is either the root's real
// directory (depth == 0) or a correctly-targeted upward symlink.
func ensureHashdirSymlink(dir string, depth int) error {
	link := filepath.Join(dir, ".frz")
	if depth == 0 {
		return nil
	}
	wantTarget := hashdirSymlinkTarget(depth)
	info, err := os.Lstat(link)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink != 0:
		got, rerr := os.Readlink(link)
		if rerr != nil {
			return fmt.Errorf("repo: read symlink %s: %w", link, rerr)
		}
		if filepath.Clean(got) == filepath.Clean(wantTarget) {
			return nil
		}
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("repo: remove stale %s: %w", link, err)
		}
	case err == nil:
		return fmt.Errorf("repo: %s exists and is not a symlink", link)
	case !os.IsNotExist(err):
		return fmt.Errorf("repo: stat %s: %w", link, err)
	}
	if err := os.Symlink(wantTarget, link); err != nil {
		return fmt.Errorf("repo: create symlink %s: %w", link, err)
	}
	return nil
}
