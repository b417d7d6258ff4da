package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kwiberg/frz/lib/applog"
	"github.com/kwiberg/frz/lib/base32"
	"github.com/kwiberg/frz/lib/contentsource"
	"github.com/kwiberg/frz/lib/filestream"
	"github.com/kwiberg/frz/lib/fsutil"
	"github.com/kwiberg/frz/lib/hash"
	"github.com/kwiberg/frz/lib/hasher"
)

// IndexStats reports what checking the hash index's symlinks found.
type IndexStats struct {
	Good int // entries confirmed to still resolve to valid content
	Bad  int // entries removed because they did not
}

// ContentStats reports what scanning the content store's files found.
type ContentStats struct {
	ReclaimedOrphans int // files not indexed, but now are
	Duplicates       int // files not indexed, and already present elsewhere, so retired
	Errors           int // files skipped after an I/O error reading or hashing them
}

// FetchStats reports what trying to fill in missing content found.
type FetchStats struct {
	Fetched      int // unresolved user symlinks that a content source supplied
	StillMissing int // unresolved user symlinks no content source could supply
}

// RepairStats summarizes a full Repair pass.
type RepairStats struct {
	Index   IndexStats
	Content ContentStats
	Fetch   FetchStats
}

// Repair walks the repository rooted above startDir in three passes: it
// confirms every hash index entry still resolves to genuine content
// (re-hashing each file unless fast is true, in which case only a cheap
// empty-vs-nonempty check is done), reclaims or retires any content-store
// file the index doesn't already know about, and then tries to fetch
// content for every unresolved user symlink from sources, in order.
func (t *Top) Repair(startDir string, fast bool, sources []contentsource.Source, log applog.Log) (RepairStats, error) {
	r, err := t.findRootForDir(startDir)
	if err != nil {
		return RepairStats{}, err
	}

	var stats RepairStats
	indexed, istats, err := t.checkIndexSymlinks(r, !fast, log)
	if err != nil {
		return stats, err
	}
	stats.Index = istats

	cstats, err := t.checkContentFiles(r, indexed, log)
	if err != nil {
		return stats, err
	}
	stats.Content = cstats

	fstats, err := t.fetchMissingContent(r, sources, log)
	if err != nil {
		return stats, err
	}
	stats.Fetch = fstats
	return stats, nil
}

// Fill walks the repository rooted above startDir and tries to fetch
// content for every unresolved user symlink from sources, in order. It
// is the third of Repair's three passes, run on its own.
func (t *Top) Fill(startDir string, sources []contentsource.Source, log applog.Log) (FetchStats, error) {
	r, err := t.findRootForDir(startDir)
	if err != nil {
		return FetchStats{}, err
	}
	return t.fetchMissingContent(r, sources, log)
}

// checkIndexSymlinks scrubs r's hash index, returning the set of content
// paths (relative to r.contentStore's root) it still references after
// scrubbing.
func (t *Top) checkIndexSymlinks(r *root, verifyAllHashes bool, log applog.Log) (map[string]bool, IndexStats, error) {
	indexed := make(map[string]bool)
	var stats IndexStats

	isGood := func(hs hash.HashAndSize, resolvedTarget string) bool {
		canonical, ok := r.contentStore.CanonicalPath(resolvedTarget)
		if !ok {
			stats.Bad++
			return false
		}
		info, err := os.Stat(resolvedTarget)
		if err != nil || !info.Mode().IsRegular() || info.Size() != hs.Size {
			stats.Bad++
			return false
		}
		ok = firstByteSanityCheck(resolvedTarget, hs)
		if ok && verifyAllHashes {
			ok = t.rehashMatches(resolvedTarget, hs)
		}
		if !ok {
			stats.Bad++
			return false
		}
		stats.Good++
		indexed[canonical] = true
		return true
	}
	if err := r.hashIndex.Scrub(log, isGood); err != nil {
		return nil, IndexStats{}, err
	}
	return indexed, stats, nil
}

// firstByteSanityCheck is the "--fast" check: it confirms only that
// path's emptiness agrees with hs.Size, not the file's full content.
func firstByteSanityCheck(path string, hs hash.HashAndSize) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var buf [1]byte
	n, _ := f.Read(buf[:])
	return (n == 0) == (hs.Size == 0)
}

func (t *Top) rehashMatches(path string, hs hash.HashAndSize) bool {
	src, err := filestream.NewSource(path)
	if err != nil {
		return false
	}
	defer src.Close()
	sh := hasher.NewSizeHasher(t.newHasher())
	if err := t.streamer.Stream(src, sh, nil); err != nil {
		return false
	}
	return sh.Finish() == hs
}

// checkContentFiles visits every file in r's content store, stripping
// stray write permissions and reclaiming or retiring any file indexed
// does not already cover. An I/O error on any single file is recorded
// and the walk continues with the next file, rather than aborting the
// whole pass.
func (t *Top) checkContentFiles(r *root, indexed map[string]bool, log applog.Log) (ContentStats, error) {
	var stats ContentStats
	err := r.contentStore.ForEach(func(path, canonical string) error {
		if err := t.checkOneContentFile(r, path, canonical, indexed, log, &stats); err != nil {
			log.Error("repair %s: %s", path, err)
			stats.Errors++
		}
		return nil
	})
	return stats, err
}

func (t *Top) checkOneContentFile(r *root, path, canonical string, indexed map[string]bool, log applog.Log, stats *ContentStats) error {
	if err := fsutil.RemoveWritePermissions(path); err != nil {
		return err
	}
	if indexed[canonical] {
		return nil
	}
	src, err := filestream.NewSource(path)
	if err != nil {
		return err
	}
	sh := hasher.NewSizeHasher(t.newHasher())
	streamErr := t.streamer.Stream(src, sh, nil)
	src.Close()
	if streamErr != nil {
		return streamErr
	}
	hs := sh.Finish()

	inserted, err := r.hashIndex.Insert(hs, path)
	if err != nil {
		return err
	}
	if inserted {
		log.Info("Reclaimed orphan content file %s.", path)
		stats.ReclaimedOrphans++
		return nil
	}
	if _, err := r.unusedStore.MoveInsert(path); err != nil {
		return err
	}
	stats.Duplicates++
	return nil
}

// fetchMissingContent walks the worktree above r, trying sources (with
// r's own unused-content store tried first) for every user symlink whose
// hash the index does not already have.
func (t *Top) fetchMissingContent(r *root, sources []contentsource.Source, log applog.Log) (FetchStats, error) {
	allSources := make([]contentsource.Source, 0, len(sources)+1)
	allSources = append(allSources, contentsource.NewDir(r.unusedStore.Root(), false, t.streamer, t.newHasher))
	allSources = append(allSources, sources...)

	var stats FetchStats
	err := t.walkWorktree(r, r.path, 0, func(dir string, depth int, target hash.HashAndSize) error {
		contains, err := r.hashIndex.Contains(target)
		if err != nil {
			return err
		}
		if contains {
			return nil
		}
		for _, src := range allSources {
			path, found, ferr := src.Fetch(log, target, r.contentStore)
			if ferr != nil {
				log.Important("fetching content for %s: %s", target, ferr)
				continue
			}
			if !found {
				continue
			}
			if _, err := r.hashIndex.Insert(target, path); err != nil {
				return err
			}
			stats.Fetched++
			return nil
		}
		stats.StillMissing++
		return nil
	})
	return stats, err
}

// walkWorktree recursively visits every directory in r's worktree,
// skipping .frz and any nested repository root, making sure each
// directory containing at least one user symlink has a working .frz
// entry, and calling visit for every user symlink found.
func (t *Top) walkWorktree(r *root, dir string, depth int, visit func(dir string, depth int, target hash.HashAndSize) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("repo: read %s: %w", dir, err)
	}

	haveHashdirSymlink := depth == 0
	for _, entry := range entries {
		name := entry.Name()
		if name == ".frz" {
			continue
		}
		path := filepath.Join(dir, name)

		if entry.IsDir() {
			if isTopDir(path) {
				continue // nested repository: not ours to walk
			}
			if err := t.walkWorktree(r, path, depth+1, visit); err != nil {
				return err
			}
			continue
		}
		if entry.Type()&os.ModeSymlink == 0 {
			continue
		}
		rawTarget, err := os.Readlink(path)
		if err != nil {
			return fmt.Errorf("repo: read symlink %s: %w", path, err)
		}
		token, ok := base32.ParseSymlinkTarget(hashDirName, rawTarget)
		if !ok {
			continue
		}
		hs, ok := hash.FromBase32(token)
		if !ok {
			continue
		}
		if !haveHashdirSymlink {
			if err := ensureHashdirSymlink(dir, depth); err != nil {
				return err
			}
			haveHashdirSymlink = true
		}
		if err := visit(dir, depth, hs); err != nil {
			return err
		}
	}
	return nil
}
