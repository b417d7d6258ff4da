// Package contentsource implements the lazy, size-bucketed search over
// an external directory that repository fill/repair operations use to
// locate missing content by hash.
package contentsource

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kwiberg/frz/lib/applog"
	"github.com/kwiberg/frz/lib/contentstore"
	"github.com/kwiberg/frz/lib/filestream"
	"github.com/kwiberg/frz/lib/hash"
	"github.com/kwiberg/frz/lib/hasher"
	"github.com/kwiberg/frz/lib/stream"
)

// Source searches a directory for a file with a given hash and size.
type Source interface {
	// Fetch looks for hs's content. If found, and store is non-nil, it is
	// inserted into store (copied if the source is read-only, moved
	// otherwise) unless Fetch already placed it there directly; Fetch
	// returns the resulting path. If store is nil, the original path is
	// returned without any insertion attempt.
	Fetch(log applog.Log, hs hash.HashAndSize, store *contentstore.Store) (path string, found bool, err error)
}

// DirSource is a Source backed by a recursive listing of a directory
// tree, hashed lazily and only for files whose size matches a requested
// hash.
type DirSource struct {
	dir       string
	readOnly  bool
	streamer  stream.ForkedStreamer
	newHasher func() hasher.Hasher

	mu     sync.Mutex
	listed bool
	byHash map[hash.HashAndSize]string
	bySize map[int64][]string
}

// NewDir returns a Source over dir. readOnly controls two things: how a
// found file is inserted into the destination store (copied, never
// moved, if true) and whether hashing opportunistically stream-inserts
// candidates as it reads them (only done when !readOnly, since a
// read-only source's bytes must not be assumed safe to relocate).
func NewDir(dir string, readOnly bool, streamer stream.ForkedStreamer, newHasher func() hasher.Hasher) *DirSource {
	return &DirSource{
		dir:       dir,
		readOnly:  readOnly,
		streamer:  streamer,
		newHasher: newHasher,
		byHash:    make(map[hash.HashAndSize]string),
		bySize:    make(map[int64][]string),
	}
}

func (d *DirSource) list(log applog.Log) error {
	if d.listed {
		return nil
	}
	progress := log.Progress(fmt.Sprintf("Listing files in %s", d.dir))
	counter := progress.AddCounter("files", -1)
	defer progress.Done()

	err := filepath.WalkDir(d.dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if entry.IsDir() || entry.Type()&os.ModeSymlink != 0 {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		d.bySize[info.Size()] = append(d.bySize[info.Size()], path)
		counter.Increment(1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("contentsource: list %s: %w", d.dir, err)
	}
	d.listed = true
	return nil
}

type findResult struct {
	path            string
	alreadyInserted bool
}

// find locates hs among the directory's files, hashing candidates lazily
// and moving them from the size bucket into the hash cache as it goes.
// When store is non-nil and the source is not read-only, candidates are
// forked-streamed directly into store so a match is inserted without a
// second read pass.
func (d *DirSource) find(log applog.Log, hs hash.HashAndSize, store *contentstore.Store) (*findResult, error) {
	if path, ok := d.byHash[hs]; ok {
		return &findResult{path: path}, nil
	}

	bucket, ok := d.bySize[hs.Size]
	if !ok {
		return nil, nil
	}
	fork := !d.readOnly && store != nil

	progress := log.Progress("Hashing files")
	fileCounter := progress.AddCounter("files", int64(len(bucket)))
	byteCounter := progress.AddCounter("bytes", hs.Size*int64(len(bucket)))
	defer progress.Done()

	for len(bucket) > 0 {
		p := bucket[len(bucket)-1]
		bucket = bucket[:len(bucket)-1]

		computed, insertedPath, insertErr := d.hashCandidate(p, hs, fork, store, byteCounter)
		if insertErr != nil {
			log.Important("When reading %s: %s", p, insertErr)
			fileCounter.Increment(1)
			continue
		}

		d.byHash[computed] = p
		if computed == hs {
			if len(bucket) == 0 {
				delete(d.bySize, hs.Size)
			} else {
				d.bySize[hs.Size] = bucket
			}
			if insertedPath != "" {
				// The bytes now live in store; drop the original, as a
				// move would.
				if err := os.Remove(p); err != nil {
					log.Important("When removing %s: %s", p, err)
				}
				return &findResult{path: insertedPath, alreadyInserted: true}, nil
			}
			return &findResult{path: p}, nil
		}
		fileCounter.Increment(1)
	}
	delete(d.bySize, hs.Size)
	return nil, nil
}

// hashCandidate streams p, returning its computed hash and, if fork was
// requested and the hash matched the target, the path it was inserted
// at.
func (d *DirSource) hashCandidate(p string, target hash.HashAndSize, fork bool, store *contentstore.Store, byteCounter *applog.ProgressCounter) (hash.HashAndSize, string, error) {
	if !fork {
		src, err := filestream.NewSource(p)
		if err != nil {
			return hash.HashAndSize{}, "", err
		}
		defer src.Close()
		sh := hasher.NewSizeHasher(d.newHasher())
		if err := d.streamer.Stream(src, sh, func(n int) { byteCounter.Increment(int64(n)) }); err != nil {
			return hash.HashAndSize{}, "", err
		}
		return sh.Finish(), "", nil
	}

	var computed hash.HashAndSize
	insertedPath, kept, err := store.StreamInsert(func(sink stream.Sink) (bool, error) {
		src, err := filestream.NewSource(p)
		if err != nil {
			return false, err
		}
		defer src.Close()
		sh := hasher.NewSizeHasher(d.newHasher())
		ferr := d.streamer.ForkedStream(stream.ForkedStreamArgs{
			Source:        src,
			PrimarySink:   sh,
			SecondarySink: sink,
			PrimaryDone: func() stream.Decision {
				computed = sh.Finish()
				if computed == target {
					return stream.Finish
				}
				return stream.Abandon
			},
			PrimaryProgress: func(n int) { byteCounter.Increment(int64(n)) },
		})
		if ferr != nil {
			return false, ferr
		}
		return computed == target, nil
	})
	if err != nil {
		return hash.HashAndSize{}, "", err
	}
	if kept {
		return computed, insertedPath, nil
	}
	return computed, "", nil
}

// Fetch implements Source. Concurrent calls are serialized: the
// directory listing and hash cache are shared mutable state with no
// benefit from parallel access (reading the candidate files dominates
// the cost either way).
func (d *DirSource) Fetch(log applog.Log, hs hash.HashAndSize, store *contentstore.Store) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.list(log); err != nil {
		return "", false, err
	}
	r, err := d.find(log, hs, store)
	if err != nil {
		return "", false, err
	}
	if r == nil {
		return "", false, nil
	}
	if r.alreadyInserted || store == nil {
		return r.path, true, nil
	}
	if d.readOnly {
		path, err := store.CopyInsert(r.path)
		return path, err == nil, err
	}
	path, err := store.MoveInsert(r.path)
	return path, err == nil, err
}
