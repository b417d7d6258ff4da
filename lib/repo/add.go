package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kwiberg/frz/lib/base32"
	"github.com/kwiberg/frz/lib/filestream"
	"github.com/kwiberg/frz/lib/hasher"
)

// AddResult reports what AddFile did with the path it was given.
type AddResult int

const (
	// NewFile means path's content was not previously indexed; it is now
	// a user symlink pointing at freshly stored content.
	NewFile AddResult = iota
	// DuplicateFile means path's content matched an existing indexed
	// file; path is now a user symlink pointing at that existing
	// content, and the newly hashed copy was retired to unused-content.
	DuplicateFile
	// Symlink means path was already a symlink and was left untouched.
	Symlink
)

func (r AddResult) String() string {
	switch r {
	case NewFile:
		return "new"
	case DuplicateFile:
		return "duplicate"
	case Symlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// AddFile takes a single file out of the working tree and replaces it
// with a user symlink into the repository's content store. path must be
// a regular file or a symlink; anything else is an error.
func (t *Top) AddFile(path string) (AddResult, error) {
	lst, err := os.Lstat(path)
	if err != nil {
		return 0, fmt.Errorf("repo: add %s: %w", path, err)
	}
	if lst.Mode()&os.ModeSymlink != 0 {
		return Symlink, nil
	}
	if !lst.Mode().IsRegular() {
		return 0, fmt.Errorf("repo: add %s: not a regular file or symlink", path)
	}

	dir := filepath.Dir(path)
	r, depth, err := t.findRoot(path)
	if err != nil {
		return 0, err
	}
	// Every directory between the file and the root gets its own upward
	// .frz symlink, not only the file's own directory.
	for d, k := dir, depth; k > 0; d, k = filepath.Dir(d), k-1 {
		if err := ensureHashdirSymlink(d, k); err != nil {
			return 0, err
		}
	}

	src, err := filestream.NewSource(path)
	if err != nil {
		return 0, fmt.Errorf("repo: add %s: %w", path, err)
	}
	sh := hasher.NewSizeHasher(t.newHasher())
	streamErr := t.streamer.Stream(src, sh, nil)
	src.Close()
	if streamErr != nil {
		return 0, fmt.Errorf("repo: hash %s: %w", path, streamErr)
	}
	hs := sh.Finish()
	token := hs.ToBase32()

	tempName := fmt.Sprintf("%s.frz-%s-%s", path, hashDirName, token)
	if err := os.Rename(path, tempName); err != nil {
		return 0, fmt.Errorf("repo: add %s: %w", path, err)
	}

	symlinkTarget := filepath.Join(".frz", hashDirName, base32.SymlinkPath(token))
	if err := os.Symlink(symlinkTarget, path); err != nil {
		return 0, fmt.Errorf("repo: add %s: create symlink: %w", path, err)
	}

	contentPath, err := r.contentStore.MoveInsert(tempName)
	if err != nil {
		return 0, fmt.Errorf("repo: add %s: %w", path, err)
	}

	inserted, err := r.hashIndex.Insert(hs, contentPath)
	if err != nil {
		return 0, fmt.Errorf("repo: add %s: %w", path, err)
	}

	if inserted {
		return NewFile, nil
	}
	if _, err := r.unusedStore.MoveInsert(contentPath); err != nil {
		return 0, fmt.Errorf("repo: add %s: retire duplicate content: %w", path, err)
	}
	return DuplicateFile, nil
}
