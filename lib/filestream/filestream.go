// Package filestream adapts plain files to lib/stream's Source and Sink
// interfaces, including the Seeker capability forked streaming needs to
// replay a file from the point its secondary sink fell behind.
package filestream

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// ErrExists is returned by NewSink when the destination already
// exists: content-store sinks always create a fresh file, never
// overwrite one.
var ErrExists = fs.ErrExist

// FileSource streams a file's bytes and supports repositioning, so it
// satisfies both stream.Source and stream.Seeker.
type FileSource struct {
	f      *os.File
	closed bool
}

// NewSource opens path for reading and returns a stream.Source (and
// stream.Seeker) over it. The file is closed automatically once the
// source reports end of data; callers that abandon a source before it is
// exhausted should call Close themselves.
func NewSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{f: f}, nil
}

func (s *FileSource) GetBytes(buf []byte) (int, bool, error) {
	if s.closed {
		return 0, true, nil
	}
	n, err := io.ReadFull(s.f, buf)
	switch {
	case err == nil:
		return n, false, nil
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		s.close()
		return n, true, nil
	default:
		return n, false, fmt.Errorf("filestream: read %s: %w", s.f.Name(), err)
	}
}

// SetPosition implements stream.Seeker.
func (s *FileSource) SetPosition(pos int64) error {
	if s.closed {
		f, err := os.Open(s.f.Name())
		if err != nil {
			return err
		}
		s.f = f
		s.closed = false
	}
	if _, err := s.f.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("filestream: seek %s: %w", s.f.Name(), err)
	}
	return nil
}

func (s *FileSource) close() {
	if !s.closed {
		s.f.Close()
		s.closed = true
	}
}

// Close releases the underlying file descriptor. Safe to call more than
// once, and safe to call after the source has reported end of data.
func (s *FileSource) Close() error {
	s.close()
	return nil
}

// FileSink writes to an exclusively-created file.
type FileSink struct {
	f *os.File
}

// NewSink creates path exclusively, failing with ErrExists if it is
// already present, and returns a stream.Sink that writes to it.
func NewSink(path string, perm fs.FileMode) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) AddBytes(p []byte) error {
	if _, err := s.f.Write(p); err != nil {
		return fmt.Errorf("filestream: write %s: %w", s.f.Name(), err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	return s.f.Close()
}
