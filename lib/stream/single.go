package stream

// singleThreaded owns one fixed-size buffer and alternates reads and
// writes on the caller's goroutine.
type singleThreaded struct {
	buffer []byte
}

// NewSingleThreaded returns a Streamer backed by a single buffer of
// bufferSize bytes, shared across every Stream call.
func NewSingleThreaded(bufferSize int) Streamer {
	return &singleThreaded{buffer: make([]byte, bufferSize)}
}

func (s *singleThreaded) Stream(source Source, sink Sink, progress Progress) error {
	if progress == nil {
		progress = noProgress
	}
	for {
		n, end, err := source.GetBytes(s.buffer)
		if err != nil {
			return err
		}
		if n > 0 {
			if err := sink.AddBytes(s.buffer[:n]); err != nil {
				return err
			}
			progress(n)
		}
		if end {
			return nil
		}
	}
}
