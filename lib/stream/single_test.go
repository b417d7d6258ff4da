package stream

import (
	"bytes"
	"testing"
)

func TestSingleThreadedStream(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefghij"), 37)
	src := newSliceSource(data)
	sink := &collectSink{}
	progressed := 0

	s := NewSingleThreaded(16)
	if err := s.Stream(src, sink, func(n int) { progressed += n }); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !bytes.Equal(sink.bytes(), data) {
		t.Fatal("sink did not receive the full, correctly ordered data")
	}
	if progressed != len(data) {
		t.Fatalf("progress total = %d, want %d", progressed, len(data))
	}
}

func TestSingleThreadedStreamSourceError(t *testing.T) {
	boom := errSource{remaining: 3, err: errBoom}
	s := NewSingleThreaded(16)
	if err := s.Stream(&boom, &collectSink{}, nil); err != errBoom {
		t.Fatalf("Stream error = %v, want errBoom", err)
	}
}

func TestSingleThreadedStreamSinkError(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 64)
	src := newSliceSource(data)
	sink := &collectSink{failOn: 1, failWith: errBoom}
	s := NewSingleThreaded(16)
	if err := s.Stream(src, sink, nil); err != errBoom {
		t.Fatalf("Stream error = %v, want errBoom", err)
	}
}
