package stream

import (
	"fmt"
)

// Seeker is implemented by sources that support repositioning. Forked
// streaming needs it for the "replay the tail to the secondary sink"
// catch-up pass.
type Seeker interface {
	SetPosition(pos int64) error
}

// Decision is returned by a ForkedStream's PrimaryDone callback once the
// primary sink has consumed every byte.
type Decision int

const (
	// Abandon tells the secondary sink to stop as soon as possible,
	// discarding anything it hasn't yet written.
	Abandon Decision = iota
	// Finish tells the secondary sink to keep (and, if it fell behind,
	// catch up on) everything the primary sink saw.
	Finish
)

// ForkedStreamArgs configures a forked stream: the same source bytes are
// delivered to PrimarySink (always, completely) and opportunistically to
// SecondarySink, with PrimaryDone deciding - only after the primary sink
// has seen every byte - whether the secondary's output should be kept.
type ForkedStreamArgs struct {
	Source            Source
	PrimarySink       Sink
	SecondarySink     Sink
	PrimaryDone       func() Decision
	PrimaryProgress   Progress
	SecondaryProgress Progress
}

// ForkedStreamer is implemented by streamers that support forked
// streaming. Only the multi-threaded streamer does; the single-threaded
// one has no second thread to run the secondary sink on.
type ForkedStreamer interface {
	Streamer
	ForkedStream(args ForkedStreamArgs) error
}

// multiThreaded runs the source on a dedicated worker goroutine while the
// caller's goroutine drains the primary sink, so that reading and hashing
// (or reading and writing) proceed in parallel.
type multiThreaded struct {
	numBuffers          int
	bytesPerBuffer      int
	numBuffersSecondary int
	w                   *worker
}

// NewMultiThreaded returns a Streamer (and ForkedStreamer) that pipelines
// numBuffers buffers of bytesPerBuffer bytes each between a background
// reader and the caller's goroutine. numBuffersSecondary bounds the
// secondary queue used by ForkedStream; it is ignored by plain Stream
// calls.
func NewMultiThreaded(numBuffers, bytesPerBuffer, numBuffersSecondary int) *multiThreaded {
	if numBuffers < 1 || bytesPerBuffer < 1 {
		panic("stream: NewMultiThreaded requires at least one buffer of positive size")
	}
	return &multiThreaded{
		numBuffers:          numBuffers,
		bytesPerBuffer:      bytesPerBuffer,
		numBuffersSecondary: numBuffersSecondary,
		w:                   newWorker(),
	}
}

// Close drains and stops the streamer's background worker. It is safe to
// skip if the process is exiting anyway.
func (m *multiThreaded) Close() {
	m.w.close()
}

type primaryChunk struct {
	buf []byte
	n   int
	end bool
	err error
}

func (m *multiThreaded) Stream(source Source, sink Sink, progress Progress) error {
	if progress == nil {
		progress = noProgress
	}
	free := make(chan []byte, m.numBuffers)
	for i := 0; i < m.numBuffers; i++ {
		free <- make([]byte, m.bytesPerBuffer)
	}
	primaryCh := make(chan primaryChunk, m.numBuffers)
	cancel := make(chan struct{})

	m.w.do(func() {
		for {
			var buf []byte
			select {
			case buf = <-free:
			case <-cancel:
				return
			}
			res, err := FillBuffer(source, buf)
			if err != nil {
				select {
				case primaryCh <- primaryChunk{err: err}:
				case <-cancel:
				}
				return
			}
			select {
			case primaryCh <- primaryChunk{buf: buf, n: res.NumBytes, end: res.End}:
			case <-cancel:
				return
			}
			if res.End {
				return
			}
		}
	})

	for {
		c := <-primaryCh
		if c.err != nil {
			return c.err
		}
		if c.n > 0 {
			if err := sink.AddBytes(c.buf[:c.n]); err != nil {
				close(cancel)
				return err
			}
			progress(c.n)
		}
		if c.end {
			return nil
		}
		free <- c.buf
	}
}

// ForkedStream implements the forked streaming contract described in
// lib/stream's package doc: the source is read once on a background
// goroutine; each chunk goes to the primary queue (always) and to the
// secondary queue (only if that send would not block - once it would,
// no further secondary sends are attempted for the rest of this pass,
// and the byte offset where the secondary fell behind is remembered).
// Once the primary sink has drained every chunk, PrimaryDone is called.
// On Abandon the secondary sink is stopped immediately, discarding
// anything still queued for it. On Finish, if the secondary fell behind,
// the source is repositioned to the recorded offset and the remainder is
// streamed directly to the secondary sink to catch it up.
func (m *multiThreaded) ForkedStream(args ForkedStreamArgs) error {
	if args.PrimaryDone == nil {
		panic("stream: ForkedStream requires PrimaryDone")
	}
	primaryProgress, secondaryProgress := args.PrimaryProgress, args.SecondaryProgress
	if primaryProgress == nil {
		primaryProgress = noProgress
	}
	if secondaryProgress == nil {
		secondaryProgress = noProgress
	}

	free := make(chan []byte, m.numBuffers)
	for i := 0; i < m.numBuffers; i++ {
		free <- make([]byte, m.bytesPerBuffer)
	}
	primaryCh := make(chan primaryChunk, m.numBuffers)
	secondaryCh := make(chan []byte, m.numBuffersSecondary)
	abandon := make(chan struct{})
	cancel := make(chan struct{})

	// behindAt is written only by the producer goroutine, and only before
	// it sends the final primaryCh chunk; the caller goroutine only reads
	// it after receiving that chunk, so the channel send/receive pair
	// establishes the necessary happens-before edge without a mutex.
	behindAt := int64(-1)

	m.w.do(func() {
		offset := int64(0)
		for {
			var buf []byte
			select {
			case buf = <-free:
			case <-cancel:
				return
			}
			res, err := FillBuffer(args.Source, buf)
			if err != nil {
				select {
				case primaryCh <- primaryChunk{err: err}:
				case <-cancel:
				}
				return
			}
			if res.NumBytes > 0 && behindAt < 0 {
				cp := append([]byte(nil), buf[:res.NumBytes]...)
				select {
				case secondaryCh <- cp:
				default:
					behindAt = offset
				}
			}
			offset += int64(res.NumBytes)
			select {
			case primaryCh <- primaryChunk{buf: buf, n: res.NumBytes, end: res.End}:
			case <-cancel:
				return
			}
			if res.End {
				return
			}
		}
	})

	secondaryDone := make(chan error, 1)
	go func() {
		for {
			select {
			case <-abandon:
				secondaryDone <- nil
				return
			case data, ok := <-secondaryCh:
				if !ok {
					secondaryDone <- nil
					return
				}
				if err := args.SecondarySink.AddBytes(data); err != nil {
					secondaryDone <- err
					return
				}
				secondaryProgress(len(data))
			}
		}
	}()

	var primaryErr error
	for primaryErr == nil {
		c := <-primaryCh
		if c.err != nil {
			primaryErr = c.err
			break
		}
		if c.n > 0 {
			if err := args.PrimarySink.AddBytes(c.buf[:c.n]); err != nil {
				primaryErr = err
				break
			}
			primaryProgress(c.n)
		}
		if c.end {
			break
		}
		free <- c.buf
	}

	if primaryErr != nil {
		close(cancel)
		close(abandon)
		<-secondaryDone
		return primaryErr
	}

	decision := args.PrimaryDone()
	close(secondaryCh)

	if decision == Abandon {
		close(abandon)
		return <-secondaryDone
	}

	if err := <-secondaryDone; err != nil {
		return err
	}
	if behindAt < 0 {
		return nil
	}

	seeker, ok := args.Source.(Seeker)
	if !ok {
		return fmt.Errorf("stream: forked source does not support repositioning, needed to catch up the secondary sink")
	}
	if err := seeker.SetPosition(behindAt); err != nil {
		return err
	}
	catchUp := make([]byte, m.bytesPerBuffer)
	for {
		res, err := FillBuffer(args.Source, catchUp)
		if err != nil {
			return err
		}
		if res.NumBytes > 0 {
			if err := args.SecondarySink.AddBytes(catchUp[:res.NumBytes]); err != nil {
				return err
			}
			secondaryProgress(res.NumBytes)
		}
		if res.End {
			return nil
		}
	}
}
