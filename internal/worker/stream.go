package worker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const maxFrameBytes = 8 << 20

// Stream is a pull iterator over the frames of a streaming generation.
// Frames are the JSON objects the worker separates with NUL or newline bytes.
type Stream struct {
	body      io.ReadCloser
	cancel    context.CancelFunc
	scanner   *bufio.Scanner
	idle      time.Duration
	idleTimer *time.Timer
	timedOut  atomic.Bool
	closeOnce sync.Once
}

func newStream(body io.ReadCloser, cancel context.CancelFunc, idle time.Duration) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	scanner.Split(splitFrames)
	s := &Stream{
		body:    body,
		cancel:  cancel,
		scanner: scanner,
		idle:    idle,
	}
	if idle > 0 {
		s.idleTimer = time.AfterFunc(idle, func() {
			s.timedOut.Store(true)
			cancel()
		})
	}
	return s
}

// Next returns the next non-empty frame, io.EOF when the worker closed the
// stream, or the transport error that broke it.
func (s *Stream) Next() ([]byte, error) {
	for s.scanner.Scan() {
		if s.idleTimer != nil {
			s.idleTimer.Reset(s.idle)
		}
		frame := bytes.TrimSpace(s.scanner.Bytes())
		if len(frame) == 0 {
			continue
		}
		return bytes.Clone(frame), nil
	}
	if err := s.scanner.Err(); err != nil {
		if s.timedOut.Load() {
			return nil, fmt.Errorf("%w: no data for %s", ErrTimeout, s.idle)
		}
		return nil, err
	}
	if s.timedOut.Load() {
		return nil, fmt.Errorf("%w: no data for %s", ErrTimeout, s.idle)
	}
	return nil, io.EOF
}

// Close aborts the request and releases the connection. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		s.cancel()
		err = s.body.Close()
	})
	return err
}

func splitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\x00\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
