package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/Ahmadjon7/UZB-AI/internal/chat"
	"github.com/Ahmadjon7/UZB-AI/internal/logger"
)

// Status is the lifecycle state of a Stream.
type Status int

const (
	StatusOpen Status = iota
	StatusDone
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

const readBufferSize = 4 << 10

// Stream is one in-flight response. It is finite and cannot be restarted.
// Recv must be called from a single goroutine; Close, Status, Content and Err
// are safe to call from any goroutine.
type Stream struct {
	ID string

	ctx      context.Context
	cancel   context.CancelFunc
	body     io.ReadCloser
	snapshot chat.Transcript

	buf     []byte
	carry   []byte // trailing bytes of an incomplete UTF-8 sequence
	pending error  // read error held back until delivered data is consumed

	mu      sync.Mutex
	status  Status
	err     error
	content strings.Builder
}

func newStream(ctx context.Context, id string, snapshot chat.Transcript, body io.ReadCloser, cancel context.CancelFunc) *Stream {
	return &Stream{
		ID:       id,
		ctx:      ctx,
		cancel:   cancel,
		body:     body,
		snapshot: snapshot,
		buf:      make([]byte, readBufferSize),
	}
}

// Transcript returns the messages the stream was opened with.
func (s *Stream) Transcript() chat.Transcript {
	return s.snapshot.Clone()
}

// Recv returns the next text fragment. It returns io.EOF once the relay has
// ended the response cleanly, or an error wrapping chat.ErrUpstream or
// chat.ErrCancelled otherwise. After the first error every call returns the
// same error.
func (s *Stream) Recv() (string, error) {
	if err := s.terminal(); err != nil {
		return "", err
	}
	if s.pending != nil {
		return s.finish(s.pending)
	}

	for {
		n, rerr := s.body.Read(s.buf)
		if n > 0 {
			data := append(s.carry, s.buf[:n]...)
			cut := completePrefix(data)
			s.carry = append([]byte(nil), data[cut:]...)
			if cut > 0 {
				if rerr != nil {
					s.pending = rerr
				}
				return s.deliver(string(data[:cut]))
			}
		}
		if rerr != nil {
			return s.finish(rerr)
		}
	}
}

// Close aborts the request if it is still open. It is safe to call more than
// once and after the stream has ended.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.status == StatusOpen {
		s.status = StatusCancelled
		s.err = chat.ErrCancelled
		logger.L.Debug("stream cancelled", "stream_id", s.ID, "received", s.content.Len())
	}
	s.mu.Unlock()

	s.cancel()
	return s.body.Close()
}

// Status reports where the stream is in its lifecycle.
func (s *Stream) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Content returns everything received so far.
func (s *Stream) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content.String()
}

// Err returns the terminal error, or nil while the stream is open. A stream
// that completed normally reports io.EOF.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) terminal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusOpen {
		return s.err
	}
	return nil
}

func (s *Stream) deliver(fragment string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusOpen {
		return "", s.err
	}
	s.content.WriteString(fragment)
	return fragment, nil
}

func (s *Stream) finish(rerr error) (string, error) {
	// Bytes left over from an incomplete sequence are passed through as-is
	// before the end is reported.
	if errors.Is(rerr, io.EOF) && len(s.carry) > 0 {
		tail := string(s.carry)
		s.carry = nil
		s.pending = io.EOF
		return s.deliver(tail)
	}

	s.mu.Lock()
	if s.status != StatusOpen {
		err := s.err
		s.mu.Unlock()
		return "", err
	}

	switch {
	case errors.Is(rerr, io.EOF):
		s.status = StatusDone
		s.err = io.EOF
	case errors.Is(s.ctx.Err(), context.Canceled):
		s.status = StatusCancelled
		s.err = chat.ErrCancelled
	case errors.Is(s.ctx.Err(), context.DeadlineExceeded):
		s.status = StatusFailed
		s.err = &chat.UpstreamError{Partial: s.content.String(), Err: chat.ErrTimeout}
	default:
		s.status = StatusFailed
		s.err = &chat.UpstreamError{Partial: s.content.String(), Err: rerr}
	}
	status, err, received := s.status, s.err, s.content.Len()
	s.mu.Unlock()

	if status == StatusFailed {
		logger.L.Warn("stream failed", "stream_id", s.ID, "received", received, "error", rerr)
	} else {
		logger.L.Debug("stream ended", "stream_id", s.ID, "status", status.String(), "received", received)
	}

	s.cancel()
	_ = s.body.Close()
	return "", err
}

// completePrefix returns the length of the longest prefix of b that does not
// end inside a multi-byte UTF-8 sequence.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}
