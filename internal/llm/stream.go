package llm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Stream is a finite, single-pass sequence of reply fragments.  It is read
// with Recv until io.EOF, like the streams of the go-openai client, and must
// be closed by the consumer.  Recv and Close belong to the goroutine that
// consumes the stream.
type Stream struct {
	pending []string
	done    bool

	reader      *bufio.Reader
	body        io.Closer
	ctx         context.Context
	cancel      context.CancelFunc
	watchdog    *time.Timer
	readTimeout time.Duration
	timedOut    atomic.Bool
	closeOnce   sync.Once
	log         zerolog.Logger
}

// NewStaticStream returns a stream that yields the given fragments and ends.
// It is used for replies produced without the completion service.
func NewStaticStream(fragments ...string) *Stream {
	return &Stream{pending: fragments, done: true}
}

func newFrameStream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, readTimeout time.Duration, log zerolog.Logger) *Stream {
	s := &Stream{
		reader:      bufio.NewReader(body),
		body:        body,
		ctx:         ctx,
		cancel:      cancel,
		readTimeout: readTimeout,
		log:         log,
	}
	s.watchdog = time.AfterFunc(readTimeout, func() {
		s.timedOut.Store(true)
		cancel()
	})
	// Armed only while Recv waits on the body.
	s.watchdog.Stop()
	return s
}

// Recv returns the next fragment, or io.EOF once the sequence has ended.
// The read timeout covers only the wait inside Recv, so a slow consumer does
// not count against the upstream.  Undecodable frames are skipped.  A transport failure is turned into one
// final error fragment; Recv itself never returns any error but io.EOF.
func (s *Stream) Recv() (string, error) {
	for {
		if len(s.pending) > 0 {
			fragment := s.pending[0]
			s.pending = s.pending[1:]
			return fragment, nil
		}
		if s.done {
			s.Close()
			return "", io.EOF
		}

		s.watchdog.Reset(s.readTimeout)
		line, err := s.reader.ReadBytes('\n')
		s.watchdog.Stop()
		var content string
		if len(line) > 0 {
			var end, ok bool
			content, end, ok = parseFrame(line)
			if !ok {
				s.log.Debug().Bytes("frame", line).Msg("dropping malformed frame")
			}
			if end {
				s.done = true
			}
		}
		if err != nil && !s.done {
			s.done = true
			if fragment := s.failure(err); fragment != "" {
				s.pending = append(s.pending, fragment)
			}
		}
		if content != "" {
			return content, nil
		}
	}
}

// failure maps a read error to the fragment relayed in its place.  A clean
// end of body and a consumer that went away produce nothing.
func (s *Stream) failure(err error) string {
	switch {
	case errors.Is(err, io.EOF):
		return ""
	case s.timedOut.Load():
		err = fmt.Errorf("no data received for %s", s.readTimeout)
	case s.ctx.Err() != nil:
		return ""
	}
	s.log.Warn().Err(err).Msg("upstream stream broke off")
	return ErrorFragment(err)
}

// Close releases the upstream connection.  It is safe to call more than once
// and before the stream is drained.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.done = true
		s.pending = nil
		if s.watchdog != nil {
			s.watchdog.Stop()
		}
		if s.cancel != nil {
			s.cancel()
		}
		if s.body != nil {
			err = s.body.Close()
		}
	})
	return err
}
