package telegram

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
)

// fakeStream replays scripted reads. A nil chunk stands for "no data yet".
// Once the chunks run out it reports ErrNoData, or a zero-byte read when
// eof is set.
type fakeStream struct {
	chunks   [][]byte
	eof      bool
	readErr  error
	writeErr error
	writes   []string
	closed   bool
}

func (s *fakeStream) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.writes = append(s.writes, string(p))
	return len(p), nil
}

func (s *fakeStream) ReadInto(p []byte) (int, error) {
	if s.readErr != nil {
		return 0, s.readErr
	}
	if len(s.chunks) == 0 {
		if s.eof {
			return 0, nil
		}
		return 0, ErrNoData
	}
	c := s.chunks[0]
	if c == nil {
		s.chunks = s.chunks[1:]
		return 0, ErrNoData
	}
	n := copy(p, c)
	if n < len(c) {
		s.chunks[0] = c[n:]
	} else {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

func (s *fakeStream) push(chunks ...string) {
	for _, c := range chunks {
		s.chunks = append(s.chunks, []byte(c))
	}
}

// fakeDialer hands out streams in order, then fresh empty ones.
type fakeDialer struct {
	streams []*fakeStream
	err     error
	dials   int
}

func (d *fakeDialer) Dial(ctx context.Context, host string, port int) (Stream, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	if len(d.streams) == 0 {
		s := &fakeStream{}
		return s, nil
	}
	s := d.streams[0]
	d.streams = d.streams[1:]
	return s, nil
}

type fakeNetwork struct{ up bool }

func (n *fakeNetwork) IsConnected() bool { return n.up }

type memOffsets struct {
	offset  int64
	saved   []int64
	loadErr error
}

func (m *memOffsets) LoadOffset() (int64, error) { return m.offset, m.loadErr }

func (m *memOffsets) SaveOffset(offset int64) error {
	m.offset = offset
	m.saved = append(m.saved, offset)
	return nil
}

type recordedEvents struct {
	types    []string
	payloads []map[string]any
}

func (r *recordedEvents) LogEvent(eventType string, payload map[string]any) {
	r.types = append(r.types, eventType)
	r.payloads = append(r.payloads, payload)
}

func (r *recordedEvents) has(eventType string) bool {
	for _, t := range r.types {
		if t == eventType {
			return true
		}
	}
	return false
}

var errBoom = errors.New("boom")

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// newTestBot returns a bot wired to stream with a recording handler.
func newTestBot(t *testing.T, stream *fakeStream, opts Options) (*Bot, *[]Update) {
	t.Helper()
	var got []Update
	if opts.Dialer == nil {
		opts.Dialer = &fakeDialer{streams: []*fakeStream{stream}}
	}
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	b := NewBot("123:tok", func(_ *Bot, u Update) { got = append(got, u) }, opts)
	return b, &got
}
