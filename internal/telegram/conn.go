package telegram

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ErrNoData is returned by Stream.ReadInto when nothing is available yet.
var ErrNoData = errors.New("telegram: no data available")

// ConnState is the connection lifecycle state.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Stream is an established encrypted byte stream.
type Stream interface {
	// Write sends p in full or fails.
	Write(p []byte) (int, error)
	// ReadInto reads whatever is available into p without stalling. It
	// returns ErrNoData when nothing has arrived. (0, nil) or io.EOF means
	// the peer closed the stream.
	ReadInto(p []byte) (int, error)
	Close() error
}

// Dialer opens streams. The handshake is the dialer's business.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Stream, error)
}

// Connectivity reports whether the host has a network link at all.
type Connectivity interface {
	IsConnected() bool
}

// TLSDialer dials TLS over TCP.
type TLSDialer struct {
	// Config may be nil; the server name defaults to the dialed host.
	Config *tls.Config
	// Timeout bounds connect+handshake and each write.
	Timeout time.Duration
	// ReadWait is how long ReadInto waits for data before reporting
	// ErrNoData.
	ReadWait time.Duration
}

const (
	defaultDialTimeout = 10 * time.Second
	defaultReadWait    = 20 * time.Millisecond
)

func (d *TLSDialer) Dial(ctx context.Context, host string, port int) (Stream, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	readWait := d.ReadWait
	if readWait <= 0 {
		readWait = defaultReadWait
	}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config:    d.Config,
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("tls dial %s:%d: %w", host, port, err)
	}
	return &tlsStream{conn: conn, writeTimeout: timeout, readWait: readWait}, nil
}

type tlsStream struct {
	conn         net.Conn
	writeTimeout time.Duration
	readWait     time.Duration
}

func (s *tlsStream) Write(p []byte) (int, error) {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return 0, err
	}
	return s.conn.Write(p)
}

func (s *tlsStream) ReadInto(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, ErrNoData
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(s.readWait)); err != nil {
		return 0, err
	}
	n, err := s.conn.Read(p)
	if n > 0 {
		// A timeout or EOF after some bytes is reported by the next call.
		return n, nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 0, ErrNoData
	}
	return 0, err
}

func (s *tlsStream) Close() error { return s.conn.Close() }

// connect dials the API. It reports whether the bot is now connected.
func (b *Bot) connect(ctx context.Context) bool {
	if b.network != nil && !b.network.IsConnected() {
		b.debugf("network down; not dialing")
		return false
	}
	b.state = Connecting
	stream, err := b.dialer.Dial(ctx, b.host, b.port)
	if err != nil {
		b.state = Disconnected
		b.logger.Printf("[telegram] connect %s:%d failed: %v", b.host, b.port, err)
		return false
	}
	b.stream = stream
	b.state = Connected
	b.pending = false
	b.rbuf.Reset()
	b.connID = uuid.Must(uuid.NewV7()).String()
	b.logger.Printf("[telegram] connected host=%s conn_id=%s", b.host, b.connID)
	b.event(EventConnectionOpened, map[string]any{"host": b.host, "port": b.port})
	return true
}

// disconnect drops the stream and every piece of request state tied to it
// so the next tick starts with a fresh handshake and a fresh request.
func (b *Bot) disconnect(reason string, cause error) {
	if b.stream != nil {
		_ = b.stream.Close()
	}
	payload := map[string]any{
		"reason":        reason,
		"pending":       b.pending,
		"buffered_size": b.rbuf.Len(),
	}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	b.logger.Printf("[telegram] connection lost conn_id=%s reason=%s err=%v", b.connID, reason, cause)
	b.event(EventConnectionLost, payload)

	b.stream = nil
	b.state = Disconnected
	b.pending = false
	b.rbuf.Reset()
	b.connID = ""
}
