package telegram

import (
	"context"
	"errors"
	"io"
	"log"
	"time"
)

// Event types reported to an EventLog.
const (
	EventConnectionOpened = "connection.opened"
	EventConnectionLost   = "connection.lost"
	EventMessageSent      = "message.sent"
	EventUpdateDelivered  = "update.delivered"
	EventUpdateSkipped    = "update.skipped"
	EventFrameOversized   = "frame.oversized"
	EventAPIError         = "api.error"
)

const (
	DefaultHost     = "api.telegram.org"
	DefaultPort     = 443
	DefaultInterval = time.Second
)

// OffsetStore persists the polling offset across restarts.
type OffsetStore interface {
	LoadOffset() (int64, error)
	SaveOffset(offset int64) error
}

// EventLog records notable engine events. Implementations must not block
// for long; errors are theirs to report.
type EventLog interface {
	LogEvent(eventType string, payload map[string]any)
}

// Options configures a Bot. Zero values pick the defaults.
type Options struct {
	Host       string
	Port       int
	BufferSize int
	// Interval is the idle time between ticks in Run.
	Interval time.Duration
	Dialer   Dialer
	// Network, when set, is consulted before every dial.
	Network Connectivity
	Offsets OffsetStore
	Events  EventLog
	Logger  *log.Logger
	Debug   bool
}

// Bot is a long-polling Telegram client that keeps at most one request in
// flight and reads replies into a fixed-size buffer. All methods except
// Send must be called from the goroutine driving Tick or Run.
type Bot struct {
	token    string
	host     string
	port     int
	interval time.Duration
	handler  Handler
	dialer   Dialer
	network  Connectivity
	offsets  OffsetStore
	events   EventLog
	logger   *log.Logger
	debug    bool

	state   ConnState
	stream  Stream
	connID  string
	pending bool
	offset  int64
	loaded  bool
	outbox  Outbox
	rbuf    *ResponseBuffer
}

// NewBot returns a bot that authenticates with token and passes incoming
// messages to handler.
func NewBot(token string, handler Handler, opts Options) *Bot {
	b := &Bot{
		token:    token,
		host:     opts.Host,
		port:     opts.Port,
		interval: opts.Interval,
		handler:  handler,
		dialer:   opts.Dialer,
		network:  opts.Network,
		offsets:  opts.Offsets,
		events:   opts.Events,
		logger:   opts.Logger,
		debug:    opts.Debug,
		rbuf:     NewResponseBuffer(opts.BufferSize),
	}
	if b.host == "" {
		b.host = DefaultHost
	}
	if b.port == 0 {
		b.port = DefaultPort
	}
	if b.interval <= 0 {
		b.interval = DefaultInterval
	}
	if b.dialer == nil {
		b.dialer = &TLSDialer{}
	}
	if b.logger == nil {
		b.logger = log.Default()
	}
	return b
}

// SetHandler replaces the message handler.
func (b *Bot) SetHandler(h Handler) { b.handler = h }

// Send queues text for chatID. Delivery happens on a later tick. With glue
// set, text is appended to the message already waiting, if any and if it
// fits; otherwise the waiting message is replaced.
func (b *Bot) Send(chatID int64, text string, glue bool) {
	if b.outbox.Push(chatID, text, glue) {
		b.debugf("glued text onto queued message chat_id=%d", chatID)
	}
}

func (b *Bot) State() ConnState { return b.state }
func (b *Bot) InFlight() bool   { return b.pending }
func (b *Bot) Offset() int64    { return b.offset }
func (b *Bot) Queued() int      { return b.outbox.Len() }
func (b *Bot) Buffered() int    { return b.rbuf.Len() }

// Run ticks until ctx is cancelled, then closes the connection.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Printf("[telegram] bot running bot_id=%s host=%s:%d interval=%s buffer=%d",
		BotID(b.token), b.host, b.port, b.interval, b.rbuf.Cap())
	defer b.Close()

	timer := time.NewTimer(b.interval)
	defer timer.Stop()
	for {
		b.Tick(ctx)
		timer.Reset(b.interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Close drops the connection, if any.
func (b *Bot) Close() {
	if b.stream != nil {
		_ = b.stream.Close()
		b.stream = nil
	}
	b.state = Disconnected
	b.pending = false
	b.rbuf.Reset()
}

// Tick performs one scheduling step: connect if needed, write a request if
// none is in flight, then try once to read and process the reply.
func (b *Bot) Tick(ctx context.Context) {
	if !b.loaded {
		b.restoreOffset()
	}
	if b.state != Connected && !b.connect(ctx) {
		return
	}
	if !b.sendRequest() {
		return
	}
	b.readResponse()
}

func (b *Bot) restoreOffset() {
	b.loaded = true
	if b.offsets == nil {
		return
	}
	offset, err := b.offsets.LoadOffset()
	if err != nil {
		b.logger.Printf("[telegram] failed to load offset: %v", err)
		return
	}
	if offset > b.offset {
		b.offset = offset
	}
	b.debugf("restored offset=%d", b.offset)
}

// sendRequest writes the next request unless one is already in flight. It
// reports whether the connection is still usable.
func (b *Bot) sendRequest() bool {
	if b.pending {
		return true
	}

	var req []byte
	var sent *OutgoingMessage
	if m, ok := b.outbox.Pop(); ok {
		req = buildSendRequest(b.host, b.token, m)
		sent = &m
	} else {
		// One update per request: a larger batch could overflow the
		// receive buffer.
		req = buildPollRequest(b.host, b.token, b.offset)
	}

	b.debugf("write to socket: %q", redact(req, b.token))
	if _, err := b.stream.Write(req); err != nil {
		b.disconnect("write", err)
		return false
	}
	b.pending = true
	if sent != nil {
		b.event(EventMessageSent, map[string]any{"chat_id": sent.ChatID, "bytes": len(sent.Text)})
	}
	return true
}

func (b *Bot) readResponse() {
	tail := b.rbuf.Tail()
	if len(tail) == 0 {
		b.oversized()
		return
	}
	n, err := b.stream.ReadInto(tail)
	switch {
	case errors.Is(err, ErrNoData):
		return
	case err != nil:
		if errors.Is(err, io.EOF) {
			b.disconnect("remote closed", err)
		} else {
			b.disconnect("read", err)
		}
		return
	case n == 0:
		b.disconnect("remote closed", io.EOF)
		return
	}
	if err := b.rbuf.Advance(n); err != nil {
		b.disconnect("read", err)
		return
	}
	b.debugf("read %d bytes, buffered %d", n, b.rbuf.Len())
	b.processResponse()
}

// processResponse consumes the reply in the buffer if it is complete.
func (b *Bot) processResponse() {
	frame, ok := b.rbuf.Frame()
	if !ok {
		if b.rbuf.Full() {
			b.oversized()
		}
		return
	}
	rep, err := parseReply(frame)
	if errors.Is(err, errIncompleteFrame) {
		if b.rbuf.Full() {
			b.oversized()
		}
		return
	}

	b.pending = false
	defer b.rbuf.Reset()

	if err != nil {
		b.logger.Printf("[telegram] discarding malformed reply: %v", err)
		return
	}
	switch rep.kind {
	case replyEmpty:
		b.debugf("no more messages")
	case replyAck:
		b.debugf("got reply from sendMessage")
	case replyError:
		b.logger.Printf("[telegram] %v", rep.err)
		b.event(EventAPIError, map[string]any{"error": rep.err.Error()})
	case replyUpdate:
		b.deliver(rep)
	}
}

// deliver runs the handler for an update and then moves the offset past
// it, so an update is never acknowledged before it was handled.
func (b *Bot) deliver(rep reply) {
	if rep.update == nil {
		b.debugf("skipping update_id=%d without text message", rep.updateID)
		b.event(EventUpdateSkipped, map[string]any{"update_id": rep.updateID})
	} else {
		u := *rep.update
		if b.handler != nil {
			b.handler(b, u)
		}
		b.event(EventUpdateDelivered, map[string]any{
			"update_id": u.UpdateID,
			"chat_id":   u.ChatID,
			"sender_id": u.SenderID,
		})
	}
	b.advanceOffset(rep.updateID + 1)
}

func (b *Bot) advanceOffset(next int64) {
	if next <= b.offset {
		return
	}
	b.offset = next
	b.debugf("new offset: %d", next)
	if b.offsets == nil {
		return
	}
	if err := b.offsets.SaveOffset(next); err != nil {
		b.logger.Printf("[telegram] failed to save offset=%d: %v", next, err)
	}
}

// oversized handles a reply that filled the buffer without becoming
// parsable. The rest of that reply is still on the wire, so the only clean
// way out is a fresh connection.
func (b *Bot) oversized() {
	b.logger.Printf("[telegram] reply larger than %d byte buffer; reconnecting", b.rbuf.Cap())
	b.event(EventFrameOversized, map[string]any{"buffer_size": b.rbuf.Cap(), "offset": b.offset})
	b.disconnect("oversized frame", ErrFrameTooLarge)
}

func (b *Bot) event(eventType string, payload map[string]any) {
	if b.events == nil {
		return
	}
	if b.connID != "" {
		payload["conn_id"] = b.connID
	}
	b.events.LogEvent(eventType, payload)
}

func (b *Bot) debugf(format string, args ...any) {
	if b.debug {
		b.logger.Printf("[telegram] "+format, args...)
	}
}
