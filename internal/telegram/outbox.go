package telegram

import "sync"

// MaxGlueBytes bounds the text of a coalesced outgoing message.
const MaxGlueBytes = 2048

// OutgoingMessage is a queued sendMessage call.
type OutgoingMessage struct {
	ChatID int64
	Text   string
}

// Outbox holds messages waiting to be delivered. It holds at most one
// batch: a new message either glues onto the queued one or replaces it.
// It is safe for concurrent use so Send may be called from any goroutine.
type Outbox struct {
	mu    sync.Mutex
	items []OutgoingMessage
}

// Push queues text for chatID. With glue set and a message already queued,
// the text is appended to that message after a newline as long as the
// result stays under MaxGlueBytes. Otherwise the queue is replaced by the
// new message and anything undelivered is dropped.
func (o *Outbox) Push(chatID int64, text string, glue bool) (glued bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if glue && len(o.items) > 0 {
		head := &o.items[0]
		if len(head.Text)+len(text)+1 < MaxGlueBytes {
			head.Text += "\n" + text
			return true
		}
	}
	o.items = append(o.items[:0], OutgoingMessage{ChatID: chatID, Text: text})
	return false
}

// Pop removes and returns the oldest queued message.
func (o *Outbox) Pop() (OutgoingMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.items) == 0 {
		return OutgoingMessage{}, false
	}
	m := o.items[0]
	o.items = o.items[1:]
	return m, true
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}
