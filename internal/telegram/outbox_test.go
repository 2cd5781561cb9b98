package telegram

import (
	"strings"
	"testing"
)

func TestOutbox_GlueCoalesces(t *testing.T) {
	var o Outbox
	o.Push(1, "first", false)
	if glued := o.Push(2, "second", true); !glued {
		t.Fatal("expected glue onto queued message")
	}
	if o.Len() != 1 {
		t.Fatalf("len=%d want 1", o.Len())
	}
	m, ok := o.Pop()
	if !ok || m.ChatID != 1 || m.Text != "first\nsecond" {
		t.Fatalf("unexpected message: %#v", m)
	}
	if _, ok := o.Pop(); ok {
		t.Fatal("queue should be empty")
	}
}

func TestOutbox_PushWithoutGlueReplaces(t *testing.T) {
	var o Outbox
	o.Push(1, "a", false)
	o.Push(2, "b", false)
	o.Push(3, "c", false)
	if o.Len() != 1 {
		t.Fatalf("len=%d want 1", o.Len())
	}
	m, _ := o.Pop()
	if m.ChatID != 3 || m.Text != "c" {
		t.Fatalf("expected latest message to survive, got %#v", m)
	}
}

func TestOutbox_GlueOnEmptyQueues(t *testing.T) {
	var o Outbox
	if glued := o.Push(5, "x", true); glued {
		t.Fatal("nothing to glue onto")
	}
	if m, ok := o.Pop(); !ok || m.ChatID != 5 || m.Text != "x" {
		t.Fatalf("unexpected message: %#v", m)
	}
}

func TestOutbox_GlueLimit(t *testing.T) {
	var o Outbox
	o.Push(1, strings.Repeat("a", 1000), false)
	// 1000 + 1046 + 1 = 2047 < 2048: fits.
	if !o.Push(1, strings.Repeat("b", 1046), true) {
		t.Fatal("expected glue under the limit")
	}
	// One more byte would reach the limit, so the batch is replaced.
	if o.Push(9, "c", true) {
		t.Fatal("glue must not reach MaxGlueBytes")
	}
	m, _ := o.Pop()
	if m.ChatID != 9 || m.Text != "c" {
		t.Fatalf("expected replacement, got chat=%d len=%d", m.ChatID, len(m.Text))
	}
}
