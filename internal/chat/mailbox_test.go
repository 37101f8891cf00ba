package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMailboxSendThenNextFIFO(t *testing.T) {
	m := NewMailbox()
	m.Send(Frame{Event: "a"})
	m.Send(Frame{Event: "b"})

	f1, ok := m.Next()
	assert.True(t, ok)
	assert.Equal(t, "a", f1.Event)

	f2, ok := m.Next()
	assert.True(t, ok)
	assert.Equal(t, "b", f2.Event)
}

func TestMailboxNextBlocksUntilSend(t *testing.T) {
	m := NewMailbox()
	done := make(chan Frame, 1)
	go func() {
		f, ok := m.Next()
		if ok {
			done <- f
		}
	}()

	select {
	case <-done:
		t.Fatal("Next should block with an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	m.Send(Frame{Event: "late"})
	select {
	case f := <-done:
		assert.Equal(t, "late", f.Event)
	case <-time.After(time.Second):
		t.Fatal("Next should have unblocked after Send")
	}
}

func TestMailboxCloseUnblocksNext(t *testing.T) {
	m := NewMailbox()
	done := make(chan bool, 1)
	go func() {
		_, ok := m.Next()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	m.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next should have unblocked after Close")
	}
}

func TestMailboxSendAfterCloseIsNoop(t *testing.T) {
	m := NewMailbox()
	m.Close()
	m.Send(Frame{Event: "ignored"})

	_, ok := m.Next()
	assert.False(t, ok)
}

func TestMailboxCloseIsIdempotent(t *testing.T) {
	m := NewMailbox()
	m.Close()
	assert.NotPanics(t, func() { m.Close() })
}
