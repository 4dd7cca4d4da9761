package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// newTestSession builds a Session with no real connection, for testing
// the queue-eviction logic in isolation from the network.
func newTestSession(maxQueue int) *Session {
	return &Session{
		Handle:   "h1",
		UserID:   "u1",
		maxQueue: maxQueue,
		notify:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

func TestEnqueue_EvictsOldestNonCriticalWhenFull(t *testing.T) {
	s := newTestSession(2)

	assert.False(t, s.Enqueue(&OutboundFrame{Tag: "a"}, false))
	assert.False(t, s.Enqueue(&OutboundFrame{Tag: "b"}, false))
	// Queue full of two non-critical frames; enqueueing a third evicts "a".
	assert.False(t, s.Enqueue(&OutboundFrame{Tag: "c"}, false))

	s.mu.Lock()
	tags := make([]string, len(s.queue))
	for i, e := range s.queue {
		tags[i] = e.frame.Tag
	}
	s.mu.Unlock()
	assert.Equal(t, []string{"b", "c"}, tags)
}

func TestEnqueue_MarksDisconnectWhenAllCriticalAndFull(t *testing.T) {
	s := newTestSession(1)

	assert.False(t, s.Enqueue(&OutboundFrame{Tag: "critical-1"}, true))
	assert.True(t, s.Enqueue(&OutboundFrame{Tag: "critical-2"}, true))

	select {
	case <-s.Done():
	default:
		t.Fatal("expected session to be marked closed")
	}
}

func TestEnqueue_PreservesCriticalOverNonCritical(t *testing.T) {
	s := newTestSession(2)

	assert.False(t, s.Enqueue(&OutboundFrame{Tag: "critical"}, true))
	assert.False(t, s.Enqueue(&OutboundFrame{Tag: "noncritical"}, false))
	assert.False(t, s.Enqueue(&OutboundFrame{Tag: "new"}, false))

	s.mu.Lock()
	tags := make([]string, len(s.queue))
	for i, e := range s.queue {
		tags[i] = e.frame.Tag
	}
	s.mu.Unlock()
	assert.Equal(t, []string{"critical", "new"}, tags)
}
