package connmgr

import (
	"testing"

	"github.com/synckit-dev/hub/internal/wsconn"
)

func newConn(id string) *wsconn.Connection {
	return wsconn.New(id, nil, "127.0.0.1")
}

// fillQueue pushes enough frames onto c's outbound queue that it has
// exactly one free slot left, so a subsequent successful Send (or
// BroadcastToDocument delivery) can be distinguished from a no-op by
// whether the queue is now full.
func fillQueue(t *testing.T, c *wsconn.Connection, freeSlots int) {
	t.Helper()
	for i := 0; i < 256-freeSlots; i++ {
		if err := c.Send([]byte("filler")); err != nil {
			t.Fatalf("fillQueue: unexpected error: %v", err)
		}
	}
}

func isQueueFull(c *wsconn.Connection) bool {
	return c.Send([]byte("probe")) == wsconn.ErrSendQueueFull
}

func TestRegister_RespectsCapacity(t *testing.T) {
	m := New(1)

	if err := m.Register(newConn("c1")); err != nil {
		t.Fatalf("Register c1: %v", err)
	}
	if err := m.Register(newConn("c2")); err != ErrAtCapacity {
		t.Errorf("err = %v, want ErrAtCapacity", err)
	}
}

func TestRegister_UnlimitedWhenZero(t *testing.T) {
	m := New(0)
	for i := 0; i < 100; i++ {
		if err := m.Register(newConn("c")); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
}

func TestUnregister_CleansSubscriberIndex(t *testing.T) {
	m := New(0)
	m.Register(newConn("c1"))
	m.Subscribe("doc-1", "c1")

	m.Unregister("c1")

	if _, ok := m.Get("c1"); ok {
		t.Error("expected c1 to be gone from the connection index")
	}
}

func TestBroadcastToDocument_ExcludesSender(t *testing.T) {
	m := New(0)
	sender := newConn("sender")
	other := newConn("other")
	m.Register(sender)
	m.Register(other)
	m.Subscribe("doc-1", "sender")
	m.Subscribe("doc-1", "other")

	fillQueue(t, sender, 1)
	fillQueue(t, other, 1)

	m.BroadcastToDocument("doc-1", []byte(`{"type":"delta"}`), "sender")

	if isQueueFull(sender) {
		t.Error("sender should be excluded from its own broadcast")
	}
	if !isQueueFull(other) {
		t.Error("other subscriber should have received the broadcast")
	}
}

func TestBroadcastToDocument_OnlyReachesSubscribers(t *testing.T) {
	m := New(0)
	subscribed := newConn("subscribed")
	notSubscribed := newConn("not-subscribed")
	m.Register(subscribed)
	m.Register(notSubscribed)
	m.Subscribe("doc-1", "subscribed")

	fillQueue(t, subscribed, 1)
	fillQueue(t, notSubscribed, 1)

	m.BroadcastToDocument("doc-1", []byte(`{"type":"delta"}`), "")

	if !isQueueFull(subscribed) {
		t.Error("subscribed connection should have received the broadcast")
	}
	if isQueueFull(notSubscribed) {
		t.Error("non-subscriber must not receive the broadcast")
	}
}

func TestUnsubscribeDocument_StopsDelivery(t *testing.T) {
	m := New(0)
	c := newConn("c1")
	m.Register(c)
	m.Subscribe("doc-1", "c1")
	m.UnsubscribeDocument("doc-1", "c1")

	fillQueue(t, c, 1)
	m.BroadcastToDocument("doc-1", []byte("x"), "")

	if isQueueFull(c) {
		t.Error("expected no delivery after UnsubscribeDocument")
	}
}

func TestCount(t *testing.T) {
	m := New(0)
	m.Register(newConn("c1"))
	m.Register(newConn("c2"))
	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2", m.Count())
	}
}

func TestDocumentCount(t *testing.T) {
	m := New(0)
	m.Register(newConn("c1"))
	m.Subscribe("doc-1", "c1")
	m.Subscribe("doc-2", "c1")

	if m.DocumentCount() != 2 {
		t.Errorf("DocumentCount() = %d, want 2", m.DocumentCount())
	}

	m.UnsubscribeDocument("doc-1", "c1")
	if m.DocumentCount() != 1 {
		t.Errorf("DocumentCount() = %d, want 1 after unsubscribing doc-1", m.DocumentCount())
	}
}

func TestBroadcastToDocument_ShedsSlowConsumer(t *testing.T) {
	m := New(0)
	slow := newConn("slow")
	fine := newConn("fine")
	m.Register(slow)
	m.Register(fine)
	m.Subscribe("doc-1", "slow")
	m.Subscribe("doc-1", "fine")

	fillQueue(t, slow, 0)
	fillQueue(t, fine, 1)

	m.BroadcastToDocument("doc-1", []byte(`{"type":"delta"}`), "")

	if _, ok := m.Get("slow"); ok {
		t.Error("expected slow consumer to be unregistered after an overflowing broadcast")
	}
	if slow.State() != wsconn.Closing {
		t.Errorf("slow.State() = %v, want Closing", slow.State())
	}
	if !isQueueFull(fine) {
		t.Error("fine subscriber should still have received the broadcast")
	}
	if _, ok := m.Get("fine"); !ok {
		t.Error("fine subscriber must remain registered")
	}
}
