package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/canvasnet"
)

func TestRegistryConcurrentRegisterUniqueIDs(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	const n = 200

	ids := make(chan canvasnet.SessionID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, _ := NewChannel(1)
			ids <- r.Register(ch)
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[canvasnet.SessionID]bool, n)
	for id := range ids {
		assert.NotEqual(t, canvasnet.NoSession, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, r.Count())
}

func TestRegistryIDsStartAfterSentinel(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ch, _ := NewChannel(1)

	first := r.Register(ch)
	second := r.Register(ch)
	assert.Equal(t, canvasnet.SessionID(1), first)
	assert.Equal(t, canvasnet.SessionID(2), second)
}

func TestRegistryIDsNeverReused(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ch, _ := NewChannel(1)

	id := r.Register(ch)
	require.True(t, r.Unregister(id))
	next := r.Register(ch)
	assert.Greater(t, next, id)
}

func TestRegistryUnregisterIdempotent(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ch, _ := NewChannel(1)
	id := r.Register(ch)

	assert.True(t, r.Unregister(id))
	assert.False(t, r.Unregister(id))
	assert.False(t, r.Unregister(canvasnet.SessionID(9999)))
	assert.False(t, r.Unregister(canvasnet.NoSession))

	_, ok := r.Lookup(id)
	assert.False(t, ok)
}

func TestRegistryLookupAndSendTo(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ch, inbox := NewChannel(2)
	id := r.Register(ch)

	got, ok := r.Lookup(id)
	require.True(t, ok)
	require.NoError(t, got.SendText(context.Background(), "direct"))
	assert.Equal(t, "direct", string((<-inbox.C()).Data))

	require.NoError(t, r.SendTo(context.Background(), id, canvasnet.TextMessage("again")))
	assert.Equal(t, "again", string((<-inbox.C()).Data))

	err := r.SendTo(context.Background(), id+100, canvasnet.TextMessage("nobody"))
	assert.ErrorIs(t, err, canvasnet.ErrSessionNotFound)

	inbox.Close()
	err = r.SendTo(context.Background(), id, canvasnet.TextMessage("gone"))
	assert.ErrorIs(t, err, canvasnet.ErrRecipientGone)
}

func TestRegistryBroadcastEmpty(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.NotPanics(t, func() {
		r.BroadcastText(context.Background(), "nobody listening")
	})
}

func TestRegistryBroadcastSkipsClosedRecipient(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	const k = 5

	inboxes := make([]*Inbox, k)
	for i := range inboxes {
		ch, inbox := NewChannel(4)
		r.Register(ch)
		inboxes[i] = inbox
	}
	inboxes[2].Close()

	r.BroadcastBinary(context.Background(), []byte("frame"))

	for i, inbox := range inboxes {
		if i == 2 {
			continue
		}
		select {
		case msg := <-inbox.C():
			assert.Equal(t, canvasnet.Binary, msg.Kind)
			assert.Equal(t, "frame", string(msg.Data))
		default:
			t.Fatalf("recipient %d missed the broadcast", i)
		}
	}
}

func TestRegistryBroadcastFullRecipientBoundedByContext(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	stuck, stuckInbox := NewChannel(1)
	healthy, healthyInbox := NewChannel(1)
	r.Register(stuck)
	r.Register(healthy)
	require.NoError(t, stuck.TrySend(canvasnet.TextMessage("backlog")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	r.BroadcastText(ctx, "update")
	assert.Less(t, time.Since(start), time.Second)

	select {
	case msg := <-healthyInbox.C():
		assert.Equal(t, "update", string(msg.Data))
	default:
		t.Fatal("healthy recipient missed the broadcast")
	}
	assert.Equal(t, 1, stuckInbox.Len())
}

func TestRegistryBroadcastCopiesPayload(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	chA, inboxA := NewChannel(1)
	chB, inboxB := NewChannel(1)
	r.Register(chA)
	r.Register(chB)

	payload := []byte("shared")
	r.BroadcastBinary(context.Background(), payload)
	payload[0] = 'X'

	a := <-inboxA.C()
	b := <-inboxB.C()
	assert.Equal(t, "shared", string(a.Data))
	assert.Equal(t, "shared", string(b.Data))

	a.Data[0] = 'Y'
	assert.Equal(t, "shared", string(b.Data))
}

func TestRegistryBroadcastDoesNotHoldLock(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	stalled, _ := NewChannel(1)
	require.NoError(t, stalled.SendText(context.Background(), "fill"))
	r.Register(stalled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.BroadcastText(ctx, "stuck behind a full queue")
	}()

	// While the broadcast is parked on the stalled recipient, the registry
	// must stay available.
	time.Sleep(20 * time.Millisecond)
	ch, _ := NewChannel(1)
	registered := make(chan canvasnet.SessionID, 1)
	go func() { registered <- r.Register(ch) }()

	select {
	case id := <-registered:
		assert.True(t, r.Unregister(id))
	case <-time.After(time.Second):
		t.Fatal("register blocked behind a stalled broadcast")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast did not return after cancellation")
	}
}

func TestRegistryIDsSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ch, _ := NewChannel(1)
	for i := 0; i < 5; i++ {
		r.Register(ch)
	}
	r.Unregister(3)

	assert.Equal(t, []canvasnet.SessionID{1, 2, 4, 5}, r.IDs())
	assert.Equal(t, 4, r.Count())
	assert.True(t, r.Contains(4))
	assert.False(t, r.Contains(3))
}
