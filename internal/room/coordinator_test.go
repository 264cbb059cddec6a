package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatroom/internal/session"
	"chatroom/internal/storage"
	"chatroom/pkg/types"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	events []types.Event
	closed bool
	fail   bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	if ev, ok := v.(types.Event); ok {
		c.events = append(c.events, ev)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) GetID() string { return c.id }

func (c *fakeConn) ofType(kind string) []types.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.Event
	for _, ev := range c.events {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) last(kind string) (types.Event, bool) {
	evs := c.ofType(kind)
	if len(evs) == 0 {
		return types.Event{}, false
	}
	return evs[len(evs)-1], true
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	room      *Coordinator
	store     *storage.Store
	primary   *storage.MemoryTier
	secondary *storage.MemoryTier
	clock     *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	primary := storage.NewMemoryTier("primary")
	secondary := storage.NewMemoryTier("secondary")
	st := storage.New(primary, secondary, storage.Options{}, zerolog.Nop())

	c := New(st, session.NewRegistry(), DefaultOptions(), zerolog.Nop())
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	c.SetClock(clock.Now)
	require.NoError(t, c.Start(context.Background()))

	t.Cleanup(func() {
		_ = c.Stop()
		_ = st.Close()
	})
	return &harness{room: c, store: st, primary: primary, secondary: secondary, clock: clock}
}

func (h *harness) connect(t *testing.T, identity string) (session.Handle, *fakeConn) {
	t.Helper()
	conn := &fakeConn{id: identity}
	handle, err := h.room.Connect(context.Background(), identity, "", conn)
	require.NoError(t, err)
	return handle, conn
}

func TestCoordinator_Lifecycle(t *testing.T) {
	st := storage.New(storage.NewMemoryTier("p"), storage.NewMemoryTier("s"), storage.Options{}, zerolog.Nop())
	defer st.Close()
	c := New(st, session.NewRegistry(), Options{}, zerolog.Nop())

	_, err := c.History(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyRunning)

	conn := &fakeConn{id: "c1"}
	_, err = c.Connect(context.Background(), "0xabc", "alice", conn)
	require.NoError(t, err)

	require.NoError(t, c.Stop())
	assert.ErrorIs(t, c.Stop(), ErrNotRunning)
	assert.True(t, conn.isClosed(), "stop closes live connections")

	_, err = c.Connect(context.Background(), "0xabc", "alice", &fakeConn{})
	assert.ErrorIs(t, err, ErrNotRunning)

	// restart works
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop())
}

func TestCoordinator_ContextCancelStopsActor(t *testing.T) {
	st := storage.New(storage.NewMemoryTier("p"), storage.NewMemoryTier("s"), storage.Options{}, zerolog.Nop())
	defer st.Close()
	c := New(st, session.NewRegistry(), Options{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	conn := &fakeConn{}
	_, err := c.Connect(context.Background(), "0xabc", "abc", conn)
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool {
		_, err := c.History(context.Background(), 0)
		return errors.Is(err, ErrNotRunning)
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, conn.isClosed, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, c.Stop(), ErrNotRunning)
}

func TestCoordinator_ConnectRequiresIdentity(t *testing.T) {
	h := newHarness(t)
	_, err := h.room.Connect(context.Background(), "  ", "bob", &fakeConn{})
	assert.ErrorIs(t, err, ErrMissingIdentity)
	assert.Equal(t, 0, h.room.Stats().Online)
}

func TestCoordinator_ConnectAndDisconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, firstConn := h.connect(t, "0xAAA")
	ev, ok := firstConn.last(types.EventOnlineUsers)
	require.True(t, ok)
	assert.Equal(t, 1, ev.Data["count"])
	assert.Empty(t, firstConn.ofType(types.EventUserJoined), "joiner is excluded from its own join event")

	second, secondConn := h.connect(t, "0xBBB")
	joined, ok := firstConn.last(types.EventUserJoined)
	require.True(t, ok)
	assert.Equal(t, "0xbbb", joined.Data["walletAddress"])
	assert.Equal(t, 2, joined.Data["onlineCount"])

	roster, ok := secondConn.last(types.EventOnlineUsers)
	require.True(t, ok)
	users := roster.Data["users"].([]types.OnlineUser)
	require.Len(t, users, 2)
	assert.Equal(t, "0xaaa", users[0].WalletAddress)

	require.NoError(t, h.room.Disconnect(ctx, first))
	left, ok := secondConn.last(types.EventUserLeft)
	require.True(t, ok)
	assert.Equal(t, "0xaaa", left.Data["walletAddress"])
	assert.Equal(t, 1, left.Data["onlineCount"])

	// second disconnect of the same handle is silent
	require.NoError(t, h.room.Disconnect(ctx, first))
	assert.Len(t, secondConn.ofType(types.EventUserLeft), 1)

	stats := h.room.Stats()
	assert.Equal(t, 1, stats.Online)
	assert.Equal(t, "0xbbb", stats.Users[0].WalletAddress)

	require.NoError(t, h.room.Disconnect(ctx, second))
	assert.Equal(t, 0, h.room.Stats().Online)
}

func TestCoordinator_DefaultDisplayName(t *testing.T) {
	h := newHarness(t)
	_, conn := h.connect(t, "0x1234567890abcdef")
	ev, _ := conn.last(types.EventOnlineUsers)
	users := ev.Data["users"].([]types.OnlineUser)
	assert.Equal(t, "0x1234...cdef", users[0].DisplayName)

	_, err := h.room.Connect(context.Background(), "0xbeef", "<b>Bob</b>", &fakeConn{})
	require.NoError(t, err)
	users = h.room.Stats().Users
	assert.Equal(t, "Bob", users[1].DisplayName)
}

func TestCoordinator_StaleHandle(t *testing.T) {
	h := newHarness(t)
	handle, _ := h.connect(t, "0xabc")
	require.NoError(t, h.room.Disconnect(context.Background(), handle))

	_, err := h.room.SendMessage(context.Background(), handle, "hi", false, nil)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestCoordinator_HandleInbound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, aliceConn := h.connect(t, "0xa11ce")
	_, bobConn := h.connect(t, "0xb0b")

	t.Run("message", func(t *testing.T) {
		require.NoError(t, h.room.HandleInbound(ctx, alice, []byte(`{"type":"message","content":"hello","mentions":["0xB0B","0xb0b"]}`)))
		ev, ok := bobConn.last(types.EventNewMessage)
		require.True(t, ok)
		msg := ev.Data["message"].(types.Message)
		assert.Equal(t, "hello", msg.Content)
		assert.Equal(t, []string{"0xb0b"}, msg.Mentions)
	})

	t.Run("malformed frame is dropped", func(t *testing.T) {
		assert.NoError(t, h.room.HandleInbound(ctx, alice, []byte(`{not json`)))
		assert.NoError(t, h.room.HandleInbound(ctx, alice, []byte(`{"content":"no type"}`)))
	})

	t.Run("unknown type is ignored", func(t *testing.T) {
		before := bobConn.count()
		assert.NoError(t, h.room.HandleInbound(ctx, alice, []byte(`{"type":"dance"}`)))
		assert.Equal(t, before, bobConn.count())
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, h.room.HandleInbound(ctx, alice, []byte(`{"type":"ping"}`)))
		ev, ok := aliceConn.last(types.EventPong)
		require.True(t, ok)
		assert.Equal(t, h.clock.Now().UnixMilli(), ev.Data["timestamp"])
		assert.Empty(t, bobConn.ofType(types.EventPong))
	})

	t.Run("typing relays exclude sender", func(t *testing.T) {
		require.NoError(t, h.room.HandleInbound(ctx, alice, []byte(`{"type":"typing"}`)))
		require.NoError(t, h.room.HandleInbound(ctx, alice, []byte(`{"type":"stop_typing"}`)))
		assert.Len(t, bobConn.ofType(types.EventUserTyping), 1)
		assert.Len(t, bobConn.ofType(types.EventUserStopTyping), 1)
		assert.Empty(t, aliceConn.ofType(types.EventUserTyping))
	})

	t.Run("display name update", func(t *testing.T) {
		require.NoError(t, h.room.HandleInbound(ctx, alice, []byte(`{"type":"update_display_name","displayName":"Alice"}`)))
		ev, ok := bobConn.last(types.EventDisplayNameChanged)
		require.True(t, ok)
		assert.Equal(t, "Alice", ev.Data["displayName"])

		_, err := h.room.SendMessage(ctx, alice, "named", false, nil)
		require.NoError(t, err)
		msgEv, _ := bobConn.last(types.EventNewMessage)
		assert.Equal(t, "Alice", msgEv.Data["message"].(types.Message).DisplayName)
	})

	t.Run("reply edit delete reaction via frames", func(t *testing.T) {
		parent, err := h.room.SendMessage(ctx, alice, "parent", false, nil)
		require.NoError(t, err)

		require.NoError(t, h.room.HandleInbound(ctx, alice, []byte(`{"type":"reply","parentId":"`+parent.ID+`","content":"child"}`)))
		replyEv, ok := bobConn.last(types.EventNewReply)
		require.True(t, ok)
		reply := replyEv.Data["reply"].(types.Message)

		require.NoError(t, h.room.HandleInbound(ctx, alice, []byte(`{"type":"edit","messageId":"`+parent.ID+`","content":"parent v2"}`)))
		require.NoError(t, h.room.HandleInbound(ctx, alice, []byte(`{"type":"edit_reply","replyId":"`+reply.ID+`","content":"child v2"}`)))
		require.NoError(t, h.room.HandleInbound(ctx, alice, []byte(`{"type":"reaction","messageId":"`+parent.ID+`","emoji":"🔥"}`)))
		require.NoError(t, h.room.HandleInbound(ctx, alice, []byte(`{"type":"delete_reply","id":"`+reply.ID+`"}`)))
		require.NoError(t, h.room.HandleInbound(ctx, alice, []byte(`{"type":"delete","id":"`+parent.ID+`"}`)))

		assert.Len(t, bobConn.ofType(types.EventMessageEdited), 1)
		assert.Len(t, bobConn.ofType(types.EventReplyEdited), 1)
		assert.Len(t, bobConn.ofType(types.EventReactionUpdated), 1)
		assert.Len(t, bobConn.ofType(types.EventReplyDeleted), 1)
		assert.Len(t, bobConn.ofType(types.EventMessageDeleted), 1)
	})
}

func TestCoordinator_RenameWhileReadingStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, _ := h.connect(t, "0xa11ce")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			frame := fmt.Sprintf(`{"type":"update_display_name","displayName":"alice-%d"}`, i)
			assert.NoError(t, h.room.HandleInbound(ctx, alice, []byte(frame)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			assert.Equal(t, 1, h.room.Stats().Online)
		}
	}()
	wg.Wait()

	stats := h.room.Stats()
	require.Len(t, stats.Users, 1)
	assert.Equal(t, "alice-199", stats.Users[0].DisplayName)
}

func TestCoordinator_BroadcastIgnoresBrokenConnections(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.connect(t, "0xa")
	_, broken := h.connect(t, "0xb")
	_, healthy := h.connect(t, "0xc")
	broken.mu.Lock()
	broken.fail = true
	broken.mu.Unlock()

	_, err := h.room.SendMessage(context.Background(), alice, "still delivered", false, nil)
	require.NoError(t, err)
	assert.Len(t, healthy.ofType(types.EventNewMessage), 1)
}

func TestCoordinator_CallerCancellationDoesNotAbortHandler(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.connect(t, "0xa")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.room.SendMessage(ctx, alice, "maybe", false, nil)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}

	// whatever was queued has completed by the time a later call returns
	_, err = h.room.History(context.Background(), 0)
	require.NoError(t, err)
}
