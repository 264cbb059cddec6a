package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatroom/pkg/types"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	events []interface{}
	fail   bool
	closed bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection closed")
	}
	c.events = append(c.events, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) GetID() string { return c.id }

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register(nil, "0xabc", "alice")
	assert.ErrorIs(t, err, ErrNilConnection)

	_, err = r.Register(&fakeConn{id: "c1"}, "   ", "alice")
	assert.ErrorIs(t, err, ErrEmptyIdentity)

	assert.Equal(t, 0, r.Count())
}

func TestRegistry_RegisterNormalizesIdentity(t *testing.T) {
	r := NewRegistry()
	h, err := r.Register(&fakeConn{id: "c1"}, "0xABC", "alice")
	require.NoError(t, err)

	s, ok := r.Get(h)
	require.True(t, ok)
	assert.Equal(t, "0xabc", s.Identity)
	assert.Equal(t, "alice", s.DisplayName)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_StaleHandleNeverResolves(t *testing.T) {
	r := NewRegistry()
	old, err := r.Register(&fakeConn{id: "c1"}, "0xabc", "alice")
	require.NoError(t, err)

	_, ok := r.Remove(old)
	require.True(t, ok)

	// slot is reused with a new generation
	fresh, err := r.Register(&fakeConn{id: "c2"}, "0xdef", "bob")
	require.NoError(t, err)
	assert.Equal(t, old.Index, fresh.Index)
	assert.NotEqual(t, old.Gen, fresh.Gen)

	_, ok = r.Get(old)
	assert.False(t, ok)
	_, ok = r.Remove(old)
	assert.False(t, ok, "removing a stale handle must be a no-op")

	s, ok := r.Get(fresh)
	require.True(t, ok)
	assert.Equal(t, "0xdef", s.Identity)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	h, _ := r.Register(&fakeConn{id: "c1"}, "0xabc", "alice")

	_, ok := r.Remove(h)
	assert.True(t, ok)
	_, ok = r.Remove(h)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_BroadcastExcludesAndIgnoresFailures(t *testing.T) {
	r := NewRegistry()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	broken := &fakeConn{id: "x", fail: true}

	ha, _ := r.Register(a, "0xa", "a")
	_, _ = r.Register(b, "0xb", "b")
	_, _ = r.Register(broken, "0xc", "c")

	ev := types.NewEvent(types.EventUserTyping, nil)
	delivered := r.Broadcast(ev, &ha)

	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, b.count())

	assert.Equal(t, 2, r.Broadcast(ev, nil))
	assert.Equal(t, 1, a.count())
}

func TestRegistry_SendToCaseInsensitiveManyMatches(t *testing.T) {
	r := NewRegistry()
	tab1 := &fakeConn{id: "t1"}
	tab2 := &fakeConn{id: "t2"}
	other := &fakeConn{id: "o"}
	_, _ = r.Register(tab1, "0xabc", "alice")
	_, _ = r.Register(tab2, "0xABC", "alice")
	_, _ = r.Register(other, "0xdef", "bob")

	matched := r.SendTo("0xAbC", types.NewEvent(types.EventWarning, types.Payload{"message": "be nice"}))
	assert.Equal(t, 2, matched)
	assert.Equal(t, 1, tab1.count())
	assert.Equal(t, 1, tab2.count())
	assert.Equal(t, 0, other.count())

	assert.Equal(t, 0, r.SendTo("0xnobody", types.NewEvent(types.EventWarning, nil)))
}

func TestRegistry_OnlineUsersInJoinOrder(t *testing.T) {
	r := NewRegistry()
	h1, _ := r.Register(&fakeConn{id: "1"}, "0x1", "one")
	_, _ = r.Register(&fakeConn{id: "2"}, "0x2", "two")
	_, _ = r.Remove(h1)
	_, _ = r.Register(&fakeConn{id: "3"}, "0x3", "three") // reuses slot 0

	users := r.OnlineUsers()
	require.Len(t, users, 2)
	assert.Equal(t, "0x2", users[0].WalletAddress)
	assert.Equal(t, "0x3", users[1].WalletAddress)
}

func TestRegistry_SetDisplayName(t *testing.T) {
	r := NewRegistry()
	h, _ := r.Register(&fakeConn{id: "1"}, "0xabc", "old")
	_, _ = r.Register(&fakeConn{id: "2"}, "0xabc", "old")

	assert.Equal(t, 2, r.SetDisplayName("0xABC", "new"))
	s, _ := r.Get(h)
	assert.Equal(t, "new", s.DisplayName)
}

func TestRegistry_Rename(t *testing.T) {
	r := NewRegistry()
	h, _ := r.Register(&fakeConn{id: "1"}, "0xabc", "old")
	other, _ := r.Register(&fakeConn{id: "2"}, "0xabc", "old")

	assert.True(t, r.Rename(h, "new"))
	s, _ := r.Get(h)
	assert.Equal(t, "new", s.DisplayName)
	s, _ = r.Get(other)
	assert.Equal(t, "old", s.DisplayName, "only the addressed session is renamed")

	_, _ = r.Remove(h)
	assert.False(t, r.Rename(h, "again"))
}

func TestRegistry_RenameWhileReading(t *testing.T) {
	r := NewRegistry()
	h, _ := r.Register(&fakeConn{id: "1"}, "0xabc", "a")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			r.Rename(h, fmt.Sprintf("name-%d", i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			users := r.OnlineUsers()
			assert.Len(t, users, 1)
		}
	}()
	wg.Wait()
	assert.Equal(t, "name-199", r.OnlineUsers()[0].DisplayName)
}

func TestRegistry_ConcurrentReaders(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 20; i++ {
		_, _ = r.Register(&fakeConn{id: "c"}, "0xabc", "a")
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.OnlineUsers()
			_ = r.Count()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, r.Count())
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{id: "1"}
	_, _ = r.Register(c, "0xabc", "a")
	r.CloseAll()
	assert.True(t, c.closed)
}
