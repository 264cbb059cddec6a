package session

import (
	"sync"
	"time"

	"chatroom/pkg/interfaces"
	"chatroom/pkg/types"
)

// Handle identifies a session slot. Gen is bumped each time the slot is
// freed, so a handle kept past its session's lifetime never resolves to the
// slot's next occupant.
type Handle struct {
	Index uint32
	Gen   uint32
}

// Session is the per-connection state of one client. It is never persisted.
type Session struct {
	Handle      Handle
	Conn        interfaces.Connection
	Identity    string // lowercase, fixed for the session lifetime
	DisplayName string
	ConnectedAt time.Time

	// Rate limiter state, unix milliseconds
	RecentMessageTimestamps []int64
	RateLimitedUntil        int64
}

type slot struct {
	gen     uint32
	session *Session
	order   uint64
}

// Registry is an arena of live sessions for one room.
// ARCHITECTURAL DISCOVERY: Mutation happens only on the room actor goroutine,
// the RWMutex exists so health and metrics readers can take snapshots.
type Registry struct {
	mu    sync.RWMutex
	slots []slot
	free  []uint32
	count int
	seq   uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register allocates a slot for a new connection.
func (r *Registry) Register(conn interfaces.Connection, identity, displayName string) (Handle, error) {
	if conn == nil {
		return Handle{}, ErrNilConnection
	}
	identity = types.NormalizeIdentity(identity)
	if identity == "" {
		return Handle{}, ErrEmptyIdentity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.slots = append(r.slots, slot{})
		idx = uint32(len(r.slots) - 1)
	}

	r.seq++
	s := &r.slots[idx]
	h := Handle{Index: idx, Gen: s.gen}
	s.order = r.seq
	s.session = &Session{
		Handle:      h,
		Conn:        conn,
		Identity:    identity,
		DisplayName: displayName,
		ConnectedAt: time.Now(),
	}
	r.count++
	return h, nil
}

// Remove frees the slot behind h. It reports false when h is stale or was
// already removed.
func (r *Registry) Remove(h Handle) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.lookup(h)
	if !ok {
		return nil, false
	}
	sl := &r.slots[h.Index]
	sl.session = nil
	sl.gen++
	r.free = append(r.free, h.Index)
	r.count--
	return s, true
}

// Get resolves a handle.
func (r *Registry) Get(h Handle) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(h)
}

func (r *Registry) lookup(h Handle) (*Session, bool) {
	if int(h.Index) >= len(r.slots) {
		return nil, false
	}
	sl := r.slots[h.Index]
	if sl.session == nil || sl.gen != h.Gen {
		return nil, false
	}
	return sl.session, true
}

// sessions returns live sessions in join order.
func (r *Registry) sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ordered()
}

// ordered requires r.mu held.
func (r *Registry) ordered() []*Session {
	out := make([]*Session, 0, r.count)
	orders := make([]uint64, 0, r.count)
	for _, sl := range r.slots {
		if sl.session == nil {
			continue
		}
		// insertion sort by join order; rooms are small
		i := len(out)
		out = append(out, sl.session)
		orders = append(orders, sl.order)
		for i > 0 && orders[i-1] > orders[i] {
			out[i-1], out[i] = out[i], out[i-1]
			orders[i-1], orders[i] = orders[i], orders[i-1]
			i--
		}
	}
	return out
}

// Broadcast writes event to every session except exclude and returns how many
// writes succeeded. Failed writes are ignored; a closing connection is not an
// error for the broadcaster.
func (r *Registry) Broadcast(event interface{}, exclude *Handle) int {
	delivered := 0
	for _, s := range r.sessions() {
		if exclude != nil && s.Handle == *exclude {
			continue
		}
		if err := s.Conn.WriteJSON(event); err == nil {
			delivered++
		}
	}
	return delivered
}

// Send writes event to a single session.
func (r *Registry) Send(h Handle, event interface{}) error {
	s, ok := r.Get(h)
	if !ok {
		return ErrSessionNotFound
	}
	return s.Conn.WriteJSON(event)
}

// SendTo writes event to every session of identity (case-insensitive) and
// returns the number of sessions matched.
func (r *Registry) SendTo(identity string, event interface{}) int {
	matched := 0
	for _, s := range r.sessions() {
		if types.SameIdentity(s.Identity, identity) {
			matched++
			_ = s.Conn.WriteJSON(event)
		}
	}
	return matched
}

// SetDisplayName updates the display name of every session of identity and
// returns the number updated.
func (r *Registry) SetDisplayName(identity, displayName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := 0
	for _, sl := range r.slots {
		if sl.session != nil && types.SameIdentity(sl.session.Identity, identity) {
			sl.session.DisplayName = displayName
			updated++
		}
	}
	return updated
}

// Rename sets the display name of the session behind h. It reports false
// for a stale handle.
func (r *Registry) Rename(h Handle, displayName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.lookup(h)
	if !ok {
		return false
	}
	s.DisplayName = displayName
	return true
}

// OnlineUsers returns one roster entry per live session in join order.
// Names are copied under the read lock since renames may run concurrently.
func (r *Registry) OnlineUsers() []types.OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := r.ordered()
	users := make([]types.OnlineUser, 0, len(sessions))
	for _, s := range sessions {
		users = append(users, types.OnlineUser{WalletAddress: s.Identity, DisplayName: s.DisplayName})
	}
	return users
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// CloseAll closes every live connection. Used on shutdown.
func (r *Registry) CloseAll() {
	for _, s := range r.sessions() {
		_ = s.Conn.Close()
	}
}
