// Package room implements the single-room coordinator: one actor goroutine
// that owns session and message mutation for the room.
package room

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatroom/internal/metrics"
	"chatroom/internal/sanitize"
	"chatroom/internal/session"
	"chatroom/pkg/interfaces"
	"chatroom/pkg/types"
)

// Store is the persistence the coordinator needs.
type Store interface {
	PutMessage(ctx context.Context, m *types.Message) error
	GetMessage(ctx context.Context, key string) (*types.Message, error)
	FindMessage(ctx context.Context, id string) (string, *types.Message, error)
	AllMessages(ctx context.Context) ([]types.Message, error)
	MessageIndex(ctx context.Context) ([]types.IndexEntry, error)
	AppendMessageIndex(ctx context.Context, key string, timestamp int64) error
	AddReply(ctx context.Context, parentID, replyID string, timestamp int64) error
	ReplyCount(ctx context.Context, parentID string) (int, error)
	ListReplies(ctx context.Context, parentID string) ([]types.Message, error)
	RecentReplies(ctx context.Context, parentID string, n int) (int, []types.Message, error)
	Mute(ctx context.Context, identity string) (*types.MuteRecord, error)
}

// Coordinator processes every room event sequentially on one goroutine.
// ARCHITECTURAL DISCOVERY: callers on any goroutine submit closures to the
// mailbox and wait, so handler logic never runs concurrently and needs no
// locks around session or message state.
type Coordinator struct {
	store    Store
	sessions *session.Registry
	limiter  *RateLimiter
	opts     Options
	clock    Clock
	logger   zerolog.Logger

	mailbox chan func(context.Context)

	mu       sync.RWMutex
	running  bool
	shutdown chan struct{}
	done     chan struct{}
}

// New creates a coordinator. Start must be called before use.
func New(store Store, sessions *session.Registry, opts Options, logger zerolog.Logger) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		store:    store,
		sessions: sessions,
		limiter:  NewRateLimiter(opts.RateLimit, opts.RateWindow, opts.Cooldown),
		opts:     opts,
		clock:    time.Now,
		logger:   logger.With().Str("component", "room").Logger(),
		mailbox:  make(chan func(context.Context), opts.MailboxSize),
	}
}

// SetClock replaces the wall clock. Call before Start.
func (c *Coordinator) SetClock(clock Clock) {
	c.clock = clock
}

// Start launches the actor goroutine. Persistence calls made by handlers use
// a context derived from ctx, never the submitting caller's, so a caller
// that goes away does not abort an in-flight handler.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}
	c.running = true
	c.shutdown = make(chan struct{})
	c.done = make(chan struct{})

	c.logger.Info().Msg("starting room coordinator")
	go c.run(ctx, c.shutdown, c.done)
	return nil
}

// Stop ends the actor after the handler in progress, then closes every
// connection.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.running = false
	close(c.shutdown)
	done := c.done
	c.mu.Unlock()

	<-done
	c.sessions.CloseAll()
	c.logger.Info().Msg("room coordinator stopped")
	return nil
}

func (c *Coordinator) run(ctx context.Context, shutdown, done chan struct{}) {
	defer close(done)
	actx := context.WithoutCancel(ctx)
	for {
		select {
		case fn := <-c.mailbox:
			fn(actx)
		case <-shutdown:
			return
		case <-ctx.Done():
			c.mu.Lock()
			if c.running {
				c.running = false
				close(c.shutdown)
			}
			c.mu.Unlock()
			c.sessions.CloseAll()
			c.logger.Info().Msg("room context cancelled")
			return
		}
	}
}

// submit runs fn on the actor and waits for it to finish. If the caller's
// ctx ends first submit returns early, but a queued fn still runs.
func (c *Coordinator) submit(ctx context.Context, fn func(context.Context)) error {
	c.mu.RLock()
	if !c.running {
		c.mu.RUnlock()
		return ErrNotRunning
	}
	done := c.done
	c.mu.RUnlock()

	finished := make(chan struct{})
	select {
	case c.mailbox <- func(actx context.Context) {
		defer close(finished)
		fn(actx)
	}:
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrNotRunning
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		// the loop may have exited with fn still queued
		select {
		case <-finished:
			return nil
		default:
			return ErrNotRunning
		}
	}
}

// call runs fn on the actor and returns its result.
func call[T any](ctx context.Context, c *Coordinator, fn func(context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	if serr := c.submit(ctx, func(actx context.Context) { out, err = fn(actx) }); serr != nil {
		var zero T
		return zero, serr
	}
	return out, err
}

// withSession resolves h on the actor and runs fn against it.
func (c *Coordinator) withSession(ctx context.Context, h session.Handle, fn func(context.Context, *session.Session) error) error {
	_, err := call(ctx, c, func(actx context.Context) (struct{}, error) {
		s, ok := c.sessions.Get(h)
		if !ok {
			return struct{}{}, session.ErrSessionNotFound
		}
		return struct{}{}, fn(actx, s)
	})
	return err
}

// Connect registers a connection for identity and announces it to the room.
func (c *Coordinator) Connect(ctx context.Context, identity, displayName string, conn interfaces.Connection) (session.Handle, error) {
	identity = types.NormalizeIdentity(identity)
	if identity == "" {
		return session.Handle{}, ErrMissingIdentity
	}
	name := sanitize.DisplayName(displayName)
	if name == "" {
		name = shortIdentity(identity)
	}

	return call(ctx, c, func(context.Context) (session.Handle, error) {
		h, err := c.sessions.Register(conn, identity, name)
		if err != nil {
			return h, err
		}
		count := c.sessions.Count()
		metrics.OnlineSessions.Set(float64(count))

		c.broadcast(types.EventUserJoined, types.Payload{
			"walletAddress": identity,
			"displayName":   name,
			"onlineCount":   count,
		}, &h)
		c.send(h, types.EventOnlineUsers, types.Payload{
			"users": c.sessions.OnlineUsers(),
			"count": count,
		})

		c.logger.Info().Str("wallet", identity).Int("online", count).Msg("session connected")
		return h, nil
	})
}

// Disconnect removes the session behind h. Unknown or stale handles are a
// no-op.
func (c *Coordinator) Disconnect(ctx context.Context, h session.Handle) error {
	return c.submit(ctx, func(context.Context) {
		s, ok := c.sessions.Remove(h)
		if !ok {
			return
		}
		count := c.sessions.Count()
		metrics.OnlineSessions.Set(float64(count))
		c.broadcast(types.EventUserLeft, types.Payload{
			"walletAddress": s.Identity,
			"displayName":   s.DisplayName,
			"onlineCount":   count,
		}, nil)
		c.logger.Info().Str("wallet", s.Identity).Int("online", count).Msg("session disconnected")
	})
}

// HandleInbound parses one client frame and dispatches it. Malformed frames
// and unknown kinds are dropped; handler rejections are reported to the
// client as notices, not returned.
func (c *Coordinator) HandleInbound(ctx context.Context, h session.Handle, raw []byte) error {
	return c.withSession(ctx, h, func(actx context.Context, s *session.Session) error {
		in, err := types.ParseInbound(raw)
		if err != nil {
			metrics.MalformedFrames.Inc()
			c.logger.Warn().Err(err).Str("wallet", s.Identity).Msg("dropping malformed frame")
			return nil
		}
		if err := c.dispatch(actx, s, in); err != nil {
			c.logger.Debug().Err(err).Str("type", in.Type).Str("wallet", s.Identity).Msg("event rejected")
		}
		return nil
	})
}

func (c *Coordinator) dispatch(ctx context.Context, s *session.Session, in *types.Inbound) error {
	switch in.Type {
	case types.InboundMessage:
		_, err := c.sendMessage(ctx, s, in.Content, in.IsGif, in.Mentions)
		return err
	case types.InboundReply:
		_, err := c.sendReply(ctx, s, in.ParentID, in.Content, in.IsGif)
		return err
	case types.InboundEdit:
		return c.edit(ctx, s, in.TargetID(), in.Content, false)
	case types.InboundEditReply:
		return c.edit(ctx, s, in.TargetID(), in.Content, true)
	case types.InboundDelete:
		return c.delete(ctx, s, in.TargetID(), false)
	case types.InboundDeleteReply:
		return c.delete(ctx, s, in.TargetID(), true)
	case types.InboundReaction:
		return c.toggleReaction(ctx, s, in.TargetID(), in.Emoji)
	case types.InboundTyping:
		c.relayTyping(s, types.EventUserTyping)
	case types.InboundStopTyping:
		c.relayTyping(s, types.EventUserStopTyping)
	case types.InboundPing:
		c.send(s.Handle, types.EventPong, types.Payload{"timestamp": c.clock().UnixMilli()})
	case types.InboundUpdateDisplayName:
		c.renameSession(s, in.DisplayName)
	default:
		c.logger.Debug().Str("type", in.Type).Msg("ignoring unknown event type")
	}
	return nil
}

func (c *Coordinator) relayTyping(s *session.Session, kind string) {
	c.broadcast(kind, types.Payload{
		"walletAddress": s.Identity,
		"displayName":   s.DisplayName,
	}, &s.Handle)
}

func (c *Coordinator) renameSession(s *session.Session, displayName string) {
	name := sanitize.DisplayName(displayName)
	if name == "" || name == s.DisplayName {
		return
	}
	if !c.sessions.Rename(s.Handle, name) {
		return
	}
	c.broadcast(types.EventDisplayNameChanged, types.Payload{
		"walletAddress": s.Identity,
		"displayName":   name,
	}, nil)
}

// Stats is a snapshot of the room roster.
type Stats struct {
	Online int                `json:"online"`
	Users  []types.OnlineUser `json:"users"`
}

// Stats reads the registry directly; it takes its own lock.
func (c *Coordinator) Stats() Stats {
	return Stats{Online: c.sessions.Count(), Users: c.sessions.OnlineUsers()}
}

func (c *Coordinator) broadcast(kind string, data types.Payload, exclude *session.Handle) int {
	metrics.EventsBroadcast.WithLabelValues(kind).Inc()
	return c.sessions.Broadcast(types.NewEvent(kind, data), exclude)
}

func (c *Coordinator) send(h session.Handle, kind string, data types.Payload) {
	if err := c.sessions.Send(h, types.NewEvent(kind, data)); err != nil {
		c.logger.Debug().Err(err).Str("type", kind).Msg("send failed")
	}
}

// notify sends an error notice to one session.
func (c *Coordinator) notify(s *session.Session, code, message string, extra types.Payload) {
	data := types.Payload{"code": code, "message": message}
	for k, v := range extra {
		data[k] = v
	}
	c.send(s.Handle, types.EventError, data)
}

// shortIdentity is the display name used when a client supplies none.
func shortIdentity(identity string) string {
	if len(identity) <= 10 {
		return identity
	}
	return identity[:6] + "..." + identity[len(identity)-4:]
}
