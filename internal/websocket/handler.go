package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatroom/internal/session"
	"chatroom/pkg/interfaces"
)

// IdentityHeader carries the identity verified by the upstream gateway.
const IdentityHeader = "X-Wallet-Address"

// Room is the part of the coordinator the handler drives.
type Room interface {
	Connect(ctx context.Context, identity, displayName string, conn interfaces.Connection) (session.Handle, error)
	Disconnect(ctx context.Context, h session.Handle) error
	HandleInbound(ctx context.Context, h session.Handle, raw []byte) error
}

// Handler upgrades requests and pumps frames between the socket and the room
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from room logic,
// the handler never inspects frame contents
type Handler struct {
	room     Room
	cfg      Config
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a handler bound to room.
func NewHandler(room Room, cfg Config, logger zerolog.Logger) *Handler {
	cfg = cfg.withDefaults()
	h := &Handler{
		room:   room,
		cfg:    cfg,
		logger: logger.With().Str("component", "websocket").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// identityFrom reads the verified identity from the gateway header, falling
// back to the wallet query parameter.
func identityFrom(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(IdentityHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("wallet"))
}

// ServeHTTP validates the identity, upgrades and joins the room.
// FUNCTIONAL DISCOVERY: Validation before upgrade returns plain HTTP errors
// and keeps invalid requests from holding a socket.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if identity == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	displayName := r.URL.Query().Get("displayName")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	wsConn := NewConnection(conn, h.cfg)

	handle, err := h.room.Connect(context.Background(), identity, displayName, wsConn)
	if err != nil {
		h.logger.Warn().Err(err).Str("wallet", identity).Msg("room rejected connection")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "room unavailable"),
			time.Now().Add(time.Second))
		_ = wsConn.Close()
		return
	}

	go h.handleConnection(wsConn, handle)
}

// handleConnection runs the read pump and heartbeat for one connection and
// leaves the room when either ends.
func (h *Handler) handleConnection(conn *Connection, handle session.Handle) {
	ctx := context.Background()
	log := h.logger.With().Str("conn_id", conn.GetID()).Logger()
	defer func() {
		if err := h.room.Disconnect(ctx, handle); err != nil {
			log.Debug().Err(err).Msg("disconnect after room shutdown")
		}
		_ = conn.Close()
	}()

	ws := conn.conn
	ws.SetReadLimit(h.cfg.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	// TECHNICAL DISCOVERY: ping ticker runs apart from the read pump so
	// heartbeats keep flowing while a slow room call is in progress
	go func() {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.writePing(); err != nil {
					_ = conn.Close()
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		// errors here mean the session or the room is gone
		if err := h.room.HandleInbound(ctx, handle, data); err != nil {
			if !errors.Is(err, session.ErrSessionNotFound) {
				log.Warn().Err(err).Msg("inbound frame not processed")
			}
			return
		}
	}
}
