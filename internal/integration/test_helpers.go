// Package integration drives a fully wired chatroom over real sockets.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatroom/internal/app"
	"chatroom/internal/config"
)

// TestSecret is the internal secret configured on test applications.
const TestSecret = "integration-secret"

// TestConfig returns a config bound to a free loopback port with the
// in-memory secondary.
func TestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Storage.Secondary = config.SecondaryMemory
	cfg.API.InternalSecret = TestSecret
	cfg.API.RateLimit = 1000
	cfg.API.RateBurst = 1000
	return cfg
}

// StartApplication starts cfg and stops it when the test ends. It returns the
// HTTP base URL.
func StartApplication(t *testing.T, cfg *config.Config) (*app.Application, string) {
	t.Helper()
	application, err := app.NewApplication(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	// Stop is idempotent, so tests may also stop explicitly
	t.Cleanup(func() { StopApplication(t, application) })
	return application, "http://" + application.GetAddr()
}

// StopApplication shuts application down with a bounded timeout.
func StopApplication(t *testing.T, application *app.Application) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Stop(ctx); err != nil {
		t.Errorf("Failed to stop application: %v", err)
	}
}

// Client is one websocket participant.
type Client struct {
	t    *testing.T
	conn *websocket.Conn
}

// Frame is a decoded server event.
type Frame struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Connect joins the room as wallet.
func Connect(t *testing.T, baseURL, wallet, displayName string) *Client {
	t.Helper()
	q := url.Values{"displayName": {displayName}}
	header := http.Header{}
	header.Set("X-Wallet-Address", wallet)
	target := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?" + q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(target, header)
	if err != nil {
		t.Fatalf("Failed to connect %s: %v", wallet, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &Client{t: t, conn: conn}
}

// Send writes one client frame.
func (c *Client) Send(frame map[string]interface{}) {
	c.t.Helper()
	if err := c.conn.WriteJSON(frame); err != nil {
		c.t.Fatalf("Failed to send frame: %v", err)
	}
}

// Expect reads frames until one of type kind arrives.
func (c *Client) Expect(kind string) Frame {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			c.t.Fatalf("set deadline: %v", err)
		}
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.t.Fatalf("waiting for %s: %v", kind, err)
		}
		if f.Type == kind {
			return f
		}
	}
}

// ExpectClosed waits for the server to close the connection.
func (c *Client) ExpectClosed() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				c.t.Fatal("connection still open")
			}
			return
		}
	}
}

// APIResponse is the JSON envelope of every API call.
type APIResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

// Call performs an API request; internal adds the shared secret.
func Call(t *testing.T, method, target, body string, internal bool) (int, APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if internal {
		req.Header.Set("X-Internal-Secret", TestSecret)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()

	var out APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s: %v", method, target, err)
	}
	return resp.StatusCode, out
}
