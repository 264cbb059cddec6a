package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	dbconfig "chatroom/pkg/database"
	"chatroom/pkg/interfaces"
)

// Manager is the SQLite-backed secondary storage tier: a key/value table with
// per-key expiry.
// ARCHITECTURAL DISCOVERY: SQLite serializes writers, so every write goes
// through one goroutine while reads use the connection pool concurrently.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       zerolog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	stopped      chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	now          func() time.Time
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations, checks the resulting
// schema and starts the writer.
func NewManager(config *dbconfig.Config, logger zerolog.Logger) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	// migrations never alter an existing kv table, so drift surfaces here
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With().Str("component", "sqlite").Logger(),
		writeChannel: make(chan writeOperation, config.WriteQueueSize),
		shutdown:     make(chan struct{}),
		stopped:      make(chan struct{}),
		now:          time.Now,
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// writeLoop processes all writes in a single goroutine and purges expired
// keys on a ticker. Writes already queued at shutdown are still applied.
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.stopped)

	purge := time.NewTicker(m.config.PurgeInterval)
	defer purge.Stop()

	for {
		select {
		case op := <-m.writeChannel:
			m.apply(op)

		case <-purge.C:
			if n, err := m.purgeExpired(); err != nil {
				m.logger.Warn().Err(err).Msg("expired key purge failed")
			} else if n > 0 {
				m.logger.Debug().Int64("purged", n).Msg("expired keys purged")
			}

		case <-m.shutdown:
			for {
				select {
				case op := <-m.writeChannel:
					m.apply(op)
				default:
					m.logger.Info().Msg("sqlite write loop shutting down")
					return
				}
			}
		}
	}
}

// apply runs one write, retrying exactly once after RetryDelay.
func (m *Manager) apply(op writeOperation) {
	err := op.operation(m.db)
	if err != nil {
		m.logger.Warn().Err(err).Dur("retry_in", m.config.RetryDelay).Msg("database write failed, retrying")
		time.Sleep(m.config.RetryDelay)
		if err = op.operation(m.db); err != nil {
			m.logger.Error().Err(err).Msg("database write failed after retry")
		}
	}
	op.result <- err
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrTierClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return interfaces.ErrTierClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.stopped:
		// the loop may have drained our op before exiting
		select {
		case err := <-result:
			return err
		default:
			return interfaces.ErrTierClosed
		}
	}
}

func (m *Manager) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return math.MaxInt64
	}
	return m.now().Add(ttl).UnixMilli()
}

// Name implements interfaces.Tier.
func (m *Manager) Name() string { return "sqlite" }

// Put upserts value under key with the given retention.
func (m *Manager) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := m.expiry(ttl)
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO kv (key, value, expires_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				expires_at = excluded.expires_at,
				updated_at = excluded.updated_at
		`, key, value, expiresAt, m.now().UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to upsert key %s: %w", key, err)
		}
		return nil
	})
}

// Get reads a live key. Reads bypass the writer.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	if m.isClosed() {
		return nil, interfaces.ErrTierClosed
	}
	var value []byte
	err := m.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND expires_at > ?`,
		key, m.now().UnixMilli(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query key %s: %w", key, err)
	}
	return value, nil
}

// List returns live entries under prefix in key order.
func (m *Manager) List(ctx context.Context, prefix string) ([]interfaces.Entry, error) {
	if m.isClosed() {
		return nil, interfaces.ErrTierClosed
	}
	query := `SELECT key, value FROM kv WHERE key >= ? AND expires_at > ?`
	args := []interface{}{prefix, m.now().UnixMilli()}
	if end, ok := prefixEnd(prefix); ok {
		query += ` AND key < ?`
		args = append(args, end)
	}
	query += ` ORDER BY key`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list prefix %s: %w", prefix, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []interfaces.Entry
	for rows.Next() {
		var e interfaces.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("failed to scan kv row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating kv rows: %w", err)
	}
	return entries, nil
}

// purgeExpired deletes expired rows; it runs on the writer goroutine.
func (m *Manager) purgeExpired() (int64, error) {
	res, err := m.db.Exec(`DELETE FROM kv WHERE expires_at <= ?`, m.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ping validates connectivity and that the schema is readable.
func (m *Manager) Ping(ctx context.Context) error {
	if m.isClosed() {
		return interfaces.ErrTierClosed
	}
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv LIMIT 1").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying handle for schema validation.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Close drains queued writes, stops the writer and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// prefixEnd returns the smallest string greater than every string with the
// given prefix.
func prefixEnd(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}
