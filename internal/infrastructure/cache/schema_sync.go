// Package cache keeps the schema snapshots of several processes in step
// through PostgreSQL LISTEN/NOTIFY.
package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"specforge/pkg/logger"
)

// Channel is the NOTIFY channel announcing schema reloads.
const Channel = "specforge_schema_changed"

// ReloadFunc recompiles and installs the local schema.
type ReloadFunc func(ctx context.Context) error

// SchemaSync announces local schema reloads and reloads when another
// process announces one. Payloads are "<instance>:<version>"; a process
// ignores its own announcements.
type SchemaSync struct {
	pool     *pgxpool.Pool
	instance string
	reload   ReloadFunc

	// Lifecycle
	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// NewSchemaSync creates a schema sync for one process.
func NewSchemaSync(pool *pgxpool.Pool, reload ReloadFunc) *SchemaSync {
	return &SchemaSync{
		pool:     pool,
		instance: uuid.NewString(),
		reload:   reload,
	}
}

// Instance returns the id this process announces itself with.
func (s *SchemaSync) Instance() string { return s.instance }

// Start begins listening for reload announcements.
func (s *SchemaSync) Start(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(1)
	go s.listenLoop()
	logger.Info(s.ctx, "schema sync started", "instance", s.instance)
}

// Stop gracefully stops the listener.
func (s *SchemaSync) Stop() {
	s.lifecycleMu.Lock()
	if !s.started {
		s.lifecycleMu.Unlock()
		return
	}
	cancel := s.cancel
	s.started = false
	s.cancel = nil
	s.lifecycleMu.Unlock()

	cancel()
	s.wg.Wait()
	logger.Info(context.Background(), "schema sync stopped")
}

// Announce tells the other processes that version was installed here.
func (s *SchemaSync) Announce(ctx context.Context, version int64) error {
	_, err := s.pool.Exec(ctx, "SELECT pg_notify($1, $2)", Channel, s.payload(version))
	return err
}

func (s *SchemaSync) payload(version int64) string {
	return s.instance + ":" + strconv.FormatInt(version, 10)
}

// listenLoop keeps a dedicated connection subscribed to Channel.
func (s *SchemaSync) listenLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		conn, err := s.pool.Acquire(s.ctx)
		if err != nil {
			logger.Error(s.ctx, "failed to acquire connection for LISTEN", "error", err)
			s.sleep(time.Second)
			continue
		}

		if _, err = conn.Exec(s.ctx, "LISTEN "+Channel); err != nil {
			logger.Error(s.ctx, "failed to LISTEN", "error", err)
			conn.Release()
			s.sleep(time.Second)
			continue
		}

		s.waitForNotifications(conn)
		conn.Release()
	}
}

func (s *SchemaSync) sleep(d time.Duration) {
	select {
	case <-s.ctx.Done():
	case <-time.After(d):
	}
}

// waitForNotifications blocks waiting for NOTIFY events until the
// connection fails or the sync stops.
func (s *SchemaSync) waitForNotifications(conn *pgxpool.Conn) {
	for {
		// timeout keeps shutdown responsive
		ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
		notification, err := conn.Conn().WaitForNotification(ctx)
		cancel()

		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if ctx.Err() != nil {
				continue
			}
			logger.Warn(s.ctx, "LISTEN connection lost, reconnecting", "error", err)
			return
		}
		s.handleNotification(s.ctx, notification.Payload)
	}
}

// handleNotification reloads for announcements of other processes.
func (s *SchemaSync) handleNotification(ctx context.Context, payload string) bool {
	instance, version, _ := strings.Cut(payload, ":")
	if instance == s.instance {
		return false
	}
	logger.Info(ctx, "schema reloaded elsewhere, reloading", "from", instance, "version", version)

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "schema reload panicked", "panic", r)
		}
	}()
	if err := s.reload(ctx); err != nil {
		logger.Error(ctx, "schema reload after notification failed", "error", err)
	}
	return true
}
