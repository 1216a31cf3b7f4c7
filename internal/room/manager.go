package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/aura-live/backend/internal/liveerr"
	"github.com/aura-live/backend/internal/telemetry"
)

// ErrJoinCanceled is returned to joiners whose in-flight join was canceled by Leave.
var ErrJoinCanceled = errors.New("join canceled by leave")

// Config holds the connection policy.
type Config struct {
	JoinTimeout     time.Duration
	ConnectRetry    Backoff
	Reconnect       Backoff
	TeardownTimeout time.Duration
}

// DefaultConfig returns a 20s join timeout and three reconnect attempts spaced
// min(n*2s, 10s) apart.
func DefaultConfig() Config {
	return Config{
		JoinTimeout:     20 * time.Second,
		ConnectRetry:    Backoff{MaxAttempts: 3, Step: 2 * time.Second, Max: 10 * time.Second, Immediate: true},
		Reconnect:       Backoff{MaxAttempts: 3, Step: 2 * time.Second, Max: 10 * time.Second},
		TeardownTimeout: 5 * time.Second,
	}
}

// JoinRequest identifies who joins which room and with which credential.
type JoinRequest struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	RoomName  string
	Address   string
	Token     string
}

func (r JoinRequest) validate() error {
	if r.SessionID == uuid.Nil || r.UserID == uuid.Nil {
		return fmt.Errorf("session and user are required: %w", liveerr.ErrInvalidInput)
	}
	if r.RoomName == "" || r.Address == "" {
		return fmt.Errorf("room name and address are required: %w", liveerr.ErrInvalidInput)
	}
	if r.Token == "" {
		return liveerr.ErrInvalidCredential
	}
	return nil
}

type connKey struct {
	session uuid.UUID
	user    uuid.UUID
}

func (k connKey) String() string { return k.session.String() + "/" + k.user.String() }

// Manager owns the room connections of this process, at most one per
// (session, user). Concurrent joins for the same pair share one attempt.
type Manager struct {
	cfg          Config
	newTransport TransportFactory
	log          *zap.Logger

	group singleflight.Group

	mu          sync.Mutex
	conns       map[connKey]*Connection
	pending     map[connKey]context.CancelFunc
	deviceOwner *Connection
}

func NewManager(newTransport TransportFactory, cfg Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:          cfg,
		newTransport: newTransport,
		log:          log,
		conns:        make(map[connKey]*Connection),
		pending:      make(map[connKey]context.CancelFunc),
	}
}

// Join connects the user to the session's room. It returns the existing
// connection when one is already open, and shares an in-flight attempt with
// concurrent callers. ctx bounds only this caller's wait; the attempt itself
// is bounded by the join timeout and canceled by Leave.
func (m *Manager) Join(ctx context.Context, req JoinRequest) (*Connection, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	k := connKey{req.SessionID, req.UserID}
	if c := m.Connection(req.SessionID, req.UserID); c != nil {
		return c, nil
	}

	ch := m.group.DoChan(k.String(), func() (any, error) {
		return m.connect(k, req)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Connection), nil
	}
}

func (m *Manager) connect(k connKey, req JoinRequest) (*Connection, error) {
	joinCtx, cancel := context.WithTimeout(context.Background(), m.cfg.JoinTimeout)
	defer cancel()

	m.mu.Lock()
	if c, ok := m.conns[k]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.pending[k] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, k)
		m.mu.Unlock()
	}()

	c := newConnection(m, req, m.newTransport())
	c.log.Info("joining room")

	if err := c.open(joinCtx); err != nil {
		err = joinError(joinCtx, err)
		c.close(nil, false)
		telemetry.Failure("join", liveerr.CategoryOf(err).String())
		c.log.Warn("join failed", zap.Error(err))
		return nil, err
	}

	m.mu.Lock()
	if joinCtx.Err() != nil {
		m.mu.Unlock()
		c.close(nil, false)
		telemetry.Failure("join", "canceled")
		return nil, joinError(joinCtx, joinCtx.Err())
	}
	c.running = true
	m.conns[k] = c
	m.mu.Unlock()

	telemetry.ConnectionOpened()
	c.established()
	c.acquireMedia(joinCtx)
	go c.run()

	// A Leave may have landed after the connection was registered.
	if c.closing.Load() || errors.Is(joinCtx.Err(), context.Canceled) {
		c.Leave()
		telemetry.Failure("join", "canceled")
		c.log.Info("join canceled after connect")
		return nil, ErrJoinCanceled
	}
	telemetry.Success("join")
	c.log.Info("joined room", zap.Bool("degraded", c.Degraded()))
	return c, nil
}

func joinError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return liveerr.ErrTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		return ErrJoinCanceled
	}
	return err
}

// Connection returns the open connection for the pair, or nil.
func (m *Manager) Connection(sessionID, userID uuid.UUID) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[connKey{sessionID, userID}]
}

// Leave cancels an in-flight join for the pair and disconnects an open
// connection. It never fails.
func (m *Manager) Leave(sessionID, userID uuid.UUID) {
	k := connKey{sessionID, userID}
	m.mu.Lock()
	if cancel, ok := m.pending[k]; ok {
		cancel()
	}
	c := m.conns[k]
	m.mu.Unlock()
	if c != nil {
		c.Leave()
	}
}

// Close leaves every open connection.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, cancel := range m.pending {
		cancel()
	}
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	for _, c := range conns {
		c.Leave()
	}
}

func (m *Manager) forget(c *Connection) {
	k := connKey{c.sessionID, c.userID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conns[k] == c {
		delete(m.conns, k)
		telemetry.ConnectionClosed()
	}
}

// acquireDevices leases the local camera and microphone to c.
func (m *Manager) acquireDevices(c *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deviceOwner != nil && m.deviceOwner != c {
		return false
	}
	m.deviceOwner = c
	return true
}

func (m *Manager) releaseDevices(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deviceOwner == c {
		m.deviceOwner = nil
	}
}
