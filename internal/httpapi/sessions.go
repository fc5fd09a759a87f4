package httpapi

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Heather8769/any-browser-mcp/internal/browse"
	"github.com/Heather8769/any-browser-mcp/internal/tools"
)

const (
	// DefaultMaxAge is how long an idle session keeps its browser attachment.
	DefaultMaxAge = 10 * time.Minute
	// DefaultSweepInterval is how often idle sessions are collected.
	DefaultSweepInterval = time.Minute
)

// SessionFactory builds a fresh facade (discovery, attach, registry) for one
// HTTP session token.
type SessionFactory func(ctx context.Context) (*browse.Facade, error)

type managedSession struct {
	facade *browse.Facade
	tools  *tools.Server

	created  time.Time
	lastUsed time.Time
}

// SessionManager keys browser attachments by the X-Browser-Session token and
// evicts attachments idle past the max age. Eviction closes the control
// channels only; the browser itself stays up.
type SessionManager struct {
	factory       SessionFactory
	maxAge        time.Duration
	sweepInterval time.Duration
	log           *slog.Logger

	mu       sync.Mutex
	sessions map[string]*managedSession

	done      chan struct{}
	closeOnce sync.Once
}

func NewSessionManager(factory SessionFactory, maxAge, sweepInterval time.Duration, log *slog.Logger) *SessionManager {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	if log == nil {
		log = slog.Default()
	}
	m := &SessionManager{
		factory:       factory,
		maxAge:        maxAge,
		sweepInterval: sweepInterval,
		log:           log,
		sessions:      map[string]*managedSession{},
		done:          make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Acquire returns the session for a token, creating and attaching it on first
// use, and refreshes its idle timer.
func (m *SessionManager) Acquire(ctx context.Context, token string) (*tools.Server, error) {
	m.mu.Lock()
	if s, ok := m.sessions[token]; ok {
		s.lastUsed = time.Now()
		srv := s.tools
		m.mu.Unlock()
		return srv, nil
	}
	m.mu.Unlock()

	// Attachment happens outside the lock: discovery can take seconds.
	facade, err := m.factory(ctx)
	if err != nil {
		return nil, err
	}
	s := &managedSession{
		facade:   facade,
		tools:    tools.NewServer(facade, m.log),
		created:  time.Now(),
		lastUsed: time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if racing, ok := m.sessions[token]; ok {
		// Another request attached first; keep theirs.
		_ = facade.Registry().Close()
		racing.lastUsed = time.Now()
		return racing.tools, nil
	}
	m.sessions[token] = s
	m.log.Info("session attached", "token", token)
	return s.tools, nil
}

// Release closes one session's attachment. Reports whether it existed.
func (m *SessionManager) Release(token string) bool {
	m.mu.Lock()
	s, ok := m.sessions[token]
	delete(m.sessions, token)
	m.mu.Unlock()
	if !ok {
		return false
	}
	_ = s.facade.Registry().Close()
	m.log.Info("session released", "token", token)
	return true
}

// Count reports live sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops the sweeper and releases every session.
func (m *SessionManager) Close() {
	m.closeOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	doomed := m.sessions
	m.sessions = map[string]*managedSession{}
	m.mu.Unlock()
	for token, s := range doomed {
		_ = s.facade.Registry().Close()
		m.log.Debug("session closed on shutdown", "token", token)
	}
}

func (m *SessionManager) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

// sweep evicts sessions idle past the max age. A call racing its own eviction
// fails channel-closed and re-attaches on the next request.
func (m *SessionManager) sweep(now time.Time) {
	m.mu.Lock()
	var doomed []*managedSession
	for token, s := range m.sessions {
		if now.Sub(s.lastUsed) > m.maxAge {
			doomed = append(doomed, s)
			delete(m.sessions, token)
			m.log.Info("session evicted", "token", token, "idle", now.Sub(s.lastUsed).Round(time.Second))
		}
	}
	m.mu.Unlock()

	for _, s := range doomed {
		_ = s.facade.Registry().Close()
	}
}
