package server

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RumyantsevMichael/triangular-tiler/internal/config"
)

// ErrSessionLimit matches every *SessionLimitError.
var ErrSessionLimit = errors.New("session limit reached")

// SessionLimitError names the limit that refused a new WebSocket session.
type SessionLimitError struct {
	Scope string // "server" or "client"
	Limit int
}

func (e *SessionLimitError) Error() string {
	return fmt.Sprintf("%s limit of %d generation sessions reached", e.Scope, e.Limit)
}

func (e *SessionLimitError) Is(target error) bool {
	return target == ErrSessionLimit
}

// Session is one open WebSocket generation session. Release returns its slot
// and may be called more than once.
type Session struct {
	ID     uint64
	Client string
	Opened time.Time

	limiter *SessionLimiter
	once    sync.Once
}

func (s *Session) Release() {
	s.once.Do(func() { s.limiter.release(s) })
}

// SessionStats is a snapshot of the limiter.
type SessionStats struct {
	Open     int
	Clients  int
	Rejected int64
}

// SessionLimiter bounds open generation sessions per client address and
// across the server. A limit of 0 is unlimited.
type SessionLimiter struct {
	mu           sync.Mutex
	byClient     map[string]map[uint64]*Session
	open         int
	maxPerClient int
	maxTotal     int
	nextID       atomic.Uint64
	rejected     atomic.Int64
}

// NewSessionLimiter creates a limiter from the connection settings.
func NewSessionLimiter(cfg config.ConnectionsConfig) *SessionLimiter {
	return &SessionLimiter{
		byClient:     make(map[string]map[uint64]*Session),
		maxPerClient: cfg.MaxPerIP,
		maxTotal:     cfg.MaxTotal,
	}
}

// Acquire opens a session for client or reports which limit refused it.
func (l *SessionLimiter) Acquire(client string) (*Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxTotal > 0 && l.open >= l.maxTotal {
		l.rejected.Add(1)
		return nil, &SessionLimitError{Scope: "server", Limit: l.maxTotal}
	}
	if l.maxPerClient > 0 && len(l.byClient[client]) >= l.maxPerClient {
		l.rejected.Add(1)
		return nil, &SessionLimitError{Scope: "client", Limit: l.maxPerClient}
	}

	s := &Session{
		ID:      l.nextID.Add(1),
		Client:  client,
		Opened:  time.Now(),
		limiter: l,
	}
	if l.byClient[client] == nil {
		l.byClient[client] = make(map[uint64]*Session)
	}
	l.byClient[client][s.ID] = s
	l.open++
	return s, nil
}

func (l *SessionLimiter) release(s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sessions := l.byClient[s.Client]
	if _, ok := sessions[s.ID]; !ok {
		return
	}
	delete(sessions, s.ID)
	if len(sessions) == 0 {
		delete(l.byClient, s.Client)
	}
	l.open--
}

// Stats returns the open session count, the number of distinct clients and
// how many sessions have been refused so far.
func (l *SessionLimiter) Stats() SessionStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return SessionStats{
		Open:     l.open,
		Clients:  len(l.byClient),
		Rejected: l.rejected.Load(),
	}
}
