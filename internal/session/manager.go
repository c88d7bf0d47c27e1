package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// Manager owns the in-memory session map. Expired sessions are pruned
// lazily on every GetOrCreate; StartJanitor adds a periodic sweep so idle
// processes do not hold dead sessions between requests.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	maxTurns int
	onExpire func(*Session)
}

func NewManager(ttl time.Duration, maxTurns int) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		maxTurns: maxTurns,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// GetOrCreate returns the session for id, creating a fresh one when the id
// is empty, unknown, or expired. A garbled cookie is silent recovery, not
// an error. Refreshes LastActivityAt on every call.
func (m *Manager) GetOrCreate(id string) *Session {
	now := time.Now().UTC()

	m.mu.Lock()
	expired := m.sweepLocked(now)
	s, ok := m.sessions[id]
	if !ok {
		s = &Session{
			ID:             uuid.NewString(),
			StartedAt:      now,
			LastActivityAt: now,
		}
		m.sessions[s.ID] = s
	} else {
		s.LastActivityAt = now
	}
	out := clone(s)
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, e := range expired {
			hook(e)
		}
	}
	return out
}

// AppendExchange commits one user/assistant pair to history and truncates
// to the cap from the oldest end. Marks the session as greeted so later
// turns can suppress re-greeting.
func (m *Manager) AppendExchange(id string, userText, assistantText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.History = append(s.History,
		Message{Role: RoleUser, Content: userText},
		Message{Role: RoleAssistant, Content: assistantText},
	)
	if max := 2 * m.maxTurns; len(s.History) > max {
		s.History = append([]Message(nil), s.History[len(s.History)-max:]...)
	}
	s.Greeted = true
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// SetEscalation replaces the session's escalation record.
func (m *Manager) SetEscalation(id string, esc Escalation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Escalation = esc
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// NextSeq returns the next monotonic message id for the session.
func (m *Manager) NextSeq(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return 0
	}
	s.LastSeq++
	return s.LastSeq
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.mu.Lock()
				expired := m.sweepLocked(time.Now().UTC())
				hook := m.onExpire
				m.mu.Unlock()
				if hook != nil {
					for _, s := range expired {
						hook(s)
					}
				}
			}
		}
	}()
}

// sweepLocked drops sessions idle past the TTL. Caller holds the lock.
func (m *Manager) sweepLocked(now time.Time) []*Session {
	var expired []*Session
	for id, s := range m.sessions {
		if now.Sub(s.LastActivityAt) >= m.ttl {
			expired = append(expired, clone(s))
			delete(m.sessions, id)
		}
	}
	return expired
}

func clone(s *Session) *Session {
	c := *s
	c.History = append([]Message(nil), s.History...)
	return &c
}
