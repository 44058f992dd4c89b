// Package session holds the active broker adapter per (user, broker) pair.
package session

import (
	"sync"
	"time"

	"botcore/internal/broker"
)

// Session is one cached adapter with attach metadata.
type Session struct {
	UserID     string
	Broker     string
	Adapter    broker.Adapter
	AttachedAt time.Time
}

// Registry maps (userID, broker) to the single active adapter for that pair.
// Setting a new adapter silently replaces the old one; the caller owns
// disconnecting the replaced adapter.
type Registry struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*Session
}

type sessionKey struct {
	userID string
	broker string
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[sessionKey]*Session)}
}

// SetUserAdapter stores the adapter for a (user, broker) pair and returns the
// adapter it replaced, if any.
func (r *Registry) SetUserAdapter(userID, brokerName string, a broker.Adapter) broker.Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey{userID, brokerName}
	var replaced broker.Adapter
	if prev, ok := r.sessions[key]; ok {
		replaced = prev.Adapter
	}
	r.sessions[key] = &Session{
		UserID:     userID,
		Broker:     brokerName,
		Adapter:    a,
		AttachedAt: time.Now(),
	}
	return replaced
}

// GetUserAdapter returns the active adapter for a (user, broker) pair, or nil.
func (r *Registry) GetUserAdapter(userID, brokerName string) broker.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[sessionKey{userID, brokerName}]; ok {
		return s.Adapter
	}
	return nil
}

// GetUserSessions lists all sessions a user has attached.
func (r *Registry) GetUserSessions(userID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Session
	for key, s := range r.sessions {
		if key.userID == userID {
			out = append(out, *s)
		}
	}
	return out
}

// RemoveUserAdapter drops the adapter for a (user, broker) pair and returns
// it so the caller can disconnect it.
func (r *Registry) RemoveUserAdapter(userID, brokerName string) broker.Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey{userID, brokerName}
	if s, ok := r.sessions[key]; ok {
		delete(r.sessions, key)
		return s.Adapter
	}
	return nil
}

// Count returns the number of attached sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
