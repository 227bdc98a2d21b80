// Package presence tracks the single live connection of each user.
package presence

import "sync"

// Conn is a live client connection.
type Conn interface {
	ID() string
	UserID() string
	// Send queues v for delivery without blocking and reports whether it
	// was queued.
	Send(v interface{}) bool
	Close()
}

// Registry maps a user identity to its current connection. It performs no
// I/O and never blocks on a connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register makes conn the connection of userID and returns the connection it
// replaced, if any. The replaced connection is left open.
func (r *Registry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[userID]
	r.conns[userID] = conn
	if prev != nil && prev.ID() == conn.ID() {
		return nil
	}
	return prev
}

// Lookup returns the current connection of userID.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[userID]
	return conn, ok
}

// Unregister removes userID only while conn is still its current connection,
// so a late disconnect of a superseded connection cannot evict its
// replacement. It reports whether the entry was removed.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.conns[userID]
	if !ok || cur.ID() != conn.ID() {
		return false
	}
	delete(r.conns, userID)
	return true
}

// IsCurrent reports whether conn is the registered connection of its user.
func (r *Registry) IsCurrent(conn Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cur, ok := r.conns[conn.UserID()]
	return ok && cur.ID() == conn.ID()
}

// Send delivers v to userID's connection. It reports false when the user is
// offline or the connection's buffer is full.
func (r *Registry) Send(userID string, v interface{}) bool {
	conn, ok := r.Lookup(userID)
	if !ok {
		return false
	}
	return conn.Send(v)
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
