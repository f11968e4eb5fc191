// Package conns tracks the WebSocket connections of one user's workspace
// and fans server messages out to them.
package conns

import (
	"errors"
	"sync"

	"github.com/haasonsaas/easel/pkg/protocol"
)

// ErrConnectionCap is returned by Add when the per-user cap is reached.
var ErrConnectionCap = errors.New("connection cap reached")

// Conn is one attached client. The transport layer implements it over a
// WebSocket session; tests implement it in memory.
type Conn interface {
	// ID is stable for the connection's lifetime and unique per user.
	ID() string

	// Send queues a message for delivery. An error means the connection
	// is no longer usable.
	Send(msg protocol.ServerMessage) error

	// Close terminates the connection with a close code and reason.
	Close(code int, reason string)
}

// Set is the per-user connection collection. All methods are safe for
// concurrent use.
type Set struct {
	mu    sync.RWMutex
	conns map[string]Conn

	// cap limits concurrent connections; 0 means unlimited.
	cap int
}

// NewSet creates a connection set with the given cap (0 = unlimited).
func NewSet(cap int) *Set {
	return &Set{
		conns: make(map[string]Conn),
		cap:   cap,
	}
}

// Add admits a connection. It fails with ErrConnectionCap when the cap is
// reached.
func (s *Set) Add(c Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cap > 0 && len(s.conns) >= s.cap {
		return ErrConnectionCap
	}
	s.conns[c.ID()] = c
	return nil
}

// Remove detaches a connection. Removing an unknown connection is a no-op.
func (s *Set) Remove(c Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.ID())
}

// Broadcast sends msg to every connection. A connection whose send fails is
// removed; the rest are unaffected.
func (s *Set) Broadcast(msg protocol.ServerMessage) {
	s.mu.RLock()
	targets := make([]Conn, 0, len(s.conns))
	for _, c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	var failed []Conn
	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		s.Remove(c)
	}
}

// SendTo delivers msg to one connection.
func (s *Set) SendTo(c Conn, msg protocol.ServerMessage) error {
	return c.Send(msg)
}

// Count returns the number of attached connections.
func (s *Set) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// IsEmpty reports whether no connections remain.
func (s *Set) IsEmpty() bool {
	return s.Count() == 0
}

// CloseAll closes every connection with the given code and reason and
// empties the set. Used during server shutdown.
func (s *Set) CloseAll(code int, reason string) {
	s.mu.Lock()
	targets := make([]Conn, 0, len(s.conns))
	for _, c := range s.conns {
		targets = append(targets, c)
	}
	s.conns = make(map[string]Conn)
	s.mu.Unlock()

	for _, c := range targets {
		c.Close(code, reason)
	}
}
