package conns

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/haasonsaas/easel/pkg/protocol"
)

type fakeConn struct {
	id string

	mu       sync.Mutex
	sent     []protocol.ServerMessage
	failSend bool
	closed   bool
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(msg protocol.ServerMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeConn) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestAddRespectsCap(t *testing.T) {
	s := NewSet(2)
	for i := 0; i < 2; i++ {
		if err := s.Add(&fakeConn{id: fmt.Sprintf("c%d", i)}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	if err := s.Add(&fakeConn{id: "c2"}); !errors.Is(err, ErrConnectionCap) {
		t.Fatalf("Add() error = %v, want ErrConnectionCap", err)
	}
	if s.Count() != 2 {
		t.Errorf("Count() = %d, want 2", s.Count())
	}
}

func TestAddUnlimitedWhenCapZero(t *testing.T) {
	s := NewSet(0)
	for i := 0; i < 50; i++ {
		if err := s.Add(&fakeConn{id: fmt.Sprintf("c%d", i)}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	if s.Count() != 50 {
		t.Errorf("Count() = %d, want 50", s.Count())
	}
}

func TestBroadcastRemovesFailedConnections(t *testing.T) {
	s := NewSet(0)
	good := &fakeConn{id: "good"}
	bad := &fakeConn{id: "bad", failSend: true}
	if err := s.Add(good); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(bad); err != nil {
		t.Fatal(err)
	}

	s.Broadcast(protocol.Status("thinking"))

	if good.sentCount() != 1 {
		t.Errorf("good conn received %d messages, want 1", good.sentCount())
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d after failed send, want 1", s.Count())
	}

	// The removed connection must not receive further broadcasts.
	bad.mu.Lock()
	bad.failSend = false
	bad.mu.Unlock()
	s.Broadcast(protocol.Status("drawing"))
	if bad.sentCount() != 0 {
		t.Errorf("removed conn received %d messages", bad.sentCount())
	}
}

func TestRemoveAndIsEmpty(t *testing.T) {
	s := NewSet(0)
	c := &fakeConn{id: "only"}
	if err := s.Add(c); err != nil {
		t.Fatal(err)
	}
	if s.IsEmpty() {
		t.Error("IsEmpty() = true with one connection")
	}
	s.Remove(c)
	if !s.IsEmpty() {
		t.Error("IsEmpty() = false after remove")
	}
	// Removing again is a no-op.
	s.Remove(c)
}

func TestCloseAll(t *testing.T) {
	s := NewSet(0)
	conns := make([]*fakeConn, 3)
	for i := range conns {
		conns[i] = &fakeConn{id: fmt.Sprintf("c%d", i)}
		if err := s.Add(conns[i]); err != nil {
			t.Fatal(err)
		}
	}

	s.CloseAll(1001, "server shutting down")

	if !s.IsEmpty() {
		t.Error("set not empty after CloseAll")
	}
	for i, c := range conns {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			t.Errorf("conn %d not closed", i)
		}
	}
}
