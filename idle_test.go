package imap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingListener struct {
	mu      sync.Mutex
	created []string
	moved   [][2]string
	deleted []string
	arrived []arrival
}

type arrival struct {
	folder string
	uid    int
}

func (l *recordingListener) FolderCreated(folder string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, folder)
}

func (l *recordingListener) FolderMoved(oldPath, newPath string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.moved = append(l.moved, [2]string{oldPath, newPath})
}

func (l *recordingListener) FolderDeleted(folder string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deleted = append(l.deleted, folder)
}

func (l *recordingListener) NewMessage(folder string, email *Email) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.arrived = append(l.arrived, arrival{folder: folder, uid: email.UID})
}

func (l *recordingListener) arrivals() []arrival {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]arrival{}, l.arrived...)
}

func TestIdleDeliversNewMessage(t *testing.T) {
	s := newScriptServer(t)
	listener := &recordingListener{}
	cfg := s.config()
	cfg.Listener = listener
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = c.Disconnect() }()

	emails := make(chan *Email, 2)
	idleErr := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		idleErr <- c.Idle(ctx, "INBOX", func(e *Email) error {
			emails <- e
			return nil
		})
	}()

	waitFor(t, "idle to start", func() bool { return s.idleCount() == 1 })
	s.setExists(3)
	s.pushIdle("* 3 EXISTS")

	var got *Email
	select {
	case got = <-emails:
	case err := <-idleErr:
		t.Fatalf("idle ended early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
	}
	if got.UID != 103 {
		t.Errorf("delivered UID = %d, want 103", got.UID)
	}
	if got.Subject != "Mock subject 3" {
		t.Errorf("subject = %q, want %q", got.Subject, "Mock subject 3")
	}

	// The watch resumes with a fresh IDLE after the delivery.
	waitFor(t, "idle to resume", func() bool { return s.idleCount() == 2 })

	cancel()
	s.pushIdle("* 2 EXPUNGE")
	select {
	case err := <-idleErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("idle returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("idle did not stop on cancellation")
	}

	if arr := listener.arrivals(); len(arr) != 1 || arr[0] != (arrival{folder: "INBOX", uid: 103}) {
		t.Errorf("listener arrivals = %v, want one for INBOX uid 103", arr)
	}
	// One SELECT opening the watch, one forced reselect for the arrival.
	if got := s.commandCount("SELECT"); got != 2 {
		t.Errorf("SELECT commands = %d, want 2", got)
	}
	if c.State() != StateSelected {
		t.Errorf("state after idle = %d, want %d", c.State(), StateSelected)
	}
}

func TestIdleRequiresCapability(t *testing.T) {
	s := newScriptServer(t)
	s.caps = "IMAP4rev1 ID"
	c := mustConnect(t, s)

	err := c.Idle(context.Background(), "INBOX", nil)
	var caperr *CapabilityError
	if !errors.As(err, &caperr) || caperr.Capability != "IDLE" {
		t.Fatalf("error = %v, want CapabilityError IDLE", err)
	}
	// Refused before any idle traffic: no IDLE, and not even a selection.
	if got := s.commandCount("IDLE"); got != 0 {
		t.Errorf("IDLE commands = %d, want 0", got)
	}
	if got := s.commandCount("SELECT"); got != 0 {
		t.Errorf("SELECT commands = %d, want 0", got)
	}
}

func TestIdleKeepAliveRefresh(t *testing.T) {
	s := newScriptServer(t)
	cfg := s.config()
	cfg.IdleWindow = 80 * time.Millisecond
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = c.Disconnect() }()

	idleErr := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		idleErr <- c.Idle(ctx, "INBOX", nil)
	}()

	// Each lapsed window refreshes the IDLE on the same connection.
	waitFor(t, "several keep-alive refreshes", func() bool { return s.idleCount() >= 3 })
	if got := s.connCount(); got != 1 {
		t.Errorf("connections = %d, want 1 (refresh must not reconnect)", got)
	}
	if got := s.authCount(); got != 1 {
		t.Errorf("auth attempts = %d, want 1", got)
	}

	cancel()
	select {
	case err := <-idleErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("idle returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("idle did not stop on cancellation")
	}
	if got := s.commandCount("DONE"); got < 2 {
		t.Errorf("DONE commands = %d, want one per refreshed round", got)
	}
}

func TestIdleReconnectsOnceOnConnectionLoss(t *testing.T) {
	s := newScriptServer(t)
	c := mustConnect(t, s)

	idleErr := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		idleErr <- c.Idle(ctx, "INBOX", nil)
	}()

	waitFor(t, "idle to start", func() bool { return s.idleCount() == 1 })
	s.dropIdleConn()

	// One reconnect, a re-selection of the watched folder, and a resumed
	// watch on the new connection.
	waitFor(t, "idle to resume after reconnect", func() bool { return s.idleCount() == 2 })
	if got := s.connCount(); got != 2 {
		t.Errorf("connections = %d, want 2", got)
	}
	if got := s.authCount(); got != 2 {
		t.Errorf("auth attempts = %d, want 2", got)
	}
	if got := s.commandCount("SELECT"); got != 2 {
		t.Errorf("SELECT commands = %d, want 2 (watch open plus recovery)", got)
	}

	cancel()
	s.pushIdle("* 2 EXPUNGE")
	select {
	case err := <-idleErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("idle returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("idle did not stop on cancellation")
	}
	if got := s.connCount(); got != 2 {
		t.Errorf("connections settled at %d, want exactly one reconnect", got)
	}
}

func TestIdleReconnectFailureEndsWatch(t *testing.T) {
	s := newScriptServer(t)
	c := mustConnect(t, s)

	idleErr := make(chan error, 1)
	go func() {
		idleErr <- c.Idle(context.Background(), "INBOX", nil)
	}()

	waitFor(t, "idle to start", func() bool { return s.idleCount() == 1 })
	_ = s.ln.Close()
	s.dropIdleConn()

	select {
	case err := <-idleErr:
		var cerr *ConnectionError
		if !errors.As(err, &cerr) || cerr.Op != "dial" {
			t.Errorf("idle returned %v, want ConnectionError op dial", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("idle did not end after failed reconnect")
	}
}

func TestIdleHandlerErrorStopsWatch(t *testing.T) {
	s := newScriptServer(t)
	c := mustConnect(t, s)

	boom := errors.New("handler rejected message")
	idleErr := make(chan error, 1)
	go func() {
		idleErr <- c.Idle(context.Background(), "INBOX", func(e *Email) error {
			return boom
		})
	}()

	waitFor(t, "idle to start", func() bool { return s.idleCount() == 1 })
	s.setExists(3)
	s.pushIdle("* 3 EXISTS")

	select {
	case err := <-idleErr:
		if !errors.Is(err, boom) {
			t.Errorf("idle returned %v, want the handler error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("idle did not propagate the handler error")
	}
	if got := s.idleCount(); got != 1 {
		t.Errorf("idle rounds = %d, want 1 (no resume after handler error)", got)
	}
}

func TestIdleVanishedMessageKeepsWatch(t *testing.T) {
	s := newScriptServer(t)
	c := mustConnect(t, s)

	emails := make(chan *Email, 1)
	idleErr := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		idleErr <- c.Idle(ctx, "INBOX", func(e *Email) error {
			emails <- e
			return nil
		})
	}()

	waitFor(t, "idle to start", func() bool { return s.idleCount() == 1 })
	// Announce a message the reselected folder no longer has. The watch
	// logs it and carries on rather than failing.
	s.pushIdle("* 5 EXISTS")

	waitFor(t, "idle to resume", func() bool { return s.idleCount() == 2 })
	select {
	case e := <-emails:
		t.Errorf("unexpected delivery for vanished message: uid %d", e.UID)
	default:
	}

	cancel()
	s.pushIdle("* 2 EXPUNGE")
	select {
	case err := <-idleErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("idle returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("idle did not stop on cancellation")
	}
}
