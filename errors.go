package imap

import (
	"errors"
	"fmt"
)

// Read failure kinds reported by the transport. Callers branch on these with
// errors.Is instead of matching message text.
var (
	// ErrEmptyRead reports a read deadline that expired while the socket
	// stayed open. The idle loop treats this as a keep-alive tick rather
	// than a failure.
	ErrEmptyRead = errors.New("empty read")

	// ErrConnectionClosed reports a read or write against a connection the
	// peer has closed or reset.
	ErrConnectionClosed = errors.New("connection closed")
)

// ConnectionError reports a failure to establish or keep a usable session:
// dial, proxy tunnel, TLS negotiation, protocol greeting, or any hard
// transport failure mid-command. Authentication failures during connect are
// wrapped into this category; errors.As still finds the *AuthError cause.
type ConnectionError struct {
	Op  string // "dial", "proxy", "starttls", "login", ...
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection failed during %s", e.Op)
	}
	return fmt.Sprintf("connection failed during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports a server response that violates the expected
// exchange: a tagged NO/BAD status, a continuation prompt with no pending
// literal, or an unparseable line.
type ProtocolError struct {
	Status string // "NO", "BAD", or empty for a malformed exchange
	Text   string // server-supplied response text, if any
	Line   string // offending raw line for diagnostics, may be empty
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Status != "" && e.Text != "":
		return fmt.Sprintf("server replied %s: %s", e.Status, e.Text)
	case e.Status != "":
		return fmt.Sprintf("server replied %s", e.Status)
	case e.Line != "":
		return fmt.Sprintf("malformed server response: %q", e.Line)
	default:
		return "malformed server response"
	}
}

// TimeoutError reports a command exchange that produced no terminal response
// within the configured window. It satisfies the net.Error timeout check.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s timed out", e.Op)
	}
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Timeout() bool { return true }

// AuthError reports rejected credentials or a failed SASL exchange.
type AuthError struct {
	Mechanism string // "LOGIN" or "XOAUTH2"
	Text      string // server-supplied rejection text
}

func (e *AuthError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("%s authentication failed", e.Mechanism)
	}
	return fmt.Sprintf("%s authentication failed: %s", e.Mechanism, e.Text)
}

// CapabilityError reports an operation requiring a capability the server
// does not advertise. It is raised before any command for the operation is
// sent.
type CapabilityError struct {
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("server does not support %s", e.Capability)
}

// FolderError reports a folder enumeration, parse, or selection failure.
type FolderError struct {
	Op     string // "list", "select", "examine", "create", ...
	Folder string
	Err    error
}

func (e *FolderError) Error() string {
	if e.Folder == "" {
		return fmt.Sprintf("folder %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("folder %s failed for %q: %v", e.Op, e.Folder, e.Err)
}

func (e *FolderError) Unwrap() error { return e.Err }

// ConfigError reports a rejected configuration value, named by field. It is
// returned from NewClient before any connection is attempted.
type ConfigError struct {
	Field string
	Value string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s %q", e.Field, e.Value)
}
