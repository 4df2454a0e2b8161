package imap

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"
)

// transport owns the socket for exactly one session. It is created
// disconnected, connects at most once, and is discarded after close; the
// client builds a fresh transport on every (re)connect.
type transport struct {
	cfg     Config
	session string

	conn net.Conn
	r    *bufio.Reader

	// pending holds a line prefix cut off by an expired read deadline, so
	// the next read resumes mid-line instead of corrupting framing.
	pending []byte

	// tlsActive reports whether the stream is TLS-protected, either from
	// an implicit handshake or a completed STARTTLS upgrade.
	tlsActive bool
}

func newTransport(cfg Config, session string) *transport {
	return &transport{cfg: cfg, session: session}
}

// connect dials the server, through the configured HTTP CONNECT proxy when
// one is set. Implicit TLS modes complete the handshake here; STARTTLS
// leaves the stream in plaintext for the caller to upgrade after the
// capability exchange.
func (t *transport) connect() error {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))

	var (
		conn net.Conn
		br   *bufio.Reader
		err  error
	)
	if t.cfg.Proxy.Address != "" {
		conn, br, err = t.dialProxy(addr)
		if err != nil {
			return &ConnectionError{Op: "proxy", Err: err}
		}
	} else {
		d := &net.Dialer{Timeout: t.cfg.DialTimeout}
		conn, err = d.Dial("tcp", addr)
		if err != nil {
			return &ConnectionError{Op: "dial", Err: err}
		}
	}

	switch t.cfg.Encryption {
	case EncryptionTLS, EncryptionSSL:
		// The origin stays silent until our ClientHello, so nothing may sit
		// buffered ahead of the handshake.
		if br != nil && br.Buffered() > 0 {
			_ = conn.Close()
			return &ConnectionError{Op: "proxy", Err: errors.New("unexpected data before tls handshake")}
		}
		tconn := tls.Client(conn, t.tlsConfig())
		if err := t.handshake(tconn); err != nil {
			_ = conn.Close()
			return &ConnectionError{Op: "tls handshake", Err: err}
		}
		conn = tconn
		br = nil
		t.tlsActive = true
	}

	t.conn = conn
	if br != nil && br.Buffered() > 0 {
		// A fast greeting can already be in the proxy reader.
		t.r = br
	} else {
		t.r = bufio.NewReader(conn)
	}
	debugLog(t.cfg.Debug, t.cfg.Logger, t.session, "", "connection established",
		"addr", addr, "encryption", string(t.cfg.Encryption))
	return nil
}

// dialProxy opens an HTTP CONNECT tunnel to addr. TLS, when configured, is
// negotiated with the origin through the established tunnel, never with the
// proxy itself.
func (t *transport) dialProxy(addr string) (net.Conn, *bufio.Reader, error) {
	d := &net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := d.Dial("tcp", t.cfg.Proxy.Address)
	if err != nil {
		return nil, nil, err
	}

	target := addr
	if t.cfg.Proxy.FullURI {
		target = "http://" + addr
	}
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   addr,
		Header: make(http.Header),
	}
	if t.cfg.Proxy.Username != "" || t.cfg.Proxy.Password != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(t.cfg.Proxy.Username + ":" + t.cfg.Proxy.Password))
		req.Header.Set("Proxy-Authorization", "Basic "+cred)
	}

	if t.cfg.DialTimeout != 0 {
		_ = conn.SetDeadline(time.Now().Add(t.cfg.DialTimeout))
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}
	if err := req.Write(conn); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("proxy refused tunnel: %s", resp.Status)
	}
	return conn, br, nil
}

func (t *transport) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         t.cfg.Host,
		InsecureSkipVerify: t.cfg.TLSSkipVerify,
	}
}

func (t *transport) handshake(conn *tls.Conn) error {
	if t.cfg.DialTimeout != 0 {
		_ = conn.SetDeadline(time.Now().Add(t.cfg.DialTimeout))
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}
	return conn.Handshake()
}

// startTLS upgrades the plaintext stream in place. The caller must have
// drained every buffered line first; bytes read ahead of the upgrade would
// be lost to the handshake.
func (t *transport) startTLS() error {
	if t.conn == nil {
		return fmt.Errorf("starttls: %w", ErrConnectionClosed)
	}
	if t.tlsActive {
		return errors.New("starttls: stream already encrypted")
	}
	if t.r.Buffered() > 0 || len(t.pending) > 0 {
		return errors.New("starttls: unread data before upgrade")
	}
	tconn := tls.Client(t.conn, t.tlsConfig())
	if err := t.handshake(tconn); err != nil {
		return err
	}
	t.conn = tconn
	t.r = bufio.NewReader(tconn)
	t.tlsActive = true
	return nil
}

// connected reports whether the transport still holds a socket. It says
// nothing about the peer's side; a dead peer surfaces as ErrConnectionClosed
// on the next read or write.
func (t *transport) connected() bool { return t.conn != nil }

func (t *transport) encrypted() bool { return t.tlsActive }

// deadline arms an absolute deadline covering reads and writes, for
// bounding a whole command exchange. Zero clears it.
func (t *transport) deadline(d time.Duration) {
	if t.conn == nil {
		return
	}
	if d == 0 {
		_ = t.conn.SetDeadline(time.Time{})
		return
	}
	_ = t.conn.SetDeadline(time.Now().Add(d))
}

// readDeadline arms a read-only deadline, used by the idle loop's keep-alive
// window. Zero clears it.
func (t *transport) readDeadline(d time.Duration) {
	if t.conn == nil {
		return
	}
	if d == 0 {
		_ = t.conn.SetReadDeadline(time.Time{})
		return
	}
	_ = t.conn.SetReadDeadline(time.Now().Add(d))
}

// readLine reads one newline-terminated line, including the terminator.
func (t *transport) readLine() ([]byte, error) {
	if t.conn == nil {
		return nil, fmt.Errorf("read: %w", ErrConnectionClosed)
	}
	line, err := t.r.ReadBytes('\n')
	if err != nil {
		cerr := classifyWireError("read", err)
		if len(line) > 0 && errors.Is(cerr, ErrEmptyRead) {
			t.pending = append(t.pending, line...)
		}
		return nil, cerr
	}
	if len(t.pending) > 0 {
		line = append(t.pending, line...)
		t.pending = nil
	}
	return line, nil
}

// readFull fills buf from the stream, used for literal payloads.
func (t *transport) readFull(buf []byte) error {
	if t.conn == nil {
		return fmt.Errorf("read: %w", ErrConnectionClosed)
	}
	if _, err := io.ReadFull(t.r, buf); err != nil {
		return classifyWireError("read", err)
	}
	return nil
}

func (t *transport) write(b []byte) error {
	if t.conn == nil {
		return fmt.Errorf("write: %w", ErrConnectionClosed)
	}
	if _, err := t.conn.Write(b); err != nil {
		return classifyWireError("write", err)
	}
	return nil
}

// close releases the socket. Safe to call repeatedly and on a transport
// that never connected.
func (t *transport) close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.r = nil
	t.pending = nil
	t.tlsActive = false
	return err
}

// classifyWireError maps raw socket errors onto the package's failure
// kinds: an expired deadline on a live socket wraps ErrEmptyRead, a closed
// or reset peer wraps ErrConnectionClosed, anything else passes through
// wrapped. Callers branch with errors.Is, never on message text.
func classifyWireError(op string, err error) error {
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("%s deadline expired: %w", op, ErrEmptyRead)
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%s: %w", op, ErrConnectionClosed)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
