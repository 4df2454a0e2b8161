package imap

import (
	"strings"
	"time"

	retry "github.com/StirlingMarketingGroup/go-retry"
	"github.com/rs/xid"
)

// Session states, reported by State.
const (
	StateDisconnected = iota
	StateConnected
	StateAuthenticated
	StateSelected
	StateIdling
)

// Client is one IMAP session. Methods issue commands synchronously on a
// single transport and are not safe for concurrent use; for parallel work,
// open more clients with the same Config, or Clone a connected one.
type Client struct {
	cfg     Config
	session string

	tr *transport
	ch *commandChannel

	// Folder is the active folder marker: the last successfully selected
	// folder, empty whenever no selection is live. ReadOnly reports whether
	// that selection was an EXAMINE.
	Folder   string
	ReadOnly bool

	caps  map[string]bool
	uids  uidCache
	state int

	messageMask    MessageMask
	attachmentMask AttachmentMask
}

// NewClient validates cfg and returns a disconnected client. Nothing is
// dialed until Connect or the first operation that needs a live session.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	c := &Client{
		cfg:            cfg,
		session:        xid.New().String(),
		messageMask:    messageMasks[cfg.messageMaskName()](),
		attachmentMask: attachmentMasks[cfg.attachmentMaskName()](),
	}
	return c, nil
}

// SessionID is the identifier this client stamps on its log lines.
func (c *Client) SessionID() string { return c.session }

// State returns the current session state, one of the State constants.
func (c *Client) State() int { return c.state }

func (c *Client) setState(s int) { c.state = s }

// Connected reports whether the transport is up.
func (c *Client) Connected() bool { return c.connected() }

func (c *Client) connected() bool { return c.tr != nil && c.tr.connected() }

// CheckConnection connects if the session is not already live. It is the
// precondition for every operation that needs a usable session and never
// issues a command on a healthy one.
func (c *Client) CheckConnection() error {
	if c.connected() {
		return nil
	}
	return c.Connect()
}

// Connect dials, negotiates encryption, and authenticates. Only the dial
// is retried; authentication runs exactly once per attempt, since retrying
// bad credentials only triggers lockouts. Any previous transport is torn
// down first.
func (c *Client) Connect() error {
	_ = c.Disconnect()

	// The protocol is picked once here. validate admits nothing besides
	// "imap", so the default arm means the config bypassed NewClient.
	switch c.cfg.Protocol {
	case "imap":
		return c.connectIMAP()
	default:
		return &ConfigError{Field: "protocol", Value: c.cfg.Protocol}
	}
}

func (c *Client) connectIMAP() error {
	debugLog(c.cfg.Debug, c.cfg.Logger, c.session, "", "establishing connection",
		"host", c.cfg.Host, "port", c.cfg.Port)

	var tr *transport
	err := retry.Retry(func() error {
		tr = newTransport(c.cfg, c.session)
		if err := tr.connect(); err != nil {
			warnLog(c.cfg.Logger, c.session, "", "failed to connect", "error", err)
			return err
		}
		return nil
	}, c.cfg.RetryCount, func(err error) error {
		if tr != nil {
			_ = tr.close()
		}
		return nil
	}, func() error {
		debugLog(c.cfg.Debug, c.cfg.Logger, c.session, "", "retrying connection")
		return nil
	})
	if err != nil {
		errorLog(c.cfg.Logger, c.session, "", "connection attempts exhausted", "error", err)
		return &ConnectionError{Op: "dial", Err: err}
	}

	c.tr = tr
	c.ch = newCommandChannel(tr, c)
	c.setState(StateConnected)

	if err := c.greetAndSecure(); err != nil {
		c.teardown()
		return err
	}
	if err := c.authenticateSession(); err != nil {
		c.teardown()
		return err
	}
	if c.caps == nil {
		if err := c.loadCapabilities(); err != nil {
			c.teardown()
			return err
		}
	}
	c.setState(StateAuthenticated)

	debugLog(c.cfg.Debug, c.cfg.Logger, c.session, "", "connection established",
		"encrypted", c.tr.encrypted())
	return nil
}

// greetAndSecure consumes the server greeting and, for StartTLS mode,
// upgrades the connection in place. Capabilities announced in the greeting
// are kept, except across a TLS upgrade: the plaintext set is untrusted and
// gets dropped so it is re-queried over the secured stream.
func (c *Client) greetAndSecure() error {
	c.tr.deadline(c.cfg.CommandTimeout)
	line, err := c.ch.readLine()
	if err != nil {
		return &ConnectionError{Op: "greeting", Err: c.ch.wireErr("greeting", err)}
	}
	s := string(dropNl(line))
	if !strings.HasPrefix(s, "* OK") && !strings.HasPrefix(s, "* PREAUTH") {
		return &ConnectionError{Op: "greeting", Err: &ProtocolError{Line: s}}
	}
	if caps, ok := parseCapabilities(line); ok {
		c.caps = caps
	}

	if !c.cfg.useStartTLS() {
		return nil
	}
	if c.caps == nil {
		if err := c.loadCapabilities(); err != nil {
			return err
		}
	}
	if !c.caps["STARTTLS"] {
		return &ConnectionError{Op: "starttls", Err: &CapabilityError{Capability: "STARTTLS"}}
	}
	if _, err := c.ch.Exec("STARTTLS", false, nil); err != nil {
		return &ConnectionError{Op: "starttls", Err: err}
	}
	if err := c.tr.startTLS(); err != nil {
		return &ConnectionError{Op: "starttls", Err: err}
	}
	c.caps = nil
	return nil
}

func (c *Client) authenticateSession() error {
	var err error
	if c.cfg.useXOAuth2() {
		err = c.ch.authenticate(c.cfg.Username, c.cfg.AccessToken)
	} else {
		err = c.ch.login(c.cfg.Username, c.cfg.Password)
	}
	if err != nil {
		// Auth failures fold into the connection error so Connect callers
		// branch on one category, with the cause preserved underneath.
		return &ConnectionError{Op: "authenticate", Err: err}
	}
	return nil
}

func (c *Client) loadCapabilities() error {
	var caps map[string]bool
	_, err := c.ch.Exec("CAPABILITY", false, func(line []byte) error {
		if m, ok := parseCapabilities(line); ok {
			caps = m
		}
		return nil
	})
	if err != nil {
		return &ConnectionError{Op: "capability", Err: err}
	}
	if caps == nil {
		return &ConnectionError{Op: "capability", Err: &ProtocolError{Text: "no capability line in response"}}
	}
	c.caps = caps
	return nil
}

// Disconnect logs out when connected and always clears the active folder
// marker. On an already disconnected client it is a no-op and returns nil.
func (c *Client) Disconnect() error {
	var err error
	if c.connected() {
		debugLog(c.cfg.Debug, c.cfg.Logger, c.session, c.Folder, "closing connection")
		// The server answers LOGOUT with BYE and drops the connection;
		// errors past this point carry no information.
		_, _ = c.ch.Exec("LOGOUT", false, nil)
		err = c.tr.close()
	}
	c.teardown()
	return err
}

// Reconnect is disconnect then connect. The folder marker does not
// survive; callers reopen their folder afterwards.
func (c *Client) Reconnect() error {
	debugLog(c.cfg.Debug, c.cfg.Logger, c.session, c.Folder, "reopening connection")
	_ = c.Disconnect()
	return c.Connect()
}

func (c *Client) teardown() {
	if c.tr != nil {
		_ = c.tr.close()
	}
	c.tr = nil
	c.ch = nil
	c.caps = nil
	c.clearSelection()
	c.setState(StateDisconnected)
}

// clearSelection drops the folder marker and the sequence-number state
// that only made sense inside that selection.
func (c *Client) clearSelection() {
	c.Folder = ""
	c.ReadOnly = false
	c.uids.invalidate()
	if c.state == StateSelected || c.state == StateIdling {
		c.state = StateAuthenticated
	}
}

// SetTimeout changes the per-command timeout. On a live session the
// connection is reopened so the new deadline governs the transport
// immediately; as with any reconnect, the folder marker does not survive.
func (c *Client) SetTimeout(d time.Duration) error {
	c.cfg.CommandTimeout = d
	if !c.connected() {
		return nil
	}
	return c.Reconnect()
}

// Clone opens a second session from the same configuration, with its own
// session id and transport. The clone re-selects the folder the source had
// open, so it can pick up work mid-stream.
func (c *Client) Clone() (*Client, error) {
	c2, err := NewClient(c.cfg)
	if err != nil {
		return nil, err
	}
	if err := c2.Connect(); err != nil {
		return nil, err
	}
	if c.Folder != "" {
		if c.ReadOnly {
			err = c2.ExamineFolder(c.Folder)
		} else {
			err = c2.SelectFolder(c.Folder)
		}
		if err != nil {
			_ = c2.Disconnect()
			return nil, err
		}
	}
	return c2, nil
}
