package imap

import (
	"strconv"
	"time"
)

// Encryption selects the transport security mode used when connecting.
type Encryption string

const (
	// EncryptionTLS negotiates TLS before the first protocol byte.
	EncryptionTLS Encryption = "tls"
	// EncryptionSSL is the legacy alias for implicit TLS.
	EncryptionSSL Encryption = "ssl"
	// EncryptionStartTLS reads the plaintext greeting, then upgrades the
	// connection in place with STARTTLS.
	EncryptionStartTLS Encryption = "starttls"
	// EncryptionNone leaves the connection unencrypted.
	EncryptionNone Encryption = "none"
	// EncryptionNoTLS is the explicit alias for an unencrypted connection.
	EncryptionNoTLS Encryption = "notls"
)

// AddressingMode selects how message operations address individual messages.
type AddressingMode string

const (
	// AddressByUID issues UID FETCH/STORE/MOVE commands. Sequence numbers
	// arriving from the server (for example idle announcements) are
	// translated through the UID cache.
	AddressByUID AddressingMode = "uid"
	// AddressBySequence issues plain sequence-number commands.
	AddressBySequence AddressingMode = "sequence"
)

// ProxyConfig describes an HTTP CONNECT proxy to tunnel through before the
// IMAP exchange begins.
type ProxyConfig struct {
	// Address is the proxy socket address in host:port form. Empty disables
	// proxying.
	Address string

	// Username and Password, when set, are sent as Proxy-Authorization
	// basic credentials.
	Username string
	Password string

	// FullURI writes the CONNECT request target in absolute-URI form
	// instead of the usual authority form. Some proxies insist on it.
	FullURI bool
}

// Config carries every tunable the client honors. The value passed to
// NewClient is validated once and copied; mutating the caller's value
// afterwards has no effect on the constructed client, and there are no
// package-level defaults to mutate.
type Config struct {
	Host string
	Port int

	// Protocol names the wire protocol implementation to construct. The
	// only registered value is "imap", which is also the default when
	// empty; anything else is rejected by NewClient.
	Protocol string

	// Encryption selects the transport security mode. Empty defaults to
	// EncryptionTLS.
	Encryption Encryption

	// TLSSkipVerify disables certificate verification. Use with caution;
	// skipping verification exposes the connection to man-in-the-middle
	// attacks.
	TLSSkipVerify bool

	// Proxy, when its Address is set, routes the connection through an
	// HTTP CONNECT tunnel.
	Proxy ProxyConfig

	// Username and Password authenticate with LOGIN. When AccessToken is
	// set the client authenticates with XOAUTH2 instead and Password is
	// ignored.
	Username    string
	Password    string
	AccessToken string

	// DialTimeout bounds connection establishment. Zero means no bound.
	DialTimeout time.Duration

	// CommandTimeout bounds a full command exchange, from writing the
	// tagged command to reading its terminal response. Zero means no
	// bound. SetTimeout adjusts this after construction.
	CommandTimeout time.Duration

	// IdleWindow is the longest the idle loop waits for server chatter
	// before refreshing the IDLE command as a keep-alive. Zero defaults to
	// 20 minutes; values above 29 minutes are clamped, since servers may
	// drop connections idle longer than that.
	IdleWindow time.Duration

	// RetryCount is how many times connection establishment is retried
	// before giving up. Zero defaults to 3; negative disables retries.
	// Failed commands are never retried, and authentication is attempted
	// exactly once per connect.
	RetryCount int

	// AddressingMode selects sequence-number or UID addressing for message
	// operations. Empty defaults to AddressByUID.
	AddressingMode AddressingMode

	// DisableUIDCache turns off the per-folder sequence-to-UID cache used
	// to resolve sequence-number announcements in UID addressing mode.
	DisableUIDCache bool

	// DefaultDelimiter is the hierarchy delimiter assumed for folders the
	// server lists with a NIL delimiter. Empty defaults to "/".
	DefaultDelimiter string

	// MessageMask and AttachmentMask name the registered output masks
	// applied by Masked render calls. Empty selects the built-in defaults;
	// unregistered names are rejected by NewClient.
	MessageMask    string
	AttachmentMask string

	// Listener, when set, receives synchronous notifications for folder
	// changes and new messages observed by the idle loop.
	Listener Listener

	// Logger overrides the package logger for this client.
	Logger Logger

	// Debug logs every line sent and received. Passwords are redacted.
	Debug bool

	// SkipResponses suppresses response lines in debug output, keeping
	// only the commands.
	SkipResponses bool
}

const (
	defaultRetryCount = 3
	defaultIdleWindow = 20 * time.Minute
	maxIdleWindow     = 29 * time.Minute
	defaultDelimiter  = "/"
)

// validate rejects values the client cannot honor. Field names in the
// returned *ConfigError use the lowercase wire-ish spelling so callers can
// match them against their own config sources.
func (c *Config) validate() error {
	if c.Host == "" {
		return &ConfigError{Field: "host", Value: c.Host}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &ConfigError{Field: "port", Value: strconv.Itoa(c.Port)}
	}
	switch c.Protocol {
	case "", "imap":
	default:
		return &ConfigError{Field: "protocol", Value: c.Protocol}
	}
	switch c.Encryption {
	case "", EncryptionTLS, EncryptionSSL, EncryptionStartTLS, EncryptionNone, EncryptionNoTLS:
	default:
		return &ConfigError{Field: "encryption", Value: string(c.Encryption)}
	}
	switch c.AddressingMode {
	case "", AddressByUID, AddressBySequence:
	default:
		return &ConfigError{Field: "addressing_mode", Value: string(c.AddressingMode)}
	}
	if _, ok := messageMasks[c.messageMaskName()]; !ok {
		return &ConfigError{Field: "message_mask", Value: c.MessageMask}
	}
	if _, ok := attachmentMasks[c.attachmentMaskName()]; !ok {
		return &ConfigError{Field: "attachment_mask", Value: c.AttachmentMask}
	}
	return nil
}

// withDefaults returns a copy with every empty field set to its default.
func (c Config) withDefaults() Config {
	if c.Protocol == "" {
		c.Protocol = "imap"
	}
	if c.Encryption == "" {
		c.Encryption = EncryptionTLS
	}
	if c.AddressingMode == "" {
		c.AddressingMode = AddressByUID
	}
	if c.RetryCount == 0 {
		c.RetryCount = defaultRetryCount
	} else if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.IdleWindow <= 0 {
		c.IdleWindow = defaultIdleWindow
	}
	if c.IdleWindow > maxIdleWindow {
		c.IdleWindow = maxIdleWindow
	}
	if c.DefaultDelimiter == "" {
		c.DefaultDelimiter = defaultDelimiter
	}
	if c.MessageMask == "" {
		c.MessageMask = defaultMaskName
	}
	if c.AttachmentMask == "" {
		c.AttachmentMask = defaultMaskName
	}
	if c.Logger == nil {
		c.Logger = getLogger()
	}
	return c
}

func (c *Config) messageMaskName() string {
	if c.MessageMask == "" {
		return defaultMaskName
	}
	return c.MessageMask
}

func (c *Config) attachmentMaskName() string {
	if c.AttachmentMask == "" {
		return defaultMaskName
	}
	return c.AttachmentMask
}

// encrypted reports whether the mode ends with a TLS-protected stream.
func (c *Config) encrypted() bool {
	switch c.Encryption {
	case EncryptionTLS, EncryptionSSL, EncryptionStartTLS:
		return true
	}
	return false
}

// useStartTLS reports whether the connection starts in plaintext and
// upgrades in place.
func (c *Config) useStartTLS() bool { return c.Encryption == EncryptionStartTLS }

// useXOAuth2 reports whether authentication uses the XOAUTH2 SASL exchange.
func (c *Config) useXOAuth2() bool { return c.AccessToken != "" }
