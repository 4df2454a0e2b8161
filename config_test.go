package imap

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		return Config{Host: "mail.example.com", Port: 993}
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing host", func(c *Config) { c.Host = "" }, "host"},
		{"zero port", func(c *Config) { c.Port = 0 }, "port"},
		{"port out of range", func(c *Config) { c.Port = 70000 }, "port"},
		{"unknown protocol", func(c *Config) { c.Protocol = "pop3" }, "protocol"},
		{"unknown encryption", func(c *Config) { c.Encryption = "rot13" }, "encryption"},
		{"unknown addressing mode", func(c *Config) { c.AddressingMode = "both" }, "addressing_mode"},
		{"unregistered message mask", func(c *Config) { c.MessageMask = "nope" }, "message_mask"},
		{"unregistered attachment mask", func(c *Config) { c.AttachmentMask = "nope" }, "attachment_mask"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.wantField, cerr.Field)
		})
	}
}

func TestConfigValidateAcceptsRegisteredNames(t *testing.T) {
	cfg := Config{
		Host:           "mail.example.com",
		Port:           143,
		Protocol:       "imap",
		Encryption:     EncryptionStartTLS,
		AddressingMode: AddressBySequence,
		MessageMask:    "summary",
		AttachmentMask: "metadata",
	}
	assert.NoError(t, cfg.validate())
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{Host: "mail.example.com", Port: 993}.withDefaults()

	assert.Equal(t, "imap", cfg.Protocol)
	assert.Equal(t, EncryptionTLS, cfg.Encryption)
	assert.Equal(t, AddressByUID, cfg.AddressingMode)
	assert.Equal(t, 3, cfg.RetryCount)
	assert.Equal(t, 20*time.Minute, cfg.IdleWindow)
	assert.Equal(t, "/", cfg.DefaultDelimiter)
	assert.Equal(t, "default", cfg.MessageMask)
	assert.Equal(t, "default", cfg.AttachmentMask)
	assert.NotNil(t, cfg.Logger)
}

func TestConfigWithDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Host:             "mail.example.com",
		Port:             143,
		Encryption:       EncryptionNone,
		RetryCount:       5,
		IdleWindow:       90 * time.Second,
		DefaultDelimiter: ".",
	}.withDefaults()

	assert.Equal(t, EncryptionNone, cfg.Encryption)
	assert.Equal(t, 5, cfg.RetryCount)
	assert.Equal(t, 90*time.Second, cfg.IdleWindow)
	assert.Equal(t, ".", cfg.DefaultDelimiter)
}

func TestConfigWithDefaultsClamps(t *testing.T) {
	cfg := Config{Host: "h", Port: 1, RetryCount: -1, IdleWindow: 2 * time.Hour}.withDefaults()
	assert.Equal(t, 0, cfg.RetryCount, "negative retry count disables retries")
	assert.Equal(t, 29*time.Minute, cfg.IdleWindow, "idle window is clamped below server drop thresholds")
}

func TestConfigEncryptionModes(t *testing.T) {
	enc := func(e Encryption) *Config { return &Config{Encryption: e} }

	assert.True(t, enc(EncryptionTLS).encrypted())
	assert.True(t, enc(EncryptionSSL).encrypted())
	assert.True(t, enc(EncryptionStartTLS).encrypted())
	assert.False(t, enc(EncryptionNone).encrypted())
	assert.False(t, enc(EncryptionNoTLS).encrypted())

	assert.True(t, enc(EncryptionStartTLS).useStartTLS())
	assert.False(t, enc(EncryptionTLS).useStartTLS())
}

func TestConfigAuthSelection(t *testing.T) {
	c := &Config{Username: "u", Password: "p"}
	assert.False(t, c.useXOAuth2())
	c.AccessToken = "tok"
	assert.True(t, c.useXOAuth2())
}

func TestNewClientCopiesConfig(t *testing.T) {
	cfg := Config{Host: "mail.example.com", Port: 993, CommandTimeout: time.Second}
	c, err := NewClient(cfg)
	require.NoError(t, err)

	cfg.Host = "changed.example.com"
	assert.Equal(t, "mail.example.com", c.cfg.Host, "client keeps its own copy of the config")
	assert.NotEmpty(t, c.SessionID())
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	_, err := NewClient(Config{Host: "", Port: 993})
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "host", cerr.Field)
}
