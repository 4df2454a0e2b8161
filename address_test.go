package imap

import (
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAddress(t *testing.T) {
	a := newAddress(&mail.Address{Name: "Ann Example", Address: "ann@example.com"})
	assert.Equal(t, "Ann Example", a.PersonalName)
	assert.Equal(t, "ann", a.Mailbox)
	assert.Equal(t, "example.com", a.Host)

	// Local parts may themselves contain @ when quoted; the split is on the
	// last one.
	a = newAddress(&mail.Address{Address: `"odd@local"@example.com`})
	assert.Equal(t, `"odd@local"`, a.Mailbox)
	assert.Equal(t, "example.com", a.Host)

	a = newAddress(&mail.Address{Address: "undisclosed-recipients"})
	assert.Equal(t, "undisclosed-recipients", a.Mailbox)
	assert.Empty(t, a.Host)
}

func TestAddressForms(t *testing.T) {
	a := Address{PersonalName: "Ann Example", Mailbox: "ann", Host: "example.com"}
	assert.Equal(t, "ann@example.com", a.Mail())
	assert.Equal(t, "Ann Example <ann@example.com>", a.Full())

	bare := Address{Mailbox: "bob", Host: "example.org"}
	assert.Equal(t, "bob@example.org", bare.Full())

	noHost := Address{Mailbox: "postmaster"}
	assert.Equal(t, "postmaster", noHost.Mail())
}

func TestAddressFullQuotesCommaNames(t *testing.T) {
	a := Address{PersonalName: "Example, Ann", Mailbox: "ann", Host: "example.com"}
	assert.Equal(t, `"Example, Ann" <ann@example.com>`, a.Full())
}

func TestAddressListString(t *testing.T) {
	al := AddressList{
		{PersonalName: "Ann Example", Mailbox: "ann", Host: "example.com"},
		{Mailbox: "bob", Host: "example.org"},
	}
	assert.Equal(t, "Ann Example <ann@example.com>, bob@example.org", al.String())
	assert.Empty(t, AddressList{}.String())
}
