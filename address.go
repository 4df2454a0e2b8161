package imap

import (
	"fmt"
	"net/mail"
	"strings"
)

// Address is one parsed mailbox address from a message envelope.
type Address struct {
	// PersonalName is the display name, already MIME-word decoded. May be
	// empty.
	PersonalName string
	// Mailbox is the local part, before the @.
	Mailbox string
	// Host is the domain part, after the @.
	Host string
}

// newAddress builds an Address from a parsed mail header address.
func newAddress(a *mail.Address) Address {
	addr := Address{PersonalName: a.Name}
	if i := strings.LastIndex(a.Address, "@"); i >= 0 {
		addr.Mailbox, addr.Host = a.Address[:i], a.Address[i+1:]
	} else {
		addr.Mailbox = a.Address
	}
	return addr
}

// Mail returns the bare mailbox@host form.
func (a Address) Mail() string {
	if a.Host == "" {
		return a.Mailbox
	}
	return a.Mailbox + "@" + a.Host
}

// Full returns the display form, "Name <mailbox@host>" when a personal name
// is present.
func (a Address) Full() string {
	if a.PersonalName == "" {
		return a.Mail()
	}
	if strings.ContainsRune(a.PersonalName, ',') {
		return fmt.Sprintf(`"%s" <%s>`, AddSlashes.Replace(a.PersonalName), a.Mail())
	}
	return fmt.Sprintf("%s <%s>", a.PersonalName, a.Mail())
}

func (a Address) String() string { return a.Full() }

// AddressList is an ordered list of addresses from one header field.
type AddressList []Address

// String returns the comma-joined display form of every address.
func (al AddressList) String() string {
	parts := make([]string, 0, len(al))
	for _, a := range al {
		parts = append(parts, a.Full())
	}
	return strings.Join(parts, ", ")
}
