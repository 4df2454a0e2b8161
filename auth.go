package imap

import (
	"errors"
	"fmt"

	"github.com/sqs/go-xoauth2"
)

// login authenticates with the LOGIN command. The server's rejection text
// is carried in the returned *AuthError. Auth failures never trigger a
// retry or reconnection.
func (ch *commandChannel) login(username, password string) error {
	_, err := ch.Exec(fmt.Sprintf(`LOGIN %s %s`, quote(username), quote(password)), false, nil)
	return authErr("LOGIN", err)
}

// authenticate runs the XOAUTH2 exchange with a bearer token. A
// continuation during the exchange carries the server's base64 SASL error;
// it is answered with an empty line so the tagged rejection follows.
func (ch *commandChannel) authenticate(user, accessToken string) error {
	b64 := xoauth2.XOAuth2String(user, accessToken)
	_, err := ch.ExecLiteral(fmt.Sprintf("AUTHENTICATE XOAUTH2 %s", b64), []byte{}, false, nil)
	return authErr("XOAUTH2", err)
}

// authErr converts a tagged rejection into *AuthError. Transport failures
// pass through unchanged.
func authErr(mechanism string, err error) error {
	if err == nil {
		return nil
	}
	var perr *ProtocolError
	if errors.As(err, &perr) && perr.Status != "" {
		return &AuthError{Mechanism: mechanism, Text: perr.Text}
	}
	return err
}
