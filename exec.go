package imap

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// commandChannel multiplexes tagged commands over one transport. Tags are a
// strictly increasing counter, so every exchange on a connection is
// correlated by a tag no earlier exchange could have used. Responses are
// consumed in stream order; a channel never has two commands in flight.
type commandChannel struct {
	tr     *transport
	c      *Client
	tagSeq uint64
}

func newCommandChannel(tr *transport, c *Client) *commandChannel {
	return &commandChannel{tr: tr, c: c}
}

// nextTag returns the next command tag, unique and strictly increasing for
// the lifetime of the transport.
func (ch *commandChannel) nextTag() []byte {
	ch.tagSeq++
	return []byte("A" + strconv.FormatUint(ch.tagSeq, 10))
}

// Exec writes one tagged command and consumes lines until its terminal
// response. Untagged lines are handed to processLine when set, and
// collected into the returned response when buildResponse is set. A tagged
// NO or BAD becomes a *ProtocolError; exceeding the command window becomes
// a *TimeoutError.
func (ch *commandChannel) Exec(command string, buildResponse bool, processLine func(line []byte) error) (string, error) {
	return ch.exec(command, nil, buildResponse, processLine)
}

// ExecLiteral is Exec for commands carrying a literal payload: when the
// server's continuation prompt arrives, the payload plus CRLF is written
// and the exchange proceeds as usual.
func (ch *commandChannel) ExecLiteral(command string, literal []byte, buildResponse bool, processLine func(line []byte) error) (string, error) {
	return ch.exec(command, literal, buildResponse, processLine)
}

func (ch *commandChannel) exec(command string, literal []byte, buildResponse bool, processLine func(line []byte) error) (string, error) {
	if ch.c.cfg.CommandTimeout != 0 {
		ch.tr.deadline(ch.c.cfg.CommandTimeout)
		defer ch.tr.deadline(0)
	}

	verb := commandVerb(command)
	tag, err := ch.sendTagged(command)
	if err != nil {
		return "", err
	}

	var resp strings.Builder
	pending := literal
	for {
		line, err := ch.readLine()
		if err != nil {
			return "", ch.wireErr(verb, err)
		}

		if len(line) > 0 && line[0] == '+' {
			if pending == nil {
				return "", &ProtocolError{Line: string(dropNl(line)), Text: "unexpected continuation"}
			}
			payload := append(append([]byte{}, pending...), '\r', '\n')
			pending = nil
			if err := ch.tr.write(payload); err != nil {
				return "", ch.wireErr(verb, err)
			}
			continue
		}

		if done, terr := taggedTerminal(tag, line); done {
			if terr != nil {
				return "", terr
			}
			break
		}

		if processLine != nil {
			if err := processLine(line); err != nil {
				return "", err
			}
		}
		if buildResponse {
			resp.Write(line)
		}
	}

	return resp.String(), nil
}

// sendTagged writes "<tag> <command>\r\n" and returns the tag for terminal
// matching. Credentials are redacted from debug output.
func (ch *commandChannel) sendTagged(command string) ([]byte, error) {
	tag := ch.nextTag()
	c := fmt.Sprintf("%s %s\r\n", tag, command)
	ch.logCommand(c)
	if err := ch.tr.write([]byte(c)); err != nil {
		return nil, ch.wireErr(commandVerb(command), err)
	}
	return tag, nil
}

// sendRaw writes bytes as-is, used for DONE.
func (ch *commandChannel) sendRaw(s string) error {
	ch.logCommand(s)
	return ch.tr.write([]byte(s + "\r\n"))
}

// readLine reads the next response line, splicing {n} literal payloads and
// their trailing line fragments into a single logical line.
func (ch *commandChannel) readLine() ([]byte, error) {
	line, err := ch.tr.readLine()
	if err != nil {
		return nil, err
	}
	for {
		if a := atom.Find(dropNl(line)); a != nil {
			n, err := strconv.Atoi(string(a[1 : len(a)-1]))
			if err != nil {
				return nil, &ProtocolError{Line: string(dropNl(line)), Text: "bad literal length"}
			}

			buf := make([]byte, n)
			if err := ch.tr.readFull(buf); err != nil {
				return nil, err
			}
			line = append(line, buf...)

			rest, err := ch.tr.readLine()
			if err != nil {
				return nil, err
			}
			line = append(line, rest...)

			continue
		}
		break
	}

	if ch.c.cfg.Debug && !ch.c.cfg.SkipResponses {
		debugLog(true, ch.c.cfg.Logger, ch.c.session, ch.c.Folder,
			"server response", "response", string(dropNl(line)))
	}
	return line, nil
}

// drainTagged consumes lines until the terminal response for tag, handing
// untagged lines to processLine when set. Used after DONE to close out an
// outstanding IDLE exchange.
func (ch *commandChannel) drainTagged(tag []byte, processLine func(line []byte) error) error {
	for {
		line, err := ch.readLine()
		if err != nil {
			return err
		}
		if done, terr := taggedTerminal(tag, line); done {
			return terr
		}
		if processLine != nil {
			if err := processLine(line); err != nil {
				return err
			}
		}
	}
}

// taggedTerminal reports whether line is the terminal response for tag, and
// the *ProtocolError for a NO or BAD status. Tags vary in length, so the
// byte after the candidate tag must be a space for a match.
func taggedTerminal(tag, line []byte) (bool, error) {
	taglen := len(tag)
	if len(line) <= taglen || !bytes.Equal(line[:taglen], tag) || line[taglen] != ' ' {
		return false, nil
	}
	status, text := splitStatus(line[taglen+1:])
	if status != "OK" {
		return true, &ProtocolError{Status: status, Text: text, Line: string(dropNl(line))}
	}
	return true, nil
}

// splitStatus splits a status response into its first word and trailing
// text.
func splitStatus(rest []byte) (status, text string) {
	rest = dropNl(rest)
	if i := bytes.IndexByte(rest, ' '); i >= 0 {
		return string(rest[:i]), string(rest[i+1:])
	}
	return string(rest), ""
}

// wireErr maps transport failure kinds onto the command-level taxonomy. The
// sentinel stays reachable through the wrap chain for errors.Is.
func (ch *commandChannel) wireErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrEmptyRead):
		return &TimeoutError{Op: op, Err: err}
	case errors.Is(err, ErrConnectionClosed):
		return &ConnectionError{Op: op, Err: err}
	default:
		return err
	}
}

func (ch *commandChannel) logCommand(c string) {
	if !ch.c.cfg.Debug {
		return
	}
	sanitized := strings.TrimSpace(c)
	if p := ch.c.cfg.Password; p != "" {
		sanitized = strings.ReplaceAll(sanitized, `"`+AddSlashes.Replace(p)+`"`, `"****"`)
	}
	if i := strings.Index(sanitized, "AUTHENTICATE XOAUTH2 "); i >= 0 {
		sanitized = sanitized[:i+len("AUTHENTICATE XOAUTH2 ")] + "****"
	}
	debugLog(true, ch.c.cfg.Logger, ch.c.session, ch.c.Folder,
		"sending command", "command", sanitized)
}

// commandVerb returns the leading verb of a command for error and log
// context, so argument payloads never leak into error chains.
func commandVerb(command string) string {
	if i := strings.IndexByte(command, ' '); i >= 0 {
		return command[:i]
	}
	return command
}
