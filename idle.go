package imap

import (
	"bytes"
	"context"
	"errors"
)

// Idle watches folder and hands each newly arrived message to onMessage,
// blocking the calling goroutine. The watch runs until ctx is cancelled,
// the handler returns an error, or the session fails beyond recovery.
// Cancellation is cooperative: it takes effect between idle rounds, so
// after the next server event or keep-alive lapse at the latest.
//
// A lapsed keep-alive window refreshes the IDLE command in place. A closed
// connection triggers one reconnect, one re-selection of folder, and a
// resumed watch; a failed reconnect ends the watch. onMessage may be nil
// when only the configured Listener should observe arrivals.
func (c *Client) Idle(ctx context.Context, folder string, onMessage func(*Email) error) error {
	if err := c.CheckConnection(); err != nil {
		return err
	}
	// The capability gate sits before any idle traffic is generated.
	if err := c.requireCapability("IDLE"); err != nil {
		return err
	}
	if err := c.OpenFolder(folder, true); err != nil {
		return err
	}

	debugLog(c.cfg.Debug, c.cfg.Logger, c.session, folder, "idle watch started")
	defer func() {
		if c.state == StateIdling {
			c.setState(StateSelected)
		}
		debugLog(c.cfg.Debug, c.cfg.Logger, c.session, folder, "idle watch stopped")
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.idleRound(folder, onMessage)
		switch {
		case err == nil:
			// Round ended cleanly: window lapsed, chatter resynced, or an
			// arrival was handled. Idle again.
		case errors.Is(err, ErrEmptyRead):
			// Transport alive, nothing arrived. Idle again, no backoff.
		case errors.Is(err, ErrConnectionClosed):
			warnLog(c.cfg.Logger, c.session, folder, "connection lost while idling, reconnecting")
			if err := c.Reconnect(); err != nil {
				return err
			}
			if err := c.SelectFolder(folder); err != nil {
				return err
			}
		default:
			return err
		}
	}
}

// idleRound issues one IDLE and services the stream until the keep-alive
// window lapses or a line forces termination. A nil return means the round
// ended cleanly and the watch should idle again.
func (c *Client) idleRound(folder string, onMessage func(*Email) error) error {
	tag, err := c.ch.sendTagged("IDLE")
	if err != nil {
		return err
	}
	c.tr.readDeadline(c.cfg.IdleWindow)
	defer c.tr.readDeadline(0)

	started := false
	announced := 0
	resync := false

	for {
		line, err := c.ch.readLine()
		if err != nil {
			if errors.Is(err, ErrEmptyRead) && started {
				// Window lapsed. Refresh the command so the server keeps
				// the connection marked active.
				break
			}
			return err
		}

		if done, terr := taggedTerminal(tag, line); done {
			// The server ended the IDLE on its own.
			return terr
		}

		s := dropNl(line)
		if len(s) > 0 && s[0] == '+' {
			started = true
			c.setState(StateIdling)
			if announced == 0 && !resync {
				continue
			}
			// Chatter slipped in ahead of the acknowledgement; terminate
			// now that DONE is legal.
			break
		}

		if n, ok := parseUntaggedNumeric(line, "EXISTS"); ok {
			announced = n
			c.uids.invalidate()
		} else if _, ok := parseUntaggedNumeric(line, "EXPUNGE"); ok {
			c.uids.invalidate()
			resync = true
		} else if !informationalIdleLine(line) {
			resync = true
		}
		if started {
			break
		}
	}

	// Terminate, folding announcements racing the DONE acknowledgement into
	// the same bookkeeping.
	err = c.stopIdle(tag, func(line []byte) error {
		if n, ok := parseUntaggedNumeric(line, "EXISTS"); ok {
			announced = n
			c.uids.invalidate()
		} else if _, ok := parseUntaggedNumeric(line, "EXPUNGE"); ok {
			c.uids.invalidate()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if announced == 0 {
		return nil
	}
	return c.handleArrival(folder, announced, onMessage)
}

// stopIdle terminates an outstanding IDLE with DONE and consumes through
// its tagged response under the normal command deadline.
func (c *Client) stopIdle(tag []byte, sink func(line []byte) error) error {
	c.tr.deadline(c.cfg.CommandTimeout)
	defer c.tr.deadline(0)
	if err := c.ch.sendRaw("DONE"); err != nil {
		return err
	}
	return c.ch.drainTagged(tag, sink)
}

// informationalIdleLine reports lines that are expected chatter during an
// IDLE and carry nothing to act on: untagged OK keep-alives, RECENT
// counters, and flag-change FETCH announcements.
func informationalIdleLine(line []byte) bool {
	if _, ok := parseUntaggedNumeric(line, "RECENT"); ok {
		return true
	}
	s := dropNl(line)
	if bytes.HasPrefix(s, []byte("* OK")) {
		return true
	}
	return fetchLineStartRE.Match(s)
}

// handleArrival reselects the folder and resolves the newest announced
// message. The reselection is forced: server state may have shifted since
// the IDLE began. The handler runs before the listener notification.
func (c *Client) handleArrival(folder string, seq int, onMessage func(*Email) error) error {
	debugLog(c.cfg.Debug, c.cfg.Logger, c.session, folder, "new message announced", "sequence", seq)

	if err := c.OpenFolder(folder, true); err != nil {
		return err
	}

	num := seq
	if c.cfg.AddressingMode == AddressByUID {
		uid, err := c.uidForSeq(seq)
		if err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				// Gone before we could look, likely expunged by another
				// session. Not fatal to the watch.
				warnLog(c.cfg.Logger, c.session, folder, "announced message vanished", "sequence", seq)
				return nil
			}
			return err
		}
		num = uid
	}

	overviews, err := c.GetOverviews(num)
	if err != nil {
		return err
	}
	email := overviews[num]
	if email == nil {
		warnLog(c.cfg.Logger, c.session, folder, "announced message vanished", "sequence", seq)
		return nil
	}

	if onMessage != nil {
		if err := onMessage(email); err != nil {
			return err
		}
	}
	c.notifyNewMessage(folder, email)
	return nil
}
