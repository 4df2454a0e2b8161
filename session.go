package imap

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Capability reports whether the server advertised the named capability.
// The set cached at connect time is consulted; no command is issued on a
// live session.
func (c *Client) Capability(name string) (bool, error) {
	if err := c.CheckConnection(); err != nil {
		return false, err
	}
	if c.caps == nil {
		if err := c.loadCapabilities(); err != nil {
			return false, err
		}
	}
	return c.caps[strings.ToUpper(name)], nil
}

// Capabilities returns the advertised capability names, sorted.
func (c *Client) Capabilities() ([]string, error) {
	if err := c.CheckConnection(); err != nil {
		return nil, err
	}
	if c.caps == nil {
		if err := c.loadCapabilities(); err != nil {
			return nil, err
		}
	}
	names := make([]string, 0, len(c.caps))
	for name := range c.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) requireCapability(name string) error {
	ok, err := c.Capability(name)
	if err != nil {
		return err
	}
	if !ok {
		return &CapabilityError{Capability: name}
	}
	return nil
}

// Quota is one resource row from a quota response, usage and limit in the
// units of the named resource (kilobytes for STORAGE, count for MESSAGE).
type Quota struct {
	Root  string
	Name  string
	Usage int
	Limit int
}

// Quota queries the limits of one quota root directly.
func (c *Client) Quota(root string) ([]Quota, error) {
	if err := c.CheckConnection(); err != nil {
		return nil, err
	}
	if err := c.requireCapability("QUOTA"); err != nil {
		return nil, err
	}
	var quotas []Quota
	_, err := c.ch.Exec("GETQUOTA "+quote(root), false, func(line []byte) error {
		if q, ok := parseQuotaLine(line); ok {
			quotas = append(quotas, q...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quotas, nil
}

// QuotaRoot resolves the quota roots governing a folder and returns their
// limits in one round trip.
func (c *Client) QuotaRoot(folder string) ([]Quota, error) {
	if err := c.CheckConnection(); err != nil {
		return nil, err
	}
	if err := c.requireCapability("QUOTA"); err != nil {
		return nil, err
	}
	var quotas []Quota
	_, err := c.ch.Exec("GETQUOTAROOT "+quote(encodeFolderName(folder)), false, func(line []byte) error {
		if q, ok := parseQuotaLine(line); ok {
			quotas = append(quotas, q...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quotas, nil
}

// parseQuotaLine parses `* QUOTA <root> (<name> <usage> <limit> ...)`.
func parseQuotaLine(line []byte) ([]Quota, bool) {
	s := string(dropNl(line))
	ls := newLineScanner(s)
	if ls.next() != "*" || !strings.EqualFold(ls.next(), "QUOTA") {
		return nil, false
	}
	root := ls.next()
	group := ls.next()
	if !strings.HasPrefix(group, "(") {
		return nil, false
	}

	fields := strings.Fields(strings.Trim(group, "()"))
	quotas := make([]Quota, 0, len(fields)/3)
	for i := 0; i+2 < len(fields); i += 3 {
		usage, err1 := strconv.Atoi(fields[i+1])
		limit, err2 := strconv.Atoi(fields[i+2])
		if err1 != nil || err2 != nil {
			continue
		}
		quotas = append(quotas, Quota{
			Root:  root,
			Name:  strings.ToUpper(fields[i]),
			Usage: usage,
			Limit: limit,
		})
	}
	return quotas, true
}

// ID performs the identification exchange, sending the given client
// details and returning whatever the server reports about itself. Nil or
// empty pairs send ID NIL. Keys go out in sorted order.
func (c *Client) ID(pairs map[string]string) (map[string]string, error) {
	if err := c.CheckConnection(); err != nil {
		return nil, err
	}
	if err := c.requireCapability("ID"); err != nil {
		return nil, err
	}

	cmd := "ID NIL"
	if len(pairs) > 0 {
		keys := make([]string, 0, len(pairs))
		for k := range pairs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(pairs)*2)
		for _, k := range keys {
			parts = append(parts, quote(k), quote(pairs[k]))
		}
		cmd = "ID (" + strings.Join(parts, " ") + ")"
	}

	fields := map[string]string{}
	_, err := c.ch.Exec(cmd, false, func(line []byte) error {
		if m, ok := parseIDLine(line); ok {
			fields = m
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// parseIDLine parses `* ID (...)` or `* ID NIL`.
func parseIDLine(line []byte) (map[string]string, bool) {
	s := string(dropNl(line))
	ls := newLineScanner(s)
	if ls.next() != "*" || !strings.EqualFold(ls.next(), "ID") {
		return nil, false
	}
	group := ls.next()
	if strings.EqualFold(group, "NIL") {
		return map[string]string{}, true
	}
	if !strings.HasPrefix(group, "(") {
		return nil, false
	}

	inner := newLineScanner(strings.TrimSuffix(strings.TrimPrefix(group, "("), ")"))
	fields := map[string]string{}
	for {
		k := inner.next()
		if k == "" {
			break
		}
		v := inner.next()
		if strings.EqualFold(v, "NIL") {
			v = ""
		}
		fields[k] = v
	}
	return fields, true
}

// Expunge permanently removes messages flagged \Deleted from the selected
// folder and reports how many removals the server announced.
func (c *Client) Expunge() (int, error) {
	if err := c.CheckConnection(); err != nil {
		return 0, err
	}
	count := 0
	_, err := c.ch.Exec("EXPUNGE", false, func(line []byte) error {
		if _, ok := parseUntaggedNumeric(line, "EXPUNGE"); ok {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		// Remaining messages renumbered; cached sequence mappings are dead.
		c.uids.invalidate()
	}
	return count, nil
}

// Append stores a raw RFC 822 message in a folder. flags may be nil. A
// zero internalDate lets the server stamp its own receipt time; otherwise
// the date is sent as the APPEND internal-date parameter.
func (c *Client) Append(folder string, flags []string, internalDate time.Time, message []byte) error {
	if err := c.CheckConnection(); err != nil {
		return err
	}
	cmd := "APPEND " + quote(encodeFolderName(folder))
	if len(flags) > 0 {
		cmd += " (" + strings.Join(flags, " ") + ")"
	}
	if s := formatInternalDate(internalDate); s != "" {
		cmd += " " + quote(s)
	}
	cmd += " {" + strconv.Itoa(len(message)) + "}"
	if _, err := c.ch.ExecLiteral(cmd, message, false, nil); err != nil {
		return &FolderError{Op: "append", Folder: folder, Err: err}
	}
	return nil
}
