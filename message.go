package imap

import (
	"fmt"
	"io"
	"mime"
	"net/mail"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	humanize "github.com/dustin/go-humanize"
	"github.com/jhillyerd/enmime/v2"
	"golang.org/x/net/html/charset"
)

// Email is one message as assembled from overview and body fetches. UID is
// stable for the life of the folder; SeqNum is the sequence number at fetch
// time and goes stale on any expunge.
type Email struct {
	Flags       []string
	Received    time.Time
	Sent        time.Time
	Size        uint64
	Subject     string
	UID         int
	SeqNum      int
	MessageID   string
	From        AddressList
	ReplyTo     AddressList
	To          AddressList
	CC          AddressList
	BCC         AddressList
	Text        string
	HTML        string
	Attachments []Attachment
}

// Attachment is one file attached to or inlined in an email.
type Attachment struct {
	Name     string
	MimeType string
	Content  []byte
}

// ENVELOPE structure field positions.
const (
	EDate uint8 = iota
	ESubject
	EFrom
	ESender
	EReplyTo
	ETo
	ECC
	EBCC
	EInReplyTo
	EMessageID
)

// ENVELOPE address field positions.
const (
	EEName uint8 = iota
	EESR
	EEMailbox
	EEHost
)

// String returns a formatted string representation of an Email
func (e Email) String() string {
	email := strings.Builder{}

	email.WriteString(fmt.Sprintf("Subject: %s\n", e.Subject))

	if len(e.To) != 0 {
		email.WriteString(fmt.Sprintf("To: %s\n", e.To))
	}
	if len(e.From) != 0 {
		email.WriteString(fmt.Sprintf("From: %s\n", e.From))
	}
	if len(e.CC) != 0 {
		email.WriteString(fmt.Sprintf("CC: %s\n", e.CC))
	}
	if len(e.BCC) != 0 {
		email.WriteString(fmt.Sprintf("BCC: %s\n", e.BCC))
	}
	if len(e.ReplyTo) != 0 {
		email.WriteString(fmt.Sprintf("ReplyTo: %s\n", e.ReplyTo))
	}
	if len(e.Text) != 0 {
		if len(e.Text) > 20 {
			email.WriteString(fmt.Sprintf("Text: %s...", e.Text[:20]))
		} else {
			email.WriteString(fmt.Sprintf("Text: %s", e.Text))
		}
		email.WriteString(fmt.Sprintf("(%s)\n", humanize.Bytes(uint64(len(e.Text)))))
	}
	if len(e.HTML) != 0 {
		if len(e.HTML) > 20 {
			email.WriteString(fmt.Sprintf("HTML: %s...", e.HTML[:20]))
		} else {
			email.WriteString(fmt.Sprintf("HTML: %s", e.HTML))
		}
		email.WriteString(fmt.Sprintf(" (%s)\n", humanize.Bytes(uint64(len(e.HTML)))))
	}

	if len(e.Attachments) != 0 {
		email.WriteString(fmt.Sprintf("%d Attachment(s): %s\n", len(e.Attachments), e.Attachments))
	}

	return email.String()
}

// String returns a formatted string representation of an Attachment
func (a Attachment) String() string {
	return fmt.Sprintf("%s (%s %s)", a.Name, a.MimeType, humanize.Bytes(uint64(len(a.Content))))
}

var headerDecoder = mime.WordDecoder{
	CharsetReader: func(label string, input io.Reader) (io.Reader, error) {
		return charset.NewReaderLabel(label, input)
	},
}

// decodeMimeHeader decodes RFC 2047 encoded words, falling back to the raw
// text when the encoding is broken.
func decodeMimeHeader(s string) string {
	out, err := headerDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return out
}

// addressPrefix is the command prefix for the configured addressing mode:
// message operations run as UID commands unless sequence addressing was
// configured.
func (c *Client) addressPrefix() string {
	if c.cfg.AddressingMode == AddressBySequence {
		return ""
	}
	return "UID "
}

// messageKey is the overview map key for a fetched message under the
// configured addressing mode.
func (c *Client) messageKey(e *Email) int {
	if c.cfg.AddressingMode == AddressBySequence {
		return e.SeqNum
	}
	return e.UID
}

// numberSet renders a message-set argument: the given numbers joined by
// commas, or the whole-folder set when none remain.
func numberSet(numbers []int) string {
	b := strings.Builder{}
	i := 0
	for _, n := range numbers {
		if n <= 0 {
			continue
		}
		if i != 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(n))
		i++
	}
	if i == 0 {
		return "1:*"
	}
	return b.String()
}

// GetUIDs runs a UID SEARCH with the given criteria against the selected
// folder and returns the matching UIDs.
func (c *Client) GetUIDs(search string) ([]int, error) {
	if err := c.CheckConnection(); err != nil {
		return nil, err
	}
	r, err := c.ch.Exec("UID SEARCH "+search, true, nil)
	if err != nil {
		return nil, err
	}
	return parseUIDSearchResponse(r)
}

// GetLastNUIDs returns the UIDs of the n most recently added messages in
// the selected folder, in ascending order. Fewer exist, fewer come back;
// n below one returns nil.
func (c *Client) GetLastNUIDs(n int) ([]int, error) {
	if n <= 0 {
		return nil, nil
	}
	uids, err := c.GetUIDs("ALL")
	if err != nil {
		return nil, err
	}
	sort.Ints(uids)
	if len(uids) > n {
		uids = uids[len(uids)-n:]
	}
	return uids, nil
}

// GetOverviews fetches flags, internal date, size and envelope for the
// given messages. No numbers means the whole folder. The returned map is
// keyed by UID, or by sequence number in sequence addressing mode.
func (c *Client) GetOverviews(numbers ...int) (map[int]*Email, error) {
	if err := c.CheckConnection(); err != nil {
		return nil, err
	}

	r, err := c.ch.Exec(c.addressPrefix()+"FETCH "+numberSet(numbers)+" ALL", true, nil)
	if err != nil {
		return nil, err
	}

	emails := make(map[int]*Email, len(numbers))
	records, err := c.parseFetchRecords(r)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		e, err := c.overviewFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if key := c.messageKey(e); key > 0 {
			emails[key] = e
		}
	}
	return emails, nil
}

// overviewFromRecord walks one FETCH record's tokens into an Email.
func (c *Client) overviewFromRecord(rec fetchRecord) (*Email, error) {
	tks := rec.Tokens
	// Some servers wrap the FETCH content with extra parentheses. Flatten
	// single-child containers until we reach fields.
	for len(tks) == 1 && tks[0].Type == TContainer {
		tks = tks[0].Tokens
	}

	e := &Email{SeqNum: rec.Seq}
	skip := 0
	for i, t := range tks {
		if skip > 0 {
			skip--
			continue
		}
		if err := c.CheckType(t, []TType{TLiteral}, tks, "in root"); err != nil {
			return nil, err
		}
		switch t.Str {
		case "FLAGS":
			if err := c.CheckType(tks[i+1], []TType{TContainer}, tks, "after FLAGS"); err != nil {
				return nil, err
			}
			e.Flags = make([]string, len(tks[i+1].Tokens))
			for j, ft := range tks[i+1].Tokens {
				if err := c.CheckType(ft, []TType{TLiteral}, tks, "for FLAGS[%d]", j); err != nil {
					return nil, err
				}
				e.Flags[j] = ft.Str
			}
			skip++
		case "INTERNALDATE":
			if err := c.CheckType(tks[i+1], []TType{TQuoted}, tks, "after INTERNALDATE"); err != nil {
				return nil, err
			}
			received, err := time.Parse(TimeFormat, tks[i+1].Str)
			if err != nil {
				return nil, err
			}
			e.Received = received.UTC()
			skip++
		case "RFC822.SIZE":
			if err := c.CheckType(tks[i+1], []TType{TNumber}, tks, "after RFC822.SIZE"); err != nil {
				return nil, err
			}
			e.Size = uint64(tks[i+1].Num)
			skip++
		case "ENVELOPE":
			if err := c.CheckType(tks[i+1], []TType{TContainer}, tks, "after ENVELOPE"); err != nil {
				return nil, err
			}
			fillEnvelope(e, tks[i+1].Tokens)
			skip++
		case "UID":
			if err := c.CheckType(tks[i+1], []TType{TNumber}, tks, "after UID"); err != nil {
				return nil, err
			}
			e.UID = tks[i+1].Num
			skip++
		}
	}
	return e, nil
}

// tokenStr returns a token's text for the three stringish token kinds.
func tokenStr(t *Token) (string, bool) {
	if t == nil {
		return "", false
	}
	switch t.Type {
	case TQuoted, TAtom, TLiteral:
		return t.Str, true
	}
	return "", false
}

// fillEnvelope copies an ENVELOPE structure into the email: sent date,
// subject, address lists and message id. Fields the server sent as NIL
// stay zero.
func fillEnvelope(e *Email, env []*Token) {
	if len(env) <= int(EMessageID) {
		return
	}
	if s, ok := tokenStr(env[EDate]); ok {
		if t, err := mail.ParseDate(s); err == nil {
			e.Sent = t.UTC()
		}
	}
	if s, ok := tokenStr(env[ESubject]); ok {
		e.Subject = decodeMimeHeader(s)
	}
	e.From = envelopeAddresses(env[EFrom])
	e.ReplyTo = envelopeAddresses(env[EReplyTo])
	e.To = envelopeAddresses(env[ETo])
	e.CC = envelopeAddresses(env[ECC])
	e.BCC = envelopeAddresses(env[EBCC])
	if s, ok := tokenStr(env[EMessageID]); ok {
		e.MessageID = s
	}
}

// envelopeAddresses converts one ENVELOPE address list. Group-syntax
// markers, which carry a NIL mailbox or host, are dropped.
func envelopeAddresses(t *Token) AddressList {
	if t == nil || t.Type != TContainer {
		return nil
	}
	list := make(AddressList, 0, len(t.Tokens))
	for _, at := range t.Tokens {
		if at.Type != TContainer || len(at.Tokens) <= int(EEHost) {
			continue
		}
		mailbox, okM := tokenStr(at.Tokens[EEMailbox])
		host, okH := tokenStr(at.Tokens[EEHost])
		if !okM || !okH {
			continue
		}
		a := Address{
			Mailbox: strings.ToLower(mailbox),
			Host:    strings.ToLower(host),
		}
		if name, ok := tokenStr(at.Tokens[EEName]); ok {
			a.PersonalName = decodeMimeHeader(name)
		}
		list = append(list, a)
	}
	if len(list) == 0 {
		return nil
	}
	return list
}

// GetEmails fetches the given messages with their bodies: overviews first,
// then a BODY.PEEK fetch parsed for text, HTML and attachments, so reading
// never sets \Seen. Messages whose MIME structure cannot be parsed are
// logged and dropped from the result.
func (c *Client) GetEmails(numbers ...int) (map[int]*Email, error) {
	emails, err := c.GetOverviews(numbers...)
	if err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return emails, nil
	}

	keys := make([]int, 0, len(emails))
	for k := range emails {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	r, err := c.ch.Exec(c.addressPrefix()+"FETCH "+numberSet(keys)+" BODY.PEEK[]", true, nil)
	if err != nil {
		return nil, err
	}
	records, err := c.parseFetchRecords(r)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if err := c.fillBody(emails, rec); err != nil {
			return nil, err
		}
	}
	return emails, nil
}

// fillBody merges one BODY fetch record into the overview map, keyed per
// the addressing mode.
func (c *Client) fillBody(emails map[int]*Email, rec fetchRecord) error {
	tks := rec.Tokens
	for len(tks) == 1 && tks[0].Type == TContainer {
		tks = tks[0].Tokens
	}

	e := &Email{SeqNum: rec.Seq}
	parsed := true
	skip := 0
	for i, t := range tks {
		if skip > 0 {
			skip--
			continue
		}
		if err := c.CheckType(t, []TType{TLiteral}, tks, "in root"); err != nil {
			return err
		}
		switch t.Str {
		case "BODY[]":
			if err := c.CheckType(tks[i+1], []TType{TAtom}, tks, "after BODY[]"); err != nil {
				return err
			}
			if !c.parseBody(e, tks[i+1].Str) {
				parsed = false
			}
			skip++
		case "UID":
			if err := c.CheckType(tks[i+1], []TType{TNumber}, tks, "after UID"); err != nil {
				return err
			}
			e.UID = tks[i+1].Num
			skip++
		}
	}

	key := c.messageKey(e)
	if key <= 0 {
		return nil
	}
	if !parsed {
		delete(emails, key)
		return nil
	}

	target := emails[key]
	if target == nil {
		target = &Email{UID: e.UID, SeqNum: e.SeqNum}
		emails[key] = target
	}
	target.Subject = e.Subject
	target.From = mergeAddresses(target.From, e.From)
	target.ReplyTo = mergeAddresses(target.ReplyTo, e.ReplyTo)
	target.To = mergeAddresses(target.To, e.To)
	target.CC = mergeAddresses(target.CC, e.CC)
	target.BCC = mergeAddresses(target.BCC, e.BCC)
	target.Text = e.Text
	target.HTML = e.HTML
	target.Attachments = e.Attachments
	return nil
}

// mergeAddresses prefers the list parsed from the message headers, keeping
// the envelope's when the header was absent.
func mergeAddresses(envelope, header AddressList) AddressList {
	if len(header) != 0 {
		return header
	}
	return envelope
}

// parseBody parses a raw message into the email's subject, bodies and
// attachments, reporting false when the MIME structure is beyond saving.
func (c *Client) parseBody(e *Email, msg string) bool {
	env, err := enmime.ReadEnvelope(strings.NewReader(msg))
	if err != nil {
		warnLog(c.cfg.Logger, c.session, c.Folder, "email body could not be parsed, skipping", "error", err)
		if c.cfg.Debug {
			spew.Dump(msg)
		}
		return false
	}

	e.Subject = env.GetHeader("Subject")
	e.Text = env.Text
	e.HTML = env.HTML

	for _, a := range env.Attachments {
		e.Attachments = append(e.Attachments, Attachment{
			Name:     a.FileName,
			MimeType: a.ContentType,
			Content:  a.Content,
		})
	}
	for _, a := range env.Inlines {
		e.Attachments = append(e.Attachments, Attachment{
			Name:     a.FileName,
			MimeType: a.ContentType,
			Content:  a.Content,
		})
	}

	for _, h := range []struct {
		dest   *AddressList
		header string
	}{
		{&e.From, "From"},
		{&e.ReplyTo, "Reply-To"},
		{&e.To, "To"},
		{&e.CC, "cc"},
		{&e.BCC, "bcc"},
	} {
		alist, _ := env.AddressList(h.header)
		if len(alist) == 0 {
			continue
		}
		list := make(AddressList, 0, len(alist))
		for _, addr := range alist {
			list = append(list, newAddress(addr))
		}
		*h.dest = list
	}
	return true
}

// withWritableFolder runs fn with the selected folder writable, restoring
// a read-only selection afterwards.
func (c *Client) withWritableFolder(fn func() error) error {
	readOnly := c.ReadOnly
	folder := c.Folder
	if readOnly {
		if err := c.SelectFolder(folder); err != nil {
			return err
		}
	}
	err := fn()
	if readOnly {
		if e := c.ExamineFolder(folder); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// MoveEmail moves a message to another folder. The selection does not
// follow the message; the current folder stays selected.
func (c *Client) MoveEmail(number int, folder string) error {
	if err := c.CheckConnection(); err != nil {
		return err
	}
	return c.withWritableFolder(func() error {
		cmd := c.addressPrefix() + "MOVE " + strconv.Itoa(number) + " " + quote(encodeFolderName(folder))
		if _, err := c.ch.Exec(cmd, false, nil); err != nil {
			return err
		}
		c.uids.invalidate()
		return nil
	})
}

// MarkSeen flags a message as read.
func (c *Client) MarkSeen(number int) error {
	return c.SetFlags(number, Flags{Seen: FlagAdd})
}

// DeleteEmail flags a message for deletion; Expunge makes it permanent.
func (c *Client) DeleteEmail(number int) error {
	return c.SetFlags(number, Flags{Deleted: FlagAdd})
}

// SetFlags applies flag changes to a message. Standard flags are set or
// removed per their FlagSet; keywords are added when true, removed when
// false.
func (c *Client) SetFlags(number int, flags Flags) error {
	if err := c.CheckConnection(); err != nil {
		return err
	}

	addFlags := []string{}
	removeFlags := []string{}

	v := reflect.ValueOf(flags)
	t := reflect.TypeOf(flags)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)

		if field.Type == reflect.TypeOf(FlagUnset) {
			switch FlagSet(value.Int()) {
			case FlagAdd:
				addFlags = append(addFlags, `\`+field.Name)
			case FlagRemove:
				removeFlags = append(removeFlags, `\`+field.Name)
			}
		}
	}

	for keyword, state := range flags.Keywords {
		if state {
			addFlags = append(addFlags, keyword)
		} else {
			removeFlags = append(removeFlags, keyword)
		}
	}

	query := fmt.Sprintf("%sSTORE %d", c.addressPrefix(), number)
	if len(addFlags) > 0 {
		query += fmt.Sprintf(` +FLAGS (%s)`, strings.Join(addFlags, " "))
	}
	if len(removeFlags) > 0 {
		query += fmt.Sprintf(` -FLAGS (%s)`, strings.Join(removeFlags, " "))
	}

	return c.withWritableFolder(func() error {
		_, err := c.ch.Exec(query, false, nil)
		return err
	})
}
