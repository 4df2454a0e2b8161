package imap

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	nl = "\r\n"

	// TimeFormat is the Go layout of INTERNALDATE values as servers render
	// them, with a space-padded day.
	TimeFormat = "_2-Jan-2006 15:04:05 -0700"

	// AppendTimeFormat is the layout for the optional date-time argument of
	// APPEND, which requires a fixed-width day.
	AppendTimeFormat = "02-Jan-2006 15:04:05 -0700"
)

var (
	atom             = regexp.MustCompile(`{\d+}$`)
	fetchLineStartRE = regexp.MustCompile(`(?m)^\* \d+ FETCH`)
)

// Token is one node of a tokenized FETCH payload. Exactly one of Str, Num,
// or Tokens is meaningful, selected by Type.
type Token struct {
	Type   TType
	Str    string
	Num    int
	Tokens []*Token
}

// TType discriminates Token variants.
type TType uint8

const (
	TUnset TType = iota
	TAtom
	TNumber
	TLiteral
	TQuoted
	TNil
	TContainer
)

type tokenContainer *[]*Token

// calculateTokenEnd bounds a literal's end index against the buffer. A
// declared size running past the end takes what is there; a size with no
// data at all is unrecoverable.
func calculateTokenEnd(tokenStart, sizeVal, bufferLen int) (int, error) {
	switch {
	case tokenStart >= bufferLen:
		if sizeVal == 0 {
			// r[tokenStart:tokenEnd+1] must come out empty.
			return tokenStart - 1, nil
		}
		return 0, fmt.Errorf("literal size %d but tokenStart %d is at/past end of buffer %d", sizeVal, tokenStart, bufferLen)
	case tokenStart+sizeVal > bufferLen:
		return bufferLen - 1, nil
	default:
		return tokenStart + sizeVal - 1, nil
	}
}

// parseFetchTokens tokenizes the payload of one FETCH line: quoted strings
// (escapes removed), {n} literals (taken verbatim, byte-counted), bare
// atoms (NIL and numbers recognized), and parenthesized groups nested to
// any depth. A single all-enclosing group is unwrapped.
func parseFetchTokens(r string) ([]*Token, error) {
	tokens := make([]*Token, 0)

	currentToken := TUnset
	tokenStart := 0
	tokenEnd := 0
	depth := 0
	container := make([]tokenContainer, 4)
	container[0] = &tokens

	pushToken := func() *Token {
		var t *Token
		switch currentToken {
		case TQuoted:
			t = &Token{Type: TQuoted, Str: RemoveSlashes.Replace(string(r[tokenStart : tokenEnd+1]))}
		case TLiteral:
			s := string(r[tokenStart : tokenEnd+1])
			if num, err := strconv.Atoi(s); err == nil {
				t = &Token{Type: TNumber, Num: num}
			} else if s == "NIL" {
				t = &Token{Type: TNil}
			} else {
				t = &Token{Type: TLiteral, Str: s}
			}
		case TAtom:
			t = &Token{Type: TAtom, Str: string(r[tokenStart : tokenEnd+1])}
		case TContainer:
			t = &Token{Type: TContainer, Tokens: make([]*Token, 0, 1)}
		}

		if t != nil {
			*container[depth] = append(*container[depth], t)
		}
		currentToken = TUnset

		return t
	}

	l := len(r)
	i := 0
	for i < l {
		b := r[i]

		switch currentToken {
		case TQuoted:
			switch b {
			case '"':
				tokenEnd = i - 1
				pushToken()
				goto Cont
			case '\\':
				i++
				goto Cont
			}
		case TLiteral:
			switch {
			case IsLiteral(rune(b)):
			default:
				tokenEnd = i - 1
				pushToken()
			}
		case TAtom:
			// TAtom here is the {n} size still being read; anything but a
			// digit must be the closing brace.
			switch {
			case unicode.IsDigit(rune(b)):
			default:
				sizeVal, err := strconv.Atoi(string(r[tokenStart:i]))
				if err != nil {
					return nil, fmt.Errorf("bad literal size %q: %w", string(r[tokenStart:i]), err)
				}

				// Step past the brace and the CRLF the size line ends with;
				// the literal's bytes start right after.
				i++
				if i < len(r) && r[i] == '\r' {
					i++
				}
				if i < len(r) && r[i] == '\n' {
					i++
				}

				tokenStart = i
				tokenEnd, err = calculateTokenEnd(tokenStart, sizeVal, len(r))
				if err != nil {
					return nil, err
				}

				i = tokenEnd
				pushToken()
			}
		}

		if currentToken == TUnset {
			switch {
			case b == '"':
				currentToken = TQuoted
				tokenStart = i + 1
			case IsLiteral(rune(b)):
				currentToken = TLiteral
				tokenStart = i
			case b == '{':
				currentToken = TAtom
				tokenStart = i + 1
			case b == '(':
				currentToken = TContainer
				t := pushToken()
				depth++
				if depth >= len(container) {
					grown := make([]tokenContainer, depth*2)
					copy(grown, container)
					container = grown
				}
				container[depth] = &t.Tokens
			case b == ')':
				if depth == 0 {
					return nil, fmt.Errorf("unmatched ')' at char %d in %s", i, r)
				}
				pushToken()
				depth--
			}
		}

	Cont:
		if depth < 0 {
			break
		}
		i++
		if i >= l {
			// Whatever token the input ended inside of still counts.
			if currentToken != TUnset {
				tokenEnd = l - 1
				pushToken()
			}
		}
	}

	if depth != 0 {
		return nil, fmt.Errorf("mismatched parentheses, depth %d at end of parsing %s", depth, r)
	}

	if len(tokens) == 1 && tokens[0].Type == TContainer {
		tokens = tokens[0].Tokens
	}

	return tokens, nil
}

// fetchRecord is one message's parsed FETCH payload with the sequence
// number the server announced it under.
type fetchRecord struct {
	Seq    int
	Tokens []*Token
}

// parseFetchLine validates one "* <seq> FETCH ..." line and tokenizes its
// payload.
func parseFetchLine(line string) (fetchRecord, error) {
	if !strings.HasPrefix(line, "* ") {
		return fetchRecord{}, fmt.Errorf("unable to parse fetch line (expected '* ' prefix): %#v", line)
	}
	rest := line[2:]
	idx := strings.IndexByte(rest, ' ')
	if idx == -1 {
		return fetchRecord{}, fmt.Errorf("unable to parse fetch line (no space after seq number): %#v", line)
	}
	seqNumStr := rest[:idx]
	seq, err := strconv.Atoi(seqNumStr)
	if err != nil {
		return fetchRecord{}, fmt.Errorf("unable to parse fetch line (invalid seq num %s): %#v: %w", seqNumStr, line, err)
	}
	rest = strings.TrimSpace(rest[idx+1:])
	if !strings.HasPrefix(rest, "FETCH ") {
		return fetchRecord{}, fmt.Errorf("unable to parse fetch line (expected 'FETCH ' after seq num): %#v", line)
	}
	fetchContent := rest[len("FETCH "):]
	tokens, err := parseFetchTokens(fetchContent)
	if err != nil {
		return fetchRecord{}, fmt.Errorf("token parsing failed for line part [%s] from original line [%s]: %w", fetchContent, line, err)
	}
	return fetchRecord{Seq: seq, Tokens: tokens}, nil
}

// parseFetchRecords splits a multi-line FETCH response into per-message
// records, keeping each message's sequence number. Literal payloads were
// already spliced into their lines by the read loop, so line starts are
// found by pattern rather than by line breaks.
func (c *Client) parseFetchRecords(responseBody string) ([]fetchRecord, error) {
	records := make([]fetchRecord, 0)
	trimmedResponseBody := strings.TrimSpace(responseBody)
	if trimmedResponseBody == "" {
		return records, nil
	}

	locs := fetchLineStartRE.FindAllStringIndex(trimmedResponseBody, -1)

	if locs == nil {
		// No FETCH lines found by pattern; try the body as a single line.
		if strings.HasPrefix(trimmedResponseBody, "* ") {
			rec, err := parseFetchLine(trimmedResponseBody)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		return records, nil
	}

	for i, loc := range locs {
		start := loc[0]
		end := len(trimmedResponseBody)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		line := strings.TrimSpace(trimmedResponseBody[start:end])
		if len(line) == 0 {
			continue
		}

		rec, err := parseFetchLine(line)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// ParseFetchResponse parses a multi-line FETCH response body into one token
// list per message, sequence numbers dropped.
func (c *Client) ParseFetchResponse(responseBody string) ([][]*Token, error) {
	recs, err := c.parseFetchRecords(responseBody)
	if err != nil {
		return nil, err
	}
	records := make([][]*Token, 0, len(recs))
	for _, rec := range recs {
		records = append(records, rec.Tokens)
	}
	return records, nil
}

// parseUIDSearchResponse extracts the hit list from an untagged SEARCH
// line.
func parseUIDSearchResponse(r string) ([]int, error) {
	if idx := strings.Index(r, nl); idx != -1 {
		r = r[:idx]
	}
	fields := strings.Fields(r)
	if len(fields) < 2 || fields[0] != "*" || fields[1] != "SEARCH" {
		return nil, fmt.Errorf("invalid response: %q", r)
	}
	uids := make([]int, 0, len(fields)-2)
	for _, f := range fields[2:] {
		u, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		uids = append(uids, u)
	}
	return uids, nil
}

// parseUntaggedNumeric matches untagged announcements of the form
// "* <n> <keyword>", such as EXISTS and EXPUNGE lines.
func parseUntaggedNumeric(line []byte, keyword string) (int, bool) {
	fields := strings.Fields(string(dropNl(line)))
	if len(fields) != 3 || fields[0] != "*" || !strings.EqualFold(fields[2], keyword) {
		return 0, false
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseCapabilities extracts capability names from an untagged CAPABILITY
// line or from a [CAPABILITY ...] response code embedded in a greeting.
func parseCapabilities(line []byte) (map[string]bool, bool) {
	s := string(dropNl(line))
	var list string
	if strings.HasPrefix(s, "* CAPABILITY ") {
		list = s[len("* CAPABILITY "):]
	} else {
		start := strings.Index(s, "[CAPABILITY ")
		if start < 0 {
			return nil, false
		}
		end := strings.IndexByte(s[start:], ']')
		if end < 0 {
			return nil, false
		}
		list = s[start+len("[CAPABILITY ") : start+end]
	}

	caps := make(map[string]bool)
	for _, f := range strings.Fields(list) {
		caps[strings.ToUpper(f)] = true
	}
	return caps, len(caps) > 0
}

// IsLiteral reports whether a rune can continue a bare atom: letters,
// digits, and the punctuation seen in flags (\Seen) and section specs
// (BODY[HEADER]).
func IsLiteral(b rune) bool {
	switch {
	case unicode.IsDigit(b),
		unicode.IsLetter(b),
		b == '\\',
		b == '.',
		b == '[',
		b == ']':
		return true
	}
	return false
}

// GetTokenName names a token type for error and debug output.
func GetTokenName(tokenType TType) string {
	switch tokenType {
	case TUnset:
		return "TUnset"
	case TAtom:
		return "TAtom"
	case TNumber:
		return "TNumber"
	case TLiteral:
		return "TLiteral"
	case TQuoted:
		return "TQuoted"
	case TNil:
		return "TNil"
	case TContainer:
		return "TContainer"
	}
	return ""
}

func (t Token) String() string {
	tokenType := GetTokenName(t.Type)
	switch t.Type {
	case TUnset, TNil:
		return tokenType
	case TAtom, TQuoted:
		return fmt.Sprintf("(%s, len %d, chars %d %#v)", tokenType, len(t.Str), len([]rune(t.Str)), t.Str)
	case TNumber:
		return fmt.Sprintf("(%s %d)", tokenType, t.Num)
	case TLiteral:
		return fmt.Sprintf("(%s %s)", tokenType, t.Str)
	case TContainer:
		return fmt.Sprintf("(%s children: %s)", tokenType, t.Tokens)
	}
	return ""
}

// CheckType errors unless token is one of the acceptable types. The error
// names the session, the selected folder, and the position described by
// loc, so envelope-walk failures can be traced to a server's exact FETCH
// shape.
func (c *Client) CheckType(token *Token, acceptableTypes []TType, tks []*Token, loc string, v ...interface{}) error {
	for _, a := range acceptableTypes {
		if token.Type == a {
			return nil
		}
	}
	names := make([]string, 0, len(acceptableTypes))
	for _, a := range acceptableTypes {
		names = append(names, GetTokenName(a))
	}
	return fmt.Errorf("imap %s:%s: expected %s token %s, got %+v in %v",
		c.session, c.Folder, strings.Join(names, "|"), fmt.Sprintf(loc, v...), token, tks)
}
