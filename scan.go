package imap

// lineScanner walks one untagged response line left to right, yielding
// space-separated fields while honoring double quotes and parenthesized
// groups. It keeps the strtok-style contract of returning "" once the line
// is exhausted, so callers can use results directly in conditions.
type lineScanner struct {
	s string
	i int
}

func newLineScanner(s string) *lineScanner { return &lineScanner{s: s} }

// next returns the next field. Quoted fields come back without their quotes
// and with escapes removed; parenthesized groups come back with their
// parentheses intact.
func (ls *lineScanner) next() string {
	ls.skipSpace()
	if ls.i >= len(ls.s) {
		return ""
	}
	switch ls.s[ls.i] {
	case '"':
		return ls.quoted()
	case '(':
		return ls.group()
	default:
		start := ls.i
		for ls.i < len(ls.s) && ls.s[ls.i] != ' ' {
			ls.i++
		}
		return ls.s[start:ls.i]
	}
}

// rest returns everything unconsumed, without leading space.
func (ls *lineScanner) rest() string {
	ls.skipSpace()
	if ls.i >= len(ls.s) {
		return ""
	}
	return ls.s[ls.i:]
}

func (ls *lineScanner) skipSpace() {
	for ls.i < len(ls.s) && ls.s[ls.i] == ' ' {
		ls.i++
	}
}

// quoted consumes a double-quoted field, honoring backslash escapes.
func (ls *lineScanner) quoted() string {
	ls.i++ // opening quote
	start := ls.i
	for ls.i < len(ls.s) {
		switch ls.s[ls.i] {
		case '\\':
			ls.i++
		case '"':
			out := RemoveSlashes.Replace(ls.s[start:ls.i])
			ls.i++
			return out
		}
		ls.i++
	}
	return RemoveSlashes.Replace(ls.s[start:])
}

// group consumes a parenthesized group. Nested groups and quoted strings
// containing parentheses stay intact.
func (ls *lineScanner) group() string {
	start := ls.i
	depth := 0
	for ls.i < len(ls.s) {
		switch ls.s[ls.i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				ls.i++
				return ls.s[start:ls.i]
			}
		case '"':
			ls.skipQuoted()
			continue
		}
		ls.i++
	}
	return ls.s[start:]
}

// skipQuoted advances past a quoted string, both quotes included.
func (ls *lineScanner) skipQuoted() {
	ls.i++ // opening quote
	for ls.i < len(ls.s) {
		switch ls.s[ls.i] {
		case '\\':
			ls.i++
		case '"':
			ls.i++
			return
		}
		ls.i++
	}
}
