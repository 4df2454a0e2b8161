package imap

import (
	"fmt"
	"strings"
	"time"
)

// String replacers for escaping/unescaping quotes
var (
	AddSlashes    = strings.NewReplacer(`"`, `\"`)
	RemoveSlashes = strings.NewReplacer(`\"`, `"`)
)

// dropNl removes trailing newline characters from a byte slice
func dropNl(b []byte) []byte {
	if len(b) >= 1 && b[len(b)-1] == '\n' {
		if len(b) >= 2 && b[len(b)-2] == '\r' {
			return b[:len(b)-2]
		} else {
			return b[:len(b)-1]
		}
	}
	return b
}

// MakeIMAPLiteral generates IMAP literal syntax for non-ASCII strings.
// It returns a string in the format "{bytecount}\r\ntext" where bytecount
// is the number of bytes (not characters) in the input string.
// This is useful for search queries with non-ASCII characters.
// Example: MakeIMAPLiteral("тест") returns "{8}\r\nтест"
func MakeIMAPLiteral(s string) string {
	return fmt.Sprintf("{%d}\r\n%s", len([]byte(s)), s)
}

// formatInternalDate renders a time in the INTERNALDATE form APPEND expects,
// with a zero-padded day. Zero times render as the empty string so callers
// can omit the field.
func formatInternalDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(AppendTimeFormat)
}

// quote wraps s in double quotes, escaping embedded quotes.
func quote(s string) string {
	return `"` + AddSlashes.Replace(s) + `"`
}
