package imap

import (
	"testing"
	"time"
)

func TestMakeIMAPLiteral(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"test", "{4}\r\ntest"},
		{"тест", "{8}\r\nтест"},
		{"测试", "{6}\r\n测试"},
		{"😀👍", "{8}\r\n😀👍"},
		{"Prüfung", "{8}\r\nPrüfung"},
		{"", "{0}\r\n"},
	}

	for _, test := range tests {
		got := MakeIMAPLiteral(test.input)
		if got != test.expected {
			t.Errorf("MakeIMAPLiteral(%q) = %q, want %q", test.input, got, test.expected)
		}
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"INBOX", `"INBOX"`},
		{`Weird " Name`, `"Weird \" Name"`},
		{"", `""`},
	}
	for _, test := range tests {
		if got := quote(test.input); got != test.expected {
			t.Errorf("quote(%q) = %q, want %q", test.input, got, test.expected)
		}
	}
}

func TestSlashesRoundTrip(t *testing.T) {
	in := `a "quoted" value`
	escaped := AddSlashes.Replace(in)
	if escaped != `a \"quoted\" value` {
		t.Errorf("AddSlashes = %q", escaped)
	}
	if got := RemoveSlashes.Replace(escaped); got != in {
		t.Errorf("round trip = %q, want %q", got, in)
	}
}

func TestDropNl(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"line\r\n", "line"},
		{"line\n", "line"},
		{"line", "line"},
		{"", ""},
		{"\r\n", ""},
	}
	for _, test := range tests {
		if got := string(dropNl([]byte(test.input))); got != test.expected {
			t.Errorf("dropNl(%q) = %q, want %q", test.input, got, test.expected)
		}
	}
}

func TestFormatInternalDate(t *testing.T) {
	if got := formatInternalDate(time.Time{}); got != "" {
		t.Errorf("zero time = %q, want empty", got)
	}
	ts := time.Date(2025, time.July, 3, 9, 30, 0, 0, time.UTC)
	if got := formatInternalDate(ts); got != "03-Jul-2025 09:30:00 +0000" {
		t.Errorf("got %q", got)
	}
}
