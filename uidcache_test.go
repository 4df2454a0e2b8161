package imap

import "testing"

func TestUIDCacheLookup(t *testing.T) {
	var uc uidCache

	if _, ok := uc.lookup("INBOX", 1); ok {
		t.Fatal("empty cache returned a mapping")
	}

	uc.store("INBOX", map[int]int{1: 101, 2: 102})
	if uid, ok := uc.lookup("INBOX", 2); !ok || uid != 102 {
		t.Errorf("lookup = %d, %v; want 102, true", uid, ok)
	}
	if _, ok := uc.lookup("INBOX", 9); ok {
		t.Error("unknown sequence number returned a mapping")
	}
	if _, ok := uc.lookup("Archive", 1); ok {
		t.Error("mapping leaked across folders")
	}
}

func TestUIDCacheInvalidate(t *testing.T) {
	var uc uidCache
	uc.store("INBOX", map[int]int{1: 101})

	uc.invalidate()
	if _, ok := uc.lookup("INBOX", 1); ok {
		t.Error("mapping survived invalidation")
	}

	// A mapping stored before the epoch moved must not satisfy lookups made
	// after it moved.
	stale := map[int]int{1: 101}
	uc.store("INBOX", stale)
	uc.invalidate()
	uc.folder = "INBOX"
	uc.seqs = stale
	if _, ok := uc.lookup("INBOX", 1); ok {
		t.Error("stale-epoch mapping satisfied a lookup")
	}
}

func TestUIDFetchPattern(t *testing.T) {
	tests := []struct {
		line string
		seq  string
		uid  string
	}{
		{"* 1 FETCH (UID 101)", "1", "101"},
		{"* 23 FETCH (UID 44292)", "23", "44292"},
	}
	for _, tt := range tests {
		m := uidFetchRE.FindStringSubmatch(tt.line)
		if m == nil {
			t.Fatalf("no match for %q", tt.line)
		}
		if m[1] != tt.seq || m[2] != tt.uid {
			t.Errorf("%q parsed as seq %s uid %s", tt.line, m[1], m[2])
		}
	}

	for _, line := range []string{
		"* 1 FETCH (FLAGS (\\Seen))",
		"A1 OK FETCH completed",
		"* SEARCH 1 2",
	} {
		if uidFetchRE.MatchString(line) {
			t.Errorf("unexpected match for %q", line)
		}
	}
}
