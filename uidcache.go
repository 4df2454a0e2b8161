package imap

import (
	"fmt"
	"regexp"
	"strconv"
)

var uidFetchRE = regexp.MustCompile(`^\* (\d+) FETCH \(UID (\d+)\)`)

// uidCache maps sequence numbers to UIDs for the folder a session has
// selected, so sequence-number announcements can be satisfied while the
// session addresses messages by UID. The mapping carries the epoch it was
// built under; every (re-)selection and every size-changing idle event
// advances the epoch, since sequence numbers are only stable between those
// points.
type uidCache struct {
	epoch     uint64
	folder    string
	seqs      map[int]int
	seqsEpoch uint64
}

// invalidate drops the mapping and advances the epoch.
func (uc *uidCache) invalidate() {
	uc.epoch++
	uc.folder = ""
	uc.seqs = nil
}

// store replaces the mapping for folder at the current epoch.
func (uc *uidCache) store(folder string, seqs map[int]int) {
	uc.folder = folder
	uc.seqs = seqs
	uc.seqsEpoch = uc.epoch
}

// lookup returns the UID for seq when the cache holds a current mapping for
// folder.
func (uc *uidCache) lookup(folder string, seq int) (int, bool) {
	if uc.seqs == nil || uc.folder != folder || uc.seqsEpoch != uc.epoch {
		return 0, false
	}
	uid, ok := uc.seqs[seq]
	return uid, ok
}

// uidForSeq resolves a sequence number to a UID through the cache,
// rebuilding the mapping from the server once on a miss. The folder must be
// selected. With the cache disabled every call fetches a fresh mapping.
func (c *Client) uidForSeq(seq int) (int, error) {
	if !c.cfg.DisableUIDCache {
		if uid, ok := c.uids.lookup(c.Folder, seq); ok {
			return uid, nil
		}
	}

	seqs, err := c.fetchUIDMap()
	if err != nil {
		return 0, err
	}
	if !c.cfg.DisableUIDCache {
		c.uids.store(c.Folder, seqs)
	}

	uid, ok := seqs[seq]
	if !ok {
		return 0, &ProtocolError{Text: fmt.Sprintf("no uid for sequence number %d in %q", seq, c.Folder)}
	}
	return uid, nil
}

// fetchUIDMap builds the sequence-to-UID mapping for the selected folder.
func (c *Client) fetchUIDMap() (map[int]int, error) {
	seqs := make(map[int]int)
	_, err := c.ch.Exec("FETCH 1:* (UID)", false, func(line []byte) error {
		m := uidFetchRE.FindSubmatch(dropNl(line))
		if m == nil {
			return nil
		}
		seq, err := strconv.Atoi(string(m[1]))
		if err != nil {
			return nil
		}
		uid, err := strconv.Atoi(string(m[2]))
		if err != nil {
			return nil
		}
		seqs[seq] = uid
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seqs, nil
}
