package imap

// FlagSet is the action SetFlags takes on one flag. The zero value leaves
// the flag untouched, so a Flags literal only needs the flags it changes.
type FlagSet int

const (
	FlagUnset FlagSet = iota
	FlagAdd
	FlagRemove
)

// Flags selects per-flag actions for SetFlags: the named fields cover the
// standard system flags, Keywords covers custom ones (true adds, false
// removes).
type Flags struct {
	Seen     FlagSet
	Answered FlagSet
	Flagged  FlagSet
	Deleted  FlagSet
	Draft    FlagSet
	Keywords map[string]bool
}
