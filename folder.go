package imap

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/utf7"
)

// listLiteralRE matches a {n} literal marker at the start of a list line's
// mailbox-name field, with the line break the splice kept in place.
var listLiteralRE = regexp.MustCompile(`^\{(\d+)\}\r?\n?`)

// Folder is one mailbox as the server listed it. Values are rebuilt on
// every listing; none of the fields track server state after the fact.
type Folder struct {
	// Path is the full folder path decoded to UTF-8, delimiters included.
	Path string
	// RawPath is the server-native modified UTF-7 path as listed, the form
	// sent back on the wire.
	RawPath string
	// Name is the decoded last path segment.
	Name string
	// Delimiter separates hierarchy levels in Path. Servers that report
	// NIL get the configured default.
	Delimiter string

	Attributes FolderAttributes

	// Children are the folders nested directly under this one, populated
	// by hierarchical listings.
	Children []*Folder

	c *Client
}

// FolderAttributes are the name attributes from a LIST entry.
type FolderAttributes struct {
	NoInferiors bool
	NoSelect    bool
	Marked      bool
	HasChildren bool
	Referral    bool
}

// FolderStatus is a point-in-time counter snapshot from STATUS.
type FolderStatus struct {
	Messages    int
	Recent      int
	Unseen      int
	UIDNext     int
	UIDValidity int
}

// Status fetches the folder's counters on demand through the owning client.
func (f *Folder) Status() (*FolderStatus, error) {
	return f.c.Status(f.Path)
}

// decodeFolderName converts a server-native modified UTF-7 mailbox name to
// UTF-8. Undecodable names come back unchanged so uncooperative servers
// still list.
func decodeFolderName(raw string) string {
	out, err := utf7.Encoding.NewDecoder().String(raw)
	if err != nil {
		return raw
	}
	return out
}

// encodeFolderName converts a UTF-8 mailbox name to the modified UTF-7 form
// the wire expects.
func encodeFolderName(name string) string {
	out, err := utf7.Encoding.NewEncoder().String(name)
	if err != nil {
		return name
	}
	return out
}

// ListFolders issues LIST with the given reference and pattern. Paths in
// the returned folders are decoded UTF-8, with the raw server-native names
// kept alongside.
func (c *Client) ListFolders(reference, pattern string) ([]*Folder, error) {
	if err := c.CheckConnection(); err != nil {
		return nil, err
	}
	folders := make([]*Folder, 0)
	cmd := fmt.Sprintf("LIST %s %s", quote(encodeFolderName(reference)), quote(encodeFolderName(pattern)))
	_, err := c.ch.Exec(cmd, false, func(line []byte) error {
		f, ok, err := c.parseFolderEntry(line)
		if err != nil {
			return err
		}
		if ok {
			folders = append(folders, f)
		}
		return nil
	})
	if err != nil {
		return nil, &FolderError{Op: "list", Folder: pattern, Err: err}
	}
	return folders, nil
}

// Folders lists every folder the account can see, flat.
func (c *Client) Folders() ([]*Folder, error) {
	return c.ListFolders("", "*")
}

// FolderByPath finds one folder by its decoded path.
func (c *Client) FolderByPath(path string) (*Folder, error) {
	folders, err := c.Folders()
	if err != nil {
		return nil, err
	}
	for _, f := range folders {
		if f.Path == path {
			return f, nil
		}
	}
	return nil, &FolderError{Op: "find", Folder: path, Err: errors.New("no such folder")}
}

// FolderByName finds one folder by its decoded display name, the last path
// segment. Names are not unique across the hierarchy; the first listed match
// wins.
func (c *Client) FolderByName(name string) (*Folder, error) {
	folders, err := c.Folders()
	if err != nil {
		return nil, err
	}
	for _, f := range folders {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, &FolderError{Op: "find", Folder: name, Err: errors.New("no such folder")}
}

// FolderTree lists folders hierarchically: one LIST per level with the "%"
// pattern, descending only into folders whose attributes advertise
// children. Leaf folders never trigger a nested listing.
func (c *Client) FolderTree() ([]*Folder, error) {
	roots, err := c.ListFolders("", "%")
	if err != nil {
		return nil, err
	}
	roots = BuildFolderTree(roots)
	for _, f := range roots {
		if err := c.fillChildren(f); err != nil {
			return nil, err
		}
	}
	return roots, nil
}

func (c *Client) fillChildren(f *Folder) error {
	if !f.Attributes.HasChildren || f.Attributes.NoInferiors {
		return nil
	}
	if len(f.Children) == 0 {
		children, err := c.ListFolders("", f.Path+f.Delimiter+"%")
		if err != nil {
			return err
		}
		prefix := f.Path + f.Delimiter
		kept := children[:0]
		for _, ch := range children {
			if strings.HasPrefix(ch.Path, prefix) {
				kept = append(kept, ch)
			}
		}
		f.Children = BuildFolderTree(kept)
	}
	for _, ch := range f.Children {
		if err := c.fillChildren(ch); err != nil {
			return err
		}
	}
	return nil
}

// BuildFolderTree nests a flat listing into a hierarchy by path: every
// folder becomes a child of its deepest listed ancestor, and folders with
// no listed ancestor become roots. Children slices are rebuilt; input order
// decides sibling order.
func BuildFolderTree(folders []*Folder) []*Folder {
	byPath := make(map[string]*Folder, len(folders))
	for _, f := range folders {
		f.Children = nil
		byPath[f.Path] = f
	}

	roots := make([]*Folder, 0, len(folders))
	for _, f := range folders {
		if parent := listedAncestor(byPath, f); parent != nil {
			parent.Children = append(parent.Children, f)
		} else {
			roots = append(roots, f)
		}
	}
	return roots
}

func listedAncestor(byPath map[string]*Folder, f *Folder) *Folder {
	if f.Delimiter == "" {
		return nil
	}
	path := f.Path
	for {
		i := strings.LastIndex(path, f.Delimiter)
		if i <= 0 {
			return nil
		}
		path = path[:i]
		if p, ok := byPath[path]; ok && p != f {
			return p
		}
	}
}

// parseFolderEntry turns one untagged LIST or LSUB line into a Folder.
// Lines of other shapes are skipped, not failed, since a listing response
// may interleave unrelated untagged data.
func (c *Client) parseFolderEntry(line []byte) (*Folder, bool, error) {
	s := string(dropNl(line))
	if !strings.HasPrefix(s, "* LIST ") && !strings.HasPrefix(s, "* LSUB ") {
		return nil, false, nil
	}
	attrs, delim, raw, err := parseListLine(s)
	if err != nil {
		return nil, false, err
	}
	if delim == "" {
		delim = c.cfg.DefaultDelimiter
	}
	path := decodeFolderName(raw)
	f := &Folder{
		Path:       path,
		RawPath:    raw,
		Name:       lastSegment(path, delim),
		Delimiter:  delim,
		Attributes: parseFolderAttributes(attrs),
		c:          c,
	}
	return f, true, nil
}

// parseListLine splits a LIST or LSUB line into its attribute names,
// hierarchy delimiter and raw mailbox name. A NIL delimiter comes back
// empty. Literal names arrive already spliced into the logical line by the
// command channel.
func parseListLine(s string) (attrs []string, delim, name string, err error) {
	ls := newLineScanner(s)
	if ls.next() != "*" {
		return nil, "", "", fmt.Errorf("unexpected list line: %q", s)
	}
	if verb := ls.next(); !strings.EqualFold(verb, "LIST") && !strings.EqualFold(verb, "LSUB") {
		return nil, "", "", fmt.Errorf("unexpected list line: %q", s)
	}

	group := ls.next()
	if !strings.HasPrefix(group, "(") {
		return nil, "", "", fmt.Errorf("missing attribute group in list line: %q", s)
	}
	attrs = strings.Fields(strings.Trim(group, "()"))

	delim = ls.next()
	if strings.EqualFold(delim, "NIL") {
		delim = ""
	}

	if m := listLiteralRE.FindStringSubmatch(ls.rest()); m != nil {
		// Literal marker; the name bytes follow the embedded line break and
		// may themselves contain spaces.
		n, convErr := strconv.Atoi(m[1])
		if convErr != nil {
			return nil, "", "", fmt.Errorf("bad literal length in list line: %q", s)
		}
		data := ls.rest()[len(m[0]):]
		if n > len(data) {
			n = len(data)
		}
		name = data[:n]
	} else {
		name = ls.next()
	}
	if name == "" {
		return nil, "", "", fmt.Errorf("missing mailbox name in list line: %q", s)
	}
	return attrs, delim, name, nil
}

func parseFolderAttributes(attrs []string) FolderAttributes {
	var fa FolderAttributes
	for _, a := range attrs {
		switch strings.ToLower(strings.TrimPrefix(a, `\`)) {
		case "noinferiors":
			fa.NoInferiors = true
		case "noselect":
			fa.NoSelect = true
		case "marked":
			fa.Marked = true
		case "haschildren":
			fa.HasChildren = true
		case "referral":
			fa.Referral = true
		}
	}
	return fa
}

func lastSegment(path, delim string) string {
	if delim == "" {
		return path
	}
	if i := strings.LastIndex(path, delim); i >= 0 {
		return path[i+len(delim):]
	}
	return path
}

// SelectFolder selects a folder in read-write mode. On failure the active
// folder marker is cleared rather than left pointing at a folder the
// session never selected.
func (c *Client) SelectFolder(folder string) error {
	return c.selectFolder(folder, false)
}

// ExamineFolder selects a folder in read-only mode.
func (c *Client) ExamineFolder(folder string) error {
	return c.selectFolder(folder, true)
}

func (c *Client) selectFolder(folder string, readOnly bool) error {
	if err := c.CheckConnection(); err != nil {
		return err
	}
	verb, op := "SELECT", "select"
	if readOnly {
		verb, op = "EXAMINE", "examine"
	}

	// Selection moves the sequence-number frame even when it fails.
	c.uids.invalidate()

	if _, err := c.ch.Exec(verb+" "+quote(encodeFolderName(folder)), true, nil); err != nil {
		c.Folder = ""
		c.ReadOnly = false
		c.setState(StateAuthenticated)
		return &FolderError{Op: op, Folder: folder, Err: err}
	}
	c.Folder = folder
	c.ReadOnly = readOnly
	c.setState(StateSelected)
	return nil
}

// OpenFolder makes folder the selected folder. When it already is and force
// is false, no command is issued. Forcing reselects unconditionally, which
// also resets the sequence-number frame after external changes.
func (c *Client) OpenFolder(folder string, force bool) error {
	if !force && folder == c.Folder && c.connected() {
		return nil
	}
	return c.SelectFolder(folder)
}

// FolderExists reports whether a folder accepts selection, using EXAMINE so
// the probe stays read-only. A tagged NO means absent; transport failures
// propagate. As with any selection, a successful probe leaves the examined
// folder selected.
func (c *Client) FolderExists(folder string) (bool, error) {
	err := c.ExamineFolder(folder)
	if err == nil {
		return true, nil
	}
	var perr *ProtocolError
	if errors.As(err, &perr) && perr.Status != "" {
		return false, nil
	}
	return false, err
}

// CreateFolder creates a folder and notifies the listener.
func (c *Client) CreateFolder(folder string) error {
	if err := c.CheckConnection(); err != nil {
		return err
	}
	if _, err := c.ch.Exec("CREATE "+quote(encodeFolderName(folder)), false, nil); err != nil {
		return &FolderError{Op: "create", Folder: folder, Err: err}
	}
	c.notifyFolderCreated(folder)
	return nil
}

// DeleteFolder deletes a folder and notifies the listener. Deleting the
// selected folder clears the selection.
func (c *Client) DeleteFolder(folder string) error {
	if err := c.CheckConnection(); err != nil {
		return err
	}
	if _, err := c.ch.Exec("DELETE "+quote(encodeFolderName(folder)), false, nil); err != nil {
		return &FolderError{Op: "delete", Folder: folder, Err: err}
	}
	if c.Folder == folder {
		c.clearSelection()
	}
	c.notifyFolderDeleted(folder)
	return nil
}

// RenameFolder renames a folder and notifies the listener. Renaming the
// selected folder clears the selection; callers reopen under the new path.
func (c *Client) RenameFolder(oldPath, newPath string) error {
	if err := c.CheckConnection(); err != nil {
		return err
	}
	cmd := fmt.Sprintf("RENAME %s %s", quote(encodeFolderName(oldPath)), quote(encodeFolderName(newPath)))
	if _, err := c.ch.Exec(cmd, false, nil); err != nil {
		return &FolderError{Op: "rename", Folder: oldPath, Err: err}
	}
	if c.Folder == oldPath {
		c.clearSelection()
	}
	c.notifyFolderMoved(oldPath, newPath)
	return nil
}

// SubscribeFolder adds a folder to the subscription list.
func (c *Client) SubscribeFolder(folder string) error {
	if err := c.CheckConnection(); err != nil {
		return err
	}
	if _, err := c.ch.Exec("SUBSCRIBE "+quote(encodeFolderName(folder)), false, nil); err != nil {
		return &FolderError{Op: "subscribe", Folder: folder, Err: err}
	}
	return nil
}

// UnsubscribeFolder removes a folder from the subscription list.
func (c *Client) UnsubscribeFolder(folder string) error {
	if err := c.CheckConnection(); err != nil {
		return err
	}
	if _, err := c.ch.Exec("UNSUBSCRIBE "+quote(encodeFolderName(folder)), false, nil); err != nil {
		return &FolderError{Op: "unsubscribe", Folder: folder, Err: err}
	}
	return nil
}

// Status fetches a folder's counters without selecting it.
func (c *Client) Status(folder string) (*FolderStatus, error) {
	if err := c.CheckConnection(); err != nil {
		return nil, err
	}
	var status *FolderStatus
	cmd := "STATUS " + quote(encodeFolderName(folder)) + " (MESSAGES RECENT UNSEEN UIDNEXT UIDVALIDITY)"
	_, err := c.ch.Exec(cmd, false, func(line []byte) error {
		if st, ok := parseStatusLine(line); ok {
			status = st
		}
		return nil
	})
	if err != nil {
		return nil, &FolderError{Op: "status", Folder: folder, Err: err}
	}
	if status == nil {
		return nil, &FolderError{Op: "status", Folder: folder, Err: &ProtocolError{Text: "no status line in response"}}
	}
	return status, nil
}

// parseStatusLine parses `* STATUS <name> (MESSAGES n ...)`. The counter
// group is found from the line's end, so mailbox names with parentheses or
// spliced literals cannot throw it off.
func parseStatusLine(line []byte) (*FolderStatus, bool) {
	s := string(dropNl(line))
	ls := newLineScanner(s)
	if ls.next() != "*" || !strings.EqualFold(ls.next(), "STATUS") {
		return nil, false
	}

	open := strings.LastIndex(s, "(")
	end := strings.LastIndex(s, ")")
	if open < 0 || end < open {
		return nil, false
	}
	fields := strings.Fields(s[open+1 : end])

	st := &FolderStatus{}
	for i := 0; i+1 < len(fields); i += 2 {
		n, err := strconv.Atoi(fields[i+1])
		if err != nil {
			continue
		}
		switch strings.ToUpper(fields[i]) {
		case "MESSAGES":
			st.Messages = n
		case "RECENT":
			st.Recent = n
		case "UNSEEN":
			st.Unseen = n
		case "UIDNEXT":
			st.UIDNext = n
		case "UIDVALIDITY":
			st.UIDValidity = n
		}
	}
	return st, true
}

// TotalMessages sums MESSAGES counters across every folder, skipping the
// ones named in excluding. Folders that refuse STATUS, such as \Noselect
// containers, are skipped rather than failing the sweep.
func (c *Client) TotalMessages(excluding ...string) (int, error) {
	folders, err := c.Folders()
	if err != nil {
		return 0, err
	}
	skip := make(map[string]bool, len(excluding))
	for _, f := range excluding {
		skip[f] = true
	}

	total := 0
	for _, f := range folders {
		if skip[f.Path] || f.Attributes.NoSelect {
			continue
		}
		st, err := c.Status(f.Path)
		if err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) && perr.Status != "" {
				continue
			}
			return 0, err
		}
		total += st.Messages
	}
	return total, nil
}
