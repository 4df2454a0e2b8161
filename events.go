package imap

// Listener receives session notifications. Calls are synchronous, made on
// the goroutine driving the client, and block it until they return; keep
// implementations short or hand off internally.
type Listener interface {
	// FolderCreated fires after a folder is created.
	FolderCreated(folder string)
	// FolderMoved fires after a folder is renamed.
	FolderMoved(oldPath, newPath string)
	// FolderDeleted fires after a folder is deleted.
	FolderDeleted(folder string)
	// NewMessage fires when the idle loop resolves a newly arrived message
	// in the watched folder.
	NewMessage(folder string, email *Email)
}

func (c *Client) notifyFolderCreated(folder string) {
	if c.cfg.Listener != nil {
		c.cfg.Listener.FolderCreated(folder)
	}
}

func (c *Client) notifyFolderMoved(oldPath, newPath string) {
	if c.cfg.Listener != nil {
		c.cfg.Listener.FolderMoved(oldPath, newPath)
	}
}

func (c *Client) notifyFolderDeleted(folder string) {
	if c.cfg.Listener != nil {
		c.cfg.Listener.FolderDeleted(folder)
	}
}

func (c *Client) notifyNewMessage(folder string, email *Email) {
	if c.cfg.Listener != nil {
		c.cfg.Listener.NewMessage(folder, email)
	}
}
