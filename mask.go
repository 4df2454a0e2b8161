package imap

import (
	"time"

	humanize "github.com/dustin/go-humanize"
)

// MessageMask shapes a fetched message into a caller-facing representation.
// The client only resolves and applies masks; what a mask builds is its own
// business.
type MessageMask interface {
	MaskMessage(e *Email) any
}

// AttachmentMask shapes one attachment.
type AttachmentMask interface {
	MaskAttachment(a *Attachment) any
}

const defaultMaskName = "default"

var (
	messageMasks = map[string]func() MessageMask{
		defaultMaskName: func() MessageMask { return identityMessageMask{} },
		"summary":       func() MessageMask { return summaryMessageMask{} },
	}
	attachmentMasks = map[string]func() AttachmentMask{
		defaultMaskName: func() AttachmentMask { return identityAttachmentMask{} },
		"metadata":      func() AttachmentMask { return metadataAttachmentMask{} },
	}
)

// RegisterMessageMask adds a named mask factory. Like database/sql drivers,
// registration belongs in init functions; NewClient resolves configured
// names against the registry once, rejecting names it cannot find.
func RegisterMessageMask(name string, factory func() MessageMask) {
	messageMasks[name] = factory
}

// RegisterAttachmentMask adds a named attachment mask factory.
func RegisterAttachmentMask(name string, factory func() AttachmentMask) {
	attachmentMasks[name] = factory
}

// MaskMessage applies the mask named in the configuration.
func (c *Client) MaskMessage(e *Email) any { return c.messageMask.MaskMessage(e) }

// MaskAttachment applies the attachment mask named in the configuration.
func (c *Client) MaskAttachment(a *Attachment) any { return c.attachmentMask.MaskAttachment(a) }

type identityMessageMask struct{}

func (identityMessageMask) MaskMessage(e *Email) any { return e }

type identityAttachmentMask struct{}

func (identityAttachmentMask) MaskAttachment(a *Attachment) any { return a }

// MessageSummary is the shape produced by the "summary" message mask.
type MessageSummary struct {
	UID     int
	Subject string
	From    string
	Sent    time.Time
	Size    string
}

type summaryMessageMask struct{}

func (summaryMessageMask) MaskMessage(e *Email) any {
	return MessageSummary{
		UID:     e.UID,
		Subject: e.Subject,
		From:    e.From.String(),
		Sent:    e.Sent,
		Size:    humanize.Bytes(e.Size),
	}
}

// AttachmentInfo is the shape produced by the "metadata" attachment mask:
// everything about the attachment except its content.
type AttachmentInfo struct {
	Name     string
	MimeType string
	Size     string
}

type metadataAttachmentMask struct{}

func (metadataAttachmentMask) MaskAttachment(a *Attachment) any {
	return AttachmentInfo{
		Name:     a.Name,
		MimeType: a.MimeType,
		Size:     humanize.Bytes(uint64(len(a.Content))),
	}
}
