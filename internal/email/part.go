// Package email defines the message model shared by every mail engine
// backend: the ordered MIME part list, the top-level body, headers, and the
// composer that keeps text alternatives consistent across repeated calls.
package email

import (
	"mime"
	"path/filepath"
	"strings"
)

// Content types used by the body setters.
const (
	ContentTypeText = "text/plain"
	ContentTypeHTML = "text/html"
)

// DefaultCharset is used when a message is created without an explicit charset.
const DefaultCharset = "utf-8"

// defaultAttachmentType is used when neither the caller nor the file
// extension tells us what an attachment is.
const defaultAttachmentType = "application/octet-stream"

// Kind tells a textual alternative apart from attachment-like parts.
type Kind int

const (
	// KindAlternative is one rendering of the message body (plain, HTML, ...).
	KindAlternative Kind = iota
	// KindAttachment is a file offered for download.
	KindAttachment
	// KindInline is a file embedded in the HTML body and referenced by Content-ID.
	KindInline
)

// String returns the disposition-like name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAttachment:
		return "attachment"
	case KindInline:
		return "inline"
	default:
		return "alternative"
	}
}

// Part is a single child of a message.
type Part struct {
	Kind        Kind
	ContentType string
	Charset     string
	Content     []byte

	// Filename and ContentID only apply to attachment-like parts.
	Filename  string
	ContentID string
}

// IsAttachment reports whether the part is attachment-like. The composer
// skips these parts entirely.
func (p *Part) IsAttachment() bool {
	return p.Kind != KindAlternative
}

// MediaType returns the content type without parameters.
func (p *Part) MediaType() string {
	mediaType, _, err := mime.ParseMediaType(p.ContentType)
	if err != nil {
		return p.ContentType
	}
	return mediaType
}

// AttachOptions overrides the file name and content type of an attachment
// or embedded file.
type AttachOptions struct {
	Filename    string
	ContentType string
}

// resolve fills in the defaults for a part named by path (which may be empty
// for content attachments).
func (o AttachOptions) resolve(path string) AttachOptions {
	if o.Filename == "" && path != "" {
		o.Filename = filepath.Base(path)
	}
	if o.ContentType == "" {
		o.ContentType = detectContentType(o.Filename)
	}
	return o
}

// detectContentType guesses a content type from the file extension.
func detectContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return defaultAttachmentType
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return defaultAttachmentType
}
