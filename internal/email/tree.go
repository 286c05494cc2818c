package email

import (
	"fmt"
	"os"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/shineum/mailbridge/internal/signer"
)

// contentIDDomain is the right-hand side of generated Content-IDs.
const contentIDDomain = "mailbridge.generated"

// Tree is the engine-independent state of a message under construction.
// Engine backends embed a *Tree and add serialization on top of it.
//
// A Tree is not safe for concurrent use.
type Tree struct {
	charset     string
	body        string
	contentType string
	children    []*Part
	header      mail.Header
	signers     []signer.Signer
}

// NewTree returns an empty message using charset, or DefaultCharset if
// charset is empty.
func NewTree(charset string) *Tree {
	if charset == "" {
		charset = DefaultCharset
	}
	return &Tree{charset: charset}
}

// Charset returns the message-wide charset.
func (t *Tree) Charset() string {
	return t.charset
}

// SetCharset changes the message charset and relabels every textual child.
func (t *Tree) SetCharset(charset string) {
	if charset == "" {
		charset = DefaultCharset
	}
	t.charset = charset
	for _, part := range t.children {
		if !part.IsAttachment() {
			part.Charset = charset
		}
	}
}

// Body returns the top-level body and its content type.
func (t *Tree) Body() (string, string) {
	return t.body, t.contentType
}

// SetBody replaces the top-level body.
func (t *Tree) SetBody(content, contentType string) {
	t.body = content
	t.contentType = contentType
}

// ClearBody removes the top-level body.
func (t *Tree) ClearBody() {
	t.body = ""
	t.contentType = ""
}

// Children returns a copy of the child list. The parts themselves are shared.
func (t *Tree) Children() []*Part {
	out := make([]*Part, len(t.children))
	copy(out, t.children)
	return out
}

// SetChildren replaces the child list.
func (t *Tree) SetChildren(parts []*Part) {
	t.children = append([]*Part(nil), parts...)
}

// AddPart appends a textual alternative.
func (t *Tree) AddPart(content, contentType, charset string) {
	if charset == "" {
		charset = t.charset
	}
	t.children = append(t.children, &Part{
		Kind:        KindAlternative,
		ContentType: contentType,
		Charset:     charset,
		Content:     []byte(content),
	})
}

// SetTextBody sets the plain text body.
func (t *Tree) SetTextBody(text string) {
	SetTextBody(t, text)
}

// SetHTMLBody sets the HTML body.
func (t *Tree) SetHTMLBody(html string) {
	SetHTMLBody(t, html)
}

// TextParts returns every textual rendering in serialization order: the
// top-level body first, if any, then the alternative children.
func (t *Tree) TextParts() []*Part {
	var out []*Part
	if t.body != "" {
		out = append(out, &Part{
			Kind:        KindAlternative,
			ContentType: t.contentType,
			Charset:     t.charset,
			Content:     []byte(t.body),
		})
	}
	for _, part := range t.children {
		if part.Kind == KindAlternative {
			out = append(out, part)
		}
	}
	return out
}

// Attachments returns the parts offered for download.
func (t *Tree) Attachments() []*Part {
	return t.partsOfKind(KindAttachment)
}

// Inlines returns the embedded parts.
func (t *Tree) Inlines() []*Part {
	return t.partsOfKind(KindInline)
}

func (t *Tree) partsOfKind(k Kind) []*Part {
	var out []*Part
	for _, part := range t.children {
		if part.Kind == k {
			out = append(out, part)
		}
	}
	return out
}

// AttachContent attaches content as a file.
func (t *Tree) AttachContent(content []byte, opts AttachOptions) {
	opts = opts.resolve("")
	if opts.Filename == "" {
		opts.Filename = "attachment"
	}
	t.children = append(t.children, &Part{
		Kind:        KindAttachment,
		ContentType: opts.ContentType,
		Content:     content,
		Filename:    opts.Filename,
	})
}

// AttachFile reads the file at path and attaches it.
func (t *Tree) AttachFile(path string, opts AttachOptions) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read attachment: %w", err)
	}
	t.AttachContent(content, opts.resolve(path))
	return nil
}

// EmbedContent embeds content and returns the "cid:" reference to use in the
// HTML body.
func (t *Tree) EmbedContent(content []byte, opts AttachOptions) string {
	opts = opts.resolve("")
	id := uuid.NewString() + "@" + contentIDDomain
	if opts.Filename == "" {
		opts.Filename = id
	}
	t.children = append(t.children, &Part{
		Kind:        KindInline,
		ContentType: opts.ContentType,
		Content:     content,
		Filename:    opts.Filename,
		ContentID:   id,
	})
	return "cid:" + id
}

// EmbedFile reads the file at path, embeds it, and returns its "cid:" reference.
func (t *Tree) EmbedFile(path string, opts AttachOptions) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read embedded file: %w", err)
	}
	return t.EmbedContent(content, opts.resolve(path)), nil
}

// AttachSigner adds s to the signers applied at render time.
func (t *Tree) AttachSigner(s signer.Signer) {
	t.signers = append(t.signers, s)
}

// Signers returns the attached signers in order.
func (t *Tree) Signers() []signer.Signer {
	return append([]signer.Signer(nil), t.signers...)
}

// Sign runs the attached signers over raw.
func (t *Tree) Sign(raw []byte) ([]byte, error) {
	if len(t.signers) == 0 {
		return raw, nil
	}
	return signer.Apply(raw, t.signers)
}

// String describes the shape of the message, for debugging.
func (t *Tree) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "charset=%s", t.charset)
	if t.body != "" {
		fmt.Fprintf(&b, " body=%s", t.contentType)
	}
	for _, part := range t.children {
		fmt.Fprintf(&b, " %s=%s", part.Kind, part.MediaType())
	}
	return b.String()
}
