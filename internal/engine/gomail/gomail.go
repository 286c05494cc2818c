// Package gomail is the mail engine backend that serializes messages with
// gopkg.in/mail.v2.
//
// That library applies one charset to the whole message, so the per-part
// charsets kept by the composer are not rendered here; every text part uses
// the message charset. It also never writes the Bcc header.
package gomail

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/mail.v2"

	"github.com/shineum/mailbridge/internal/email"
)

// Name is the engine name used in configuration.
const Name = "gomail"

// Message is a MailMessage rendered by gopkg.in/mail.v2.
type Message struct {
	*email.Tree
}

var _ email.MailMessage = (*Message)(nil)

// New returns an empty message.
func New(charset string) *Message {
	return &Message{Tree: email.NewTree(charset)}
}

// Render writes the message. Attached signers run over the finished bytes.
func (m *Message) Render(w io.Writer, opts email.RenderOptions) error {
	msg, err := m.build(opts)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	raw, err := m.Sign(buf.Bytes())
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// build converts the tree into a fresh mail.v2 message.
func (m *Message) build(opts email.RenderOptions) (*mail.Message, error) {
	h, err := m.RenderHeader(opts)
	if err != nil {
		return nil, err
	}

	msg := mail.NewMessage(mail.SetCharset(m.Charset()), mail.SetEncoding(mail.QuotedPrintable))

	headers := make(map[string][]string)
	fields := h.Fields()
	for fields.Next() {
		headers[fields.Key()] = append(headers[fields.Key()], fields.Value())
	}
	msg.SetHeaders(headers)

	texts := m.TextParts()
	if len(texts) == 0 {
		msg.SetBody(email.ContentTypeText, "")
	}
	for i, part := range texts {
		if i == 0 {
			msg.SetBody(part.MediaType(), string(part.Content))
			continue
		}
		msg.AddAlternative(part.MediaType(), string(part.Content))
	}

	for _, part := range m.Attachments() {
		msg.Attach(part.Filename, copyContent(part), mail.SetHeader(map[string][]string{
			"Content-Type": {part.ContentType},
		}))
	}
	for _, part := range m.Inlines() {
		msg.Embed(part.Filename, copyContent(part), mail.SetHeader(map[string][]string{
			"Content-Type": {part.ContentType},
			"Content-ID":   {"<" + part.ContentID + ">"},
		}))
	}

	return msg, nil
}

func copyContent(part *email.Part) mail.FileSetting {
	content := part.Content
	return mail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(content)
		return err
	})
}
