// Package native is the mail engine backend that serializes messages with
// emersion/go-message. It keeps a charset per text part.
package native

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"

	"github.com/shineum/mailbridge/internal/email"
)

// Name is the engine name used in configuration.
const Name = "native"

const (
	encodingQP     = "quoted-printable"
	encodingBase64 = "base64"

	base64LineLen = 76
)

// Message is a MailMessage rendered by go-message.
type Message struct {
	*email.Tree
}

var _ email.MailMessage = (*Message)(nil)

// New returns an empty message.
func New(charset string) *Message {
	return &Message{Tree: email.NewTree(charset)}
}

// entity is one node of the MIME tree being written.
type entity struct {
	header   message.Header
	body     []byte
	children []*entity
}

// Render writes the message. Text parts are quoted-printable, everything
// else base64. Text is written as given and labeled with its part's charset.
// Attached signers run over the finished bytes.
func (m *Message) Render(w io.Writer, opts email.RenderOptions) error {
	h, err := m.RenderHeader(opts)
	if err != nil {
		return err
	}

	root := m.structure()
	fields := root.header.Fields()
	for fields.Next() {
		h.Set(fields.Key(), fields.Value())
	}
	root.header = h.Header

	var buf bytes.Buffer
	err = writeEntity(func(header textproto.Header) (io.Writer, error) {
		return &buf, textproto.WriteHeader(&buf, header)
	}, root)
	if err != nil {
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

// structure nests the content as mixed(related(alternative(texts), inlines), attachments),
// dropping every level that would hold a single child.
func (m *Message) structure() *entity {
	var content *entity

	texts := m.TextParts()
	switch len(texts) {
	case 0:
		if len(m.Attachments()) == 0 && len(m.Inlines()) == 0 {
			content = textEntity(&email.Part{ContentType: email.ContentTypeText, Charset: m.Charset()})
		}
	case 1:
		content = textEntity(texts[0])
	default:
		content = multipart("alternative")
		for _, part := range texts {
			content.children = append(content.children, textEntity(part))
		}
	}

	if inlines := m.Inlines(); len(inlines) > 0 {
		related := multipart("related")
		if content != nil {
			related.children = append(related.children, content)
		}
		for _, part := range inlines {
			related.children = append(related.children, fileEntity(part))
		}
		content = related
	}

	if attachments := m.Attachments(); len(attachments) > 0 {
		mixed := multipart("mixed")
		if content != nil {
			mixed.children = append(mixed.children, content)
		}
		for _, part := range attachments {
			mixed.children = append(mixed.children, fileEntity(part))
		}
		content = mixed
	}

	return content
}

func multipart(subtype string) *entity {
	e := &entity{}
	e.header.SetContentType("multipart/"+subtype, nil)
	return e
}

func textEntity(part *email.Part) *entity {
	mediaType, params := splitContentType(part.ContentType)
	if part.Charset != "" {
		params["charset"] = part.Charset
	}

	e := &entity{body: part.Content}
	e.header.SetContentType(mediaType, params)
	e.header.Set("Content-Transfer-Encoding", encodingQP)
	return e
}

func fileEntity(part *email.Part) *entity {
	mediaType, params := splitContentType(part.ContentType)
	if part.Filename != "" {
		params["name"] = part.Filename
	}

	e := &entity{body: part.Content}
	e.header.SetContentType(mediaType, params)
	e.header.Set("Content-Transfer-Encoding", encodingBase64)

	disposition := "attachment"
	if part.Kind == email.KindInline {
		disposition = "inline"
		e.header.Set("Content-Id", "<"+part.ContentID+">")
	}
	var dispParams map[string]string
	if part.Filename != "" {
		dispParams = map[string]string{"filename": part.Filename}
	}
	e.header.SetContentDisposition(disposition, dispParams)
	return e
}

func splitContentType(contentType string) (string, map[string]string) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" {
		return contentType, make(map[string]string)
	}
	return mediaType, params
}

// writeEntity writes e through create, which writes the header and returns
// the body writer: the message itself for the root, a new part below it.
// go-message's Writer refuses charsets other than utf-8, so parts are written
// with its textproto layer.
func writeEntity(create func(textproto.Header) (io.Writer, error), e *entity) error {
	if len(e.children) == 0 {
		w, err := create(e.header.Header)
		if err != nil {
			return err
		}
		return writeBody(w, e.header.Get("Content-Transfer-Encoding"), e.body)
	}

	// The boundary goes into the header before the header is written.
	out := &struct{ io.Writer }{}
	mw := textproto.NewMultipartWriter(out)
	mediaType, params, _ := e.header.ContentType()
	if params == nil {
		params = make(map[string]string)
	}
	params["boundary"] = mw.Boundary()
	e.header.SetContentType(mediaType, params)

	w, err := create(e.header.Header)
	if err != nil {
		return err
	}
	out.Writer = w

	for _, child := range e.children {
		if err := writeEntity(mw.CreatePart, child); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeBody(w io.Writer, encoding string, body []byte) error {
	var wc io.WriteCloser
	if encoding == encodingBase64 {
		wc = base64.NewEncoder(base64.StdEncoding, &lineWrapper{w: w})
	} else {
		wc = quotedprintable.NewWriter(w)
	}
	if _, err := wc.Write(body); err != nil {
		wc.Close()
		return err
	}
	return wc.Close()
}

// lineWrapper breaks base64 output into CRLF-terminated lines.
type lineWrapper struct {
	w   io.Writer
	col int
}

func (lw *lineWrapper) Write(b []byte) (int, error) {
	written := 0
	for len(b) > 0 {
		n := base64LineLen - lw.col
		if n > len(b) {
			n = len(b)
		}
		m, err := lw.w.Write(b[:n])
		written += m
		if err != nil {
			return written, err
		}
		lw.col += m
		b = b[n:]
		if lw.col == base64LineLen {
			if _, err := io.WriteString(lw.w, "\r\n"); err != nil {
				return written, err
			}
			lw.col = 0
		}
	}
	return written, nil
}
