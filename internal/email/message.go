package email

import (
	"io"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/shineum/mailbridge/internal/signer"
)

// RenderOptions controls serialization.
type RenderOptions struct {
	// OmitBcc drops the Bcc header. Set when the output goes on the wire.
	OmitBcc bool
	// Now overrides the Date used when the message has none.
	Now time.Time
}

// MailMessage is the capability every mail engine backend provides.
type MailMessage interface {
	Body

	SetCharset(charset string)

	Header() *mail.Header
	SetHeader(name string, values ...string)
	AddHeader(name, value string)
	HeaderValues(name string) []string

	SetAddresses(field string, addrs []*mail.Address)
	Addresses(field string) ([]*mail.Address, error)
	SetSubject(subject string)
	Subject() string
	SetPriority(p Priority)
	Priority() Priority
	SetReturnPath(addr string)
	ReturnPath() string

	SetTextBody(text string)
	SetHTMLBody(html string)

	AttachFile(path string, opts AttachOptions) error
	AttachContent(content []byte, opts AttachOptions)
	EmbedFile(path string, opts AttachOptions) (string, error)
	EmbedContent(content []byte, opts AttachOptions) string

	AttachSigner(s signer.Signer)

	// Render writes the message in wire format, signed if signers are attached.
	Render(w io.Writer, opts RenderOptions) error
}
