// Package mailer composes messages with the configured mail engine and hands
// them to the configured transport.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docker/go-units"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/engine"
	"github.com/shineum/mailbridge/internal/maillog"
	"github.com/shineum/mailbridge/internal/signer"
	"github.com/shineum/mailbridge/internal/transport"
)

var (
	// ErrNoRecipients is returned when a message has no To, Cc or Bcc.
	ErrNoRecipients = errors.New("message has no recipients")
	// ErrNoSender is returned when a message has neither Return-Path nor From.
	ErrNoSender = errors.New("message has no sender")
	// ErrMessageTooLarge is returned when the rendered message exceeds the
	// configured maximum size.
	ErrMessageTooLarge = errors.New("message exceeds the maximum size")
)

// Options configures a Mailer.
type Options struct {
	// Engine names the mail engine backend. Empty selects the default.
	Engine string
	// Charset is the initial charset of every composed message.
	Charset string
	// Transport delivers the rendered messages. Required.
	Transport transport.Transport
	// From and ReplyTo are address lists applied to every composed message.
	From    string
	ReplyTo string
	// Signer, when set, is attached to every composed message.
	Signer *signer.Spec
	// Log receives one line per send. May be nil.
	Log *maillog.Logger
	// MaxMessageSize limits the rendered message in bytes. Zero disables
	// the check.
	MaxMessageSize int64
}

// Mailer creates and sends messages.
type Mailer struct {
	engine    string
	charset   string
	transport transport.Transport
	from      []*mail.Address
	replyTo   []*mail.Address
	signer    signer.Signer
	log       *maillog.Logger
	maxSize   int64
}

// New validates opts and returns a Mailer. The default signer is resolved
// here, once.
func New(opts Options) (*Mailer, error) {
	if opts.Transport == nil {
		return nil, errors.New("mailer requires a transport")
	}
	if _, err := engine.New(opts.Engine, opts.Charset); err != nil {
		return nil, err
	}

	from, err := email.ParseAddressList(opts.From)
	if err != nil {
		return nil, fmt.Errorf("invalid default From: %w", err)
	}
	replyTo, err := email.ParseAddressList(opts.ReplyTo)
	if err != nil {
		return nil, fmt.Errorf("invalid default Reply-To: %w", err)
	}

	m := &Mailer{
		engine:    opts.Engine,
		charset:   opts.Charset,
		transport: opts.Transport,
		from:      from,
		replyTo:   replyTo,
		log:       opts.Log,
		maxSize:   opts.MaxMessageSize,
	}
	if opts.Signer != nil {
		s, err := opts.Signer.Resolve()
		if err != nil {
			return nil, err
		}
		m.signer = s
	}
	return m, nil
}

// Transport returns the transport messages are sent with.
func (m *Mailer) Transport() transport.Transport {
	return m.transport
}

// Compose returns an empty message carrying the mailer's defaults.
func (m *Mailer) Compose() (*Message, error) {
	msg, err := engine.New(m.engine, m.charset)
	if err != nil {
		return nil, err
	}
	msg.SetAddresses(email.FieldFrom, m.from)
	msg.SetAddresses(email.FieldReplyTo, m.replyTo)
	if m.signer != nil {
		msg.AttachSigner(m.signer)
	}
	return &Message{MailMessage: msg, mailer: m}, nil
}

// Send sends one message. It is the same as msg.Send(ctx).
func (m *Mailer) Send(ctx context.Context, msg *Message) error {
	env, err := msg.Envelope()
	if err != nil {
		return err
	}

	m.log.Addf("%s sending message to %d recipient(s) via %s", maillog.PrefixTrace, len(env.To), m.transport.Name())

	if err := m.transport.Send(ctx, env); err != nil {
		m.log.Addf("%s %s: %v", maillog.PrefixError, m.transport.Name(), err)
		slog.Error("failed to send message",
			"transport", m.transport.Name(),
			"recipients", len(env.To),
			"error", err,
		)
		return fmt.Errorf("failed to send message via %s: %w", m.transport.Name(), err)
	}

	slog.Info("message sent",
		"transport", m.transport.Name(),
		"recipients", len(env.To),
		"size", len(env.Data),
	)
	return nil
}

// SendMultiple sends every message and returns how many were sent. It keeps
// going after a failure and returns all failures joined; it stops early only
// when ctx is done.
func (m *Mailer) SendMultiple(ctx context.Context, msgs []*Message) (int, error) {
	var (
		sent int
		errs []error
	)
	for i, msg := range msgs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := m.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("message %d: %w", i, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// Message is a message under composition. It exposes the engine's
// MailMessage and adds string-based setters and sending.
type Message struct {
	email.MailMessage
	mailer *Mailer
}

// SetFrom parses list and sets From.
func (msg *Message) SetFrom(list string) error {
	return msg.setAddressList(email.FieldFrom, list)
}

// SetTo parses list and sets To.
func (msg *Message) SetTo(list string) error {
	return msg.setAddressList(email.FieldTo, list)
}

// SetCc parses list and sets Cc.
func (msg *Message) SetCc(list string) error {
	return msg.setAddressList(email.FieldCc, list)
}

// SetBcc parses list and sets Bcc.
func (msg *Message) SetBcc(list string) error {
	return msg.setAddressList(email.FieldBcc, list)
}

// SetReplyTo parses list and sets Reply-To.
func (msg *Message) SetReplyTo(list string) error {
	return msg.setAddressList(email.FieldReplyTo, list)
}

// SetReadReceiptTo asks for a read receipt sent to list.
func (msg *Message) SetReadReceiptTo(list string) error {
	return msg.setAddressList(email.FieldReadReceiptTo, list)
}

func (msg *Message) setAddressList(field, list string) error {
	addrs, err := email.ParseAddressList(list)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	msg.SetAddresses(field, addrs)
	return nil
}

// AddSigner resolves spec and attaches the signer.
func (msg *Message) AddSigner(spec signer.Spec) error {
	s, err := spec.Resolve()
	if err != nil {
		return err
	}
	msg.AttachSigner(s)
	return nil
}

// ToString renders the message as it would be stored, Bcc header included.
func (msg *Message) ToString() (string, error) {
	var buf bytes.Buffer
	if err := msg.Render(&buf, email.RenderOptions{}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Envelope renders the message for delivery. The sender is Return-Path, or
// else the first From address. The recipients are To, Cc and Bcc without
// duplicates; the Bcc header is left out of the data.
func (msg *Message) Envelope() (*transport.Envelope, error) {
	from := msg.ReturnPath()
	if from == "" {
		addrs, err := msg.Addresses(email.FieldFrom)
		if err != nil {
			return nil, err
		}
		if len(addrs) > 0 {
			from = addrs[0].Address
		}
	}
	if from == "" {
		return nil, ErrNoSender
	}

	to, err := msg.recipients()
	if err != nil {
		return nil, err
	}
	if len(to) == 0 {
		return nil, ErrNoRecipients
	}

	var buf bytes.Buffer
	if err := msg.Render(&buf, email.RenderOptions{OmitBcc: true}); err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	if limit := msg.mailer.maxSize; limit > 0 && int64(buf.Len()) > limit {
		return nil, fmt.Errorf("%w: %s over the %s limit", ErrMessageTooLarge,
			units.BytesSize(float64(buf.Len())), units.BytesSize(float64(limit)))
	}

	return &transport.Envelope{From: from, To: to, Data: buf.Bytes()}, nil
}

// Send delivers the message through the mailer's transport.
func (msg *Message) Send(ctx context.Context) error {
	return msg.mailer.Send(ctx, msg)
}

// recipients returns To, Cc and Bcc in order, each address once.
func (msg *Message) recipients() ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, field := range []string{email.FieldTo, email.FieldCc, email.FieldBcc} {
		addrs, err := msg.Addresses(field)
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			key := strings.ToLower(a.Address)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, a.Address)
		}
	}
	return out, nil
}
