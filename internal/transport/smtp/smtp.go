// Package smtp implements a Transport that relays messages to an SMTP server.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/mailbridge/internal/maillog"
	mbtls "github.com/shineum/mailbridge/internal/tls"
	"github.com/shineum/mailbridge/internal/transport"
)

// Name is the transport name used in configuration.
const Name = "smtp"

// TLSMode selects how the connection is encrypted.
type TLSMode string

const (
	// ModeStartTLS upgrades a plain connection with STARTTLS. The server must
	// offer it.
	ModeStartTLS TLSMode = "starttls"
	// ModeTLS connects with TLS from the start (SMTPS, usually port 465).
	ModeTLS TLSMode = "tls"
	// ModeNone never encrypts.
	ModeNone TLSMode = "none"
)

const defaultTimeout = 30 * time.Second

// ParseTLSMode parses a mode name. The empty string is ModeStartTLS.
func ParseTLSMode(s string) (TLSMode, error) {
	switch m := TLSMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeStartTLS, nil
	case ModeStartTLS, ModeTLS, ModeNone:
		return m, nil
	default:
		return "", fmt.Errorf("unknown TLS mode %q", s)
	}
}

// Config holds the configuration for creating a Transport.
type Config struct {
	// Addr is the relay's host:port.
	Addr     string
	Username string
	Password string
	// LocalName is sent with EHLO. Defaults to "localhost".
	LocalName string
	TLSMode   TLSMode
	// TLSConfig is used for STARTTLS and implicit TLS. When nil a config
	// verifying the relay's host name against the system roots is used.
	TLSConfig *tls.Config
	// Timeout bounds the dial. Defaults to 30s.
	Timeout time.Duration
}

// Transport delivers messages over SMTP. It opens one connection per Send.
type Transport struct {
	addr      string
	username  string
	password  string
	localName string
	mode      TLSMode
	tlsConfig *tls.Config
	timeout   time.Duration
	log       *maillog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sends the SMTP dialog to l.
func WithLogger(l *maillog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// New creates a Transport with the given configuration.
func New(cfg Config, opts ...Option) (*Transport, error) {
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP address %q: %w", cfg.Addr, err)
	}

	mode, err := ParseTLSMode(string(cfg.TLSMode))
	if err != nil {
		return nil, err
	}

	tlsConfig := cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig, err = mbtls.ClientConfig(mbtls.ClientOptions{ServerName: host})
		if err != nil {
			return nil, err
		}
	} else if tlsConfig.ServerName == "" {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.ServerName = host
	}

	t := &Transport{
		addr:      cfg.Addr,
		username:  cfg.Username,
		password:  cfg.Password,
		localName: cfg.LocalName,
		mode:      mode,
		tlsConfig: tlsConfig,
		timeout:   cfg.Timeout,
	}
	if t.localName == "" {
		t.localName = "localhost"
	}
	if t.timeout == 0 {
		t.timeout = defaultTimeout
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return Name
}

// Send runs one SMTP transaction for the envelope. Cancelling ctx closes the
// connection.
func (t *Transport) Send(ctx context.Context, env *transport.Envelope) error {
	if err := env.Check(); err != nil {
		return err
	}

	t.log.Addf("%s connecting to %s (%s)", maillog.PrefixTrace, t.addr, t.mode)
	conn, err := t.dial(ctx)
	if err != nil {
		t.log.Addf("%s %v", maillog.PrefixError, err)
		return fmt.Errorf("failed to connect to %s: %w", t.addr, err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := t.client(conn)
	if err != nil {
		conn.Close()
		return t.failed(ctx, err)
	}
	defer c.Close()

	if err := t.session(c, env); err != nil {
		return t.failed(ctx, err)
	}

	t.log.Addf("%s disconnected from %s", maillog.PrefixTrace, t.addr)
	return nil
}

// failed logs err and joins it with the context error once ctx is done.
func (t *Transport) failed(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = errors.Join(ctxErr, err)
	}
	slog.Warn("SMTP delivery failed", "addr", t.addr, "error", err)
	return err
}

// client wraps conn in an SMTP client. In STARTTLS mode the connection is
// upgraded before anything else is sent; the server must offer STARTTLS.
func (t *Transport) client(conn net.Conn) (*gosmtp.Client, error) {
	if t.mode != ModeStartTLS {
		return gosmtp.NewClient(conn), nil
	}
	var c *gosmtp.Client
	err := t.step("STARTTLS", func() error {
		var err error
		c, err = gosmtp.NewClientStartTLS(conn, t.tlsConfig)
		return err
	})
	return c, err
}

func (t *Transport) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: t.timeout}
	if t.mode == ModeTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: t.tlsConfig}
		return tlsDialer.DialContext(ctx, "tcp", t.addr)
	}
	return dialer.DialContext(ctx, "tcp", t.addr)
}

func (t *Transport) session(c *gosmtp.Client, env *transport.Envelope) error {
	if err := t.step("EHLO "+t.localName, func() error { return c.Hello(t.localName) }); err != nil {
		return err
	}

	if t.username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			err := errors.New("authentication required but server did not advertise AUTH extension")
			t.log.Addf("%s %v", maillog.PrefixError, err)
			return err
		}
		auth := sasl.NewPlainClient("", t.username, t.password)
		if err := t.step("AUTH PLAIN", func() error { return c.Auth(auth) }); err != nil {
			return err
		}
	}

	if err := t.step("MAIL FROM:<"+env.From+">", func() error { return c.Mail(env.From, nil) }); err != nil {
		return err
	}
	for _, rcpt := range env.To {
		if err := t.step("RCPT TO:<"+rcpt+">", func() error { return c.Rcpt(rcpt, nil) }); err != nil {
			return err
		}
	}

	err := t.step("DATA", func() error {
		w, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := w.Write(env.Data); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	})
	if err != nil {
		return err
	}

	return t.step("QUIT", c.Quit)
}

// step logs cmd, runs fn and logs the outcome.
func (t *Transport) step(cmd string, fn func() error) error {
	t.log.Addf("%s %s", maillog.PrefixCommand, cmd)
	err := fn()
	if err == nil {
		t.log.Addf("%s %s ok", maillog.PrefixReply, verb(cmd))
		return nil
	}

	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		t.log.Addf("%s %d %s", maillog.PrefixReply, smtpErr.Code, smtpErr.Message)
	}
	t.log.Addf("%s %s failed: %v", maillog.PrefixError, verb(cmd), err)
	return fmt.Errorf("SMTP %s failed: %w", verb(cmd), err)
}

// verb returns the command name without its arguments.
func verb(cmd string) string {
	if i := strings.IndexAny(cmd, " :"); i > 0 {
		return cmd[:i]
	}
	return cmd
}
