// Package smtptest runs an in-process SMTP server that keeps every message it
// accepts in memory, so transports can be tested against a real SMTP dialog.
package smtptest

import (
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// defaultMaxMessageBytes caps DATA when Options.MaxMessageBytes is zero.
const defaultMaxMessageBytes = 10 * units.MiB

// Message is one accepted message.
type Message struct {
	From     string
	To       []string
	Data     []byte
	Received time.Time
}

// Options configures a Server.
type Options struct {
	// Username and Password enable AUTH PLAIN. MAIL is refused until the
	// client authenticates.
	Username string
	Password string
	// TLSConfig enables STARTTLS, or implicit TLS with ImplicitTLS.
	TLSConfig   *tls.Config
	ImplicitTLS bool
	// MaxMessageBytes limits DATA. Defaults to 10 MiB.
	MaxMessageBytes int64
}

// Server is an SMTP server listening on a loopback port.
type Server struct {
	srv      *smtp.Server
	listener net.Listener
	done     chan struct{}

	mu       sync.Mutex
	messages []Message
}

// New starts a server on 127.0.0.1 with a random port. Call Close when done.
func New(opts Options) (*Server, error) {
	var (
		ln  net.Listener
		err error
	)
	if opts.ImplicitTLS {
		if opts.TLSConfig == nil {
			return nil, errors.New("implicit TLS requires a TLS config")
		}
		ln, err = tls.Listen("tcp", "127.0.0.1:0", opts.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	s := &Server{listener: ln, done: make(chan struct{})}

	srv := smtp.NewServer(&backend{server: s, username: opts.Username, password: opts.Password})
	srv.Domain = "localhost"
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.MaxMessageBytes = opts.MaxMessageBytes
	if srv.MaxMessageBytes == 0 {
		srv.MaxMessageBytes = defaultMaxMessageBytes
	}
	if opts.TLSConfig != nil && !opts.ImplicitTLS {
		srv.TLSConfig = opts.TLSConfig
	} else {
		// Already encrypted, or a plain test server; AUTH is allowed either way.
		srv.AllowInsecureAuth = true
	}
	s.srv = srv

	go func() {
		defer close(s.done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			slog.Debug("smtptest server stopped", "error", err)
		}
	}()

	return s, nil
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Messages returns a copy of the accepted messages in arrival order.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Close stops the server and waits for the accept loop to exit.
func (s *Server) Close() error {
	err := s.srv.Close()
	// Serve may not have registered the listener yet.
	s.listener.Close()
	<-s.done
	return err
}

func (s *Server) save(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

type backend struct {
	server   *Server
	username string
	password string
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

// authRequired reports whether credentials are configured.
func (b *backend) authRequired() bool {
	return b.username != "" && b.password != ""
}

// verify checks credentials in constant time.
func (b *backend) verify(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(b.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(b.password)) == 1
	if !userOK || !passOK {
		return smtp.ErrAuthFailed
	}
	return nil
}

type session struct {
	backend       *backend
	authenticated bool
	from          string
	to            []string
}

var _ smtp.AuthSession = (*session)(nil)

func (s *session) AuthMechanisms() []string {
	if !s.backend.authRequired() {
		return nil
	}
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain || !s.backend.authRequired() {
		return nil, smtp.ErrAuthUnknownMechanism
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		if err := s.backend.verify(username, password); err != nil {
			return err
		}
		s.authenticated = true
		return nil
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.authRequired() && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.server.save(Message{
		From:     s.from,
		To:       append([]string(nil), s.to...),
		Data:     data,
		Received: time.Now(),
	})
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}
