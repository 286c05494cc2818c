package smtp

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/engine/native"
	"github.com/shineum/mailbridge/internal/maillog"
	"github.com/shineum/mailbridge/internal/parser"
	"github.com/shineum/mailbridge/internal/smtptest"
	mbtls "github.com/shineum/mailbridge/internal/tls"
	"github.com/shineum/mailbridge/internal/transport"
)

func testEnvelope(t *testing.T) *transport.Envelope {
	t.Helper()

	m := native.New("utf-8")
	m.SetAddresses(email.FieldFrom, []*mail.Address{{Address: "sender@example.com"}})
	m.SetAddresses(email.FieldTo, []*mail.Address{{Address: "to@example.com"}})
	m.SetSubject("Quarterly numbers")
	m.SetTextBody("See attached.")
	m.SetHTMLBody("<p>See attached.</p>")
	m.AttachContent([]byte("a,b\n1,2\n"), email.AttachOptions{Filename: "numbers.csv"})

	var buf bytes.Buffer
	require.NoError(t, m.Render(&buf, email.RenderOptions{OmitBcc: true}))

	return &transport.Envelope{
		From: "sender@example.com",
		To:   []string{"to@example.com", "hidden@example.com"},
		Data: buf.Bytes(),
	}
}

// recorder collects diagnostic lines.
type recorder struct {
	lines []string
}

func (r *recorder) logger() *maillog.Logger {
	return maillog.New(maillog.SinkFunc(func(entry string, _ maillog.Level, _ string) {
		r.lines = append(r.lines, entry)
	}))
}

func TestParseTLSMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    TLSMode
		wantErr bool
	}{
		{in: "", want: ModeStartTLS},
		{in: "starttls", want: ModeStartTLS},
		{in: "TLS", want: ModeTLS},
		{in: " none ", want: ModeNone},
		{in: "ssl", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTLSMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_InvalidAddr(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Addr: "no-port"})
	assert.Error(t, err)

	_, err = New(Config{Addr: "localhost:25", TLSMode: "ssl"})
	assert.Error(t, err)
}

func TestSend_Plain(t *testing.T) {
	t.Parallel()

	srv, err := smtptest.New(smtptest.Options{})
	require.NoError(t, err)
	defer srv.Close()

	var rec recorder
	tr, err := New(Config{Addr: srv.Addr(), TLSMode: ModeNone, LocalName: "client.example.com"}, WithLogger(rec.logger()))
	require.NoError(t, err)
	assert.Equal(t, "smtp", tr.Name())

	env := testEnvelope(t)
	require.NoError(t, tr.Send(context.Background(), env))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "sender@example.com", msgs[0].From)
	assert.Equal(t, []string{"to@example.com", "hidden@example.com"}, msgs[0].To)

	summary, err := parser.Parse(msgs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly numbers", summary.Subject)
	assert.Contains(t, summary.Text, "See attached.")
	assert.Contains(t, summary.HTML, "<p>See attached.</p>")
	require.Len(t, summary.Attachments, 1)
	assert.Equal(t, "numbers.csv", summary.Attachments[0].Filename)

	require.NotEmpty(t, rec.lines)
	assert.True(t, strings.HasPrefix(rec.lines[0], maillog.PrefixTrace))
	assert.Contains(t, rec.lines, ">> EHLO client.example.com")
	assert.Contains(t, rec.lines, ">> RCPT TO:<hidden@example.com>")
	assert.Contains(t, rec.lines, "<< DATA ok")
	for _, line := range rec.lines {
		assert.False(t, strings.HasPrefix(line, maillog.PrefixError), "unexpected failure line %q", line)
	}
}

func TestSend_StartTLSWithAuth(t *testing.T) {
	t.Parallel()

	serverTLS, err := mbtls.ServerConfig("", "")
	require.NoError(t, err)
	pool, err := mbtls.CertPool(&serverTLS.Certificates[0])
	require.NoError(t, err)

	srv, err := smtptest.New(smtptest.Options{Username: "user", Password: "secret", TLSConfig: serverTLS})
	require.NoError(t, err)
	defer srv.Close()

	clientTLS, err := mbtls.ClientConfig(mbtls.ClientOptions{RootCAs: pool})
	require.NoError(t, err)

	var rec recorder
	tr, err := New(Config{
		Addr:      srv.Addr(),
		Username:  "user",
		Password:  "secret",
		TLSConfig: clientTLS,
	}, WithLogger(rec.logger()))
	require.NoError(t, err)

	require.NoError(t, tr.Send(context.Background(), testEnvelope(t)))
	assert.Len(t, srv.Messages(), 1)
	assert.Contains(t, rec.lines, ">> AUTH PLAIN")

	// The upgrade comes first and EHLO is repeated over TLS.
	starttls := indexOf(rec.lines, ">> STARTTLS")
	ehlo := indexOf(rec.lines, ">> EHLO localhost")
	require.NotEqual(t, -1, starttls)
	require.NotEqual(t, -1, ehlo)
	assert.Equal(t, "<< STARTTLS ok", rec.lines[starttls+1])
	assert.Less(t, starttls, ehlo)
}

func indexOf(lines []string, want string) int {
	for i, line := range lines {
		if line == want {
			return i
		}
	}
	return -1
}

func TestSend_ImplicitTLS(t *testing.T) {
	t.Parallel()

	serverTLS, err := mbtls.ServerConfig("", "")
	require.NoError(t, err)
	pool, err := mbtls.CertPool(&serverTLS.Certificates[0])
	require.NoError(t, err)

	srv, err := smtptest.New(smtptest.Options{TLSConfig: serverTLS, ImplicitTLS: true})
	require.NoError(t, err)
	defer srv.Close()

	clientTLS, err := mbtls.ClientConfig(mbtls.ClientOptions{RootCAs: pool})
	require.NoError(t, err)

	tr, err := New(Config{Addr: srv.Addr(), TLSMode: ModeTLS, TLSConfig: clientTLS})
	require.NoError(t, err)

	require.NoError(t, tr.Send(context.Background(), testEnvelope(t)))
	assert.Len(t, srv.Messages(), 1)
}

func TestSend_StartTLSUnsupported(t *testing.T) {
	t.Parallel()

	srv, err := smtptest.New(smtptest.Options{})
	require.NoError(t, err)
	defer srv.Close()

	var rec recorder
	tr, err := New(Config{Addr: srv.Addr()}, WithLogger(rec.logger()))
	require.NoError(t, err)

	err = tr.Send(context.Background(), testEnvelope(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STARTTLS")
	assert.Empty(t, srv.Messages())

	last := rec.lines[len(rec.lines)-1]
	assert.True(t, strings.HasPrefix(last, maillog.PrefixError+" STARTTLS failed"), "got %q", last)
	assert.NotContains(t, rec.lines, ">> EHLO localhost")
}

func TestSend_AuthRejected(t *testing.T) {
	t.Parallel()

	srv, err := smtptest.New(smtptest.Options{Username: "user", Password: "secret"})
	require.NoError(t, err)
	defer srv.Close()

	var rec recorder
	tr, err := New(Config{Addr: srv.Addr(), TLSMode: ModeNone, Username: "user", Password: "wrong"}, WithLogger(rec.logger()))
	require.NoError(t, err)

	err = tr.Send(context.Background(), testEnvelope(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH")
	assert.Empty(t, srv.Messages())

	last := rec.lines[len(rec.lines)-1]
	assert.True(t, strings.HasPrefix(last, maillog.PrefixError+" AUTH failed"), "got %q", last)
}

func TestSend_EmptyEnvelope(t *testing.T) {
	t.Parallel()

	tr, err := New(Config{Addr: "127.0.0.1:1"})
	require.NoError(t, err)

	err = tr.Send(context.Background(), &transport.Envelope{From: "a@example.com"})
	assert.ErrorIs(t, err, transport.ErrEmptyEnvelope)
}

func TestSend_ConnectionRefused(t *testing.T) {
	t.Parallel()

	srv, err := smtptest.New(smtptest.Options{})
	require.NoError(t, err)
	addr := srv.Addr()
	require.NoError(t, srv.Close())

	tr, err := New(Config{Addr: addr, TLSMode: ModeNone})
	require.NoError(t, err)

	err = tr.Send(context.Background(), testEnvelope(t))
	assert.Error(t, err)
}

func TestTransportInterface(t *testing.T) {
	t.Parallel()

	var _ transport.Transport = (*Transport)(nil)
}
