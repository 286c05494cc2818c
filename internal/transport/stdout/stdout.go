// Package stdout implements a Transport that prints messages to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/docker/go-units"

	"github.com/shineum/mailbridge/internal/maillog"
	"github.com/shineum/mailbridge/internal/parser"
	"github.com/shineum/mailbridge/internal/transport"
)

// Name is the transport name used in configuration.
const Name = "stdout"

const separator = "========================================\n"

// Transport prints messages in a human-readable format.
type Transport struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
	log    *maillog.Logger
}

// New creates a Transport that writes to os.Stdout.
func New(log *maillog.Logger) *Transport {
	return &Transport{writer: os.Stdout, log: log}
}

// NewWithWriter creates a Transport that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer, log *maillog.Logger) *Transport {
	return &Transport{writer: w, log: log}
}

// Send prints a summary of the message. A message that cannot be parsed is
// printed raw.
func (p *Transport) Send(_ context.Context, env *transport.Envelope) error {
	if err := env.Check(); err != nil {
		return err
	}

	p.log.Addf("%s printing message for %d recipient(s)", maillog.PrefixTrace, len(env.To))

	var b strings.Builder
	b.WriteString(separator)
	b.WriteString(fmt.Sprintf("Envelope: %s -> %s\n", env.From, strings.Join(env.To, ", ")))

	msg, err := parser.Parse(env.Data)
	if err != nil {
		slog.Warn("failed to parse message, printing raw", "error", err)
		p.log.Addf("%s %v", maillog.PrefixError, err)
		b.WriteString(string(env.Data))
		if !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
	} else {
		writeSummary(&b, msg)
	}

	b.WriteString(separator)

	if _, err := fmt.Fprint(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func writeSummary(b *strings.Builder, msg *parser.Summary) {
	b.WriteString(fmt.Sprintf("From: %s\n", msg.From))
	b.WriteString(fmt.Sprintf("To: %s\n", strings.Join(msg.To, ", ")))

	if len(msg.Cc) > 0 {
		b.WriteString(fmt.Sprintf("Cc: %s\n", strings.Join(msg.Cc, ", ")))
	}

	b.WriteString(fmt.Sprintf("Subject: %s\n", msg.Subject))
	b.WriteString(fmt.Sprintf("Size: %s\n", formatSize(msg.Size)))
	b.WriteString("Body:\n")

	body := msg.Text
	if body == "" {
		body = msg.HTML
	}
	b.WriteString(strings.TrimRight(body, "\r\n") + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		b.WriteString(fmt.Sprintf("Attachments: %s\n", strings.Join(attachments, ", ")))
	}
}

// Name returns the transport name.
func (p *Transport) Name() string {
	return Name
}

// formatSize formats a byte count with binary units.
func formatSize(n int) string {
	return units.BytesSize(float64(n))
}
