// Package file implements a Transport that writes each message to a .eml
// file instead of delivering it.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/mailbridge/internal/maillog"
	"github.com/shineum/mailbridge/internal/transport"
)

// Name is the transport name used in configuration.
const Name = "file"

// timeLayout sorts lexically in write order.
const timeLayout = "20060102-150405.000000000"

// Transport writes messages into a directory.
type Transport struct {
	dir string
	now func() time.Time
	log *maillog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sends diagnostic lines to l.
func WithLogger(l *maillog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// New creates a Transport writing into dir, creating it if needed.
func New(dir string, opts ...Option) (*Transport, error) {
	if dir == "" {
		return nil, fmt.Errorf("file transport requires a directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create mail directory: %w", err)
	}

	t := &Transport{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return Name
}

// Send writes the message data to <dir>/<timestamp>-<uuid>.eml. The
// envelope itself is not recorded.
func (t *Transport) Send(ctx context.Context, env *transport.Envelope) error {
	if err := env.Check(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	name := fmt.Sprintf("%s-%s.eml", t.now().UTC().Format(timeLayout), uuid.NewString())
	path := filepath.Join(t.dir, name)

	t.log.Addf("%s write %s (%d bytes)", maillog.PrefixCommand, path, len(env.Data))
	if err := os.WriteFile(path, env.Data, 0o640); err != nil {
		t.log.Addf("%s %v", maillog.PrefixError, err)
		return fmt.Errorf("failed to write message: %w", err)
	}
	t.log.Addf("%s stored %s for %d recipient(s)", maillog.PrefixReply, name, len(env.To))

	slog.Debug("message written to file", "path", path)
	return nil
}
