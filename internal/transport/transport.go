// Package transport defines the interface for mail delivery backends.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyEnvelope is returned when an envelope has no recipients or no data.
var ErrEmptyEnvelope = errors.New("envelope has no recipients or no data")

// Envelope is what a transport delivers: the SMTP-level sender and
// recipients, and the rendered message.
type Envelope struct {
	From string
	To   []string
	Data []byte
}

// Check reports whether the envelope can be delivered.
func (e *Envelope) Check() error {
	if e == nil || len(e.To) == 0 || len(e.Data) == 0 {
		return ErrEmptyEnvelope
	}
	return nil
}

// Transport is the interface that delivery backends implement. Each one
// hands a rendered message to a service (an SMTP relay, AWS SES, Microsoft
// Graph, the local file system, ...).
type Transport interface {
	// Send delivers the envelope. It returns an error if the delivery fails.
	Send(ctx context.Context, env *Envelope) error

	// Name returns the human-readable name of this transport.
	Name() string
}

// Backoff is an exponential retry schedule.
type Backoff struct {
	// Retries is the number of attempts after the first one.
	Retries int
	// Base is the delay before the first retry. It doubles for every
	// following attempt.
	Base time.Duration
}

// DefaultBackoff is 3 retries waiting 1s, 2s, then 4s.
var DefaultBackoff = Backoff{Retries: 3, Base: time.Second}

// Delay returns the wait before the given retry, counting from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
