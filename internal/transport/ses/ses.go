// Package ses implements a Transport that sends raw messages via AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/mailbridge/internal/maillog"
	"github.com/shineum/mailbridge/internal/transport"
)

// Name is the transport name used in configuration.
const Name = "ses"

// Config holds the configuration for creating a Transport.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Sender overrides the envelope sender when set. It must be a verified
	// SES identity.
	Sender string
	// ConfigurationSet is passed through to SES when set.
	ConfigurationSet string
}

// Transport sends messages via the AWS SES v2 API.
type Transport struct {
	sender           string
	configurationSet string
	client           SendEmailAPI
	backoff          transport.Backoff
	log              *maillog.Logger
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sends diagnostic lines to l.
func WithLogger(l *maillog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// WithBackoff replaces the retry schedule.
func WithBackoff(b transport.Backoff) Option {
	return func(t *Transport) { t.backoff = b }
}

// New creates a Transport with the given configuration.
func New(ctx context.Context, cfg Config, opts ...Option) (*Transport, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error

	loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg, sesv2.NewFromConfig(awsCfg), opts...), nil
}

// NewWithClient creates a Transport with a custom client, used for testing.
func NewWithClient(cfg Config, client SendEmailAPI, opts ...Option) *Transport {
	t := &Transport{
		sender:           cfg.Sender,
		configurationSet: cfg.ConfigurationSet,
		client:           client,
		backoff:          transport.DefaultBackoff,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send delivers the rendered message as an SES raw message, retrying
// transient failures with exponential backoff.
func (s *Transport) Send(ctx context.Context, env *transport.Envelope) error {
	if err := env.Check(); err != nil {
		return err
	}

	input := s.buildInput(env)

	s.log.Addf("%s sending via SES to %d recipient(s)", maillog.PrefixTrace, len(env.To))

	var lastErr error
	for attempt := 0; attempt <= s.backoff.Retries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES API request",
				"attempt", attempt,
				"max_retries", s.backoff.Retries,
			)
			if err := transport.Sleep(ctx, s.backoff.Delay(attempt)); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		s.log.Addf("%s SendEmail from=%s raw=%d bytes", maillog.PrefixCommand, aws.ToString(input.FromEmailAddress), len(env.Data))
		out, err := s.client.SendEmail(ctx, input)
		if err == nil {
			s.log.Addf("%s accepted message-id=%s", maillog.PrefixReply, aws.ToString(out.MessageId))
			return nil
		}

		lastErr = err
		s.log.Addf("%s SendEmail failed: %v", maillog.PrefixError, err)
		slog.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)
	}

	return fmt.Errorf("SES API request failed after %d retries: %w", s.backoff.Retries, lastErr)
}

// Name returns the transport name.
func (s *Transport) Name() string {
	return Name
}

// buildInput creates the SES request. Recipients come from the envelope so
// Bcc addresses, which are not in the data, still receive the message.
func (s *Transport) buildInput(env *transport.Envelope) *sesv2.SendEmailInput {
	from := env.From
	if s.sender != "" {
		from = s.sender
	}

	input := &sesv2.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: env.To,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: env.Data,
			},
		},
	}
	if from != "" {
		input.FromEmailAddress = aws.String(from)
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}
	return input
}
