// Package main is the entry point for mailctl, which composes one message
// from flags and configuration and sends or prints it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shineum/mailbridge/internal/config"
	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/mailer"
	"github.com/shineum/mailbridge/internal/maillog"
	"github.com/shineum/mailbridge/internal/signer"
	mbtls "github.com/shineum/mailbridge/internal/tls"
	"github.com/shineum/mailbridge/internal/transport"
	"github.com/shineum/mailbridge/internal/transport/file"
	"github.com/shineum/mailbridge/internal/transport/graph"
	"github.com/shineum/mailbridge/internal/transport/ses"
	"github.com/shineum/mailbridge/internal/transport/smtp"
	"github.com/shineum/mailbridge/internal/transport/stdout"
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type options struct {
	configPath string
	from       string
	to         string
	cc         string
	bcc        string
	subject    string
	text       string
	html       string
	priority   int
	attach     stringList
	embed      stringList
	dryRun     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to YAML or TOML configuration file (optional)")
	flag.StringVar(&opts.from, "from", "", "From address list (defaults to mailer.from)")
	flag.StringVar(&opts.to, "to", "", "To address list")
	flag.StringVar(&opts.cc, "cc", "", "Cc address list")
	flag.StringVar(&opts.bcc, "bcc", "", "Bcc address list")
	flag.StringVar(&opts.subject, "subject", "", "message subject")
	flag.StringVar(&opts.text, "text", "", "plain text body")
	flag.StringVar(&opts.html, "html", "", "HTML body; cid:<file name> refers to an -embed file")
	flag.IntVar(&opts.priority, "priority", 0, "priority from 1 (highest) to 5 (lowest)")
	flag.Var(&opts.attach, "attach", "file to attach (repeatable)")
	flag.Var(&opts.embed, "embed", "file to embed inline (repeatable)")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "print the message instead of sending it")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		slog.Error("mailctl failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	diag, err := diagnosticLogger(cfg)
	if err != nil {
		return err
	}
	defer diag.Flush()

	tr, err := selectTransport(ctx, cfg, diag)
	if err != nil {
		return err
	}

	mopts := mailer.Options{
		Engine:         cfg.Mailer.Engine,
		Charset:        cfg.Mailer.Charset,
		Transport:      tr,
		From:           cfg.Mailer.From,
		ReplyTo:        cfg.Mailer.ReplyTo,
		Log:            diag,
		MaxMessageSize: int64(cfg.Mailer.MaxMessageSize),
	}
	if cfg.DKIMEnabled() {
		dkimCfg, err := signer.LoadDKIMConfig(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			return err
		}
		mopts.Signer = &signer.Spec{DKIM: &dkimCfg}
	}

	m, err := mailer.New(mopts)
	if err != nil {
		return err
	}

	slog.Info("starting mailctl",
		"engine", cfg.Mailer.Engine,
		"transport", tr.Name(),
		"dkim_enabled", cfg.DKIMEnabled(),
		"dry_run", opts.dryRun,
	)

	msg, err := buildMessage(m, opts)
	if err != nil {
		return err
	}

	if opts.dryRun {
		out, err := msg.ToString()
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(os.Stdout, out)
		return err
	}

	return msg.Send(ctx)
}

// buildMessage composes the message described by the flags.
func buildMessage(m *mailer.Mailer, opts options) (*mailer.Message, error) {
	msg, err := m.Compose()
	if err != nil {
		return nil, err
	}

	if opts.from != "" {
		if err := msg.SetFrom(opts.from); err != nil {
			return nil, err
		}
	}
	for _, set := range []struct {
		fn   func(string) error
		list string
	}{
		{msg.SetTo, opts.to},
		{msg.SetCc, opts.cc},
		{msg.SetBcc, opts.bcc},
	} {
		if err := set.fn(set.list); err != nil {
			return nil, err
		}
	}

	msg.SetSubject(opts.subject)
	if opts.priority != 0 {
		msg.SetPriority(email.Priority(opts.priority))
	}

	html := opts.html
	for _, path := range opts.embed {
		cid, err := msg.EmbedFile(path, email.AttachOptions{})
		if err != nil {
			return nil, err
		}
		html = strings.ReplaceAll(html, "cid:"+baseName(path), cid)
	}

	if opts.text != "" {
		msg.SetTextBody(opts.text)
	}
	if html != "" {
		msg.SetHTMLBody(html)
	}

	for _, path := range opts.attach {
		if err := msg.AttachFile(path, email.AttachOptions{}); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// loadConfig loads configuration from the specified path (file + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with the given output
// format and log level.
func setupLogger(level, format string) {
	var logLevel slog.Level

	switch level {
	case "trace":
		logLevel = maillog.SlogLevelTrace
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

// diagnosticLogger returns the transport diagnostic logger, or nil when
// logging.transport_log is off.
func diagnosticLogger(cfg *config.Config) (*maillog.Logger, error) {
	if !cfg.Logging.TransportLog {
		return nil, nil
	}
	sink, err := maillog.NewSink(cfg.Logging.Sink, slog.Default(), os.Stderr)
	if err != nil {
		return nil, err
	}
	return maillog.New(sink), nil
}

// selectTransport builds the delivery backend named by the configuration.
func selectTransport(ctx context.Context, cfg *config.Config, diag *maillog.Logger) (transport.Transport, error) {
	switch name := cfg.TransportName(); name {
	case config.TransportSMTP:
		tlsCfg, err := mbtls.ClientConfig(mbtls.ClientOptions{
			CAFile:             cfg.TLS.CAFile,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("using SMTP transport",
			"addr", cfg.SMTP.Addr,
			"tls_mode", cfg.SMTP.TLSMode,
			"auth_enabled", cfg.AuthEnabled(),
		)
		return smtp.New(smtp.Config{
			Addr:      cfg.SMTP.Addr,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
			LocalName: cfg.SMTP.LocalName,
			TLSMode:   smtp.TLSMode(cfg.SMTP.TLSMode),
			TLSConfig: tlsCfg,
		}, smtp.WithLogger(diag))

	case config.TransportSES:
		slog.Info("using AWS SES transport",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		return ses.New(ctx, ses.Config{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			Sender:           cfg.SES.Sender,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		}, ses.WithLogger(diag))

	case config.TransportGraph:
		slog.Info("using Microsoft Graph transport",
			"sender", cfg.Graph.Sender,
		)
		return graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		}, graph.WithLogger(diag)), nil

	case config.TransportFile:
		slog.Info("using file transport", "dir", cfg.File.Dir)
		return file.New(cfg.File.Dir, file.WithLogger(diag))

	case config.TransportStdout:
		slog.Info("using stdout transport")
		return stdout.New(diag), nil

	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}
