// Package config provides environment-variable-first configuration loading
// with optional YAML or TOML file fallback for the mailer.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Transport names.
const (
	TransportSMTP   = "smtp"
	TransportSES    = "ses"
	TransportGraph  = "graph"
	TransportFile   = "file"
	TransportStdout = "stdout"
)

// Config holds the complete application configuration.
type Config struct {
	Mailer  MailerConfig  `yaml:"mailer" toml:"mailer"`
	SMTP    SMTPConfig    `yaml:"smtp" toml:"smtp"`
	SES     SESConfig     `yaml:"ses" toml:"ses"`
	Graph   GraphConfig   `yaml:"graph" toml:"graph"`
	File    FileConfig    `yaml:"file" toml:"file"`
	DKIM    DKIMConfig    `yaml:"dkim" toml:"dkim"`
	TLS     TLSConfig     `yaml:"tls" toml:"tls"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// MailerConfig holds message defaults and backend selection.
type MailerConfig struct {
	// Engine is the message backend: "native" (default) or "gomail".
	Engine string `yaml:"engine" toml:"engine"`
	// Transport is one of smtp, ses, graph, file, stdout. Empty means
	// auto-detect.
	Transport      string `yaml:"transport" toml:"transport"`
	Charset        string `yaml:"charset" toml:"charset"`
	From           string `yaml:"from" toml:"from"`
	ReplyTo        string `yaml:"reply_to" toml:"reply_to"`
	MaxMessageSize Size   `yaml:"max_message_size" toml:"max_message_size"`
}

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Addr               string `yaml:"addr" toml:"addr"`
	Username           string `yaml:"username" toml:"username"`
	Password           string `yaml:"password" toml:"password"`
	TLSMode            string `yaml:"tls_mode" toml:"tls_mode"`
	LocalName          string `yaml:"local_name" toml:"local_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region           string `yaml:"region" toml:"region"`
	AccessKeyID      string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key" toml:"secret_access_key"`
	Sender           string `yaml:"sender" toml:"sender"`
	ConfigurationSet string `yaml:"configuration_set" toml:"configuration_set"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id" toml:"tenant_id"`
	ClientID     string `yaml:"client_id" toml:"client_id"`
	ClientSecret string `yaml:"client_secret" toml:"client_secret"`
	Sender       string `yaml:"sender" toml:"sender"`
}

// FileConfig holds the file transport settings.
type FileConfig struct {
	Dir string `yaml:"dir" toml:"dir"`
}

// DKIMConfig configures signing of every outgoing message.
type DKIMConfig struct {
	KeyFile  string `yaml:"key_file" toml:"key_file"`
	Domain   string `yaml:"domain" toml:"domain"`
	Selector string `yaml:"selector" toml:"selector"`
}

// TLSConfig holds client TLS settings.
type TLSConfig struct {
	CAFile string `yaml:"ca_file" toml:"ca_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
	// Format is "json" (default) or "text".
	Format string `yaml:"format" toml:"format"`
	// Sink receives transport diagnostics: slog, zerolog or logrus.
	Sink string `yaml:"sink" toml:"sink"`
	// TransportLog enables the transport diagnostic stream.
	TransportLog bool `yaml:"transport_log" toml:"transport_log"`
}

// Size is a byte count that also accepts human-readable values such as
// "25MB" or "512k".
type Size int64

// UnmarshalText parses s with binary (1024-based) units.
func (s *Size) UnmarshalText(text []byte) error {
	n, err := units.RAMInBytes(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", text, err)
	}
	if n < 0 {
		return fmt.Errorf("invalid size %q: negative", text)
	}
	*s = Size(n)
	return nil
}

// UnmarshalYAML accepts both plain integers and unit strings.
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	return s.UnmarshalText([]byte(value.Value))
}

// String formats the size with binary units.
func (s Size) String() string {
	return units.BytesSize(float64(s))
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or TOML file as the base
// layer, then overrides with environment variables. The format follows the
// file extension; anything but .toml is read as YAML. Returns an error if
// the specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Environment variables always override file values
	cfg.applyEnvVars()

	return cfg, nil
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// SMTPConfigured returns true if an SMTP relay address is set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Addr != ""
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// DKIMEnabled returns true if any DKIM setting is present.
func (c *Config) DKIMEnabled() bool {
	return c.DKIM.KeyFile != "" || c.DKIM.Domain != "" || c.DKIM.Selector != ""
}

// TransportName returns the configured transport. When none is set it
// picks SMTP, Graph, then SES, whichever is configured first, and falls
// back to stdout.
func (c *Config) TransportName() string {
	if c.Mailer.Transport != "" {
		return c.Mailer.Transport
	}
	switch {
	case c.SMTPConfigured():
		return TransportSMTP
	case c.GraphConfigured():
		return TransportGraph
	case c.SESConfigured():
		return TransportSES
	default:
		return TransportStdout
	}
}

// Validate reports every missing or inconsistent setting for the selected
// transport, DKIM and logging.
func (c *Config) Validate() error {
	var errs []error

	switch name := c.TransportName(); name {
	case TransportSMTP:
		if !c.SMTPConfigured() {
			errs = append(errs, errors.New("smtp transport requires SMTP_ADDR"))
		}
		if (c.SMTP.Username == "") != (c.SMTP.Password == "") {
			errs = append(errs, errors.New("SMTP_USERNAME and SMTP_PASSWORD must be set together"))
		}
		switch strings.ToLower(c.SMTP.TLSMode) {
		case "", "starttls", "tls", "none":
		default:
			errs = append(errs, fmt.Errorf("unknown SMTP_TLS_MODE %q", c.SMTP.TLSMode))
		}
	case TransportSES:
		if c.SES.Region == "" {
			errs = append(errs, errors.New("ses transport requires SES_REGION"))
		}
	case TransportGraph:
		if !c.GraphConfigured() {
			errs = append(errs, errors.New("graph transport requires GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER"))
		}
	case TransportFile:
		if c.File.Dir == "" {
			errs = append(errs, errors.New("file transport requires FILE_DIR"))
		}
	case TransportStdout:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", name))
	}

	if c.DKIMEnabled() && (c.DKIM.KeyFile == "" || c.DKIM.Domain == "" || c.DKIM.Selector == "") {
		errs = append(errs, errors.New("DKIM requires DKIM_KEY_FILE, DKIM_DOMAIN, and DKIM_SELECTOR"))
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Mailer.Charset = "utf-8"
	c.Mailer.MaxMessageSize = defaultMaxMessageSize
	c.SMTP.TLSMode = "starttls"
	c.Logging.Level = "info"
	c.Logging.Format = "json"
	c.Logging.Sink = "slog"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values, and
// values that fail to parse are ignored.
func (c *Config) applyEnvVars() {
	setString(&c.Mailer.Engine, "MAIL_ENGINE", strings.ToLower)
	setString(&c.Mailer.Transport, "MAIL_TRANSPORT", strings.ToLower)
	setString(&c.Mailer.Charset, "MAIL_CHARSET", nil)
	setString(&c.Mailer.From, "MAIL_FROM", nil)
	setString(&c.Mailer.ReplyTo, "MAIL_REPLY_TO", nil)
	if v := os.Getenv("MAIL_MAX_MESSAGE_SIZE"); v != "" {
		var size Size
		if err := size.UnmarshalText([]byte(v)); err == nil {
			c.Mailer.MaxMessageSize = size
		}
	}

	setString(&c.SMTP.Addr, "SMTP_ADDR", nil)
	setString(&c.SMTP.Username, "SMTP_USERNAME", nil)
	setString(&c.SMTP.Password, "SMTP_PASSWORD", nil)
	setString(&c.SMTP.TLSMode, "SMTP_TLS_MODE", strings.ToLower)
	setString(&c.SMTP.LocalName, "SMTP_LOCAL_NAME", nil)
	setBool(&c.SMTP.InsecureSkipVerify, "SMTP_INSECURE_SKIP_VERIFY")

	setString(&c.SES.Region, "SES_REGION", nil)
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID", nil)
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY", nil)
	setString(&c.SES.Sender, "SES_SENDER", nil)
	setString(&c.SES.ConfigurationSet, "SES_CONFIGURATION_SET", nil)

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID", nil)
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID", nil)
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET", nil)
	setString(&c.Graph.Sender, "GRAPH_SENDER", nil)

	setString(&c.File.Dir, "FILE_DIR", nil)

	setString(&c.DKIM.KeyFile, "DKIM_KEY_FILE", nil)
	setString(&c.DKIM.Domain, "DKIM_DOMAIN", nil)
	setString(&c.DKIM.Selector, "DKIM_SELECTOR", nil)

	setString(&c.TLS.CAFile, "TLS_CA_FILE", nil)

	setString(&c.Logging.Level, "LOG_LEVEL", strings.ToLower)
	setString(&c.Logging.Format, "LOG_FORMAT", strings.ToLower)
	setString(&c.Logging.Sink, "LOG_SINK", strings.ToLower)
	setBool(&c.Logging.TransportLog, "LOG_TRANSPORT")
}

func setString(dst *string, key string, normalize func(string) string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if normalize != nil {
		v = normalize(v)
	}
	*dst = v
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
