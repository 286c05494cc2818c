// Package parser reads a wire-format message back into a flat summary, for
// display and for transports that need the message in pieces.
package parser

import (
	"bytes"
	"fmt"
	"log/slog"
	"mime"
	"net/mail"
	"strings"

	"github.com/jhillyerd/enmime"
)

// Summary is a parsed message.
type Summary struct {
	From      string
	To        []string
	Cc        []string
	Bcc       []string
	Subject   string
	MessageID string

	Text string
	HTML string

	Attachments []Attachment
	RawHeaders  map[string][]string

	// Size is the length of the raw message in bytes.
	Size int
	// Warnings lists the problems the MIME reader recovered from.
	Warnings []string
}

// Attachment is an attachment or embedded part.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
	Inline      bool
	ContentID   string
}

// Recipients returns To, Cc and Bcc in that order.
func (s *Summary) Recipients() []string {
	out := make([]string, 0, len(s.To)+len(s.Cc)+len(s.Bcc))
	out = append(out, s.To...)
	out = append(out, s.Cc...)
	return append(out, s.Bcc...)
}

// Parse parses a raw RFC 5322 message. Malformed MIME structure is tolerated
// as far as enmime can recover; the problems are logged and kept in Warnings.
func Parse(raw []byte) (*Summary, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &Summary{
		From:       env.GetHeader("From"),
		To:         parseAddressList(env.GetHeader("To")),
		Cc:         parseAddressList(env.GetHeader("Cc")),
		Bcc:        parseAddressList(env.GetHeader("Bcc")),
		Subject:    env.GetHeader("Subject"),
		MessageID:  env.GetHeader("Message-Id"),
		Text:       env.Text,
		HTML:       env.HTML,
		RawHeaders: make(map[string][]string),
		Size:       len(raw),
	}

	for _, key := range env.GetHeaderKeys() {
		result.RawHeaders[key] = env.GetHeaderValues(key)
	}

	for _, part := range env.Attachments {
		result.Attachments = append(result.Attachments, attachment(part, false))
	}
	for _, part := range env.Inlines {
		result.Attachments = append(result.Attachments, attachment(part, true))
	}

	for _, perr := range env.Errors {
		slog.Warn("recovered from malformed message part", "error", perr.Error())
		result.Warnings = append(result.Warnings, perr.Error())
	}

	return result, nil
}

func attachment(part *enmime.Part, inline bool) Attachment {
	return Attachment{
		Filename:    extractFilename(part),
		ContentType: part.ContentType,
		Content:     part.Content,
		Inline:      inline,
		ContentID:   part.ContentID,
	}
}

// extractFilename returns the part's file name, generating one from the
// media type when the part has none. Graph requires every attachment to be named.
func extractFilename(part *enmime.Part) string {
	if part.FileName != "" {
		return part.FileName
	}
	if mediaType, _, err := mime.ParseMediaType(part.ContentType); err == nil {
		parts := strings.SplitN(mediaType, "/", 2)
		if len(parts) == 2 {
			return "attachment." + parts[1]
		}
	}
	return "attachment"
}

// parseAddressList splits a comma-separated address list into individual addresses.
func parseAddressList(raw string) []string {
	if raw == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		// Fall back to simple comma split if RFC 5322 parsing fails
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, addr.Address)
	}
	return result
}
