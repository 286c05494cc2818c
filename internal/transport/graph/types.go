// Package graph implements a Transport that sends messages via the Microsoft Graph API.
package graph

import (
	"encoding/base64"
	"strings"

	"github.com/shineum/mailbridge/internal/parser"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message sendMailMessage `json:"message"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject       string            `json:"subject"`
	Body          messageBody       `json:"body"`
	ToRecipients  []recipient       `json:"toRecipients"`
	CcRecipients  []recipient       `json:"ccRecipients,omitempty"`
	BccRecipients []recipient       `json:"bccRecipients,omitempty"`
	Attachments   []graphAttachment `json:"attachments,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Address string `json:"address"`
}

// graphAttachment represents a file attachment in a Graph API request.
type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
	IsInline     bool   `json:"isInline,omitempty"`
	ContentID    string `json:"contentId,omitempty"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts a parsed message into a Graph API sendMail
// request body. Envelope recipients missing from To and Cc are sent as Bcc,
// since the rendered message carries no Bcc header.
func buildSendMailRequest(msg *parser.Summary, envelopeTo []string) *sendMailRequest {
	// Determine body content type and content
	body := messageBody{
		ContentType: "text",
		Content:     msg.Text,
	}
	if msg.HTML != "" {
		body.ContentType = "html"
		body.Content = msg.HTML
	}

	visible := make(map[string]bool)
	for _, addr := range msg.To {
		visible[strings.ToLower(addr)] = true
	}
	for _, addr := range msg.Cc {
		visible[strings.ToLower(addr)] = true
	}

	var bcc []string
	seen := make(map[string]bool)
	for _, addr := range append(append([]string(nil), msg.Bcc...), envelopeTo...) {
		key := strings.ToLower(addr)
		if visible[key] || seen[key] {
			continue
		}
		seen[key] = true
		bcc = append(bcc, addr)
	}

	// Build attachments
	attachments := make([]graphAttachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
			IsInline:     att.Inline,
			ContentID:    att.ContentID,
		})
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject:       msg.Subject,
			Body:          body,
			ToRecipients:  recipients(msg.To),
			CcRecipients:  recipients(msg.Cc),
			BccRecipients: recipients(bcc),
			Attachments:   attachments,
		},
	}
}

func recipients(addrs []string) []recipient {
	out := make([]recipient, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, recipient{
			EmailAddress: emailAddress{Address: addr},
		})
	}
	return out
}
