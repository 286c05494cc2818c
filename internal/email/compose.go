package email

// Body is the part of a message the composer works against. Any engine that
// can hold a top-level body and an ordered list of child parts can be
// composed.
type Body interface {
	// Charset returns the message-wide charset.
	Charset() string

	// Body returns the top-level body and its content type. An empty content
	// means no top-level body is set.
	Body() (content, contentType string)

	// SetBody replaces the top-level body.
	SetBody(content, contentType string)

	// ClearBody removes the top-level body and its content type.
	ClearBody()

	// Children returns the child parts in order.
	Children() []*Part

	// SetChildren replaces the child parts.
	SetChildren(parts []*Part)

	// AddPart appends a textual alternative part.
	AddPart(content, contentType, charset string)
}

// SetBody sets content of the given type on m.
//
// The first body ever set lives at the top level. Setting a body of the same
// type again replaces it. Setting a body of a different type turns the
// message into a multipart one: the old body and the new one become two
// alternative children, in that order. Once the message is multipart, setting
// a type that already exists among the children replaces that child and keeps
// its charset. Attachment-like children are never considered.
func SetBody(m Body, content, contentType string) {
	oldBody, oldContentType := m.Body()
	charset := m.Charset()

	if oldBody != "" {
		if oldContentType == contentType {
			m.SetBody(content, contentType)
			return
		}
		m.ClearBody()
		m.AddPart(oldBody, oldContentType, charset)
		m.AddPart(content, contentType, charset)
		return
	}

	parts := m.Children()
	found := -1
	for i, part := range parts {
		if part.IsAttachment() {
			continue
		}
		if part.ContentType == contentType {
			if part.Charset != "" {
				charset = part.Charset
			}
			found = i
			break
		}
	}

	if found < 0 {
		m.SetBody(content, contentType)
		return
	}

	kept := make([]*Part, 0, len(parts)-1)
	kept = append(kept, parts[:found]...)
	kept = append(kept, parts[found+1:]...)
	m.SetChildren(kept)
	m.AddPart(content, contentType, charset)
}

// SetTextBody sets the plain text body of m.
func SetTextBody(m Body, text string) {
	SetBody(m, text, ContentTypeText)
}

// SetHTMLBody sets the HTML body of m.
func SetHTMLBody(m Body, html string) {
	SetBody(m, html, ContentTypeHTML)
}
