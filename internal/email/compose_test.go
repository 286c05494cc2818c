package email

import (
	"testing"
)

// textual returns the body (if any) and the alternative children as
// content-type -> content, failing on duplicates.
func textual(t *testing.T, m *Tree) map[string]string {
	t.Helper()

	out := make(map[string]string)
	for _, part := range m.TextParts() {
		if _, dup := out[part.ContentType]; dup {
			t.Fatalf("duplicate %s part in %s", part.ContentType, m)
		}
		out[part.ContentType] = string(part.Content)
	}
	return out
}

func TestSetBody_IdempotentOverride(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		set   func(m *Tree, s string)
		ctype string
	}{
		{name: "text", set: (*Tree).SetTextBody, ctype: ContentTypeText},
		{name: "html", set: (*Tree).SetHTMLBody, ctype: ContentTypeHTML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := NewTree("")
			tt.set(m, "A")
			tt.set(m, "B")

			body, ctype := m.Body()
			if body != "B" || ctype != tt.ctype {
				t.Errorf("Body() = (%q, %q), want (%q, %q)", body, ctype, "B", tt.ctype)
			}
			if n := len(m.Children()); n != 0 {
				t.Errorf("expected no children, got %d", n)
			}
		})
	}
}

func TestSetBody_OrderIndependence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		compose   func(m *Tree)
		wantOrder []string
	}{
		{
			name: "text then html",
			compose: func(m *Tree) {
				m.SetTextBody("T")
				m.SetHTMLBody("H")
			},
			wantOrder: []string{ContentTypeText, ContentTypeHTML},
		},
		{
			name: "html then text",
			compose: func(m *Tree) {
				m.SetHTMLBody("H")
				m.SetTextBody("T")
			},
			wantOrder: []string{ContentTypeHTML, ContentTypeText},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := NewTree("")
			tt.compose(m)

			if body, ctype := m.Body(); body != "" || ctype != "" {
				t.Errorf("top-level body should be cleared, got (%q, %q)", body, ctype)
			}

			got := textual(t, m)
			if got[ContentTypeText] != "T" {
				t.Errorf("text part = %q, want %q", got[ContentTypeText], "T")
			}
			if got[ContentTypeHTML] != "H" {
				t.Errorf("html part = %q, want %q", got[ContentTypeHTML], "H")
			}

			children := m.Children()
			if len(children) != len(tt.wantOrder) {
				t.Fatalf("expected %d children, got %d", len(tt.wantOrder), len(children))
			}
			for i, want := range tt.wantOrder {
				if children[i].ContentType != want {
					t.Errorf("children[%d] = %s, want %s", i, children[i].ContentType, want)
				}
			}
		})
	}
}

func TestSetBody_ReOverrideAfterSplit(t *testing.T) {
	t.Parallel()

	m := NewTree("")
	m.SetTextBody("T")
	m.SetHTMLBody("H")
	m.SetTextBody("T2")

	children := m.Children()
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d (%s)", len(children), m)
	}
	got := textual(t, m)
	if got[ContentTypeText] != "T2" {
		t.Errorf("text part = %q, want %q", got[ContentTypeText], "T2")
	}
	if got[ContentTypeHTML] != "H" {
		t.Errorf("html part = %q, want %q", got[ContentTypeHTML], "H")
	}

	// The replaced part moves to the end.
	if children[1].ContentType != ContentTypeText {
		t.Errorf("replaced part should be last, got %s", children[1].ContentType)
	}
}

func TestSetBody_CharsetPropagation(t *testing.T) {
	t.Parallel()

	t.Run("split uses message charset", func(t *testing.T) {
		t.Parallel()

		m := NewTree("iso-8859-1")
		m.SetTextBody("T")
		m.SetHTMLBody("H")

		for _, part := range m.Children() {
			if part.Charset != "iso-8859-1" {
				t.Errorf("%s charset = %q, want iso-8859-1", part.ContentType, part.Charset)
			}
		}
	})

	t.Run("replacement keeps the part charset", func(t *testing.T) {
		t.Parallel()

		m := NewTree("")
		m.AddPart("old", ContentTypeText, "koi8-r")
		m.SetTextBody("new")

		children := m.Children()
		if len(children) != 1 {
			t.Fatalf("expected 1 child, got %d", len(children))
		}
		if children[0].Charset != "koi8-r" {
			t.Errorf("charset = %q, want koi8-r", children[0].Charset)
		}
		if string(children[0].Content) != "new" {
			t.Errorf("content = %q, want %q", children[0].Content, "new")
		}
	})

	t.Run("empty part charset falls back to message charset", func(t *testing.T) {
		t.Parallel()

		m := NewTree("windows-1251")
		m.SetChildren([]*Part{{Kind: KindAlternative, ContentType: ContentTypeHTML, Content: []byte("old")}})
		m.SetHTMLBody("new")

		children := m.Children()
		if len(children) != 1 || children[0].Charset != "windows-1251" {
			t.Errorf("unexpected children %s", m)
		}
	})

	t.Run("message charset change applies to existing parts", func(t *testing.T) {
		t.Parallel()

		m := NewTree("utf-8")
		m.SetTextBody("T")
		m.SetHTMLBody("H")
		m.SetCharset("windows-1251")
		m.SetTextBody("T2")

		for _, part := range m.Children() {
			if part.Charset != "windows-1251" {
				t.Errorf("%s charset = %q, want windows-1251", part.ContentType, part.Charset)
			}
		}
	})
}

func TestSetBody_AttachmentNonInterference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		compose func(m *Tree)
		want    map[string]string
	}{
		{
			name:    "text only",
			compose: func(m *Tree) { m.SetTextBody("T") },
			want:    map[string]string{ContentTypeText: "T"},
		},
		{
			name: "text and html",
			compose: func(m *Tree) {
				m.SetTextBody("T")
				m.SetHTMLBody("H")
			},
			want: map[string]string{ContentTypeText: "T", ContentTypeHTML: "H"},
		},
		{
			name: "override after split",
			compose: func(m *Tree) {
				m.SetHTMLBody("H")
				m.SetTextBody("T")
				m.SetHTMLBody("H2")
				m.SetTextBody("T2")
			},
			want: map[string]string{ContentTypeText: "T2", ContentTypeHTML: "H2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := NewTree("")
			// An attachment whose type matches a textual body must still be ignored.
			m.AttachContent([]byte("notes"), AttachOptions{Filename: "notes.txt", ContentType: ContentTypeText})
			tt.compose(m)

			attachments := m.Attachments()
			if len(attachments) != 1 {
				t.Fatalf("expected 1 attachment, got %d", len(attachments))
			}
			if string(attachments[0].Content) != "notes" {
				t.Errorf("attachment content changed: %q", attachments[0].Content)
			}

			got := textual(t, m)
			if len(got) != len(tt.want) {
				t.Fatalf("textual parts = %v, want %v", got, tt.want)
			}
			for ctype, content := range tt.want {
				if got[ctype] != content {
					t.Errorf("%s = %q, want %q", ctype, got[ctype], content)
				}
			}
		})
	}
}

func TestSetBody_ThirdContentType(t *testing.T) {
	t.Parallel()

	m := NewTree("")
	m.SetTextBody("T")
	m.SetHTMLBody("H")
	SetBody(m, "# md", "text/markdown")

	// With no top-level body and no markdown child the new type goes to the top level.
	body, ctype := m.Body()
	if body != "# md" || ctype != "text/markdown" {
		t.Errorf("Body() = (%q, %q)", body, ctype)
	}
	if n := len(m.Children()); n != 2 {
		t.Errorf("expected 2 children, got %d", n)
	}
}

func TestSetBody_EmptyContentCountsAsUnset(t *testing.T) {
	t.Parallel()

	m := NewTree("")
	m.SetTextBody("")
	m.SetHTMLBody("H")

	body, ctype := m.Body()
	if body != "H" || ctype != ContentTypeHTML {
		t.Errorf("Body() = (%q, %q), want (%q, %q)", body, ctype, "H", ContentTypeHTML)
	}
	if n := len(m.Children()); n != 0 {
		t.Errorf("expected no children, got %d", n)
	}
}
