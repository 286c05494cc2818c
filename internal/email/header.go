package email

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Header fields with dedicated accessors.
const (
	FieldFrom          = "From"
	FieldTo            = "To"
	FieldCc            = "Cc"
	FieldBcc           = "Bcc"
	FieldReplyTo       = "Reply-To"
	FieldSubject       = "Subject"
	FieldReturnPath    = "Return-Path"
	FieldPriority      = "X-Priority"
	FieldReadReceiptTo = "Disposition-Notification-To"
)

// Priority is the X-Priority level, 1 (highest) to 5 (lowest).
type Priority int

const (
	PriorityHighest Priority = 1
	PriorityHigh    Priority = 2
	PriorityNormal  Priority = 3
	PriorityLow     Priority = 4
	PriorityLowest  Priority = 5
)

var priorityLabels = map[Priority]string{
	PriorityHighest: "Highest",
	PriorityHigh:    "High",
	PriorityNormal:  "Normal",
	PriorityLow:     "Low",
	PriorityLowest:  "Lowest",
}

// String renders p the way it appears in the X-Priority header.
func (p Priority) String() string {
	p = p.clamp()
	return fmt.Sprintf("%d (%s)", int(p), priorityLabels[p])
}

func (p Priority) clamp() Priority {
	switch {
	case p < PriorityHighest:
		return PriorityHighest
	case p > PriorityLowest:
		return PriorityLowest
	default:
		return p
	}
}

// ParseAddressList parses an RFC 5322 address list. An empty string yields
// no addresses.
func ParseAddressList(list string) ([]*mail.Address, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	addrs, err := mail.ParseAddressList(list)
	if err != nil {
		return nil, fmt.Errorf("invalid address list %q: %w", list, err)
	}
	return addrs, nil
}

// Header gives direct access to the message header.
func (t *Tree) Header() *mail.Header {
	return &t.header
}

// SetHeader replaces every value of name. Passing no values removes the field.
func (t *Tree) SetHeader(name string, values ...string) {
	t.header.Del(name)
	for _, v := range values {
		t.header.Add(name, v)
	}
}

// AddHeader adds a value to name, keeping existing ones.
func (t *Tree) AddHeader(name, value string) {
	t.header.Add(name, value)
}

// HeaderValues returns every raw value of name.
func (t *Tree) HeaderValues(name string) []string {
	var values []string
	fields := t.header.FieldsByKey(name)
	for fields.Next() {
		values = append(values, fields.Value())
	}
	return values
}

// SetAddresses replaces an address field. An empty list removes it.
func (t *Tree) SetAddresses(field string, addrs []*mail.Address) {
	if len(addrs) == 0 {
		t.header.Del(field)
		return
	}
	t.header.SetAddressList(field, addrs)
}

// Addresses parses an address field.
func (t *Tree) Addresses(field string) ([]*mail.Address, error) {
	if !t.header.Has(field) {
		return nil, nil
	}
	addrs, err := t.header.AddressList(field)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return addrs, nil
}

// SetSubject sets the subject, encoding it if needed.
func (t *Tree) SetSubject(subject string) {
	t.header.SetSubject(subject)
}

// Subject returns the decoded subject.
func (t *Tree) Subject() string {
	s, err := t.header.Subject()
	if err != nil {
		return t.header.Get(FieldSubject)
	}
	return s
}

// SetPriority sets X-Priority. Values outside 1..5 are clamped.
func (t *Tree) SetPriority(p Priority) {
	t.header.Set(FieldPriority, p.String())
}

// Priority returns the X-Priority level, PriorityNormal if unset or unparsable.
func (t *Tree) Priority() Priority {
	v := strings.TrimSpace(t.header.Get(FieldPriority))
	if v == "" {
		return PriorityNormal
	}
	n, err := strconv.Atoi(strings.Fields(v)[0])
	if err != nil {
		return PriorityNormal
	}
	return Priority(n).clamp()
}

// SetReturnPath sets the bounce address.
func (t *Tree) SetReturnPath(addr string) {
	if addr == "" {
		t.header.Del(FieldReturnPath)
		return
	}
	t.header.Set(FieldReturnPath, "<"+strings.Trim(addr, "<> ")+">")
}

// ReturnPath returns the bounce address without angle brackets.
func (t *Tree) ReturnPath() string {
	return strings.Trim(t.header.Get(FieldReturnPath), "<> ")
}

// RenderHeader returns a copy of the header ready to be written at the top
// of the message. It fills in Date, Message-Id and MIME-Version when they are
// missing.
func (t *Tree) RenderHeader(opts RenderOptions) (mail.Header, error) {
	var h mail.Header
	fields := t.header.Fields()
	for fields.Next() {
		if opts.OmitBcc && strings.EqualFold(fields.Key(), FieldBcc) {
			continue
		}
		h.Add(fields.Key(), fields.Value())
	}

	if !h.Has("Date") {
		now := opts.Now
		if now.IsZero() {
			now = time.Now()
		}
		h.SetDate(now)
	}
	if !h.Has("Message-Id") {
		h.SetMessageID(uuid.NewString() + "@" + t.messageIDDomain())
	}
	h.Set("MIME-Version", "1.0")
	return h, nil
}

// messageIDDomain uses the sender's domain when there is one.
func (t *Tree) messageIDDomain() string {
	from, err := t.Addresses(FieldFrom)
	if err != nil || len(from) == 0 {
		return contentIDDomain
	}
	if i := strings.LastIndex(from[0].Address, "@"); i >= 0 && i < len(from[0].Address)-1 {
		return from[0].Address[i+1:]
	}
	return contentIDDomain
}
