// Package engine selects the mail engine backend by name.
package engine

import (
	"fmt"
	"strings"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/engine/gomail"
	"github.com/shineum/mailbridge/internal/engine/native"
)

// Default is used when no engine is configured.
const Default = native.Name

// Names lists the available engines.
func Names() []string {
	return []string{native.Name, gomail.Name}
}

// New returns an empty message from the engine called name.
func New(name, charset string) (email.MailMessage, error) {
	switch strings.ToLower(name) {
	case "", native.Name:
		return native.New(charset), nil
	case gomail.Name:
		return gomail.New(charset), nil
	default:
		return nil, fmt.Errorf("unknown mail engine %q (available: %s)", name, strings.Join(Names(), ", "))
	}
}
