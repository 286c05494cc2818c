// Package signer turns signer descriptors into signers that run over a fully
// rendered message right before it leaves the process.
package signer

import (
	"errors"
	"fmt"
)

// ErrInvalidSpec is returned when a Spec sets none or both of its arms.
var ErrInvalidSpec = errors.New("signer spec must set exactly one of DKIM or Signer")

// Signer transforms a rendered message into its signed form. Signers must not
// modify raw.
type Signer interface {
	Sign(raw []byte) ([]byte, error)
}

// Func adapts a plain function to a Signer.
type Func func(raw []byte) ([]byte, error)

// Sign calls f(raw).
func (f Func) Sign(raw []byte) ([]byte, error) {
	return f(raw)
}

// Spec describes a signer either declaratively (DKIM settings) or as a
// ready-made Signer. Exactly one field must be set.
type Spec struct {
	DKIM   *DKIMConfig
	Signer Signer
}

// Resolve builds the signer described by s.
func (s Spec) Resolve() (Signer, error) {
	switch {
	case s.DKIM != nil && s.Signer == nil:
		d, err := NewDKIM(*s.DKIM)
		if err != nil {
			return nil, fmt.Errorf("failed to build DKIM signer: %w", err)
		}
		return d, nil
	case s.Signer != nil && s.DKIM == nil:
		return s.Signer, nil
	default:
		return nil, ErrInvalidSpec
	}
}

// Apply runs every signer over raw in order.
func Apply(raw []byte, signers []Signer) ([]byte, error) {
	out := raw
	for i, s := range signers {
		signed, err := s.Sign(out)
		if err != nil {
			return nil, fmt.Errorf("signer %d failed: %w", i, err)
		}
		out = signed
	}
	return out, nil
}
