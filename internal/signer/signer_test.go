package signer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpec_Resolve(t *testing.T) {
	t.Parallel()

	key, _ := generateRSAKey(t)
	concrete := Func(func(raw []byte) ([]byte, error) { return raw, nil })

	t.Run("dkim arm", func(t *testing.T) {
		s, err := Spec{DKIM: &DKIMConfig{PrivateKey: key, Domain: "example.com", Selector: "mail"}}.Resolve()
		require.NoError(t, err)
		d, ok := s.(*DKIM)
		require.True(t, ok, "expected *DKIM, got %T", s)
		assert.Equal(t, "example.com", d.Domain())
		assert.Equal(t, "mail", d.Selector())
	})

	t.Run("signer arm", func(t *testing.T) {
		s, err := Spec{Signer: concrete}.Resolve()
		require.NoError(t, err)
		out, err := s.Sign([]byte("x"))
		require.NoError(t, err)
		assert.Equal(t, []byte("x"), out)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Spec{}.Resolve()
		assert.ErrorIs(t, err, ErrInvalidSpec)
	})

	t.Run("both arms", func(t *testing.T) {
		_, err := Spec{DKIM: &DKIMConfig{}, Signer: concrete}.Resolve()
		assert.ErrorIs(t, err, ErrInvalidSpec)
	})

	t.Run("bad dkim config", func(t *testing.T) {
		_, err := Spec{DKIM: &DKIMConfig{Domain: "example.com"}}.Resolve()
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidSpec)
	})
}

func TestApply(t *testing.T) {
	t.Parallel()

	prefix := func(p string) Signer {
		return Func(func(raw []byte) ([]byte, error) {
			return append([]byte(p), raw...), nil
		})
	}

	out, err := Apply([]byte("body"), []Signer{prefix("a:"), prefix("b:")})
	require.NoError(t, err)
	assert.Equal(t, "b:a:body", string(out))

	out, err = Apply([]byte("body"), nil)
	require.NoError(t, err)
	assert.Equal(t, "body", string(out))

	failing := Func(func([]byte) ([]byte, error) { return nil, errors.New("boom") })
	_, err = Apply([]byte("body"), []Signer{prefix("a:"), failing})
	assert.ErrorContains(t, err, "boom")
}
