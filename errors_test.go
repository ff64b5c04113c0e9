package omemodr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecryptError(t *testing.T) {
	// Arrange.
	err := fmt.Errorf("decrypt: %w", &DecryptError{Errs: []error{
		ErrBadMAC,
		fmt.Errorf("%w: message version 4, session version 3", ErrInvalidMessage),
	}})

	// Assert.
	require.ErrorIs(t, err, ErrInvalidMessage)
	require.ErrorIs(t, err, ErrBadMAC)
	require.False(t, errors.Is(err, ErrNoSession))
	require.Contains(t, err.Error(), "bad mac")
	require.Contains(t, err.Error(), "message version 4")
}

func TestUntrustedIdentityError(t *testing.T) {
	// Arrange.
	err := fmt.Errorf("process: %w", &UntrustedIdentityError{Name: "bob"})

	// Act.
	var untrusted *UntrustedIdentityError
	ok := errors.As(err, &untrusted)

	// Assert.
	require.ErrorIs(t, err, ErrUntrustedIdentity)
	require.True(t, ok)
	require.Equal(t, "bob", untrusted.Name)
	require.Contains(t, err.Error(), `"bob"`)
}

func TestErrBadMAC_IsInvalidMessage(t *testing.T) {
	require.ErrorIs(t, ErrBadMAC, ErrInvalidMessage)
}
