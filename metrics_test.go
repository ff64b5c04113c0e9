package omemodr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Register(t *testing.T) {
	// Arrange.
	reg := prometheus.NewRegistry()

	// Act.
	m := NewMetrics(reg)
	m.encrypted("whisper")
	m.decrypted("whisper", nil)
	m.sessionBuilt("initiator")
	m.statePromoted()

	// Assert.
	count, err := testutil.GatherAndCount(reg)
	require.Nil(t, err)
	require.Equal(t, 4, count)
	require.Panics(t, func() { NewMetrics(reg) })
}

func TestMetrics_Nil(t *testing.T) {
	// Arrange.
	var m *Metrics

	// Assert.
	require.NotPanics(t, func() {
		m.encrypted("whisper")
		m.decrypted("prekey", ErrNoSession)
		m.sessionBuilt("responder")
		m.statePromoted()
	})
}

func TestResultLabel(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("wrapped: %w", ErrDuplicateMessage), "duplicate"},
		{&UntrustedIdentityError{Name: "bob"}, "untrusted"},
		{ErrNoSession, "no_session"},
		{&DecryptError{Errs: []error{ErrBadMAC}}, "invalid"},
		{ErrBadMAC, "invalid"},
		{errors.New("disk on fire"), "error"},
	} {
		require.Equal(t, tc.want, resultLabel(tc.err))
	}
}
