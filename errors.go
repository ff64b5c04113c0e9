package omemodr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stalker-loki/omemodr/ecc"
	"github.com/stalker-loki/omemodr/message"
)

var (
	// ErrInvalidKey is returned for malformed keys and bad pre-key signatures.
	ErrInvalidKey = ecc.ErrInvalidKey
	// ErrInvalidKeyID is returned when a referenced pre-key is not in the store.
	ErrInvalidKeyID = errors.New("invalid key id")
	// ErrInvalidMessage is returned for malformed or unauthentic messages.
	ErrInvalidMessage = message.ErrInvalidMessage
	// ErrBadMAC is an ErrInvalidMessage for a message authentication failure.
	ErrBadMAC = message.ErrBadMAC
	// ErrInvalidVersion is returned for unsupported protocol versions.
	ErrInvalidVersion = message.ErrInvalidVersion
	// ErrUntrustedIdentity is matched by every *UntrustedIdentityError.
	ErrUntrustedIdentity = errors.New("untrusted identity")
	// ErrNoSession is returned when decrypting without a session on record.
	ErrNoSession = errors.New("no session")
	// ErrDuplicateMessage is returned for a counter that was already consumed.
	ErrDuplicateMessage = errors.New("duplicate message")
)

// UntrustedIdentityError reports the peer identity that the store refused.
type UntrustedIdentityError struct {
	Name string
	Key  IdentityKey
}

func (e *UntrustedIdentityError) Error() string {
	return fmt.Sprintf("untrusted identity for %q", e.Name)
}

func (e *UntrustedIdentityError) Is(target error) bool {
	return target == ErrUntrustedIdentity
}

// DecryptError collects the failure of every session state tried for one
// message. It matches ErrInvalidMessage.
type DecryptError struct {
	Errs []error
}

func (e *DecryptError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("no valid sessions: [%s]", strings.Join(msgs, "; "))
}

func (e *DecryptError) Unwrap() []error {
	return e.Errs
}

func (e *DecryptError) Is(target error) bool {
	return target == ErrInvalidMessage
}
