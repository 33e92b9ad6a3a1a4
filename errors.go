package vault

import (
	"errors"

	"github.com/kamune-org/vault/pkg/exchange"
	"github.com/kamune-org/vault/pkg/prekey"
	"github.com/kamune-org/vault/pkg/ratchet"
	"github.com/kamune-org/vault/pkg/x3dh"
)

var (
	ErrKeyGeneration   = exchange.ErrKeyGeneration
	ErrUntrustedBundle = prekey.ErrUntrustedBundle
	ErrUnknownPreKey   = prekey.ErrUnknownPreKey
	ErrInvalidMessage  = x3dh.ErrInvalidMessage
	ErrAuthentication  = ratchet.ErrAuthentication
	ErrExcessiveSkip   = ratchet.ErrExcessiveSkip
	ErrInvalidEnvelope = ratchet.ErrInvalidEnvelope
	ErrInvalidState    = ratchet.ErrInvalidState

	ErrSessionNotFound = errors.New("session not found")
	ErrStoreClosed     = errors.New("session store closed")
)

// Messages shown to users. Nothing finer grained is surfaced, so a user
// cannot tell which check failed.
const (
	NotVerifiedMessage     = "message could not be verified"
	NoSecureSessionMessage = "cannot establish secure session with this contact"
	GenericFailureMessage  = "something went wrong"
)

// UserFacing maps err to one of the messages above. It returns an empty
// string for a nil error.
func UserFacing(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthentication),
		errors.Is(err, ErrExcessiveSkip),
		errors.Is(err, ErrInvalidEnvelope):
		return NotVerifiedMessage
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrUntrustedBundle),
		errors.Is(err, ErrUnknownPreKey),
		errors.Is(err, ErrInvalidMessage):
		return NoSecureSessionMessage
	default:
		return GenericFailureMessage
	}
}
