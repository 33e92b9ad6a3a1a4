// Package vault keeps end-to-end encrypted sessions with peer devices.
//
// A SessionStore holds exactly one ratchet session per peer device. Sessions
// start either from a peer's published pre-key bundle (Initiate) or from the
// first message a peer sends (Accept), and are used through Session handles.
// The store performs no network I/O of its own; persistence, pre-key lookup
// and bundle retrieval are supplied by the application.
package vault

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Address names one device of a user.
type Address struct {
	UserID   string
	DeviceID uint32
}

func (a Address) String() string {
	return a.UserID + "." + strconv.FormatUint(uint64(a.DeviceID), 10)
}

// ParseAddress parses the form produced by Address.String. The device id
// follows the last dot, so user ids may contain dots themselves.
func ParseAddress(s string) (Address, error) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return Address{}, fmt.Errorf("invalid address %q", s)
	}
	device, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return Address{}, fmt.Errorf("invalid device id in %q: %w", s, errors.Unwrap(err))
	}
	return Address{UserID: s[:i], DeviceID: uint32(device)}, nil
}
