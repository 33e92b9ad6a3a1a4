package fingerprint

import (
	"encoding/base64"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

// Hex renders b as colon-separated upper-case byte pairs, e.g. "0A:FF".
func Hex(b []byte) string {
	var sb strings.Builder
	sb.Grow(max(len(b)*3-1, 0))
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteByte(hexDigits[v>>4])
		sb.WriteByte(hexDigits[v&0x0f])
	}
	return sb.String()
}

// Base64 is the text form of bundles and keys handed between users.
func Base64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
