package fingerprint

import (
	"bytes"
	"errors"

	"github.com/mdp/qrterminal/v3"
)

// QrCode renders b as a QR code for a terminal, two modules per character
// row so it fits on screen next to the text it encodes.
func QrCode(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("nothing to encode")
	}
	var buf bytes.Buffer
	qrterminal.GenerateHalfBlock(string(b), qrterminal.M, &buf)
	return buf.Bytes(), nil
}
