// Package memzero wipes secrets held in byte slices and arrays.
package memzero

import (
	"crypto/subtle"
	"runtime"
)

// Zero overwrites b with zeros. It is best-effort: copies made by the
// runtime or by callers are out of its reach.
//
//go:noinline
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
	runtime.KeepAlive(&b)
}

// Zero32 wipes a fixed size key in place.
func Zero32(k *[32]byte) {
	if k == nil {
		return
	}
	Zero(k[:])
}

// All wipes every slice in order.
func All(bs ...[]byte) {
	for _, b := range bs {
		Zero(b)
	}
}
