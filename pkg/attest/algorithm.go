package attest

import (
	"fmt"
	"strings"
)

// Algorithm selects an identity signature scheme. Its numeric value is
// persisted in identity records and bundles, so values must never change.
type Algorithm int

const (
	invalidAlgorithm Algorithm = iota
	Ed25519Algorithm
	MLDSAAlgorithm
)

var algorithmNames = [...]string{
	Ed25519Algorithm: Ed25519{}.String(),
	MLDSAAlgorithm:   MLDSA{}.String(),
}

// ParseAlgorithm accepts an algorithm name as written in config files.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ed25519":
		return Ed25519Algorithm, nil
	case "mldsa", "ml-dsa", "mldsa65", "ml-dsa-65":
		return MLDSAAlgorithm, nil
	default:
		return invalidAlgorithm, fmt.Errorf("unknown algorithm %q", name)
	}
}

func (alg Algorithm) String() string {
	if !alg.Valid() {
		return fmt.Sprintf("algorithm(%d)", int(alg))
	}
	return algorithmNames[alg]
}

// Valid reports whether alg is a known algorithm. Values decoded from the
// wire must be checked before any other method is called.
func (alg Algorithm) Valid() bool {
	return alg > invalidAlgorithm && int(alg) < len(algorithmNames)
}

// Identifier panics on an invalid algorithm.
func (alg Algorithm) Identifier() Identifier {
	switch alg {
	case Ed25519Algorithm:
		return Ed25519{}
	case MLDSAAlgorithm:
		return MLDSA{}
	default:
		panic(fmt.Errorf("unknown algorithm: %d", alg))
	}
}

func (alg Algorithm) MarshalText() ([]byte, error) {
	if !alg.Valid() {
		return nil, fmt.Errorf("unknown algorithm: %d", alg)
	}
	return []byte(alg.String()), nil
}

func (alg *Algorithm) UnmarshalText(text []byte) error {
	parsed, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*alg = parsed
	return nil
}
