package fingerprint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	safetyVersion    = 0
	safetyIterations = 5200
	groupsPerSide    = 6
)

// Identity is the short form of an identity key: the hex of the first 16
// bytes of its digest.
func Identity(key []byte) string {
	sum := sha3.Sum256(key)
	return Hex(sum[:16])
}

// SafetyNumber derives the number two users compare to authenticate each
// other. It is the same on both sides regardless of argument order.
// Each side contributes six five-digit groups.
func SafetyNumber(localID, localKey, remoteID, remoteKey []byte) string {
	local := sideDigits(localID, localKey)
	remote := sideDigits(remoteID, remoteKey)
	if bytes.Compare([]byte(local), []byte(remote)) > 0 {
		local, remote = remote, local
	}
	return local + " " + remote
}

func sideDigits(id, key []byte) string {
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], safetyVersion)

	digest := make([]byte, 0, len(prefix)+len(key)+len(id))
	digest = append(digest, prefix[:]...)
	digest = append(digest, key...)
	digest = append(digest, id...)
	for range safetyIterations {
		h := sha3.New512()
		h.Write(digest)
		h.Write(key)
		digest = h.Sum(digest[:0])
	}

	groups := make([]string, groupsPerSide)
	for i := range groups {
		chunk := digest[i*5 : i*5+5]
		var n uint64
		for _, b := range chunk {
			n = n<<8 | uint64(b)
		}
		groups[i] = fmt.Sprintf("%05d", n%100000)
	}
	return strings.Join(groups, " ")
}
