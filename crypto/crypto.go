package crypto

import (
	"crypto/sha256"
)

const (
	// DigestSize is the size in bytes of a content digest.
	DigestSize = sha256.Size
)

// Checksum returns the SHA256 of the bz.
func Checksum(bz []byte) []byte {
	h := sha256.Sum256(bz)
	return h[:]
}

// PubKey is a public key capable of verifying signatures.
type PubKey interface {
	Bytes() []byte
	VerifySignature(msg []byte, sig []byte) bool
	Equals(PubKey) bool
	Type() string
}

// PrivKey is a private signing key.
type PrivKey interface {
	Bytes() []byte
	Sign(msg []byte) ([]byte, error)
	PubKey() PubKey
	Equals(PrivKey) bool
	Type() string
}
