package crypto

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// digestPrefix is the algorithm tag used in the textual digest form.
const digestPrefix = "sha256"

// Digest is a 256-bit content address. The zero value is the self marker
// used during two-pass construction of self-referential identity records.
type Digest [DigestSize]byte

// SelfMarker is the sentinel creator used while computing the digest of an
// identity record that refers to itself.
var SelfMarker = Digest{}

// DigestOf hashes bz and returns its digest.
func DigestOf(bz []byte) Digest {
	var d Digest
	copy(d[:], Checksum(bz))
	return d
}

// DigestFromBytes converts a raw 32-byte slice into a Digest.
func DigestFromBytes(bz []byte) (Digest, error) {
	var d Digest
	if len(bz) != DigestSize {
		return d, fmt.Errorf("digest: expected %d bytes, got %d", DigestSize, len(bz))
	}
	copy(d[:], bz)
	return d, nil
}

// ParseDigest parses the textual form "sha256:<64 hex chars>".
func ParseDigest(s string) (Digest, error) {
	var d Digest
	tag, rest, ok := cut(s, ":")
	if !ok || tag != digestPrefix {
		return d, fmt.Errorf("digest: malformed %q", s)
	}
	bz, err := hex.DecodeString(rest)
	if err != nil {
		return d, fmt.Errorf("digest: malformed %q: %w", s, err)
	}
	return DigestFromBytes(bz)
}

// IsZero reports whether the digest is the zero value (the self marker).
func (d Digest) IsZero() bool { return d == SelfMarker }

// Bytes returns the raw 32-byte digest.
func (d Digest) Bytes() []byte { return d[:] }

// String returns the stable textual form "sha256:<hex>".
func (d Digest) String() string {
	return digestPrefix + ":" + hex.EncodeToString(d[:])
}

// Short returns an abbreviated form for logs.
func (d Digest) Short() string {
	return digestPrefix + ":" + hex.EncodeToString(d[:4]) + "…"
}

// Compare orders digests by byte value.
func (d Digest) Compare(other Digest) int {
	return bytes.Compare(d[:], other[:])
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// cut is strings.Cut; kept local since the module targets go 1.17.
func cut(s, sep string) (before, after string, found bool) {
	if i := strings.Index(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}
