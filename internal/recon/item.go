package recon

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"math/bits"

	"github.com/wot-technology/wellspring/crypto"
)

// Item is one indexed entry: a record id ordered by creation time, ties
// broken by id byte order.
type Item struct {
	CreatedAt int64
	ID        crypto.Digest
}

// Compare orders items by (CreatedAt, ID).
func (it Item) Compare(other Item) int {
	switch {
	case it.CreatedAt < other.CreatedAt:
		return -1
	case it.CreatedAt > other.CreatedAt:
		return 1
	default:
		return it.ID.Compare(other.ID)
	}
}

// MinItem and MaxItem bound the full index range [MinItem, MaxItem).
var (
	MinItem = Item{CreatedAt: 0}
	MaxItem = Item{CreatedAt: math.MaxInt64, ID: maxDigest()}
)

func maxDigest() crypto.Digest {
	var d crypto.Digest
	for i := range d {
		d[i] = 0xff
	}
	return d
}

// FingerprintSize is the truncated length of a range fingerprint.
const FingerprintSize = 16

// Fingerprint is an incremental, order-independent digest of an item set.
type Fingerprint [FingerprintSize]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// FingerprintFromString parses the hex form produced by String.
func FingerprintFromString(s string) (Fingerprint, error) {
	var f Fingerprint
	bz, err := hex.DecodeString(s)
	if err != nil {
		return f, err
	}
	if len(bz) != FingerprintSize {
		return f, fmt.Errorf("fingerprint must be %d bytes, got %d", FingerprintSize, len(bz))
	}
	copy(f[:], bz)
	return f, nil
}

// agg is the additive summary cached per subtree: item count, the 256-bit
// wrapping sum of ids, and the 64-bit wrapping sum of timestamps. Count
// and timestamp checksum are deliberate hardening: without them an
// adversary could construct an id-set colliding the id sum alone while
// hiding real differences.
type agg struct {
	count uint64
	idSum [4]uint64 // little-endian limbs
	tsSum uint64
}

func aggOf(it Item) agg {
	var a agg
	a.count = 1
	for i := 0; i < 4; i++ {
		a.idSum[i] = binary.LittleEndian.Uint64(it.ID[i*8 : i*8+8])
	}
	a.tsSum = uint64(it.CreatedAt)
	return a
}

func (a agg) add(b agg) agg {
	var out agg
	out.count = a.count + b.count
	var carry uint64
	for i := 0; i < 4; i++ {
		out.idSum[i], carry = bits.Add64(a.idSum[i], b.idSum[i], carry)
	}
	// Sum is mod 2^256: the final carry drops.
	out.tsSum = a.tsSum + b.tsSum
	return out
}

// fingerprint hashes the summary into its protocol-visible form:
// SHA-256 over idSum (32 bytes little-endian) ‖ count (uint64 BE) ‖
// tsSum (uint64 BE), truncated to 16 bytes.
func (a agg) fingerprint() Fingerprint {
	var buf [48]byte
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(buf[i*8:], a.idSum[i])
	}
	binary.BigEndian.PutUint64(buf[32:], a.count)
	binary.BigEndian.PutUint64(buf[40:], a.tsSum)

	sum := sha256.Sum256(buf[:])
	var f Fingerprint
	copy(f[:], sum[:FingerprintSize])
	return f
}

// weakFingerprint is the fingerprint with the hardening components
// stripped: the id sum alone. It exists only as a regression baseline in
// tests.
func (a agg) weakFingerprint() Fingerprint {
	var buf [32]byte
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(buf[i*8:], a.idSum[i])
	}
	sum := sha256.Sum256(buf[:])
	var f Fingerprint
	copy(f[:], sum[:FingerprintSize])
	return f
}
