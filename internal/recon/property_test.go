package recon

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/wot-technology/wellspring/crypto"
)

func drawItems(t *rapid.T, label string) []Item {
	seeds := rapid.SliceOfDistinct(rapid.Uint64(), nil).Draw(t, label).([]uint64)

	items := make([]Item, len(seeds))
	for i, u := range seeds {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], u)
		items[i] = Item{
			CreatedAt: int64(u % 1_000_000),
			ID:        crypto.DigestOf(b[:]),
		}
	}
	return items
}

func TestFingerprintSetSemantics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		items := drawItems(t, "items")

		// Build the same set twice with different operation histories:
		// plain inserts versus shuffled inserts with extra insert/remove
		// churn.
		a := NewTree()
		for _, it := range items {
			a.Insert(it)
		}

		b := NewTree()
		perm := rapid.SliceOfN(rapid.IntRange(0, max(len(items)-1, 0)), len(items), len(items)).
			Draw(t, "perm").([]int)
		for _, i := range perm {
			b.Insert(items[i])
		}
		for _, it := range items {
			b.Insert(it) // duplicates are no-ops
		}
		churn := Item{CreatedAt: -1, ID: crypto.DigestOf([]byte("churn"))}
		b.Insert(churn)
		b.Remove(churn)

		fpA, nA := a.Fingerprint(MinItem, MaxItem)
		fpB, nB := b.Fingerprint(MinItem, MaxItem)
		if fpA != fpB || nA != nB {
			t.Fatalf("same set, different fingerprints: %v/%d vs %v/%d", fpA, nA, fpB, nB)
		}
	})
}

func TestFingerprintSeparatesDistinctSets(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		items := drawItems(t, "items")
		if len(items) == 0 {
			t.Skip("empty set")
		}

		full := NewTree()
		for _, it := range items {
			full.Insert(it)
		}
		missing := NewTree()
		drop := rapid.IntRange(0, len(items)-1).Draw(t, "drop").(int)
		for i, it := range items {
			if i == drop {
				continue
			}
			missing.Insert(it)
		}

		fpFull, nFull := full.Fingerprint(MinItem, MaxItem)
		fpMiss, nMiss := missing.Fingerprint(MinItem, MaxItem)
		if fpFull == fpMiss {
			t.Fatalf("distinct sets share fingerprint %v", fpFull)
		}
		if nFull != nMiss+1 {
			t.Fatalf("counts off: %d vs %d", nFull, nMiss)
		}
	})
}

// TestHardenedFingerprintCatchesIDSumCollision pins the reason count and
// timestamp checksum are part of the construction: two different sets
// with colliding id sums must still produce distinct fingerprints.
func TestHardenedFingerprintCatchesIDSumCollision(t *testing.T) {
	mkItem := func(ts int64, low uint64) Item {
		var it Item
		it.CreatedAt = ts
		binary.LittleEndian.PutUint64(it.ID[:8], low)
		return it
	}

	// {id=3} and {id=1, id=2} have equal 256-bit id sums.
	single := aggOf(mkItem(5, 3))
	pair := aggOf(mkItem(5, 1)).add(aggOf(mkItem(7, 2)))

	assert.Equal(t, single.idSum, pair.idSum)
	assert.Equal(t, single.weakFingerprint(), pair.weakFingerprint(),
		"id-sum-only digest collides by construction")
	assert.NotEqual(t, single.fingerprint(), pair.fingerprint(),
		"hardened fingerprint must separate the sets")
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
