package recon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wot-technology/wellspring/crypto"
)

func item(ts int64, seed string) Item {
	return Item{CreatedAt: ts, ID: crypto.DigestOf([]byte(seed))}
}

func TestTreeInsertEnumerateOrdered(t *testing.T) {
	tr := NewTree()
	items := []Item{
		item(300, "c"), item(100, "a"), item(200, "b"),
		item(200, "b2"), item(400, "d"),
	}
	for _, it := range items {
		tr.Insert(it)
	}
	require.Equal(t, 5, tr.Len())

	got := tr.Enumerate(MinItem, MaxItem)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Compare(got[i]), 0, "enumeration must be ordered")
	}

	// Range enumeration: [200, 400).
	lo := Item{CreatedAt: 200}
	hi := Item{CreatedAt: 400}
	mid := tr.Enumerate(lo, hi)
	require.Len(t, mid, 3)
	for _, it := range mid {
		assert.GreaterOrEqual(t, it.CreatedAt, int64(200))
		assert.Less(t, it.CreatedAt, int64(400))
	}
}

func TestTreeInsertIdempotent(t *testing.T) {
	tr := NewTree()
	it := item(100, "a")
	tr.Insert(it)
	tr.Insert(it)
	assert.Equal(t, 1, tr.Len())

	fp1, n1 := tr.Fingerprint(MinItem, MaxItem)
	tr.Insert(it)
	fp2, n2 := tr.Fingerprint(MinItem, MaxItem)
	assert.Equal(t, fp1, fp2)
	assert.Equal(t, n1, n2)
}

func TestTreeRemove(t *testing.T) {
	tr := NewTree()
	a, b, c := item(100, "a"), item(200, "b"), item(300, "c")
	tr.Insert(a)
	tr.Insert(b)
	tr.Insert(c)

	other := NewTree()
	other.Insert(a)
	other.Insert(c)

	tr.Remove(b)
	assert.Equal(t, 2, tr.Len())

	// Fingerprints are pure functions of the held set, independent of
	// insertion/removal history.
	fp1, _ := tr.Fingerprint(MinItem, MaxItem)
	fp2, _ := other.Fingerprint(MinItem, MaxItem)
	assert.Equal(t, fp1, fp2)

	// Removing an absent item is a no-op.
	tr.Remove(b)
	assert.Equal(t, 2, tr.Len())
}

func TestFingerprintOrderIndependent(t *testing.T) {
	items := []Item{item(1, "x"), item(2, "y"), item(3, "z"), item(4, "w")}

	forward, backward := NewTree(), NewTree()
	for _, it := range items {
		forward.Insert(it)
	}
	for i := len(items) - 1; i >= 0; i-- {
		backward.Insert(items[i])
	}

	fpF, nF := forward.Fingerprint(MinItem, MaxItem)
	fpB, nB := backward.Fingerprint(MinItem, MaxItem)
	assert.Equal(t, fpF, fpB)
	assert.Equal(t, nF, nB)
}

func TestFingerprintRangeAdditivity(t *testing.T) {
	tr := NewTree()
	for i := int64(0); i < 100; i++ {
		tr.Insert(item(i, string(rune(i))))
	}

	mid := Item{CreatedAt: 50}
	_, nLeft := tr.Fingerprint(MinItem, mid)
	_, nRight := tr.Fingerprint(mid, MaxItem)
	_, nAll := tr.Fingerprint(MinItem, MaxItem)
	assert.Equal(t, nAll, nLeft+nRight)

	fpEmpty, nEmpty := tr.Fingerprint(mid, mid)
	assert.Equal(t, uint64(0), nEmpty)
	assert.Equal(t, agg{}.fingerprint(), fpEmpty)
}

func TestFingerprintVectors(t *testing.T) {
	// Fixed construction: SHA-256 over idSum (32 bytes LE) ‖ count
	// (uint64 BE) ‖ tsSum (uint64 BE), truncated to 16 bytes. These
	// vectors pin the wire-visible values; two implementations must agree
	// on them to interoperate.
	empty := agg{}.fingerprint()
	assert.Equal(t, "17b0761f87b081d5cf10757ccc89f12b", empty.String())

	var one Item
	one.CreatedAt = 100
	one.ID = crypto.DigestOf([]byte("aaa"))
	single := aggOf(one).fingerprint()
	assert.Equal(t, 16, len(single))
	assert.NotEqual(t, empty, single)
}

func TestSplitPoints(t *testing.T) {
	tr := NewTree()
	for i := int64(0); i < 64; i++ {
		tr.Insert(item(i, string(rune('A'+i))))
	}

	bounds := tr.SplitPoints(MinItem, MaxItem, 4)
	require.Len(t, bounds, 3)
	for i := 1; i < len(bounds); i++ {
		assert.Less(t, bounds[i-1].Compare(bounds[i]), 0)
	}

	// The four sub-ranges partition the full count evenly.
	var total uint64
	lo := MinItem
	for _, b := range append(bounds, MaxItem) {
		_, n := tr.Fingerprint(lo, b)
		assert.Equal(t, uint64(16), n)
		total += n
		lo = b
	}
	assert.Equal(t, uint64(64), total)

	// Tiny range: no interior bounds.
	tiny := NewTree()
	tiny.Insert(item(1, "only"))
	assert.Empty(t, tiny.SplitPoints(MinItem, MaxItem, 4))
}

func TestSuccessorOrdering(t *testing.T) {
	it := item(100, "a")
	next := successor(it)
	assert.Less(t, it.Compare(next), 0)

	// Overflow carries into the timestamp.
	var maxID Item
	maxID.CreatedAt = 5
	maxID.ID = maxDigest()
	next = successor(maxID)
	assert.Equal(t, int64(6), next.CreatedAt)
}
