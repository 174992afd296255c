package recon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wot-technology/wellspring/crypto"
)

func TestManagerScopeIsolation(t *testing.T) {
	m := NewManager()
	scopeA := crypto.DigestOf([]byte("scope-a"))
	scopeB := crypto.DigestOf([]byte("scope-b"))

	m.Insert(scopeA, 100, crypto.DigestOf([]byte("r1")))
	m.Insert(scopeA, 200, crypto.DigestOf([]byte("r2")))
	m.Insert(scopeB, 100, crypto.DigestOf([]byte("r1")))

	assert.Equal(t, 2, m.Len(scopeA))
	assert.Equal(t, 1, m.Len(scopeB))

	fpA, nA := m.Fingerprint(scopeA, MinItem, MaxItem)
	fpB, nB := m.Fingerprint(scopeB, MinItem, MaxItem)
	assert.NotEqual(t, fpA, fpB)
	assert.Equal(t, uint64(2), nA)
	assert.Equal(t, uint64(1), nB)

	// Unknown scope is indistinguishable from an empty one.
	unknown := crypto.DigestOf([]byte("nope"))
	fpU, nU := m.Fingerprint(unknown, MinItem, MaxItem)
	assert.Equal(t, uint64(0), nU)
	assert.Equal(t, agg{}.fingerprint(), fpU)
	assert.Nil(t, m.Enumerate(unknown, MinItem, MaxItem))
}

func TestManagerRebuild(t *testing.T) {
	scope := crypto.DigestOf([]byte("scope"))
	entries := []struct {
		ts int64
		id crypto.Digest
	}{
		{100, crypto.DigestOf([]byte("a"))},
		{200, crypto.DigestOf([]byte("b"))},
		{300, crypto.DigestOf([]byte("c"))},
	}

	live := NewManager()
	for _, e := range entries {
		live.Insert(scope, e.ts, e.id)
	}

	rebuilt := NewManager()
	rebuilt.Insert(scope, 999, crypto.DigestOf([]byte("stale"))) // wiped by Rebuild
	err := rebuilt.Rebuild(func(fn func(crypto.Digest, int64, crypto.Digest) error) error {
		for _, e := range entries {
			if err := fn(scope, e.ts, e.id); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	fpLive, nLive := live.Fingerprint(scope, MinItem, MaxItem)
	fpRebuilt, nRebuilt := rebuilt.Fingerprint(scope, MinItem, MaxItem)
	assert.Equal(t, fpLive, fpRebuilt)
	assert.Equal(t, nLive, nRebuilt)
}
