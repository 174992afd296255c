package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wot-technology/wellspring/crypto"
	"github.com/wot-technology/wellspring/crypto/ed25519"
	"github.com/wot-technology/wellspring/internal/canonical"
	"github.com/wot-technology/wellspring/types"
)

func TestIdentityTwoPassConstruction(t *testing.T) {
	priv := ed25519.GenPrivKey()
	identity, err := types.NewIdentityRecord("alice", priv, 1000)
	require.NoError(t, err)

	// Self-signed: creator is the record's own digest.
	assert.Equal(t, identity.ID, identity.Creator)
	assert.True(t, identity.SelfSigned())

	// Recomputing the digest substitutes the self marker and reproduces
	// the declared id.
	computed, err := identity.ComputeID()
	require.NoError(t, err)
	assert.Equal(t, identity.ID, computed)

	// Signature covers the raw digest bytes.
	pub, err := types.IdentityPubKey(identity)
	require.NoError(t, err)
	assert.True(t, pub.VerifySignature(identity.ID.Bytes(), identity.Signature))

	require.NoError(t, identity.ValidateBasic())
}

func TestRecordDigestIsPureFunctionOfContent(t *testing.T) {
	priv := ed25519.GenPrivKey()
	identity, err := types.NewIdentityRecord("alice", priv, 1000)
	require.NoError(t, err)

	payload := canonical.MapOf(
		canonical.Field{Key: "text", Value: canonical.String("hello")},
	)
	a, err := types.NewRecord("note", payload, identity.ID, priv, 2000, nil, "")
	require.NoError(t, err)
	b, err := types.NewRecord("note", payload, identity.ID, priv, 2000, nil, "")
	require.NoError(t, err)

	// Identical content fields: the identical record.
	assert.Equal(t, a.ID, b.ID)

	// Different timestamp: different record.
	c, err := types.NewRecord("note", payload, identity.ID, priv, 2001, nil, "")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestRecordTamperChangesDigest(t *testing.T) {
	priv := ed25519.GenPrivKey()
	identity, err := types.NewIdentityRecord("alice", priv, 1000)
	require.NoError(t, err)

	r, err := types.NewRecord("note",
		canonical.String("original"), identity.ID, priv, 2000, nil, "")
	require.NoError(t, err)

	tampered := r
	tampered.Payload = canonical.String("altered")
	computed, err := tampered.ComputeID()
	require.NoError(t, err)
	assert.NotEqual(t, tampered.ID, computed)
}

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	priv := ed25519.GenPrivKey()
	identity, err := types.NewIdentityRecord("alice", priv, 1000)
	require.NoError(t, err)

	scope, err := types.NewScopeRecord("devices", identity.ID, priv, 1500)
	require.NoError(t, err)

	r, err := types.NewRecord("note",
		canonical.MapOf(canonical.Field{Key: "text", Value: canonical.String("café")}),
		identity.ID, priv, 2000,
		[]crypto.Digest{identity.ID, scope.ID},
		types.ScopeVisibility(scope.ID),
	)
	require.NoError(t, err)

	bz, err := r.Encode()
	require.NoError(t, err)
	got, err := types.DecodeRecord(bz)
	require.NoError(t, err)

	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.Kind, got.Kind)
	assert.Equal(t, r.Creator, got.Creator)
	assert.Equal(t, r.CreatedAt, got.CreatedAt)
	assert.Equal(t, r.Provenance, got.Provenance)
	assert.Equal(t, r.Visibility, got.Visibility)
	assert.Equal(t, r.Signature, got.Signature)

	// Decoded content re-digests to the declared id.
	computed, err := got.ComputeID()
	require.NoError(t, err)
	assert.Equal(t, got.ID, computed)

	gotScope, ok := got.Scope()
	require.True(t, ok)
	assert.Equal(t, scope.ID, gotScope)
}

func TestEndorsementRoundTrip(t *testing.T) {
	priv := ed25519.GenPrivKey()
	alice, err := types.NewIdentityRecord("alice", priv, 1000)
	require.NoError(t, err)
	bobPriv := ed25519.GenPrivKey()
	bob, err := types.NewIdentityRecord("bob", bobPriv, 1001)
	require.NoError(t, err)

	e, err := types.NewEndorsement(alice.ID, priv, bob.ID, 0.9, types.ChannelVouch, 2000, "")
	require.NoError(t, err)
	assert.Equal(t, types.KindEndorsement, e.Kind)
	assert.Equal(t, []crypto.Digest{bob.ID}, e.Provenance)

	parsed, ok := types.AsEndorsement(e.Record)
	require.True(t, ok)
	assert.Equal(t, bob.ID, parsed.Target)
	assert.InDelta(t, 0.9, parsed.Weight, 1e-9)
	assert.Equal(t, types.ChannelVouch, parsed.Channel)

	// Integral weights survive the float→int canonical collapse.
	full, err := types.NewEndorsement(alice.ID, priv, bob.ID, 1.0, types.ChannelVouch, 2001, "")
	require.NoError(t, err)
	bz, err := full.Record.Encode()
	require.NoError(t, err)
	decoded, err := types.DecodeRecord(bz)
	require.NoError(t, err)
	reparsed, ok := types.AsEndorsement(decoded)
	require.True(t, ok)
	assert.InDelta(t, 1.0, reparsed.Weight, 1e-9)

	_, err = types.NewEndorsement(alice.ID, priv, bob.ID, 1.5, types.ChannelVouch, 2002, "")
	assert.Error(t, err)
}

func TestDigestTextualForm(t *testing.T) {
	d := crypto.DigestOf([]byte("hello"))
	s := d.String()
	assert.Len(t, s, len("sha256:")+64)

	parsed, err := crypto.ParseDigest(s)
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	_, err = crypto.ParseDigest("blake3:ff")
	assert.Error(t, err)
}
