package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/wot-technology/wellspring/crypto"
	"github.com/wot-technology/wellspring/crypto/ed25519"
	"github.com/wot-technology/wellspring/internal/canonical"
)

const pubKeyPrefix = "ed25519:"

// NewIdentityRecord creates a self-signed identity record for the given
// keypair. Construction is two-pass: the digest is computed with the self
// marker standing in for the creator, then the record's own digest is
// substituted. This is the one case where a record's creator participates
// in its digest via a placeholder.
func NewIdentityRecord(name string, priv crypto.PrivKey, createdAt int64) (Record, error) {
	r := Record{
		Kind: KindIdentity,
		Payload: canonical.MapOf(
			canonical.Field{Key: "name", Value: canonical.String(name)},
			canonical.Field{Key: "pubkey", Value: canonical.String(
				pubKeyPrefix + hex.EncodeToString(priv.PubKey().Bytes()))},
		),
		Creator:   crypto.SelfMarker,
		CreatedAt: createdAt,
	}

	id, err := r.ComputeID()
	if err != nil {
		return Record{}, err
	}
	r.ID = id
	r.Creator = id

	sig, err := priv.Sign(id.Bytes())
	if err != nil {
		return Record{}, err
	}
	r.Signature = sig
	return r, nil
}

// IdentityPubKey extracts the public key embedded in an identity record.
func IdentityPubKey(r Record) (crypto.PubKey, error) {
	if r.Kind != KindIdentity {
		return nil, fmt.Errorf("record %s is %q, not an identity", r.ID.Short(), r.Kind)
	}
	s, ok := stringField(r.Payload, "pubkey")
	if !ok {
		return nil, errors.New("identity record has no pubkey")
	}
	if !strings.HasPrefix(s, pubKeyPrefix) {
		return nil, fmt.Errorf("unsupported key type in %q", s)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, pubKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("bad pubkey encoding: %w", err)
	}
	if len(raw) != ed25519.PubKeySize {
		return nil, fmt.Errorf("pubkey must be %d bytes, got %d", ed25519.PubKeySize, len(raw))
	}
	return ed25519.PubKey(raw), nil
}

// NewRecord creates and signs a general record.
func NewRecord(
	kind string,
	payload canonical.Value,
	creator crypto.Digest,
	priv crypto.PrivKey,
	createdAt int64,
	provenance []crypto.Digest,
	visibility string,
) (Record, error) {
	r := Record{
		Kind:       kind,
		Payload:    payload,
		Creator:    creator,
		CreatedAt:  createdAt,
		Provenance: provenance,
		Visibility: visibility,
	}
	id, err := r.ComputeID()
	if err != nil {
		return Record{}, err
	}
	r.ID = id
	if kind == KindIdentity && creator.IsZero() {
		// Second pass of the self-signed construction: the placeholder
		// creator becomes the record's own digest.
		r.Creator = id
	}

	sig, err := priv.Sign(id.Bytes())
	if err != nil {
		return Record{}, err
	}
	r.Signature = sig
	return r, nil
}

// NewScopeRecord creates a sync scope (source term: "pool") administered by
// the creator identity. A scope cannot carry a visibility tag naming itself
// (the digest would be self-referential); the store instead indexes every
// scope record as a member of its own scope.
func NewScopeRecord(name string, creator crypto.Digest, priv crypto.PrivKey, createdAt int64) (Record, error) {
	payload := canonical.MapOf(
		canonical.Field{Key: "name", Value: canonical.String(name)},
		canonical.Field{Key: "admin", Value: canonical.String(creator.String())},
	)
	return NewRecord(KindScope, payload, creator, priv, createdAt, []crypto.Digest{creator}, "")
}
