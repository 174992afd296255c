package types

import (
	"fmt"

	"github.com/wot-technology/wellspring/crypto"
	"github.com/wot-technology/wellspring/internal/canonical"
)

// Endorsement is the parsed form of a record whose payload expresses a
// weighted opinion about another record (source term: "attestation"). A
// vouch is an endorsement between identities used for transitive trust; a
// member endorsement grants an identity membership in a scope.
type Endorsement struct {
	Record

	Target  crypto.Digest
	Weight  float64
	Channel string
}

// NewEndorsement creates and signs an endorsement record. Weight must be
// in [-1, 1]. The endorsement is grounded in its target.
func NewEndorsement(
	creator crypto.Digest,
	priv crypto.PrivKey,
	target crypto.Digest,
	weight float64,
	channel string,
	createdAt int64,
	visibility string,
) (Endorsement, error) {
	if weight < -1 || weight > 1 {
		return Endorsement{}, fmt.Errorf("endorsement weight %v outside [-1, 1]", weight)
	}
	payload := canonical.MapOf(
		canonical.Field{Key: "target", Value: canonical.String(target.String())},
		canonical.Field{Key: "weight", Value: canonical.Float(weight)},
		canonical.Field{Key: "channel", Value: canonical.String(channel)},
	)
	r, err := NewRecord(KindEndorsement, payload, creator, priv, createdAt,
		[]crypto.Digest{target}, visibility)
	if err != nil {
		return Endorsement{}, err
	}
	return Endorsement{Record: r, Target: target, Weight: weight, Channel: channel}, nil
}

// AsEndorsement parses a record's payload as an endorsement. Returns false
// for records of other kinds or with malformed payloads; such records stay
// stored but carry no endorsement semantics.
func AsEndorsement(r Record) (Endorsement, bool) {
	if r.Kind != KindEndorsement {
		return Endorsement{}, false
	}
	targetStr, ok := stringField(r.Payload, "target")
	if !ok {
		return Endorsement{}, false
	}
	target, err := crypto.ParseDigest(targetStr)
	if err != nil {
		return Endorsement{}, false
	}
	wv, ok := r.Payload.Get("weight")
	if !ok {
		return Endorsement{}, false
	}
	weight, ok := wv.AsNumber()
	if !ok || weight < -1 || weight > 1 {
		return Endorsement{}, false
	}
	channel, ok := stringField(r.Payload, "channel")
	if !ok {
		return Endorsement{}, false
	}
	return Endorsement{Record: r, Target: target, Weight: weight, Channel: channel}, true
}
