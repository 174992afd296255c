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

// Record kinds interpreted by this core. Every other kind is an opaque tag
// owned by the schema layer.
const (
	KindIdentity    = "identity"
	KindEndorsement = "endorsement"
	KindScope       = "scope"
)

// Endorsement channels with core semantics.
const (
	// ChannelVouch is an identity→identity edge used for transitive trust.
	ChannelVouch = "vouch"
	// ChannelMember is an identity→scope edge granting scope membership.
	ChannelMember = "member"
)

// visibilityScopePrefix tags a record as belonging to a sync scope.
const visibilityScopePrefix = "scope:"

// Record is the atomic, immutable, content-addressed unit of data
// (source term: "thought"). Mutation is modeled as a new record whose
// provenance references the old one; a record already held is never
// altered.
type Record struct {
	// ID is the digest of the canonical encoding of all fields below
	// except Signature.
	ID crypto.Digest `json:"id"`

	// Kind is an opaque type tag interpreted by the schema layer.
	Kind string `json:"kind"`

	// Payload is tree-structured content, visible only to canonicalization.
	Payload canonical.Value `json:"-"`

	// Creator is the id of the identity record that signed this record.
	// Identity records refer to themselves (two-pass construction).
	Creator crypto.Digest `json:"creator"`

	// CreatedAt is a millisecond timestamp. Creation time is intrinsic
	// content, not arrival time.
	CreatedAt int64 `json:"created_at"`

	// Provenance is the ordered "because" chain of prior records. May be
	// empty: an ungrounded, intentionally-terminal assertion.
	Provenance []crypto.Digest `json:"provenance"`

	// Visibility optionally confines the record to a sync scope. Part of
	// the hashed content when present.
	Visibility string `json:"visibility,omitempty"`

	// Signature is the creator's Ed25519 signature over the raw ID bytes.
	Signature []byte `json:"signature"`
}

// SelfSigned reports whether this is an identity record that is its own
// creator.
func (r Record) SelfSigned() bool {
	return r.Kind == KindIdentity && r.Creator == r.ID
}

// hashable assembles the fields covered by the content digest, with the
// given creator digest substituted in.
func (r Record) hashable(creator crypto.Digest) canonical.Value {
	prov := make([]canonical.Value, len(r.Provenance))
	for i, p := range r.Provenance {
		prov[i] = canonical.String(p.String())
	}
	fields := []canonical.Field{
		{Key: "kind", Value: canonical.String(r.Kind)},
		{Key: "payload", Value: r.Payload},
		{Key: "creator", Value: canonical.String(creator.String())},
		{Key: "created_at", Value: canonical.Int(r.CreatedAt)},
		{Key: "provenance", Value: canonical.Array(prov...)},
	}
	if r.Visibility != "" {
		fields = append(fields, canonical.Field{Key: "visibility", Value: canonical.String(r.Visibility)})
	}
	return canonical.MapOf(fields...)
}

// ComputeID recomputes the content digest. For a self-signed identity
// record the creator field hashes as the self marker, matching the two-pass
// construction.
func (r Record) ComputeID() (crypto.Digest, error) {
	creator := r.Creator
	if r.Kind == KindIdentity && (r.Creator == r.ID || r.Creator.IsZero()) {
		creator = crypto.SelfMarker
	}
	bz, err := canonical.Encode(r.hashable(creator))
	if err != nil {
		return crypto.Digest{}, err
	}
	return crypto.DigestOf(bz), nil
}

// ValidateBasic performs structural well-formedness checks that require no
// store access.
func (r Record) ValidateBasic() error {
	if r.Kind == "" {
		return errors.New("record kind must not be empty")
	}
	if r.ID.IsZero() {
		return errors.New("record id must not be zero")
	}
	if r.Creator.IsZero() {
		return errors.New("record creator must not be absent")
	}
	if r.CreatedAt <= 0 {
		return fmt.Errorf("record created_at must be positive, got %d", r.CreatedAt)
	}
	if len(r.Signature) != ed25519.SignatureSize {
		return fmt.Errorf("record signature must be %d bytes, got %d",
			ed25519.SignatureSize, len(r.Signature))
	}
	return nil
}

// Scope returns the sync scope this record is confined to via its
// visibility tag, if any.
func (r Record) Scope() (crypto.Digest, bool) {
	if !strings.HasPrefix(r.Visibility, visibilityScopePrefix) {
		return crypto.Digest{}, false
	}
	d, err := crypto.ParseDigest(strings.TrimPrefix(r.Visibility, visibilityScopePrefix))
	if err != nil {
		return crypto.Digest{}, false
	}
	return d, true
}

// ScopeVisibility builds the visibility tag confining a record to scope.
func ScopeVisibility(scope crypto.Digest) string {
	return visibilityScopePrefix + scope.String()
}

// ToValue encodes the full record, id and signature included, as a
// canonical value. This is the single codec used for storage and wire.
func (r Record) ToValue() canonical.Value {
	fields := []canonical.Field{
		{Key: "id", Value: canonical.String(r.ID.String())},
		{Key: "signature", Value: canonical.String(hex.EncodeToString(r.Signature))},
	}
	hv, _ := r.hashable(r.Creator).Fields()
	fields = append(fields, hv...)
	return canonical.MapOf(fields...)
}

// Encode serializes the record to canonical bytes.
func (r Record) Encode() ([]byte, error) {
	return canonical.Encode(r.ToValue())
}

// DecodeRecord parses canonical bytes produced by Encode. It restores the
// structure only; Put revalidates digest and signature.
func DecodeRecord(bz []byte) (Record, error) {
	v, err := canonical.Decode(bz)
	if err != nil {
		return Record{}, err
	}
	return RecordFromValue(v)
}

// RecordFromValue rebuilds a record from its canonical value form.
func RecordFromValue(v canonical.Value) (Record, error) {
	var r Record

	id, err := digestField(v, "id")
	if err != nil {
		return r, err
	}
	r.ID = id

	kind, ok := stringField(v, "kind")
	if !ok {
		return r, errors.New("record: missing kind")
	}
	r.Kind = kind

	payload, ok := v.Get("payload")
	if !ok {
		return r, errors.New("record: missing payload")
	}
	r.Payload = payload

	creator, err := digestField(v, "creator")
	if err != nil {
		return r, err
	}
	r.Creator = creator

	ca, ok := v.Get("created_at")
	if !ok {
		return r, errors.New("record: missing created_at")
	}
	createdAt, ok := ca.AsInt()
	if !ok {
		return r, errors.New("record: created_at must be an integer")
	}
	r.CreatedAt = createdAt

	provVal, ok := v.Get("provenance")
	if !ok {
		return r, errors.New("record: missing provenance")
	}
	provArr, ok := provVal.AsArray()
	if !ok {
		return r, errors.New("record: provenance must be an array")
	}
	for _, pv := range provArr {
		s, ok := pv.AsString()
		if !ok {
			return r, errors.New("record: provenance entries must be digests")
		}
		d, err := crypto.ParseDigest(s)
		if err != nil {
			return r, fmt.Errorf("record: bad provenance entry: %w", err)
		}
		r.Provenance = append(r.Provenance, d)
	}

	if vis, ok := stringField(v, "visibility"); ok {
		r.Visibility = vis
	}

	sigHex, ok := stringField(v, "signature")
	if !ok {
		return r, errors.New("record: missing signature")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return r, fmt.Errorf("record: bad signature encoding: %w", err)
	}
	r.Signature = sig

	return r, nil
}

func stringField(v canonical.Value, key string) (string, bool) {
	f, ok := v.Get(key)
	if !ok {
		return "", false
	}
	return f.AsString()
}

func digestField(v canonical.Value, key string) (crypto.Digest, error) {
	s, ok := stringField(v, key)
	if !ok {
		return crypto.Digest{}, fmt.Errorf("record: missing %s", key)
	}
	d, err := crypto.ParseDigest(s)
	if err != nil {
		return crypto.Digest{}, fmt.Errorf("record: bad %s: %w", key, err)
	}
	return d, nil
}
