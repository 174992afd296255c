// Package store implements the content-addressed record store. The only
// mutation primitive is insertion; records are immutable once admitted and
// deduplicate automatically because their id is a pure function of content.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/wot-technology/wellspring/crypto"
	"github.com/wot-technology/wellspring/crypto/ed25519"
	"github.com/wot-technology/wellspring/libs/log"
	"github.com/wot-technology/wellspring/types"
)

// InsertFunc observes a record landing in a scope. Hooks run on the write
// path with the insert already durable; the reconciliation index subscribes
// here.
type InsertFunc func(scope crypto.Digest, createdAt int64, id crypto.Digest)

// Store is a content-addressed record store over a keyed database. It
// supports concurrent readers and concurrent Put callers; inserts are
// commutative and idempotent, so the lock only protects index integrity.
type Store struct {
	db      dbm.DB
	logger  log.Logger
	metrics *Metrics

	mtx      sync.RWMutex
	pubKeys  map[crypto.Digest]crypto.PubKey
	onInsert []InsertFunc
}

// New returns a Store backed by db.
func New(db dbm.DB, logger log.Logger, metrics *Metrics) *Store {
	return &Store{
		db:      db,
		logger:  logger,
		metrics: metrics,
		pubKeys: make(map[crypto.Digest]crypto.PubKey),
	}
}

// OnInsert registers a hook invoked for every (scope, record) membership
// created by Put. Must be called before concurrent use begins.
func (s *Store) OnInsert(fn InsertFunc) {
	s.onInsert = append(s.onInsert, fn)
}

// Put validates and inserts a record.
//
// The digest is recomputed from content and the signature verified against
// the creator's known public key. Digest mismatch and signature failure are
// the only hard rejections in the pipeline: everything else is accepted and
// stored, because silently dropping a signed record would leave the
// provenance graph incomplete for peers who later acquire the context to
// evaluate it. Inserting an already-present record is a no-op.
func (s *Store) Put(r types.Record) error {
	if err := r.ValidateBasic(); err != nil {
		s.metrics.PutRejected.Add(1)
		return types.ErrMalformedRecord{ID: r.ID, Reason: err.Error()}
	}

	computed, err := r.ComputeID()
	if err != nil {
		s.metrics.PutRejected.Add(1)
		return types.ErrMalformedRecord{ID: r.ID, Reason: err.Error()}
	}
	if computed != r.ID {
		s.metrics.PutRejected.Add(1)
		return types.ErrDigestMismatch{Declared: r.ID, Computed: computed}
	}

	pubKey, err := s.creatorKey(r)
	if err != nil {
		s.metrics.PutRejected.Add(1)
		return err
	}
	if !pubKey.VerifySignature(r.ID.Bytes(), r.Signature) {
		s.metrics.PutRejected.Add(1)
		return types.ErrInvalidSignature{ID: r.ID, Reason: "signature verification failed"}
	}

	bz, err := r.Encode()
	if err != nil {
		return err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	ok, err := s.db.Has(recordKey(r.ID))
	if err != nil {
		return err
	}
	if ok {
		// Identical content fields are the identical record.
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(recordKey(r.ID), bz); err != nil {
		return err
	}

	if e, ok := types.AsEndorsement(r); ok {
		if err := batch.Set(endorseTargetKey(e.Target, r.ID), []byte{}); err != nil {
			return err
		}
		if err := batch.Set(endorseCreatorKey(r.Creator, r.ID), []byte{}); err != nil {
			return err
		}
	}

	if r.Kind == types.KindIdentity {
		if err := batch.Set(identityKeyKey(r.ID), pubKey.Bytes()); err != nil {
			return err
		}
	}

	scopes := scopesOf(r)
	for _, scope := range scopes {
		if err := batch.Set(scopeMemberKey(scope, r.CreatedAt, r.ID), []byte{}); err != nil {
			return err
		}
	}

	if err := batch.WriteSync(); err != nil {
		return err
	}

	if r.Kind == types.KindIdentity {
		s.pubKeys[r.ID] = pubKey
	}

	s.metrics.RecordsStored.Add(1)
	s.logger.Debug("stored record", "id", r.ID.Short(), "kind", r.Kind, "scopes", len(scopes))

	for _, scope := range scopes {
		for _, fn := range s.onInsert {
			fn(scope, r.CreatedAt, r.ID)
		}
	}
	return nil
}

// scopesOf derives the scopes a record belongs to: its visibility tag, its
// own scope if it is a scope record, and the target scope of a member
// endorsement (so membership records travel inside the boundary they
// grant).
func scopesOf(r types.Record) []crypto.Digest {
	var scopes []crypto.Digest
	if scope, ok := r.Scope(); ok {
		scopes = append(scopes, scope)
	}
	if r.Kind == types.KindScope {
		scopes = append(scopes, r.ID)
	}
	if e, ok := types.AsEndorsement(r); ok && e.Channel == types.ChannelMember {
		scopes = append(scopes, e.Target)
	}
	return dedupeScopes(scopes)
}

func dedupeScopes(in []crypto.Digest) []crypto.Digest {
	if len(in) < 2 {
		return in
	}
	seen := make(map[crypto.Digest]bool, len(in))
	out := in[:0]
	for _, d := range in {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

// creatorKey resolves the public key a record's signature must verify
// against. Self-signed identity records carry their own key; everything
// else requires the creator identity to already be known.
func (s *Store) creatorKey(r types.Record) (crypto.PubKey, error) {
	if r.SelfSigned() {
		pubKey, err := types.IdentityPubKey(r)
		if err != nil {
			return nil, types.ErrInvalidSignature{ID: r.ID, Reason: err.Error()}
		}
		return pubKey, nil
	}

	s.mtx.RLock()
	pubKey, ok := s.pubKeys[r.Creator]
	s.mtx.RUnlock()
	if ok {
		return pubKey, nil
	}

	raw, err := s.db.Get(identityKeyKey(r.Creator))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, types.ErrInvalidSignature{ID: r.ID, Reason: "creator identity unknown"}
	}
	pubKey = ed25519.PubKey(raw)

	s.mtx.Lock()
	s.pubKeys[r.Creator] = pubKey
	s.mtx.Unlock()
	return pubKey, nil
}

// Get loads a record by id. Returns types.ErrNotFound for unknown ids; a
// normal outcome, not an exceptional one.
func (s *Store) Get(id crypto.Digest) (types.Record, error) {
	bz, err := s.db.Get(recordKey(id))
	if err != nil {
		return types.Record{}, err
	}
	if bz == nil {
		return types.Record{}, types.ErrNotFound
	}
	r, err := types.DecodeRecord(bz)
	if err != nil {
		// Probable disk corruption; loudly so, like a failed checksum.
		return types.Record{}, fmt.Errorf("corrupt record %s: %w", id.Short(), err)
	}
	return r, nil
}

// Has reports whether a record id is present.
func (s *Store) Has(id crypto.Digest) (bool, error) {
	return s.db.Has(recordKey(id))
}

// EndorsementsOn returns every endorsement targeting the given record,
// via the target index. Trust and groundedness queries sit on this path.
func (s *Store) EndorsementsOn(target crypto.Digest) ([]types.Endorsement, error) {
	return s.endorsementIndex(prefixEndorseTarget, target)
}

// EndorsementsBy returns every endorsement created by the given identity,
// via the creator index. Trust traversals walk outgoing vouches through
// this.
func (s *Store) EndorsementsBy(creator crypto.Digest) ([]types.Endorsement, error) {
	return s.endorsementIndex(prefixEndorseCreator, creator)
}

func (s *Store) endorsementIndex(prefix int64, owner crypto.Digest) ([]types.Endorsement, error) {
	start, end := prefixRange(prefix, string(owner.Bytes()))
	iter, err := s.db.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []types.Endorsement
	for ; iter.Valid(); iter.Next() {
		eid, err := decodeEndorseIndexKey(prefix, iter.Key())
		if err != nil {
			return nil, err
		}
		r, err := s.Get(eid)
		if err != nil {
			return nil, fmt.Errorf("endorsement index points at %s: %w", eid.Short(), err)
		}
		if e, ok := types.AsEndorsement(r); ok {
			out = append(out, e)
		}
	}
	return out, iter.Error()
}

// ScopeMembers walks the derived per-scope index in (created_at, id)
// order, starting at the given timestamp, invoking fn for each member.
// Returning an error from fn stops the walk.
func (s *Store) ScopeMembers(scope crypto.Digest, since int64, fn func(createdAt int64, id crypto.Digest) error) error {
	start, err := orderedcode.Append(nil, prefixScopeMember, string(scope.Bytes()), since)
	if err != nil {
		return err
	}
	_, end := prefixRange(prefixScopeMember, string(scope.Bytes()))

	iter, err := s.db.Iterator(start, end)
	if err != nil {
		return err
	}
	defer iter.Close()

	for ; iter.Valid(); iter.Next() {
		createdAt, id, err := decodeScopeMemberKey(iter.Key())
		if err != nil {
			return err
		}
		if err := fn(createdAt, id); err != nil {
			if errors.Is(err, ErrStopIteration) {
				return nil
			}
			return err
		}
	}
	return iter.Error()
}

// ErrStopIteration terminates a ScopeMembers walk early without error.
var ErrStopIteration = errors.New("stop iteration")

// ForEachScopeEntry walks the entire scope index across all scopes, in key
// order. Used to rebuild derived in-memory indexes at startup.
func (s *Store) ForEachScopeEntry(fn func(scope crypto.Digest, createdAt int64, id crypto.Digest) error) error {
	start, err := orderedcode.Append(nil, prefixScopeMember)
	if err != nil {
		return err
	}
	end, err := orderedcode.Append(nil, prefixScopeMember, orderedcode.Infinity)
	if err != nil {
		return err
	}

	iter, err := s.db.Iterator(start, end)
	if err != nil {
		return err
	}
	defer iter.Close()

	for ; iter.Valid(); iter.Next() {
		var (
			p            int64
			scopeRaw, rid string
			createdAt    int64
		)
		remaining, err := orderedcode.Parse(string(iter.Key()), &p, &scopeRaw, &createdAt, &rid)
		if err != nil || remaining != "" {
			return fmt.Errorf("malformed scope key %x", iter.Key())
		}
		scope, err := crypto.DigestFromBytes([]byte(scopeRaw))
		if err != nil {
			return err
		}
		id, err := crypto.DigestFromBytes([]byte(rid))
		if err != nil {
			return err
		}
		if err := fn(scope, createdAt, id); err != nil {
			return err
		}
	}
	return iter.Error()
}

// MembershipOf returns the member endorsement that admits identity into
// scope, if one is stored.
func (s *Store) MembershipOf(identity, scope crypto.Digest) (types.Endorsement, bool, error) {
	endorsements, err := s.EndorsementsOn(scope)
	if err != nil {
		return types.Endorsement{}, false, err
	}
	for _, e := range endorsements {
		if e.Channel == types.ChannelMember && e.Creator == identity && e.Weight > 0 {
			return e, true, nil
		}
	}
	return types.Endorsement{}, false, nil
}
