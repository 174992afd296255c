package trust

import (
	"errors"

	"github.com/wot-technology/wellspring/crypto"
	"github.com/wot-technology/wellspring/internal/store"
	"github.com/wot-technology/wellspring/types"
)

// StoreGraph adapts a content store into a traversal Graph. Trust is never
// on the store's write path; this is a read-only view over the endorsement
// indexes.
type StoreGraph struct {
	Store *store.Store
}

var _ Graph = StoreGraph{}

// VouchesFrom implements Graph via the creator index.
func (g StoreGraph) VouchesFrom(id crypto.Digest) ([]Vouch, error) {
	endorsements, err := g.Store.EndorsementsBy(id)
	if err != nil {
		return nil, err
	}
	// Later vouches for the same target supersede earlier ones, so a
	// revocation (re-vouch at weight <= 0) takes effect on recomputation.
	latest := make(map[crypto.Digest]types.Endorsement)
	for _, e := range endorsements {
		if e.Channel != types.ChannelVouch {
			continue
		}
		prev, ok := latest[e.Target]
		if !ok || e.CreatedAt > prev.CreatedAt ||
			(e.CreatedAt == prev.CreatedAt && e.ID.Compare(prev.ID) > 0) {
			latest[e.Target] = e
		}
	}
	vouches := make([]Vouch, 0, len(latest))
	for target, e := range latest {
		vouches = append(vouches, Vouch{Target: target, Weight: e.Weight})
	}
	return vouches, nil
}

// ProvenanceOf implements Graph.
func (g StoreGraph) ProvenanceOf(id crypto.Digest) ([]crypto.Digest, bool, error) {
	r, err := g.Store.Get(id)
	if errors.Is(err, types.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r.Provenance, true, nil
}
