package scopesync

import (
	"errors"
	"sort"

	"github.com/wot-technology/wellspring/crypto"
	"github.com/wot-technology/wellspring/internal/store"
	"github.com/wot-technology/wellspring/libs/log"
	"github.com/wot-technology/wellspring/types"
)

// ingester applies incoming records to the store. A record whose creator
// identity has not arrived yet is parked and retried once the creator
// lands, so batches work regardless of how the peer ordered them. Hard
// rejects (digest mismatch, bad signature, structural validation) are
// dropped with a log entry: there is nothing to revert, the record was
// never admitted.
type ingester struct {
	store   *store.Store
	logger  log.Logger
	metrics *Metrics

	parked   map[crypto.Digest][]types.Record // keyed by missing creator id
	accepted int
}

func newIngester(st *store.Store, logger log.Logger, metrics *Metrics) *ingester {
	return &ingester{
		store:   st,
		logger:  logger,
		metrics: metrics,
		parked:  make(map[crypto.Digest][]types.Record),
	}
}

// Add applies one record, parking it when its creator is still unknown.
// Only storage-layer failures propagate; validation rejects are local.
func (in *ingester) Add(r types.Record) error {
	if !r.SelfSigned() {
		ok, err := in.store.Has(r.Creator)
		if err != nil {
			return err
		}
		if !ok {
			in.parked[r.Creator] = append(in.parked[r.Creator], r)
			return nil
		}
	}
	return in.apply(r)
}

func (in *ingester) apply(r types.Record) error {
	var (
		digestErr    types.ErrDigestMismatch
		sigErr       types.ErrInvalidSignature
		malformedErr types.ErrMalformedRecord
	)
	err := in.store.Put(r)
	switch {
	case err == nil:
	case errors.As(err, &digestErr) || errors.As(err, &sigErr) || errors.As(err, &malformedErr):
		in.metrics.ItemsRejected.Add(1)
		in.logger.Info("rejected synced record", "id", r.ID.Short(), "err", err)
		return nil
	default:
		return err
	}

	in.accepted++
	in.metrics.ItemsReceived.Add(1)

	// The new record may unblock records parked on it.
	waiting, ok := in.parked[r.ID]
	if !ok {
		return nil
	}
	delete(in.parked, r.ID)
	for _, w := range waiting {
		if err := in.apply(w); err != nil {
			return err
		}
	}
	return nil
}

// Outstanding reports how many records are still parked on a missing
// creator. Anything left at conversation end is discarded; an honest peer
// sends creators in the same session.
func (in *ingester) Outstanding() int {
	n := 0
	for _, rs := range in.parked {
		n += len(rs)
	}
	return n
}

// orderRecords sorts a batch dependency-first: identity records ahead of
// everything else, then by creation time, ties by id. A target referenced
// by an endorsement in the same batch was necessarily created no later
// than the endorsement, so this ordering also delivers targets first.
func orderRecords(records []types.Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if (a.Kind == types.KindIdentity) != (b.Kind == types.KindIdentity) {
			return a.Kind == types.KindIdentity
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID.Compare(b.ID) < 0
	})
}
