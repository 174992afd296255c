package scopesync

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wot-technology/wellspring/crypto"
	"github.com/wot-technology/wellspring/internal/recon"
	"github.com/wot-technology/wellspring/internal/store"
	"github.com/wot-technology/wellspring/libs/log"
	"github.com/wot-technology/wellspring/types"
)

// Options bound a single scope-sync conversation.
type Options struct {
	// EnumerateThreshold is the local item count at or below which a range
	// is enumerated id-by-id instead of sub-fingerprinted.
	EnumerateThreshold uint64
	// Branching is the number of sub-ranges a mismatched range splits
	// into. Clamped to [4, 32].
	Branching int
	// MaxRounds caps reconciliation rounds before the conversation gives
	// up. Zero means the default.
	MaxRounds int
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		EnumerateThreshold: 16,
		Branching:          8,
		MaxRounds:          64,
	}
}

func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.EnumerateThreshold == 0 {
		o.EnumerateThreshold = def.EnumerateThreshold
	}
	if o.Branching == 0 {
		o.Branching = def.Branching
	}
	if o.Branching < 4 {
		o.Branching = 4
	}
	if o.Branching > 32 {
		o.Branching = 32
	}
	if o.MaxRounds == 0 {
		o.MaxRounds = def.MaxRounds
	}
	return o
}

// Conversation reconciles one scope with one peer over a framed duplex
// stream. The initiator drives rounds; the responder is stateless per
// message, which is what makes resuming after a disconnect a plain re-run
// of the whole exchange. The store's insert hook must feed the recon index
// so that records admitted mid-conversation show up in subsequent rounds.
type Conversation struct {
	logger  log.Logger
	store   *store.Store
	index   *recon.Manager
	metrics *Metrics
	opts    Options

	session string
	scope   crypto.Digest
	self    crypto.Digest
	proof   crypto.Digest

	ingest *ingester

	peer          crypto.Digest
	peerValidated bool

	rounds    int
	itemsSent int
}

// NewConversation prepares a conversation for one scope. self is the local
// node's identity record id and proof the id of its member endorsement for
// the scope; the responder side may pass a zero scope and adopt it from
// the initiator's first message.
func NewConversation(
	logger log.Logger,
	st *store.Store,
	index *recon.Manager,
	metrics *Metrics,
	opts Options,
	session string,
	scope, self, proof crypto.Digest,
) *Conversation {
	return &Conversation{
		logger:  logger.With("session", session),
		store:   st,
		index:   index,
		metrics: metrics,
		opts:    opts.normalize(),
		session: session,
		scope:   scope,
		self:    self,
		proof:   proof,
		ingest:  newIngester(st, logger, metrics),
	}
}

// Rounds reports how many reconciliation rounds ran.
func (c *Conversation) Rounds() int { return c.rounds }

// ItemsSent reports how many full records were sent to the peer.
func (c *Conversation) ItemsSent() int { return c.itemsSent }

// ItemsReceived reports how many full records were admitted from the peer.
func (c *Conversation) ItemsReceived() int { return c.ingest.accepted }

func (c *Conversation) envelope(kind string) Msg {
	return Msg{
		Kind:    kind,
		Version: Version,
		Session: c.session,
		Scope:   c.scope,
		From:    c.self,
		Proof:   c.proof,
	}
}

// abort notifies the peer and surfaces the typed abort locally. The whole
// scope sync stops; nothing merged so far needs reverting because every
// admitted record was individually validated.
func (c *Conversation) abort(w io.Writer, reason string) error {
	msg := c.envelope(MsgDone)
	msg.Abort = reason
	_ = WriteMsg(w, msg)
	c.metrics.SyncsAborted.Add(1)
	return types.ErrSyncAborted{Scope: c.scope, Reason: reason}
}

// Initiate runs the initiator loop to completion: fingerprint rounds until
// no range differs, then done.
func (c *Conversation) Initiate(ctx context.Context, rw io.ReadWriter) error {
	defer c.finish()

	out := c.initialCoverage()
	var pending []types.Record

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.rounds >= c.opts.MaxRounds {
			return c.abort(rw, "round budget exhausted")
		}
		c.rounds++
		c.metrics.Rounds.Add(1)

		if len(pending) > 0 {
			if err := c.sendItems(rw, pending); err != nil {
				return err
			}
			pending = nil
		}

		if allSkip(out) {
			if err := WriteMsg(rw, c.envelope(MsgDone)); err != nil {
				return err
			}
			return c.awaitDone(rw)
		}

		req := c.envelope(MsgFingerprints)
		req.Ranges = out
		if err := WriteMsg(rw, req); err != nil {
			return err
		}

		reply, err := c.readUntilRanges(rw)
		if err != nil {
			return err
		}
		out, pending, err = c.processCoverage(reply.Ranges, false)
		if err != nil {
			return err
		}
	}
}

// Respond runs the responder loop: answer fingerprint requests until the
// initiator reports done or aborts.
func (c *Conversation) Respond(ctx context.Context, rw io.ReadWriter) error {
	defer c.finish()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		m, err := ReadMsg(rw)
		if err != nil {
			var mal errMalformed
			if errors.As(err, &mal) {
				return c.abort(rw, types.AbortMalformed)
			}
			return err
		}
		if reason, ok := c.checkEnvelope(m); !ok {
			return c.abort(rw, reason)
		}

		switch m.Kind {
		case MsgItems:
			if err := c.ingestBatch(m.Records); err != nil {
				return err
			}

		case MsgFingerprints:
			if c.rounds >= c.opts.MaxRounds {
				return c.abort(rw, "round budget exhausted")
			}
			c.rounds++
			c.metrics.Rounds.Add(1)

			out, toSend, err := c.processCoverage(m.Ranges, true)
			if err != nil {
				return err
			}
			if len(toSend) > 0 {
				if err := c.sendItems(rw, toSend); err != nil {
					return err
				}
			}
			resp := c.envelope(MsgRanges)
			resp.Ranges = out
			if err := WriteMsg(rw, resp); err != nil {
				return err
			}

		case MsgDone:
			if m.Abort != "" {
				c.metrics.SyncsAborted.Add(1)
				return types.ErrSyncAborted{Scope: c.scope, Reason: m.Abort}
			}
			if err := WriteMsg(rw, c.envelope(MsgDone)); err != nil {
				return err
			}
			c.metrics.SyncsCompleted.Add(1)
			return nil

		default:
			return c.abort(rw, types.AbortMalformed)
		}
	}
}

// readUntilRanges consumes the responder's reply for one round: zero or
// more item batches followed by a range response.
func (c *Conversation) readUntilRanges(rw io.ReadWriter) (Msg, error) {
	for {
		m, err := ReadMsg(rw)
		if err != nil {
			var mal errMalformed
			if errors.As(err, &mal) {
				return Msg{}, c.abort(rw, types.AbortMalformed)
			}
			return Msg{}, err
		}
		if reason, ok := c.checkEnvelope(m); !ok {
			return Msg{}, c.abort(rw, reason)
		}

		switch m.Kind {
		case MsgItems:
			if err := c.ingestBatch(m.Records); err != nil {
				return Msg{}, err
			}
		case MsgRanges:
			return m, nil
		case MsgDone:
			if m.Abort != "" {
				c.metrics.SyncsAborted.Add(1)
				return Msg{}, types.ErrSyncAborted{Scope: c.scope, Reason: m.Abort}
			}
			return Msg{}, c.abort(rw, types.AbortMalformed)
		default:
			return Msg{}, c.abort(rw, types.AbortMalformed)
		}
	}
}

// awaitDone reads the peer's closing messages after we reported done.
func (c *Conversation) awaitDone(rw io.ReadWriter) error {
	for {
		m, err := ReadMsg(rw)
		if err != nil {
			var mal errMalformed
			if errors.As(err, &mal) {
				c.metrics.SyncsAborted.Add(1)
				return types.ErrSyncAborted{Scope: c.scope, Reason: types.AbortMalformed}
			}
			return err
		}
		if reason, ok := c.checkEnvelope(m); !ok {
			c.metrics.SyncsAborted.Add(1)
			return types.ErrSyncAborted{Scope: c.scope, Reason: reason}
		}

		switch m.Kind {
		case MsgItems:
			if err := c.ingestBatch(m.Records); err != nil {
				return err
			}
		case MsgDone:
			if m.Abort != "" {
				c.metrics.SyncsAborted.Add(1)
				return types.ErrSyncAborted{Scope: c.scope, Reason: m.Abort}
			}
			c.metrics.SyncsCompleted.Add(1)
			return nil
		default:
			c.metrics.SyncsAborted.Add(1)
			return types.ErrSyncAborted{Scope: c.scope, Reason: types.AbortMalformed}
		}
	}
}

// checkEnvelope validates a message envelope. The first message from the
// peer fixes scope, session and identity for the rest of the conversation
// and must present a membership proof this node can verify from its own
// store.
func (c *Conversation) checkEnvelope(m Msg) (reason string, ok bool) {
	if m.Version != Version {
		return types.AbortVersionMismatch, false
	}

	if c.scope.IsZero() {
		c.scope = m.Scope
		c.logger = c.logger.With("scope", m.Scope.Short())
		if proof, found, err := c.membershipProof(); err == nil && found {
			c.proof = proof
		}
	} else if m.Scope != c.scope {
		return types.AbortMalformed, false
	}

	if c.session == "" {
		c.session = m.Session
	} else if m.Session != c.session {
		return types.AbortMalformed, false
	}

	if !c.peerValidated {
		if !c.validPeerProof(m.From, m.Proof) {
			return types.AbortBadProof, false
		}
		c.peer = m.From
		c.peerValidated = true
	} else if m.From != c.peer {
		return types.AbortMalformed, false
	}

	return "", true
}

// validPeerProof checks the peer's membership proof against local state:
// the referenced record must be a stored, positively-weighted member
// endorsement from the peer onto this scope. A proof this node cannot
// verify is treated as invalid; membership records propagate through the
// scopes their grantors already share with us.
func (c *Conversation) validPeerProof(peer, proof crypto.Digest) bool {
	r, err := c.store.Get(proof)
	if err != nil {
		return false
	}
	e, ok := types.AsEndorsement(r)
	if !ok {
		return false
	}
	return e.Channel == types.ChannelMember &&
		e.Target == c.scope &&
		e.Creator == peer &&
		e.Weight > 0
}

func (c *Conversation) membershipProof() (crypto.Digest, bool, error) {
	e, found, err := c.store.MembershipOf(c.self, c.scope)
	if err != nil || !found {
		return crypto.Digest{}, found, err
	}
	return e.ID, true, nil
}

func (c *Conversation) sendItems(rw io.ReadWriter, records []types.Record) error {
	orderRecords(records)
	msg := c.envelope(MsgItems)
	msg.Records = records
	if err := WriteMsg(rw, msg); err != nil {
		return err
	}
	c.itemsSent += len(records)
	c.metrics.ItemsSent.Add(float64(len(records)))
	return nil
}

func (c *Conversation) ingestBatch(records []types.Record) error {
	for _, r := range records {
		if err := c.ingest.Add(r); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conversation) finish() {
	if n := c.ingest.Outstanding(); n > 0 {
		c.logger.Info("discarding records parked on missing creators", "count", n)
	}
}

// initialCoverage is the opening request: one range over the whole index
// span, enumerated outright when the local scope is already small.
func (c *Conversation) initialCoverage() []Range {
	fp, n := c.index.Fingerprint(c.scope, recon.MinItem, recon.MaxItem)
	if n <= c.opts.EnumerateThreshold {
		return []Range{c.idListRange(recon.MinItem, recon.MaxItem)}
	}
	return []Range{{Bound: recon.MaxItem, Mode: ModeFingerprint, Fingerprint: fp, Count: n}}
}

// processCoverage walks a received coverage list and produces the outgoing
// coverage plus the records the peer is missing. canSplit selects the
// responder behavior of subdividing mismatched ranges; the initiator
// re-states a mismatched range and lets the responder split it further.
func (c *Conversation) processCoverage(in []Range, canSplit bool) ([]Range, []types.Record, error) {
	var (
		out    []Range
		toSend []types.Record
	)
	lo := recon.MinItem
	for _, r := range in {
		hi := r.Bound
		switch r.Mode {
		case ModeSkip:
			out = appendSkip(out, hi)

		case ModeFingerprint:
			localFp, localN := c.index.Fingerprint(c.scope, lo, hi)
			if localFp == r.Fingerprint && localN == r.Count {
				out = appendSkip(out, hi)
				break
			}
			switch {
			case localN <= c.opts.EnumerateThreshold:
				out = append(out, c.idListRange(lo, hi))
			case canSplit:
				out = append(out, c.splitRange(lo, hi)...)
			default:
				out = append(out, Range{
					Bound:       hi,
					Mode:        ModeFingerprint,
					Fingerprint: localFp,
					Count:       localN,
				})
			}

		case ModeIDList:
			send, missing, err := c.diffRange(lo, hi, r.IDs)
			if err != nil {
				return nil, nil, err
			}
			toSend = append(toSend, send...)
			if missing {
				out = append(out, c.idListRange(lo, hi))
			} else {
				out = appendSkip(out, hi)
			}

		default:
			return nil, nil, fmt.Errorf("unknown range mode %d", r.Mode)
		}
		lo = hi
	}
	return out, toSend, nil
}

// idListRange enumerates local ids over [lo, hi).
func (c *Conversation) idListRange(lo, hi recon.Item) Range {
	items := c.index.Enumerate(c.scope, lo, hi)
	ids := make([]crypto.Digest, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return Range{Bound: hi, Mode: ModeIDList, IDs: ids}
}

// splitRange subdivides [lo, hi) into fingerprinted sub-ranges. Bounds are
// coarsened before fingerprinting so both sides compute over the bounds
// that actually travel.
func (c *Conversation) splitRange(lo, hi recon.Item) []Range {
	points := c.index.SplitPoints(c.scope, lo, hi, c.opts.Branching)
	bounds := make([]recon.Item, 0, len(points)+1)
	prev := lo
	for _, p := range points {
		coarse := CoarsenBound(prev, p)
		if coarse.Compare(prev) <= 0 || coarse.Compare(hi) >= 0 {
			continue
		}
		bounds = append(bounds, coarse)
		prev = coarse
	}
	bounds = append(bounds, hi)

	out := make([]Range, 0, len(bounds))
	sub := lo
	for _, b := range bounds {
		fp, n := c.index.Fingerprint(c.scope, sub, b)
		out = append(out, Range{Bound: b, Mode: ModeFingerprint, Fingerprint: fp, Count: n})
		sub = b
	}
	return out
}

// diffRange compares the peer's id list for [lo, hi) against the local
// index. It returns the records the peer lacks and whether the peer holds
// ids this node is missing.
func (c *Conversation) diffRange(lo, hi recon.Item, remote []crypto.Digest) ([]types.Record, bool, error) {
	remoteSet := make(map[crypto.Digest]struct{}, len(remote))
	for _, id := range remote {
		remoteSet[id] = struct{}{}
	}

	local := c.index.Enumerate(c.scope, lo, hi)
	localSet := make(map[crypto.Digest]struct{}, len(local))

	var toSend []types.Record
	for _, it := range local {
		localSet[it.ID] = struct{}{}
		if _, ok := remoteSet[it.ID]; ok {
			continue
		}
		rec, err := c.store.Get(it.ID)
		if err != nil {
			return nil, false, fmt.Errorf("indexed record %s: %w", it.ID.Short(), err)
		}
		toSend = append(toSend, rec)
	}

	missing := false
	for _, id := range remote {
		if _, ok := localSet[id]; !ok {
			missing = true
			break
		}
	}
	return toSend, missing, nil
}

func appendSkip(out []Range, bound recon.Item) []Range {
	if n := len(out); n > 0 && out[n-1].Mode == ModeSkip {
		out[n-1].Bound = bound
		return out
	}
	return append(out, Range{Bound: bound, Mode: ModeSkip})
}

func allSkip(ranges []Range) bool {
	for _, r := range ranges {
		if r.Mode != ModeSkip {
			return false
		}
	}
	return true
}
