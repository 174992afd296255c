package scopesync_test

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/wot-technology/wellspring/crypto"
	"github.com/wot-technology/wellspring/crypto/ed25519"
	"github.com/wot-technology/wellspring/internal/canonical"
	"github.com/wot-technology/wellspring/internal/recon"
	"github.com/wot-technology/wellspring/internal/scopesync"
	"github.com/wot-technology/wellspring/internal/store"
	"github.com/wot-technology/wellspring/libs/log"
	"github.com/wot-technology/wellspring/types"
)

type syncPeer struct {
	t     *testing.T
	priv  crypto.PrivKey
	id    types.Record
	store *store.Store
	index *recon.Manager
	proof crypto.Digest
}

func newSyncPeer(t *testing.T, name string) *syncPeer {
	t.Helper()
	priv := ed25519.GenPrivKeyFromSecret([]byte(name))
	id, err := types.NewIdentityRecord(name, priv, 1)
	require.NoError(t, err)

	st := store.New(dbm.NewMemDB(), log.NewTestingLogger(t), store.NopMetrics())
	idx := recon.NewManager()
	st.OnInsert(idx.Insert)
	require.NoError(t, st.Put(id))

	return &syncPeer{t: t, priv: priv, id: id, store: st, index: idx}
}

func (p *syncPeer) put(r types.Record) {
	p.t.Helper()
	require.NoError(p.t, p.store.Put(r))
}

// note builds a scoped record signed by this peer. The record is not
// stored; callers put it wherever the scenario needs it.
func (p *syncPeer) note(scope crypto.Digest, ts int64, text string) types.Record {
	p.t.Helper()
	r, err := types.NewRecord(
		"note",
		canonical.MapOf(canonical.Field{Key: "text", Value: canonical.String(text)}),
		p.id.ID, p.priv, ts, nil,
		types.ScopeVisibility(scope),
	)
	require.NoError(p.t, err)
	return r
}

// setupScope seeds both peers with each other's identities, the scope
// record and both membership grants, and returns the scope id.
func setupScope(t *testing.T, a, b *syncPeer) crypto.Digest {
	t.Helper()
	scopeRec, err := types.NewScopeRecord("shared", a.id.ID, a.priv, 2)
	require.NoError(t, err)

	memberA, err := types.NewEndorsement(a.id.ID, a.priv, scopeRec.ID, 1, types.ChannelMember, 3, "")
	require.NoError(t, err)
	memberB, err := types.NewEndorsement(b.id.ID, b.priv, scopeRec.ID, 1, types.ChannelMember, 3, "")
	require.NoError(t, err)

	for _, p := range []*syncPeer{a, b} {
		p.put(a.id)
		p.put(b.id)
		p.put(scopeRec)
		p.put(memberA.Record)
		p.put(memberB.Record)
	}
	a.proof = memberA.ID
	b.proof = memberB.ID
	return scopeRec.ID
}

// runSync reconciles scope over an in-memory pipe with a as initiator.
func runSync(t *testing.T, a, b *syncPeer, scope crypto.Digest, opts scopesync.Options) (init, resp *scopesync.Conversation) {
	t.Helper()
	initErr, respErr := runSyncErr(t, a, b, scope, opts, &init, &resp)
	require.NoError(t, initErr)
	require.NoError(t, respErr)
	return init, resp
}

func runSyncErr(
	t *testing.T, a, b *syncPeer,
	scope crypto.Digest, opts scopesync.Options,
	init, resp **scopesync.Conversation,
) (initErr, respErr error) {
	t.Helper()
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	*init = scopesync.NewConversation(
		log.NewTestingLogger(t), a.store, a.index, scopesync.NopMetrics(), opts,
		"test-session", scope, a.id.ID, a.proof,
	)
	*resp = scopesync.NewConversation(
		log.NewTestingLogger(t), b.store, b.index, scopesync.NopMetrics(), opts,
		"", crypto.Digest{}, b.id.ID, crypto.Digest{},
	)

	done := make(chan error, 1)
	go func() { done <- (*resp).Respond(context.Background(), connB) }()
	initErr = (*init).Initiate(context.Background(), connA)
	respErr = <-done
	return initErr, respErr
}

func requireConverged(t *testing.T, a, b *syncPeer, scope crypto.Digest) {
	t.Helper()
	fpA, nA := a.index.Fingerprint(scope, recon.MinItem, recon.MaxItem)
	fpB, nB := b.index.Fingerprint(scope, recon.MinItem, recon.MaxItem)
	require.Equal(t, nA, nB, "peers hold different item counts")
	require.Equal(t, fpA, fpB, "peers diverge after sync")
}

func TestSyncConvergenceSmall(t *testing.T) {
	defer leaktest.Check(t)()

	a := newSyncPeer(t, "alice")
	b := newSyncPeer(t, "bob")
	scope := setupScope(t, a, b)

	aaa := a.note(scope, 100, "aaa")
	bbb := a.note(scope, 200, "bbb")
	ccc := a.note(scope, 300, "ccc")
	ddd := b.note(scope, 250, "ddd")

	a.put(aaa)
	a.put(bbb)
	a.put(ccc)
	b.put(aaa)
	b.put(ddd)
	b.put(ccc)

	init, resp := runSync(t, a, b, scope, scopesync.Options{Branching: 4})

	requireConverged(t, a, b, scope)
	for _, p := range []*syncPeer{a, b} {
		for _, r := range []types.Record{aaa, bbb, ccc, ddd} {
			got, err := p.store.Get(r.ID)
			require.NoError(t, err)
			assert.Equal(t, r.ID, got.ID)
		}
	}

	// Symmetric difference is two records; exactly two full records cross
	// the wire, and a tiny set converges in at most three rounds.
	assert.Equal(t, 2, init.ItemsSent()+resp.ItemsSent())
	assert.LessOrEqual(t, init.Rounds(), 3)
}

func TestSyncIdenticalStores(t *testing.T) {
	defer leaktest.Check(t)()

	a := newSyncPeer(t, "alice")
	b := newSyncPeer(t, "bob")
	scope := setupScope(t, a, b)

	shared := a.note(scope, 100, "same everywhere")
	a.put(shared)
	b.put(shared)

	init, resp := runSync(t, a, b, scope, scopesync.Options{})

	requireConverged(t, a, b, scope)
	assert.Zero(t, init.ItemsSent())
	assert.Zero(t, resp.ItemsSent())
	assert.LessOrEqual(t, init.Rounds(), 2)
}

func TestSyncEmptyInitiatorPullsEverything(t *testing.T) {
	defer leaktest.Check(t)()

	a := newSyncPeer(t, "alice")
	b := newSyncPeer(t, "bob")
	scope := setupScope(t, a, b)

	var want []types.Record
	for i := 0; i < 12; i++ {
		r := b.note(scope, int64(100+i), fmt.Sprintf("only-b-%d", i))
		b.put(r)
		want = append(want, r)
	}

	init, resp := runSync(t, a, b, scope, scopesync.Options{})

	requireConverged(t, a, b, scope)
	assert.Equal(t, len(want), resp.ItemsSent())
	assert.Zero(t, init.ItemsSent())
	for _, r := range want {
		_, err := a.store.Get(r.ID)
		require.NoError(t, err)
	}
}

func TestSyncLargeScopeLogarithmicRounds(t *testing.T) {
	defer leaktest.Check(t)()

	a := newSyncPeer(t, "alice")
	b := newSyncPeer(t, "bob")
	scope := setupScope(t, a, b)

	for i := 0; i < 200; i++ {
		r := a.note(scope, int64(1000+i*2), fmt.Sprintf("shared-%d", i))
		a.put(r)
		b.put(r)
	}
	d := 0
	for i := 0; i < 5; i++ {
		r := a.note(scope, int64(1001+i*40), fmt.Sprintf("only-a-%d", i))
		a.put(r)
		d++
	}
	for i := 0; i < 5; i++ {
		r := b.note(scope, int64(1003+i*40), fmt.Sprintf("only-b-%d", i))
		b.put(r)
		d++
	}

	init, resp := runSync(t, a, b, scope, scopesync.Options{Branching: 4})

	requireConverged(t, a, b, scope)
	assert.Equal(t, d, init.ItemsSent()+resp.ItemsSent(),
		"transfer must be exactly the symmetric difference")
	assert.LessOrEqual(t, init.Rounds(), 10, "rounds must stay logarithmic in scope size")
}

func TestSyncResumeIsIdempotent(t *testing.T) {
	defer leaktest.Check(t)()

	a := newSyncPeer(t, "alice")
	b := newSyncPeer(t, "bob")
	scope := setupScope(t, a, b)

	a.put(a.note(scope, 100, "one"))
	b.put(b.note(scope, 200, "two"))

	runSync(t, a, b, scope, scopesync.Options{})
	requireConverged(t, a, b, scope)

	// Re-running the whole exchange against converged stores is a no-op:
	// fingerprints are pure functions of held data.
	init, resp := runSync(t, a, b, scope, scopesync.Options{})
	requireConverged(t, a, b, scope)
	assert.Zero(t, init.ItemsSent())
	assert.Zero(t, resp.ItemsSent())
}

func TestSyncBadProofAborts(t *testing.T) {
	defer leaktest.Check(t)()

	a := newSyncPeer(t, "alice")
	b := newSyncPeer(t, "bob")
	scope := setupScope(t, a, b)

	secret := a.note(scope, 100, "should not cross")
	a.put(secret)

	// The initiator presents a proof digest the responder cannot resolve
	// to a stored membership grant.
	a.proof = crypto.DigestOf([]byte("not a membership"))

	var init, resp *scopesync.Conversation
	initErr, respErr := runSyncErr(t, a, b, scope, scopesync.Options{}, &init, &resp)

	var aborted types.ErrSyncAborted
	require.ErrorAs(t, initErr, &aborted)
	assert.Equal(t, types.AbortBadProof, aborted.Reason)
	require.ErrorAs(t, respErr, &aborted)
	assert.Equal(t, types.AbortBadProof, aborted.Reason)

	// Nothing merged.
	_, err := b.store.Get(secret.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSyncVersionMismatchAborts(t *testing.T) {
	defer leaktest.Check(t)()

	a := newSyncPeer(t, "alice")
	b := newSyncPeer(t, "bob")
	scope := setupScope(t, a, b)

	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	resp := scopesync.NewConversation(
		log.NewTestingLogger(t), b.store, b.index, scopesync.NopMetrics(), scopesync.Options{},
		"", crypto.Digest{}, b.id.ID, crypto.Digest{},
	)
	done := make(chan error, 1)
	go func() { done <- resp.Respond(context.Background(), connB) }()

	bad := scopesync.Msg{
		Kind:    scopesync.MsgDone,
		Version: scopesync.Version + 1,
		Session: "stale-peer",
		Scope:   scope,
		From:    a.id.ID,
		Proof:   a.proof,
	}
	require.NoError(t, scopesync.WriteMsg(connA, bad))

	reply, err := scopesync.ReadMsg(connA)
	require.NoError(t, err)
	assert.Equal(t, scopesync.MsgDone, reply.Kind)
	assert.Equal(t, types.AbortVersionMismatch, reply.Abort)

	var aborted types.ErrSyncAborted
	require.ErrorAs(t, <-done, &aborted)
	assert.Equal(t, types.AbortVersionMismatch, aborted.Reason)
}

func TestSyncMalformedFrameAborts(t *testing.T) {
	defer leaktest.Check(t)()

	b := newSyncPeer(t, "bob")

	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	resp := scopesync.NewConversation(
		log.NewTestingLogger(t), b.store, b.index, scopesync.NopMetrics(), scopesync.Options{},
		"", crypto.Digest{}, b.id.ID, crypto.Digest{},
	)
	done := make(chan error, 1)
	go func() { done <- resp.Respond(context.Background(), connB) }()

	// Valid length prefix, garbage payload.
	_, err := connA.Write([]byte{0, 0, 0, 5, 'z', 'z', 'z', 'z', 'z'})
	require.NoError(t, err)

	reply, err := scopesync.ReadMsg(connA)
	require.NoError(t, err)
	assert.Equal(t, scopesync.MsgDone, reply.Kind)
	assert.Equal(t, types.AbortMalformed, reply.Abort)

	var aborted types.ErrSyncAborted
	require.ErrorAs(t, <-done, &aborted)
	assert.Equal(t, types.AbortMalformed, aborted.Reason)
}

func TestCoordinatorSyncScope(t *testing.T) {
	defer leaktest.Check(t)()

	a := newSyncPeer(t, "alice")
	b := newSyncPeer(t, "bob")
	scope := setupScope(t, a, b)

	only := a.note(scope, 100, "only on a")
	a.put(only)

	ctx := context.Background()
	coordA := scopesync.NewCoordinator(
		log.NewTestingLogger(t), a.store, a.index, scopesync.NopMetrics(),
		scopesync.Options{}, a.id.ID,
	)
	coordB := scopesync.NewCoordinator(
		log.NewTestingLogger(t), b.store, b.index, scopesync.NopMetrics(),
		scopesync.Options{}, b.id.ID,
	)
	require.NoError(t, coordA.Start(ctx))
	require.NoError(t, coordB.Start(ctx))
	defer coordA.Stop()
	defer coordB.Stop()

	connA, connB := net.Pipe()
	defer connA.Close()
	coordB.HandlePeer(connB)

	conv, err := coordA.SyncScope(ctx, connA, scope)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.ItemsSent())

	requireConverged(t, a, b, scope)
	_, err = b.store.Get(only.ID)
	require.NoError(t, err)
}

func TestSyncDeliversUnknownCreatorWithIdentity(t *testing.T) {
	defer leaktest.Check(t)()

	a := newSyncPeer(t, "alice")
	b := newSyncPeer(t, "bob")
	scope := setupScope(t, a, b)

	// A third identity known only to A, writing into the scope. Its
	// identity record travels in the same scope, so B can verify the note
	// even though the batch may arrive in any order.
	cPriv := ed25519.GenPrivKeyFromSecret([]byte("carol"))
	cID, err := types.NewIdentityRecord("carol", cPriv, 4)
	require.NoError(t, err)
	cIDScoped, err := types.NewRecord(
		cID.Kind, cID.Payload, crypto.SelfMarker, cPriv, 4, nil,
		types.ScopeVisibility(scope),
	)
	require.NoError(t, err)
	a.put(cIDScoped)

	note, err := types.NewRecord(
		"note",
		canonical.MapOf(canonical.Field{Key: "text", Value: canonical.String("from carol")}),
		cIDScoped.ID, cPriv, 500, nil,
		types.ScopeVisibility(scope),
	)
	require.NoError(t, err)
	a.put(note)

	runSync(t, a, b, scope, scopesync.Options{})
	requireConverged(t, a, b, scope)

	got, err := b.store.Get(note.ID)
	require.NoError(t, err)
	assert.Equal(t, cIDScoped.ID, got.Creator)
}
