package scopesync

import (
	"context"
	"net"
	"sync"

	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"

	"github.com/wot-technology/wellspring/crypto"
	"github.com/wot-technology/wellspring/internal/recon"
	"github.com/wot-technology/wellspring/internal/store"
	"github.com/wot-technology/wellspring/libs/log"
	"github.com/wot-technology/wellspring/libs/service"
)

// Coordinator runs scope-sync conversations: one responder per inbound
// connection, initiators on demand. Conversations for different peers and
// scopes are independent; there is no cross-conversation coordination to
// get wrong.
type Coordinator struct {
	service.BaseService
	logger log.Logger

	store   *store.Store
	index   *recon.Manager
	metrics *Metrics
	opts    Options
	self    crypto.Digest

	mtx     sync.Mutex
	conns   map[net.Conn]struct{}
	group   *taskgroup.Group
	stopCtx context.CancelFunc
	ctx     context.Context
}

// NewCoordinator wires a coordinator over the node's store and recon
// index. self is the local identity record id.
func NewCoordinator(
	logger log.Logger,
	st *store.Store,
	index *recon.Manager,
	metrics *Metrics,
	opts Options,
	self crypto.Digest,
) *Coordinator {
	c := &Coordinator{
		logger:  logger,
		store:   st,
		index:   index,
		metrics: metrics,
		opts:    opts.normalize(),
		self:    self,
		conns:   make(map[net.Conn]struct{}),
	}
	c.BaseService = *service.NewBaseService(logger, "Coordinator", c)
	return c
}

func (c *Coordinator) OnStart(ctx context.Context) error {
	c.ctx, c.stopCtx = context.WithCancel(ctx)
	c.group = taskgroup.New(nil)
	return nil
}

func (c *Coordinator) OnStop() {
	c.stopCtx()
	c.mtx.Lock()
	for conn := range c.conns {
		_ = conn.Close()
	}
	c.mtx.Unlock()
	_ = c.group.Wait()
}

// HandlePeer serves one inbound connection as the responder. It returns
// immediately; the conversation runs on the coordinator's task group and
// the connection is closed when it ends.
func (c *Coordinator) HandlePeer(conn net.Conn) {
	c.track(conn)
	c.group.Go(func() error {
		defer c.untrack(conn)
		conv := NewConversation(
			c.logger.With("remote", conn.RemoteAddr().String()),
			c.store, c.index, c.metrics, c.opts,
			"", crypto.Digest{}, c.self, crypto.Digest{},
		)
		if err := conv.Respond(c.ctx, conn); err != nil {
			c.logger.Error("responder sync failed", "remote", conn.RemoteAddr().String(), "err", err)
			return nil
		}
		c.logger.Info("responder sync complete",
			"remote", conn.RemoteAddr().String(),
			"rounds", conv.Rounds(),
			"sent", conv.ItemsSent(),
			"received", conv.ItemsReceived())
		return nil
	})
}

// SyncScope reconciles one scope with the peer on the other end of conn,
// as the initiator, and blocks until the conversation ends. The returned
// conversation reports round and transfer counts.
func (c *Coordinator) SyncScope(ctx context.Context, conn net.Conn, scope crypto.Digest) (*Conversation, error) {
	proof, _, err := c.proofFor(scope)
	if err != nil {
		return nil, err
	}

	conv := NewConversation(
		c.logger.With("remote", conn.RemoteAddr().String(), "scope", scope.Short()),
		c.store, c.index, c.metrics, c.opts,
		uuid.NewString(), scope, c.self, proof,
	)

	c.track(conn)
	defer c.untrackKeepOpen(conn)
	if err := conv.Initiate(ctx, conn); err != nil {
		return conv, err
	}
	c.logger.Info("initiator sync complete",
		"scope", scope.Short(),
		"rounds", conv.Rounds(),
		"sent", conv.ItemsSent(),
		"received", conv.ItemsReceived())
	return conv, nil
}

// proofFor looks up this node's membership proof for scope. A node with no
// stored membership still attempts the sync; the peer decides whether to
// admit it.
func (c *Coordinator) proofFor(scope crypto.Digest) (crypto.Digest, bool, error) {
	e, found, err := c.store.MembershipOf(c.self, scope)
	if err != nil {
		return crypto.Digest{}, false, err
	}
	if !found {
		return crypto.Digest{}, false, nil
	}
	return e.ID, true, nil
}

func (c *Coordinator) track(conn net.Conn) {
	c.mtx.Lock()
	c.conns[conn] = struct{}{}
	c.mtx.Unlock()
}

func (c *Coordinator) untrack(conn net.Conn) {
	c.untrackKeepOpen(conn)
	_ = conn.Close()
}

func (c *Coordinator) untrackKeepOpen(conn net.Conn) {
	c.mtx.Lock()
	delete(c.conns, conn)
	c.mtx.Unlock()
}
