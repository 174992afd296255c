package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dbm "github.com/tendermint/tm-db"

	"github.com/wot-technology/wellspring/config"
	"github.com/wot-technology/wellspring/crypto"
	"github.com/wot-technology/wellspring/internal/recon"
	"github.com/wot-technology/wellspring/internal/scopesync"
	"github.com/wot-technology/wellspring/internal/store"
	"github.com/wot-technology/wellspring/internal/trust"
	"github.com/wot-technology/wellspring/libs/log"
	"github.com/wot-technology/wellspring/libs/service"
	"github.com/wot-technology/wellspring/types"
)

const dialTimeout = 5 * time.Second

// Node ties the store, the reconciliation index, the trust engine, and
// the sync coordinator together into one runnable service.
type Node struct {
	service.BaseService
	logger log.Logger
	config *config.Config

	nodeKey types.NodeKey
	db      dbm.DB
	store   *store.Store
	index   *recon.Manager
	trust   *trust.Cache
	coord   *scopesync.Coordinator

	listener      net.Listener
	prometheusSrv *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	group  *taskgroup.Group
}

// New builds a node from its config. The node key must already exist (see
// the init command) and the identity record it names must be in the
// store.
func New(cfg *config.Config, logger log.Logger) (*Node, error) {
	return makeNode(cfg, logger, config.DefaultDBProvider)
}

func makeNode(cfg *config.Config, logger log.Logger, dbProvider config.DBProvider) (*Node, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	nodeKey, err := types.LoadNodeKey(cfg.NodeKeyFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load node key: %w", err)
	}

	db, err := dbProvider(&config.DBContext{ID: "records", Config: cfg})
	if err != nil {
		return nil, fmt.Errorf("failed to open record db: %w", err)
	}

	storeMetrics := store.NopMetrics()
	syncMetrics := scopesync.NopMetrics()
	if cfg.Instrumentation.Prometheus {
		storeMetrics = store.PrometheusMetrics(cfg.Instrumentation.Namespace, "moniker", cfg.Moniker)
		syncMetrics = scopesync.PrometheusMetrics(cfg.Instrumentation.Namespace, "moniker", cfg.Moniker)
	}

	st := store.New(db, logger.With("module", "store"), storeMetrics)

	index := recon.NewManager()
	st.OnInsert(index.Insert)
	if err := index.Rebuild(st.ForEachScopeEntry); err != nil {
		return nil, fmt.Errorf("failed to rebuild sync index: %w", err)
	}

	engine := trust.NewEngine(
		trust.WithDecay(cfg.Trust.Decay),
		trust.WithGroundednessDepth(cfg.Trust.GroundednessDepth),
	)
	cache := trust.NewCache(engine, trust.StoreGraph{Store: st})
	if cfg.Trust.CacheScores {
		st.OnInsert(func(crypto.Digest, int64, crypto.Digest) {
			cache.Invalidate()
		})
	}

	ok, err := st.Has(nodeKey.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("identity record %v missing from the store; run init first", nodeKey.ID)
	}

	coord := scopesync.NewCoordinator(
		logger.With("module", "sync"),
		st, index, syncMetrics,
		scopesync.Options{
			EnumerateThreshold: cfg.Sync.EnumerateThreshold,
			Branching:          cfg.Sync.Branching,
			MaxRounds:          cfg.Sync.MaxRounds,
		},
		nodeKey.ID,
	)

	n := &Node{
		logger:  logger,
		config:  cfg,
		nodeKey: nodeKey,
		db:      db,
		store:   st,
		index:   index,
		trust:   cache,
		coord:   coord,
	}
	n.BaseService = *service.NewBaseService(logger, "Node", n)
	return n, nil
}

func (n *Node) OnStart(ctx context.Context) error {
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.group = taskgroup.New(nil)

	if err := n.coord.Start(n.ctx); err != nil {
		return err
	}

	proto, addr := protocolAndAddress(n.config.ListenAddr)
	ln, err := net.Listen(proto, addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.config.ListenAddr, err)
	}
	n.listener = ln
	n.logger.Info("sync listener started", "addr", ln.Addr().String(), "id", n.nodeKey.ID.Short())

	n.group.Go(n.acceptPeers)

	if len(n.config.Sync.Peers) > 0 {
		n.group.Go(n.syncLoop)
	}

	if n.config.Instrumentation.Prometheus {
		n.prometheusSrv = n.startPrometheusServer(n.config.Instrumentation.PrometheusListenAddr)
	}
	return nil
}

func (n *Node) OnStop() {
	n.cancel()
	if n.listener != nil {
		_ = n.listener.Close()
	}
	n.coord.Stop()
	if n.prometheusSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := n.prometheusSrv.Shutdown(shutdownCtx); err != nil {
			n.logger.Error("prometheus server shutdown error", "err", err)
		}
	}
	_ = n.group.Wait()
	if err := n.db.Close(); err != nil {
		n.logger.Error("failed to close record db", "err", err)
	}
}

// Store exposes the content store for the RPC-less local commands.
func (n *Node) Store() *store.Store { return n.store }

// Trust exposes the cached trust computer.
func (n *Node) Trust() *trust.Cache { return n.trust }

// ID returns the digest of the node's identity record.
func (n *Node) ID() crypto.Digest { return n.nodeKey.ID }

// Listener reports the bound sync listener address; useful when the
// config asked for port 0.
func (n *Node) Listener() net.Addr {
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

func (n *Node) acceptPeers() error {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			if n.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			n.logger.Error("accept failed", "err", err)
			return err
		}
		n.coord.HandlePeer(conn)
	}
}

// syncLoop reconciles the configured scopes against every configured peer
// on a fixed interval. Failures are logged and retried on the next tick;
// the protocol is idempotent so a half-finished pass costs nothing.
func (n *Node) syncLoop() error {
	ticker := time.NewTicker(n.config.Sync.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return nil
		case <-ticker.C:
		}

		scopes, err := n.syncScopes()
		if err != nil {
			n.logger.Error("failed to resolve sync scopes", "err", err)
			continue
		}
		for _, peer := range n.config.Sync.Peers {
			for _, scope := range scopes {
				n.syncOne(peer, scope)
			}
		}
	}
}

func (n *Node) syncOne(peer string, scope crypto.Digest) {
	conn, err := net.DialTimeout("tcp", peer, dialTimeout)
	if err != nil {
		n.logger.Error("failed to dial sync peer", "peer", peer, "err", err)
		return
	}
	defer conn.Close()

	if _, err := n.coord.SyncScope(n.ctx, conn, scope); err != nil {
		n.logger.Error("sync failed", "peer", peer, "scope", scope.Short(), "err", err)
	}
}

// syncScopes resolves the scope set to reconcile: the configured list, or
// every scope this node holds a membership endorsement for when the list
// is empty.
func (n *Node) syncScopes() ([]crypto.Digest, error) {
	if len(n.config.Sync.Scopes) > 0 {
		scopes := make([]crypto.Digest, 0, len(n.config.Sync.Scopes))
		for _, s := range n.config.Sync.Scopes {
			d, err := crypto.ParseDigest(s)
			if err != nil {
				return nil, fmt.Errorf("bad scope digest %q: %w", s, err)
			}
			scopes = append(scopes, d)
		}
		return scopes, nil
	}

	memberships, err := n.store.EndorsementsBy(n.nodeKey.ID)
	if err != nil {
		return nil, err
	}
	var scopes []crypto.Digest
	seen := make(map[crypto.Digest]bool)
	for _, e := range memberships {
		if e.Channel != types.ChannelMember || e.Weight <= 0 || seen[e.Target] {
			continue
		}
		seen[e.Target] = true
		scopes = append(scopes, e.Target)
	}
	return scopes, nil
}

func (n *Node) startPrometheusServer(addr string) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: promhttp.Handler(),
	}
	n.group.Go(func() error {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			n.logger.Error("prometheus server terminated", "err", err)
		}
		return nil
	})
	return srv
}

// protocolAndAddress splits a listen address of the form
// "tcp://0.0.0.0:26890" into its network and address parts. A bare
// address defaults to tcp.
func protocolAndAddress(listenAddr string) (string, string) {
	protocol, address := "tcp", listenAddr
	parts := strings.SplitN(address, "://", 2)
	if len(parts) == 2 {
		protocol, address = parts[0], parts[1]
	}
	return protocol, address
}
