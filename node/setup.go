package node

import (
	"fmt"
	"time"

	"github.com/wot-technology/wellspring/config"
	"github.com/wot-technology/wellspring/internal/store"
	"github.com/wot-technology/wellspring/libs/log"
	tmos "github.com/wot-technology/wellspring/libs/os"
	"github.com/wot-technology/wellspring/types"
)

// Bootstrap generates the node key and writes the matching self-signed
// identity record into the store. It is idempotent: an existing node key
// is loaded and verified instead.
func Bootstrap(cfg *config.Config, logger log.Logger) (types.NodeKey, error) {
	return bootstrap(cfg, logger, config.DefaultDBProvider)
}

func bootstrap(cfg *config.Config, logger log.Logger, dbProvider config.DBProvider) (types.NodeKey, error) {
	db, err := dbProvider(&config.DBContext{ID: "records", Config: cfg})
	if err != nil {
		return types.NodeKey{}, fmt.Errorf("failed to open record db: %w", err)
	}
	defer db.Close()

	st := store.New(db, logger.With("module", "store"), store.NopMetrics())

	keyFile := cfg.NodeKeyFile()
	if tmos.FileExists(keyFile) {
		nodeKey, err := types.LoadNodeKey(keyFile)
		if err != nil {
			return types.NodeKey{}, err
		}
		ok, err := st.Has(nodeKey.ID)
		if err != nil {
			return types.NodeKey{}, err
		}
		if !ok {
			return types.NodeKey{}, fmt.Errorf(
				"node key %s exists but its identity record %v is not in the store", keyFile, nodeKey.ID)
		}
		logger.Info("found node key", "path", keyFile, "id", nodeKey.ID.Short())
		return nodeKey, nil
	}

	nodeKey, identity, err := types.GenNodeKey(cfg.Moniker, time.Now().UnixMilli())
	if err != nil {
		return types.NodeKey{}, err
	}
	if err := st.Put(identity); err != nil {
		return types.NodeKey{}, fmt.Errorf("failed to store identity record: %w", err)
	}
	if err := nodeKey.SaveAs(keyFile); err != nil {
		return types.NodeKey{}, err
	}
	logger.Info("generated node key", "path", keyFile, "id", nodeKey.ID.Short())
	return nodeKey, nil
}
