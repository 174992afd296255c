package commands

import (
	dbm "github.com/tendermint/tm-db"

	cfg "github.com/wot-technology/wellspring/config"
	"github.com/wot-technology/wellspring/internal/store"
)

// openStore opens the record database read-write for the one-shot
// commands. Callers must close the returned db.
func openStore() (*store.Store, dbm.DB, error) {
	db, err := cfg.DefaultDBProvider(&cfg.DBContext{ID: "records", Config: config})
	if err != nil {
		return nil, nil, err
	}
	st := store.New(db, logger.With("module", "store"), store.NopMetrics())
	return st, db, nil
}
