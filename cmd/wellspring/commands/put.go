package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wot-technology/wellspring/internal/canonical"
	"github.com/wot-technology/wellspring/types"
)

// PutCmd stores a signed record given as canonical JSON.
var PutCmd = &cobra.Command{
	Use:   "put [file]",
	Short: "Store a signed record from a JSON file (or stdin)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  putRecord,
}

func putRecord(cmd *cobra.Command, args []string) error {
	var bz []byte
	var err error
	if len(args) == 1 {
		bz, err = os.ReadFile(args[0])
	} else {
		bz, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return err
	}

	v, err := canonical.Decode(bz)
	if err != nil {
		return fmt.Errorf("malformed record: %w", err)
	}
	r, err := types.RecordFromValue(v)
	if err != nil {
		return fmt.Errorf("malformed record: %w", err)
	}

	st, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := st.Put(r); err != nil {
		return err
	}
	fmt.Println(r.ID)
	return nil
}
