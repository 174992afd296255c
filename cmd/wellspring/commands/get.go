package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wot-technology/wellspring/crypto"
	"github.com/wot-technology/wellspring/internal/canonical"
)

// GetCmd prints a stored record as canonical JSON.
var GetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch a record by its digest",
	Args:  cobra.ExactArgs(1),
	RunE:  getRecord,
}

func getRecord(cmd *cobra.Command, args []string) error {
	id, err := crypto.ParseDigest(args[0])
	if err != nil {
		return err
	}

	st, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	r, err := st.Get(id)
	if err != nil {
		return err
	}
	bz, err := canonical.Encode(r.ToValue())
	if err != nil {
		return err
	}
	fmt.Println(string(bz))
	return nil
}

// EndorsementsCmd lists the endorsements naming a record as target.
var EndorsementsCmd = &cobra.Command{
	Use:   "endorsements <target>",
	Short: "List endorsements on a record",
	Args:  cobra.ExactArgs(1),
	RunE:  listEndorsements,
}

func listEndorsements(cmd *cobra.Command, args []string) error {
	target, err := crypto.ParseDigest(args[0])
	if err != nil {
		return err
	}

	st, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	endorsements, err := st.EndorsementsOn(target)
	if err != nil {
		return err
	}
	for _, e := range endorsements {
		fmt.Printf("%v\t%s\t%g\tby %v\n", e.ID, e.Channel, e.Weight, e.Creator)
	}
	return nil
}

// MembersCmd lists the records visible in a scope in insertion order.
var MembersCmd = &cobra.Command{
	Use:   "members <scope>",
	Short: "List the records in a scope",
	Args:  cobra.ExactArgs(1),
	RunE:  listMembers,
}

func listMembers(cmd *cobra.Command, args []string) error {
	scope, err := crypto.ParseDigest(args[0])
	if err != nil {
		return err
	}
	since, err := cmd.Flags().GetInt64("since")
	if err != nil {
		return err
	}

	st, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	return st.ScopeMembers(scope, since, func(createdAt int64, id crypto.Digest) error {
		fmt.Printf("%d\t%v\n", createdAt, id)
		return nil
	})
}

func init() {
	MembersCmd.Flags().Int64("since", 0, "only list records created at or after this millisecond timestamp")
}
