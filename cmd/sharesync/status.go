package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/sharesync/internal/hash"
	"github.com/steveyegge/sharesync/internal/store"
)

// statusCmd is a read-only inspection command: it reports a hash's local
// store location without any network I/O.
var statusCmd = &cobra.Command{
	Use:   "status <hash>",
	Short: "report a hash's local store location (main/temp/absent)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := hash.ParseHash32(args[0])
		if err != nil {
			return fmt.Errorf("sharesync: parse hash: %w", err)
		}

		st, err := eng.Inspect(rootCtx, h)
		if err != nil {
			return err
		}

		cmd.Printf("%s: %s\n", st.Hash, st.Location)
		if st.Location == store.Temp {
			cmd.Printf("  missing dependencies: %d\n", st.Missing)
		}
		return nil
	},
}
