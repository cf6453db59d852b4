package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/sharesync/internal/hash"
)

var (
	pushExpectedHash string
	pushFastForward  bool
)

var pushCmd = &cobra.Command{
	Use:   "push <path> <localCausalHash>",
	Short: "push a local causal to a remote path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := parsePath(args[0])
		if err != nil {
			return err
		}
		localHash, err := hash.ParseHash32(args[1])
		if err != nil {
			return fmt.Errorf("sharesync: parse local hash: %w", err)
		}
		local := hash.CausalHash(localHash)

		pw := newProgressWriter(cmd.OutOrStdout())
		progress := func(uploaded, remaining int) {
			pw.Printf("uploaded %d, %d remaining", uploaded, remaining)
		}
		defer pw.Done()

		if pushFastForward {
			return eng.FastForwardPush(rootCtx, path, local, progress)
		}

		var expected *hash.Hash32
		if pushExpectedHash != "" {
			h, err := hash.ParseHash32(pushExpectedHash)
			if err != nil {
				return fmt.Errorf("sharesync: parse --expected-hash: %w", err)
			}
			expected = &h
		}
		return eng.CheckAndSetPush(rootCtx, path, expected, local, progress)
	},
}

func init() {
	pushCmd.Flags().StringVar(&pushExpectedHash, "expected-hash", "", "expected current remote hash for check-and-set (empty means Option::None)")
	pushCmd.Flags().BoolVar(&pushFastForward, "fast-forward", false, "push as a fast-forward instead of check-and-set")
}
