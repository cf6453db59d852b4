package main

import (
	"github.com/spf13/cobra"

	"github.com/steveyegge/sharesync/internal/pull"
)

var pullCmd = &cobra.Command{
	Use:   "pull <path>",
	Short: "pull a remote path's causal and its dependency closure",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := parsePath(args[0])
		if err != nil {
			return err
		}

		pw := newProgressWriter(cmd.OutOrStdout())
		downloaded, queued := 0, 0
		cb := pull.Callbacks{
			OnDownloaded: func(n int) {
				downloaded += n
				pw.Printf("downloaded %d entities, %d queued", downloaded, queued)
			},
			OnQueuedForDownload: func(n int) {
				queued += n
				pw.Printf("downloaded %d entities, %d queued", downloaded, queued)
			},
		}
		defer pw.Done()

		h, err := eng.Pull(rootCtx, path, cb)
		if err != nil {
			return err
		}
		cmd.Println(h.String())
		return nil
	},
}
