package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nufsimage/nufs"
	"github.com/nufsimage/nufs/internal/testutil"
)

var fsckCmd = &cobra.Command{
	Use:   "fsck <image>",
	Short: "Walk an image's directory tree and print a content hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fsys, err := nufs.Open(args[0])
		if err != nil {
			return err
		}
		defer fsys.Close()

		sum, err := testutil.HashFS(fsys)
		if err != nil {
			return fmt.Errorf("fsck: %w", err)
		}

		fmt.Println(sum)
		return nil
	},
}
