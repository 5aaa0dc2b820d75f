package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nufsimage/nufs/internal/modebits"
	"github.com/nufsimage/nufs/internal/pathutil"
	"github.com/nufsimage/nufs/internal/storage"
)

var lsCmd = &cobra.Command{
	Use:   "ls <image> [path]",
	Short: "List a directory's entries",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/"
		if len(args) == 2 {
			path = args[1]
		}

		e, err := storage.Open(args[0])
		if err != nil {
			return err
		}
		defer e.Close()

		names, err := e.List(path)
		if err != nil {
			return fmt.Errorf("ls %s: %w", path, err)
		}

		for _, name := range names {
			if name == "." || name == ".." {
				continue
			}

			info, err := e.Stat(pathutil.Join(path, name))
			if err != nil {
				continue
			}

			tag := "-"
			switch {
			case modebits.IsDir(info.Mode):
				tag = "d"
			case modebits.IsSymlink(info.Mode):
				tag = "l"
			}

			fmt.Printf("%s %8d %s\n", tag, info.Size, name)
		}

		return nil
	},
}
