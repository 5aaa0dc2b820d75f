package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nufsimage/nufs/internal/pages"
	"github.com/nufsimage/nufs/internal/storage"
)

var catCmd = &cobra.Command{
	Use:   "cat <image> <path>",
	Short: "Print a file's contents to stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := storage.Open(args[0])
		if err != nil {
			return err
		}
		defer e.Close()

		path := args[1]
		buf := make([]byte, pages.Size)
		var offset int64

		for {
			n, err := e.Read(path, buf, offset)
			if err != nil {
				return fmt.Errorf("cat %s: %w", path, err)
			}
			if n == 0 {
				break
			}
			if _, err := os.Stdout.Write(buf[:n]); err != nil {
				return err
			}
			offset += int64(n)
		}

		return nil
	},
}
