package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nufsimage/nufs/internal/storage"
)

var mkfsCmd = &cobra.Command{
	Use:   "mkfs <image>",
	Short: "Create (or open) a nufs disk image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := storage.Open(args[0])
		if err != nil {
			return fmt.Errorf("mkfs: %w", err)
		}
		return e.Close()
	},
}
