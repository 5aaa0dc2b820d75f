package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nufsimage/nufs/internal/modebits"
	"github.com/nufsimage/nufs/internal/pages"
	"github.com/nufsimage/nufs/internal/storage"
)

var importCmd = &cobra.Command{
	Use:   "import <image> <host-file> <nufs-path>",
	Short: "Copy a regular host file into a nufs image, creating parent directories as needed",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := storage.Open(args[0])
		if err != nil {
			return err
		}
		defer e.Close()

		src, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer src.Close()

		dst := args[2]
		parent, _ := storage.SplitPath(dst)
		if err := mkdirAll(e, parent); err != nil {
			return err
		}

		if err := e.Mknod(dst, modebits.Regular|0o644); err != nil {
			return fmt.Errorf("import: creating %s: %w", dst, err)
		}

		buf := make([]byte, pages.Size)
		var offset int64
		for {
			n, readErr := src.Read(buf)
			if n > 0 {
				if _, err := e.Write(dst, buf[:n], offset); err != nil {
					return fmt.Errorf("import: writing %s: %w", dst, err)
				}
				offset += int64(n)
			}
			if readErr != nil {
				break
			}
		}

		return nil
	},
}

// mkdirAll ensures path and every one of its ancestors exist as
// directories, the way os.MkdirAll behaves for host paths.
func mkdirAll(e *storage.Engine, path string) error {
	if path == "/" {
		return nil
	}
	if _, err := e.Stat(path); err == nil {
		return nil
	}

	parent, _ := storage.SplitPath(path)
	if err := mkdirAll(e, parent); err != nil {
		return err
	}

	return e.Mkdir(path, 0o755)
}
