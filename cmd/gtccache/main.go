// Command gtccache inspects and maintains on-disk shader caches.
//
// The cache for a title lives under <root>/<title-id>/ as two files:
// opengl.bin holds portable guest program images, opengl_precompiled.bin
// holds driver-format binaries that are only valid for one driver
// build. The list and verify commands never modify the cache; strip
// removes the driver binaries so they are rebuilt on the next run.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	gtc "github.com/kentjhall/mizu-sub009"
	"github.com/kentjhall/mizu-sub009/shader"
	"github.com/kentjhall/mizu-sub009/shader/decode"
)

var (
	flagRoot  string
	flagTitle string
)

func main() {
	root := &cobra.Command{
		Use:           "gtccache",
		Short:         "Inspect and maintain on-disk shader caches",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagRoot, "root", defaultRoot(), "shader cache root directory")
	root.PersistentFlags().StringVar(&flagTitle, "title", "", "title id (hex)")

	root.AddCommand(listCmd(), verifyCmd(), stripCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gtccache:", err)
		os.Exit(1)
	}
}

func defaultRoot() string {
	if s := gtc.LoadSettings(); s.ShaderCacheRoot != "" {
		return s.ShaderCacheRoot
	}
	return "."
}

func parseTitle() (uint64, error) {
	if flagTitle == "" {
		return 0, fmt.Errorf("--title is required")
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(flagTitle, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad title id %q: %w", flagTitle, err)
	}
	return id, nil
}

func openCache() (*shader.DiskCache, uint64, error) {
	id, err := parseTitle()
	if err != nil {
		return nil, 0, err
	}
	d, err := shader.NewDiskCache(flagRoot, id, "", nil)
	if err != nil {
		return nil, 0, err
	}
	return d, id, nil
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the stored guest programs for a title",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, id, err := openCache()
			if err != nil {
				return err
			}
			records, err := d.LoadTransferable()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "title %016x: %d programs\n", id, len(records))
			for _, rec := range records {
				fmt.Fprintf(out, "  %016x  %-8s  %5d words\n", rec.Hash, rec.Stage, len(rec.Code))
			}

			// Loading the precompiled file compares its driver tag and
			// discards it on mismatch, so a read-only listing reports
			// the file size only.
			pre := filepath.Join(flagRoot, fmt.Sprintf("%016x", id), "opengl_precompiled.bin")
			if st, err := os.Stat(pre); err == nil {
				fmt.Fprintf(out, "precompiled: %d bytes\n", st.Size())
			} else {
				fmt.Fprintln(out, "precompiled: none")
			}
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Re-decode every stored program and report failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, id, err := openCache()
			if err != nil {
				return err
			}
			records, err := d.LoadTransferable()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			bad := 0
			for _, rec := range records {
				if _, err := decode.Decode(rec.Code, rec.Stage); err != nil {
					bad++
					fmt.Fprintf(out, "  %016x  %-8s  FAIL: %v\n", rec.Hash, rec.Stage, err)
				}
			}
			fmt.Fprintf(out, "title %016x: %d programs, %d undecodable\n", id, len(records), bad)
			if bad > 0 {
				return fmt.Errorf("%d programs failed to decode", bad)
			}
			return nil
		},
	}
}

func stripCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strip",
		Short: "Remove driver binaries, keeping the portable programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, id, err := openCache()
			if err != nil {
				return err
			}
			d.InvalidatePrecompiled()
			fmt.Fprintf(cmd.OutOrStdout(), "title %016x: driver binaries removed\n", id)
			return nil
		},
	}
}
