package main

import (
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xuecangming/drivefetch/internal/common/utils"
)

func newResultsCmd(global *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Show what earlier runs recorded",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON")

	itemsCmd := &cobra.Command{
		Use:   "items",
		Short: "List recorded remote items ordered by path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := global.loadConfig()
			if err != nil {
				return err
			}
			a, closeApp, err := openApp(config)
			if err != nil {
				return err
			}
			defer closeApp()

			items, err := a.Recorder.Items(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, items)
			}
			for _, it := range items {
				kind := "f"
				if it.IsFolder {
					kind = "d"
				}
				printf(out, "%s %10s  %s\n", kind, utils.FormatSize(it.Size), it.PathName)
			}
			return nil
		},
	}

	var failed bool
	downloadsCmd := &cobra.Command{
		Use:   "downloads",
		Short: "List recorded download outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := global.loadConfig()
			if err != nil {
				return err
			}
			a, closeApp, err := openApp(config)
			if err != nil {
				return err
			}
			defer closeApp()

			downloads, err := a.Recorder.Downloads(cmd.Context(), failed)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, downloads)
			}
			for _, d := range downloads {
				status := "ok"
				if !d.Success {
					status = "failed"
				}
				printf(out, "%-6s %s/%s  %d attempts  %s  %s",
					status,
					utils.FormatSize(d.BytesCopied),
					utils.FormatSize(d.Size),
					d.Attempts,
					d.UpdatedAt.Format(time.DateTime),
					d.Destination)
				if d.Error != "" {
					printf(out, "  (%s)", d.Error)
				}
				printf(out, "\n")
			}
			return nil
		},
	}
	downloadsCmd.Flags().BoolVar(&failed, "failed", false, "only unsuccessful downloads")

	cmd.AddCommand(itemsCmd, downloadsCmd)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
