package main

import (
	"github.com/spf13/cobra"

	"github.com/xuecangming/drivefetch/internal/app"
	"github.com/xuecangming/drivefetch/internal/common/types"
)

type workerFlags struct {
	list     int
	download int
	move     int
	maxConns int
}

func (w *workerFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVar(&w.list, "list-workers", 0, "concurrent folder listings")
	flags.IntVar(&w.download, "download-workers", 0, "concurrent file downloads")
	flags.IntVar(&w.move, "move-workers", 0, "concurrent moves")
	flags.IntVar(&w.maxConns, "max-connections", -1, "open sessions at most, 0 for no bound")
}

func (w *workerFlags) apply(config *types.Config) {
	if w.list > 0 {
		config.Workers.List = w.list
	}
	if w.download > 0 {
		config.Workers.Download = w.download
	}
	if w.move > 0 {
		config.Workers.Move = w.move
	}
	if w.maxConns >= 0 {
		config.Session.MaxConnections = w.maxConns
	}
}

func newListCmd(global *globalOptions) *cobra.Command {
	var (
		depth   int
		sync    bool
		workers workerFlags
	)
	cmd := &cobra.Command{
		Use:   "list [path]",
		Short: "Record the remote folder tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := global.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("depth") {
				config.Traversal.MaxDepth = depth
			}
			workers.apply(config)

			a, closeApp, err := openApp(config)
			if err != nil {
				return err
			}
			defer closeApp()

			return a.List(cmd.Context(), app.ListOptions{
				Path:     remotePath(args, config.Traversal.Root),
				MaxDepth: config.Traversal.MaxDepth,
				Sync:     sync,
			})
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "levels to descend, 0 for unlimited")
	cmd.Flags().BoolVar(&sync, "sync", false, "walk the tree in one goroutine instead of list jobs")
	workers.bind(cmd)
	return cmd
}

func newDownloadCmd(global *globalOptions) *cobra.Command {
	var (
		depth   int
		dest    string
		moveTo  string
		workers workerFlags
	)
	cmd := &cobra.Command{
		Use:   "download [path]",
		Short: "Download a remote folder into a local directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := global.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("depth") {
				config.Traversal.MaxDepth = depth
			}
			if dest != "" {
				config.Traversal.Destination = dest
			}
			if moveTo != "" {
				config.Traversal.MoveTo = moveTo
			}
			workers.apply(config)

			a, closeApp, err := openApp(config)
			if err != nil {
				return err
			}
			defer closeApp()

			return a.Download(cmd.Context(), app.DownloadOptions{
				Path:        remotePath(args, config.Traversal.Root),
				MaxDepth:    config.Traversal.MaxDepth,
				Destination: config.Traversal.Destination,
				MoveTo:      config.Traversal.MoveTo,
			})
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "levels to descend, 0 for unlimited")
	cmd.Flags().StringVarP(&dest, "dest", "o", "", "local directory receiving the files")
	cmd.Flags().StringVar(&moveTo, "move-to", "", "move every finished file below this directory")
	workers.bind(cmd)
	return cmd
}
