package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xuecangming/drivefetch/internal/app"
	"github.com/xuecangming/drivefetch/internal/common/types"
	"github.com/xuecangming/drivefetch/internal/common/utils"
	"github.com/xuecangming/drivefetch/internal/core/logger"
)

type globalOptions struct {
	configPath string
	cookieFile string
	logLevel   string
	quiet      bool
	statusAddr string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "drivefetch",
		Short:         "Mirror a cloud drive account to local disk",
		Long:          "drivefetch lists remote folders and downloads their files through persistent, resumable job queues.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default $"+utils.ConfigEnv+" or configs/config.yaml)")
	flags.StringVar(&opts.cookieFile, "cookie-file", "", "file holding the session cookies")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "only log warnings and errors")
	flags.StringVar(&opts.statusAddr, "status-addr", "", "serve job and result status on this address while running")

	rootCmd.AddCommand(
		newListCmd(opts),
		newDownloadCmd(opts),
		newLogoutCmd(opts),
		newCookiesCmd(opts),
		newResultsCmd(opts),
	)
	return rootCmd
}

// loadConfig reads the config file and applies the global flags
func (o *globalOptions) loadConfig() (*types.Config, error) {
	config, err := utils.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.cookieFile != "" {
		config.Auth.CookieFile = o.cookieFile
	}
	if o.logLevel != "" {
		config.Logging.Level = o.logLevel
	}
	if o.quiet {
		config.Logging.Quiet = true
	}
	if o.statusAddr != "" {
		config.Status.Addr = o.statusAddr
	}
	return config, nil
}

// openApp builds the application from config. The returned function releases it.
func openApp(config *types.Config) (*app.App, func(), error) {
	log, logCloser, err := logger.NewFromConfig(config.Logging)
	if err != nil {
		return nil, nil, err
	}
	logger.SetGlobalLogger(log)

	a, err := app.New(config, log)
	if err != nil {
		logCloser.Close()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			log.Warn("Failed to close stores", logger.Error(err))
		}
		logCloser.Close()
	}, nil
}

func remotePath(args []string, fallback string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if fallback == "" {
		return "/"
	}
	return fallback
}

func printf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format, args...)
}
