package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xuecangming/drivefetch/internal/infrastructure/remote"
)

func newLogoutCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the remote session and delete the stored cookies",
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

			if err := a.Logout(cmd.Context()); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "logged out\n")
			return nil
		},
	}
}

func newCookiesCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookies",
		Short: "Manage the stored session cookies",
	}

	var fromFile string
	setCmd := &cobra.Command{
		Use:   "set [name=value...]",
		Short: "Store the cookies of a logged-in browser session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cookies, err := parseCookies(args, fromFile)
			if err != nil {
				return err
			}
			config, err := global.loadConfig()
			if err != nil {
				return err
			}
			if err := remote.NewCookieFileAuthenticator(config.Auth.CookieFile).Store(cookies); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "stored %d cookies in %s\n", len(cookies), config.Auth.CookieFile)
			return nil
		},
	}
	setCmd.Flags().StringVarP(&fromFile, "file", "f", "", "read a JSON object of cookie name to value")

	cmd.AddCommand(setCmd)
	return cmd
}

func parseCookies(args []string, fromFile string) (map[string]string, error) {
	cookies := make(map[string]string)
	if fromFile != "" {
		data, err := os.ReadFile(fromFile)
		if err != nil {
			return nil, fmt.Errorf("read cookies: %w", err)
		}
		if err := json.Unmarshal(data, &cookies); err != nil {
			return nil, fmt.Errorf("parse cookies: %w", err)
		}
	}
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid cookie %q, want name=value", arg)
		}
		cookies[name] = value
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("no cookies given")
	}
	return cookies, nil
}
