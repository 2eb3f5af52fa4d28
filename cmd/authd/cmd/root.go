// Package cmd provides the CLI commands for authd.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agendasalud/authd/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "authd",
	Short: "authd - identity and session authority",
	Long: `authd is the identity and session authority for AgendaSalud.

It owns account registration, password and external-provider login, bearer
token issuance and validation, the account lockout state machine, and the
password reset lifecycle. All account state lives in a local SQLite database.

Quick start:
  1. Create a config file: authd.yaml (token.signing_key is required)
  2. Run: authd serve

Configuration:
  Config is loaded from authd.yaml in the current directory,
  $HOME/.authd/, or /etc/authd/.

  Environment variables can override config values with the AUTHD_ prefix.
  Example: AUTHD_SERVER_HTTP_ADDR=:9090

Commands:
  serve          Start the HTTP API server
  hash-password  Generate an argon2id digest for a password
  config         Print the effective configuration as YAML
  version        Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./authd.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
