package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/agendasalud/authd/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the effective configuration as YAML.

The output merges the config file, AUTHD_ environment variables and
built-in defaults, exactly as "authd serve" would see them. The token
signing key is redacted.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.SetDefaults()

	if cfg.Token.SigningKey != "" {
		cfg.Token.SigningKey = "<redacted>"
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	cmd.Print(string(data))
	return nil
}
