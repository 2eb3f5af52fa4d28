package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for authd.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's built-in SetConfigName
// would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("authd")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: AUTHD_TOKEN_SIGNING_KEY
	viper.SetEnvPrefix("AUTHD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an authd config file with
// an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".authd"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "authd"))
		}
	} else {
		paths = append(paths, "/etc/authd")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for authd.yaml or
// .yml. Returns the full path of the first match, or empty string.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "authd"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable
// support. Example: AUTHD_SERVER_HTTP_ADDR overrides server.http_addr.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.shutdown_timeout")

	_ = viper.BindEnv("database.path")

	_ = viper.BindEnv("token.signing_key")
	_ = viper.BindEnv("token.issuer")
	_ = viper.BindEnv("token.audience")
	_ = viper.BindEnv("token.lifetime")

	_ = viper.BindEnv("security.max_failed_attempts")
	_ = viper.BindEnv("security.lockout_duration")
	_ = viper.BindEnv("security.case_insensitive_emails")

	_ = viper.BindEnv("password_reset.token_lifetime")
	_ = viper.BindEnv("password_reset.min_password_length")

	_ = viper.BindEnv("audit.channel_size")
	_ = viper.BindEnv("audit.batch_size")
	_ = viper.BindEnv("audit.flush_interval")
	_ = viper.BindEnv("audit.send_timeout")

	_ = viper.BindEnv("dev_mode")
}

// ConfigFileUsed returns the config file Viper loaded, if any.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
