package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// InitViperConfig locates and reads the configuration file for cmd and binds
// cmdName-prefixed environment variables into vip so a later Unmarshal sees
// them all.
func InitViperConfig(cmdName string, cmd *cobra.Command, vip *viper.Viper) error {
	setConfigSources(cmdName, cmd, vip)

	if err := vip.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("invalid configuration file: %w", err)
		}
		slog.Info("No configuration file found, using defaults, environment variables and flags")
	} else {
		slog.Info("Using configuration file", "file", vip.ConfigFileUsed())
	}

	return bindEnv(cmdName, vip)
}

// setConfigSources points vip at the --config flag value when given, or at
// the conventional lookup directories otherwise.
func setConfigSources(cmdName string, cmd *cobra.Command, vip *viper.Viper) {
	if path, err := cmd.Flags().GetString("config"); err == nil && path != "" {
		vip.SetConfigFile(path)
		return
	}

	vip.SetConfigName(cmdName)
	vip.AddConfigPath(".")
	vip.AddConfigPath("/etc/" + cmdName)
	vip.AddConfigPath("/usr/local/etc/" + cmdName)
	if exe, err := os.Executable(); err != nil {
		slog.Warn("Could not resolve the executable directory for config lookup", "err", err)
	} else {
		vip.AddConfigPath(filepath.Dir(exe))
	}
}

// bindEnv binds every environment variable carrying the command prefix.
// viper.Unmarshal only sees keys that were explicitly bound, AutomaticEnv
// alone is not enough (https://github.com/spf13/viper/pull/1429).
func bindEnv(cmdName string, vip *viper.Viper) error {
	vip.SetEnvPrefix(cmdName)
	vip.AutomaticEnv()

	prefix := strings.ToUpper(strings.ReplaceAll(cmdName, "-", "_")) + "_"
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}

		name, _, _ := strings.Cut(kv, "=")
		key := strings.ReplaceAll(strings.TrimPrefix(name, prefix), "_", ".")
		if err := vip.BindEnv(key, name); err != nil {
			return fmt.Errorf("could not bind environment variable %s: %w", name, err)
		}
	}

	return nil
}

// InstallConfigFlag adds the config flag to the command.
func InstallConfigFlag(cmd *cobra.Command) *string {
	return cmd.PersistentFlags().String("config", "", "use a specific configuration file")
}
