package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memohai/onebot/internal/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "onebot",
		Short:         "OneBot v11 direct message bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the TOML config file")

	cmd.AddCommand(
		serveCmd(&configPath),
		pairingCmd(&configPath),
		accountsCmd(&configPath),
		tokenCmd(&configPath),
	)
	return cmd
}

// defaultConfigPath honors CONFIG_PATH before the built-in default.
func defaultConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return config.DefaultConfigPath
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
