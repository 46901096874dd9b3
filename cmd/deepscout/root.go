package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/user/deepscout/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "deepscout",
	Short: "Self-hosted deep research assistant",
	Long: `Deepscout chats with you to shape a research brief, then hands the brief
to a background deep-research job and delivers the report when it lands.
Run "deepscout serve" for the daemon (Telegram, HTTP API, scheduled tasks)
or "deepscout chat" for an in-terminal session.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config",
		filepath.Join(os.Getenv("HOME"), ".deepscout", "config.json"),
		"config file path")
}

// loadConfig loads the config file, exiting on failure. A .env in the working
// directory is applied first so its values reach the config's env overrides.
func loadConfig() *config.Config {
	_ = godotenv.Load()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
