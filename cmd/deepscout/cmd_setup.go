package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/deepscout/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Deepscout Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.BaseURL = prompt(scanner, "OpenAI base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = prompt(scanner, "OpenAI API key", cfg.LLM.APIKey)
		cfg.LLM.ChatModel = prompt(scanner, "Chat model", cfg.LLM.ChatModel)
		cfg.LLM.ResearchModel = prompt(scanner, "Research model", cfg.LLM.ResearchModel)

		timeoutStr := prompt(scanner, "Research timeout (minutes, 0 = none)", strconv.Itoa(cfg.Research.TimeoutMinutes))
		if n, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.Research.TimeoutMinutes = n
		}

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		cfg.HTTP.Listen = prompt(scanner, "HTTP API listen address (empty disables)", cfg.HTTP.Listen)
		if cfg.HTTP.Listen != "" {
			cfg.HTTP.Token = prompt(scanner, "HTTP API bearer token (optional)", cfg.HTTP.Token)
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		fmt.Println("Start the daemon with: deepscout serve")
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
