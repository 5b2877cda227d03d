package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ardian231/notify-wa/internal/config"
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

		fmt.Println("notifywa setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.BaseURL = prompt(scanner, "LLM base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = prompt(scanner, "LLM API key (leave empty to use SSM)", cfg.LLM.APIKey)
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKeyParam = prompt(scanner, "SSM parameter holding the API key", cfg.LLM.APIKeyParam)
		}
		models := prompt(scanner, "Models, in fallback order (comma separated)", strings.Join(cfg.LLM.Models, ","))
		cfg.LLM.Models = splitList(models)

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token", cfg.Telegram.Token)

		cfg.Ledger.Backend = prompt(scanner, "Ledger backend (file or dynamodb)", cfg.Ledger.Backend)
		if cfg.Ledger.Backend == "dynamodb" {
			cfg.Ledger.DynamoDBTable = prompt(scanner, "DynamoDB table", cfg.Ledger.DynamoDBTable)
			cfg.AWS.Region = prompt(scanner, "AWS region", cfg.AWS.Region)
		}

		attempts := prompt(scanner, "Delivery attempts per message", strconv.Itoa(cfg.Delivery.MaxAttempts))
		if n, err := strconv.Atoi(attempts); err == nil && n > 0 {
			cfg.Delivery.MaxAttempts = n
		}
		cfg.HTTP.Listen = prompt(scanner, "HTTP listen address", cfg.HTTP.Listen)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}
