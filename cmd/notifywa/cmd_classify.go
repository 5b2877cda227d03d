package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(classifyCmd)
}

var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Classify a message and print the reply the bot would send",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		ctx := context.Background()
		responder, rtr, err := buildResponder(ctx, cfg)
		if err != nil {
			return err
		}
		answer, err := responder.Reply(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}

		label := answer.Label
		if label == "" {
			label = "(none, all models exhausted)"
		}
		fmt.Println("intent:", label)
		fmt.Println("reply: ", answer.Reply)
		for _, q := range rtr.Snapshot() {
			fmt.Printf("model %s: remaining_requests=%d remaining_tokens=%d\n",
				q.Model, q.RemainingRequests, q.RemainingTokens)
		}
		return nil
	},
}
