package main

import (
	"context"
	"fmt"
	"time"

	closechat "github.com/close-chat/closechat-go"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Maximum number of messages to return")
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(historyCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <channel-id> <message>",
	Short: "Send a message to a channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		channelID, message := args[0], args[1]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Messages.Send(ctx, channelID, message)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		fmt.Printf("Message sent to %s.\n", channelID)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <channel-id>",
	Short: "Show recent messages in a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Messages.History(ctx, args[0], historyLimit)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		var messages []closechat.Message
		if err := result.Decode(&messages); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if len(messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		// The server returns most-recent-first; print oldest first.
		for i := len(messages) - 1; i >= 0; i-- {
			msg := messages[i]
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt, msg.SenderName, msg.Body)
		}
		return nil
	},
}
