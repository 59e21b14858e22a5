package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	closechat "github.com/close-chat/closechat-go"
	"github.com/spf13/cobra"
)

var watchChannelID string

func init() {
	watchCmd.Flags().StringVar(&watchChannelID, "channel", "", "Channel to open on start")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail the live event stream",
	Long:  "Open the streaming connection and print messages as they arrive.\nInterrupt with Ctrl-C to disconnect.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		meCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		result, err := client.Auth.Me(meCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}
		var me closechat.User
		if err := result.Decode(&me); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		dispatcher := closechat.NewDispatcher()
		transport := closechat.NewTransport(closechat.TransportConfig{
			BaseURL: client.BaseURL(),
			Token:   tokenFromConfig(),
		}, dispatcher)
		store := closechat.NewStore(client, transport, me)
		session := closechat.NewSession(client, dispatcher, transport, store, nil)
		defer session.Close()

		// Print messages appended to the rendered list as they arrive.
		var mu sync.Mutex
		printed := 0
		store.OnChange(func() {
			mu.Lock()
			defer mu.Unlock()
			msgs := store.Messages()
			if printed > len(msgs) {
				printed = 0 // list was reset by a channel switch
			}
			for _, msg := range msgs[printed:] {
				if msg.Kind == closechat.MessageSystem {
					fmt.Printf("* %s\n", msg.Body)
				} else {
					fmt.Printf("[%s] %s: %s\n", msg.CreatedAt, msg.SenderName, msg.Body)
				}
			}
			printed = len(msgs)
		})

		if err := session.Init(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "stream unavailable, retrying in background: %v\n", err)
		}

		if watchChannelID != "" {
			store.SwitchToChannel(ctx, watchChannelID)
		}

		<-ctx.Done()
		fmt.Println("\nDisconnecting.")
		return nil
	},
}

// tokenFromConfig returns the stored token; getClient has already
// validated its presence.
func tokenFromConfig() string {
	cfg, err := loadConfig()
	if err != nil {
		return ""
	}
	return cfg.Auth.Token
}
