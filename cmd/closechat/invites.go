package main

import (
	"context"
	"fmt"
	"time"

	closechat "github.com/close-chat/closechat-go"
	"github.com/spf13/cobra"
)

func init() {
	invitesCmd.AddCommand(invitesCreateCmd)
	invitesCmd.AddCommand(invitesListCmd)
	invitesCmd.AddCommand(invitesRevokeCmd)
	rootCmd.AddCommand(invitesCmd)
}

var invitesCmd = &cobra.Command{
	Use:   "invites",
	Short: "Manage channel invitations",
}

var invitesCreateCmd = &cobra.Command{
	Use:   "create <channel-id>",
	Short: "Create an invitation for a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result, err := client.Invites.Create(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		var invite closechat.Invite
		if err := result.Decode(&invite); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		fmt.Printf("Invite created: %s\n", invite.Code)
		return nil
	},
}

var invitesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending invitations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result, err := client.Invites.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		var invites []closechat.Invite
		if err := result.Decode(&invites); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if len(invites) == 0 {
			fmt.Println("No invites found.")
			return nil
		}

		for _, inv := range invites {
			fmt.Printf("  %s: channel %s (code %s)\n", inv.ID, inv.ChannelID, inv.Code)
		}
		return nil
	},
}

var invitesRevokeCmd = &cobra.Command{
	Use:   "revoke <invite-id>",
	Short: "Revoke an invitation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result, err := client.Invites.Revoke(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		fmt.Printf("Invite %s revoked.\n", args[0])
		return nil
	},
}
