package main

import (
	"context"
	"fmt"
	"time"

	closechat "github.com/close-chat/closechat-go"
	"github.com/spf13/cobra"
)

var (
	channelsCreateKind string

	usersSearchQuery string
)

func init() {
	channelsCreateCmd.Flags().StringVar(&channelsCreateKind, "kind", "group", "Channel kind: group or direct")
	usersCmd.Flags().StringVar(&usersSearchQuery, "search", "", "Filter users by a search query")

	channelsCmd.AddCommand(channelsListCmd)
	channelsCmd.AddCommand(channelsCreateCmd)
	channelsCmd.AddCommand(channelsJoinCmd)
	channelsCmd.AddCommand(channelsLeaveCmd)
	channelsCmd.AddCommand(channelsMembersCmd)

	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(usersCmd)
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Manage channels",
	Long:  "List, create, join, and leave Close Chat channels.",
}

var channelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Channels.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		var channels []closechat.Channel
		if err := result.Decode(&channels); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if len(channels) == 0 {
			fmt.Println("No channels found.")
			return nil
		}

		for _, ch := range channels {
			unread := ""
			if ch.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", ch.UnreadCount)
			}
			fmt.Printf("  %s: %s [%s]%s\n", ch.ID, ch.DisplayName, ch.Kind, unread)
		}
		return nil
	},
}

var channelsCreateCmd = &cobra.Command{
	Use:   "create <display-name>",
	Short: "Create a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Channels.Create(ctx, args[0], closechat.ChannelKind(channelsCreateKind))
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		var ch closechat.Channel
		if err := result.Decode(&ch); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		fmt.Printf("Channel created: %s (%s)\n", ch.DisplayName, ch.ID)
		return nil
	},
}

var channelsJoinCmd = &cobra.Command{
	Use:   "join <channel-id>",
	Short: "Join a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result, err := client.Channels.Join(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		fmt.Printf("Joined channel %s.\n", args[0])
		return nil
	},
}

var channelsLeaveCmd = &cobra.Command{
	Use:   "leave <channel-id>",
	Short: "Leave a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result, err := client.Channels.Leave(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		fmt.Printf("Left channel %s.\n", args[0])
		return nil
	},
}

var channelsMembersCmd = &cobra.Command{
	Use:   "members <channel-id>",
	Short: "List channel members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Members.List(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		var members []closechat.Membership
		if err := result.Decode(&members); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if len(members) == 0 {
			fmt.Println("No members found.")
			return nil
		}

		for _, m := range members {
			fmt.Printf("  %s (%s)\n", m.UserID, m.Role)
		}
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var result *closechat.Result
		var err error
		if usersSearchQuery != "" {
			result, err = client.Users.Search(ctx, usersSearchQuery)
		} else {
			result, err = client.Users.List(ctx)
		}
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		var users []closechat.User
		if err := result.Decode(&users); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}

		for _, u := range users {
			bot := ""
			if u.IsBot {
				bot = " [bot]"
			}
			fmt.Printf("  %s (%s) - %s%s\n", u.Username, u.DisplayName, u.Status, bot)
		}
		return nil
	},
}
