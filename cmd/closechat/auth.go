package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	closechat "github.com/close-chat/closechat-go"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginSignup bool

func init() {
	loginCmd.Flags().BoolVar(&loginSignup, "signup", false, "Create a new account instead of logging in")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and store the session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := args[0]
		client, cfg := getAnonClient()

		fmt.Fprint(os.Stderr, "Password: ")
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("cannot read password: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		creds := &closechat.Credentials{Username: username, Password: string(password)}
		var result *closechat.Result
		if loginSignup {
			result, err = client.Auth.Signup(ctx, creds)
		} else {
			result, err = client.Auth.Login(ctx, creds)
		}
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if !result.OK {
			return apiError(result)
		}

		var auth closechat.AuthData
		if err := result.Decode(&auth); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		cfg.Auth.Token = auth.Token
		cfg.Auth.UserID = auth.User.ID
		cfg.Auth.Username = auth.User.Username
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Logged in as %s.\n", auth.User.Username)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the authenticated user",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result, err := client.Auth.Me(ctx)
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

		fmt.Printf("Username:     %s\n", me.Username)
		fmt.Printf("Display Name: %s\n", me.DisplayName)
		fmt.Printf("User ID:      %s\n", me.ID)
		fmt.Printf("Status:       %s\n", me.Status)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}
