package main

import (
	"fmt"
	"os"

	closechat "github.com/close-chat/closechat-go"
)

// getClient creates a client authenticated with the stored token.
func getClient() *closechat.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Server.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "No server configured. Run 'closechat config set server.base_url <url>' first.")
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'closechat login <username>' first.")
		os.Exit(1)
	}
	return closechat.NewClient(cfg.Server.BaseURL, cfg.Auth.Token)
}

// getAnonClient creates an unauthenticated client, for login and signup.
func getAnonClient() (*closechat.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Server.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "No server configured. Run 'closechat config set server.base_url <url>' first.")
		os.Exit(1)
	}
	return closechat.NewClient(cfg.Server.BaseURL, ""), cfg
}

// apiError formats a server-reported error for display.
func apiError(result *closechat.Result) error {
	if result.Error != nil {
		return fmt.Errorf("API error: %s: %s", result.Error.Code, result.Error.Message)
	}
	return fmt.Errorf("API returned an error (no details)")
}
