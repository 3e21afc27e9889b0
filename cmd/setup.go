package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jfmyers9/scrollback/internal/config"
	"github.com/jfmyers9/scrollback/pkg/lastfm"
	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure the Last.fm account to mirror",
	Long: `Configure the Last.fm API key and username used for syncing.

This command will:
1. Prompt for your Last.fm API key and the username to mirror
2. Check both against the Last.fm API
3. Save them to ~/.config/scrollback/config.yaml

Reading public listening history needs no authorization beyond an API key.
You can get one from: https://www.last.fm/api/account/create`,
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("Last.fm Setup")
	fmt.Println("=============")
	fmt.Println()

	if cfg.HasCredentials() {
		fmt.Printf("Found existing configuration.\n")
		fmt.Printf("API Key:  %s\n", cfg.LastFM.APIKey)
		fmt.Printf("Username: %s\n", cfg.LastFM.Username)
		fmt.Print("\nKeep existing settings? [Y/n]: ")
		if confirm(reader, true) {
			return nil
		}
		cfg.LastFM.APIKey = ""
		cfg.LastFM.Username = ""
	}

	if cfg.LastFM.APIKey == "" {
		fmt.Print("Enter your Last.fm API Key: ")
		apiKey, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read API key: %w", err)
		}
		cfg.LastFM.APIKey = strings.TrimSpace(apiKey)
	}

	if cfg.LastFM.Username == "" {
		fmt.Print("Enter the Last.fm username to mirror: ")
		username, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
		cfg.LastFM.Username = strings.TrimSpace(username)
	}

	if err := cfg.RequireCredentials(); err != nil {
		return fmt.Errorf("API key and username are required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	fmt.Println("\nChecking account...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := lastfm.NewClient(lastfm.Config{
		APIKey:     cfg.LastFM.APIKey,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return fmt.Errorf("failed to create Last.fm client: %w", err)
	}

	info, err := client.User().GetInfo(ctx, cfg.LastFM.Username)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", cfg.LastFM.Username, err)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("\n✓ Found %s with %s scrobbles", info.Name, humanize.Comma(info.PlayCount))
	if info.Registered > 0 {
		fmt.Printf(" since %s", time.Unix(info.Registered, 0).Format("2006-01-02"))
	}
	fmt.Println()
	fmt.Printf("✓ Settings saved to %s/config.yaml\n", config.GetConfigDir())
	fmt.Println("\nRun 'scrollback sync' to fetch the history, or 'scrollback install' to keep it synced in the background.")

	return nil
}

// confirm reads a yes/no answer, returning def for an empty line
func confirm(reader *bufio.Reader, def bool) bool {
	response, err := reader.ReadString('\n')
	if err != nil {
		return def
	}
	response = strings.TrimSpace(strings.ToLower(response))
	if response == "" {
		return def
	}
	return response == "y" || response == "yes"
}
