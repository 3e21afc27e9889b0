package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jfmyers9/scrollback/internal/daemon"
	"github.com/spf13/cobra"
)

// installCmd represents the install command
var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the sync daemon as a launchd agent",
	Long: `Install the scrollback daemon as a launchd agent that runs automatically on login.

This command will:
  - Check that a Last.fm account is configured
  - Generate a launchd plist file for the scrollback daemon
  - Install it to ~/Library/LaunchAgents/
  - Load the agent with launchctl, which starts the first sync

launchd restarts the daemon if it exits with an error.`,
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	binaryPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	binaryPath, err = filepath.EvalSymlinks(binaryPath)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	logPath, err := daemon.GetDefaultLogPath()
	if err != nil {
		return fmt.Errorf("failed to get log path: %w", err)
	}
	if err := os.MkdirAll(logPath, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	plistContent, err := daemon.GeneratePlist(daemon.PlistConfig{
		BinaryPath:       binaryPath,
		LogPath:          logPath,
		WorkingDirectory: home,
	})
	if err != nil {
		return fmt.Errorf("failed to generate plist: %w", err)
	}

	plistPath, err := daemon.GetPlistPath()
	if err != nil {
		return fmt.Errorf("failed to get plist path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(plistPath), 0755); err != nil {
		return fmt.Errorf("failed to create LaunchAgents directory: %w", err)
	}

	if _, err := os.Stat(plistPath); err == nil {
		fmt.Println("Daemon is already installed, replacing it...")
		if err := unloadDaemon(); err != nil {
			fmt.Printf("Warning: failed to unload existing daemon: %v\n", err)
		}
	}

	if err := os.WriteFile(plistPath, []byte(plistContent), 0644); err != nil {
		return fmt.Errorf("failed to write plist file: %w", err)
	}
	fmt.Printf("✓ Installed plist to %s\n", plistPath)

	if err := loadDaemon(plistPath); err != nil {
		return fmt.Errorf("failed to load daemon: %w", err)
	}

	fmt.Println("✓ Daemon loaded, first sync started")
	fmt.Printf("✓ Logs will be written to %s\n", logPath)
	fmt.Printf("\nSyncing %s every %d minutes into %s\n", cfg.LastFM.Username, cfg.SyncInterval, cfg.DataDir)
	fmt.Println("\nCheck progress with:")
	fmt.Println("  scrollback status")
	fmt.Println("\nTo uninstall, run:")
	fmt.Println("  scrollback uninstall")

	return nil
}

// launchdDomain returns the per-user launchd domain, gui/<uid>
func launchdDomain() (string, error) {
	out, err := exec.Command("id", "-u").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get user ID: %w", err)
	}
	return "gui/" + strings.TrimSpace(string(out)), nil
}

// loadDaemon loads the agent using launchctl bootstrap
func loadDaemon(plistPath string) error {
	domain, err := launchdDomain()
	if err != nil {
		return err
	}

	output, err := exec.Command("launchctl", "bootstrap", domain, plistPath).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(output)); msg != "" {
			return fmt.Errorf("launchctl bootstrap failed: %s", msg)
		}
		return fmt.Errorf("failed to run launchctl bootstrap: %w", err)
	}
	return nil
}

// unloadDaemon unloads the agent using launchctl bootout. A service that
// is not loaded only produces a warning.
func unloadDaemon() error {
	domain, err := launchdDomain()
	if err != nil {
		return err
	}

	service := fmt.Sprintf("%s/%s", domain, daemon.LaunchdLabel)
	output, err := exec.Command("launchctl", "bootout", service).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(output)); msg != "" {
			fmt.Printf("Warning: %s\n", msg)
		}
	}
	return nil
}
