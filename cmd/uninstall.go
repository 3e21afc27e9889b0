package cmd

import (
	"fmt"
	"os"

	"github.com/jfmyers9/scrollback/internal/daemon"
	"github.com/spf13/cobra"
)

// uninstallCmd represents the uninstall command
var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the sync daemon from launchd",
	Long: `Stop the scrollback daemon and remove its launchd agent.

Stored scrobbles and sync progress are kept; use 'scrollback reset' to
delete them. A full fetch interrupted by uninstalling resumes on the
next sync.`,
	RunE: runUninstall,
}

func init() {
	rootCmd.AddCommand(uninstallCmd)
}

func runUninstall(cmd *cobra.Command, args []string) error {
	plistPath, err := daemon.GetPlistPath()
	if err != nil {
		return fmt.Errorf("failed to get plist path: %w", err)
	}

	if _, err := os.Stat(plistPath); os.IsNotExist(err) {
		fmt.Println("Daemon is not installed (plist not found)")
		return nil
	}

	fmt.Println("Stopping daemon...")
	if err := unloadDaemon(); err != nil {
		fmt.Printf("Warning: failed to unload daemon: %v\n", err)
		fmt.Println("Continuing with plist removal...")
	} else {
		fmt.Println("✓ Daemon stopped")
	}

	if err := os.Remove(plistPath); err != nil {
		return fmt.Errorf("failed to remove plist file: %w", err)
	}

	fmt.Printf("✓ Removed plist from %s\n", plistPath)
	fmt.Println("\nTo reinstall, run:")
	fmt.Println("  scrollback install")

	return nil
}
