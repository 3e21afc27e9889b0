package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/jfmyers9/scrollback/internal/progress"
	"github.com/jfmyers9/scrollback/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the local history of a user",
	Long: `Delete every stored scrobble and the sync progress of a user.

The next sync starts a full fetch from scratch. Stop the daemon first if
one is running.`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	user, err := targetUser(cfg)
	if err != nil {
		return err
	}

	if !resetYes {
		fmt.Printf("Delete all stored scrobbles of %s? [y/N]: ", user)
		if !confirm(bufio.NewReader(os.Stdin), false) {
			fmt.Println("Aborted")
			return nil
		}
	}

	st, err := store.New(cfg.ShardDir(), zerolog.Nop())
	if err != nil {
		return fmt.Errorf("failed to open scrobble store: %w", err)
	}
	if err := st.DeleteUser(user); err != nil {
		return err
	}

	prog, err := progress.Open(cfg.ProgressDBPath())
	if err != nil {
		return fmt.Errorf("failed to open progress database: %w", err)
	}
	defer prog.Close()

	if err := prog.Reset(context.Background(), user); err != nil {
		return fmt.Errorf("failed to reset progress: %w", err)
	}

	fmt.Printf("✓ Deleted local history of %s\n", user)
	return nil
}
