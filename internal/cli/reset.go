package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every chunk and document record in the bolt index",
	RunE:  runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.bolt == nil {
		return fmt.Errorf("reset requires the bolt backend")
	}
	if err := a.bolt.Clear(); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	fmt.Println("Index cleared.")
	return nil
}
