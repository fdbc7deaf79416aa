package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <doc-id>",
	Short: "Remove a document and all of its chunks",
	Long: `Remove every chunk of the owner's document from the index, along with its
document record. Documents of other owners are never touched.

Examples:
  docrag delete handbook --owner alice`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.indexer.Delete(cmd.Context(), args[0], ownerID)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	if !removed {
		fmt.Printf("No chunks found for document %s (owner %s)\n", args[0], ownerID)
		return nil
	}
	fmt.Printf("Deleted document %s\n", args[0])
	return nil
}
