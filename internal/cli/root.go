package cli

import (
	"fmt"
	"os"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"

	"docrag/config"
	"docrag/internal/logging"
)

var (
	cfgFile  string
	cfg      *config.Config
	rootDir  string
	ownerID  string
	logLevel string
	logger   *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "docrag",
	Short: "Multi-tenant document retrieval and question answering",
	Long: `docrag ingests plain-text documents for an owner, indexes them as
embedded chunks, and answers questions from the owner's own documents.

Example usage:
  docrag ingest ./notes --owner alice         # Ingest a directory
  docrag query -q "deployment steps"          # Show the best matching chunks
  docrag ask -q "how do we deploy?"           # Answer from retrieved context`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := applyLogLevel(cfg, logLevel); err != nil {
			return err
		}
		logger = logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

		if ownerID == "" {
			ownerID = os.Getenv("DOCRAG_OWNER")
		}
		if ownerID == "" {
			ownerID = "local"
		}
		return nil
	},
}

// applyLogLevel overrides the configured level and validates the result, so
// an unknown --log-level is rejected rather than silently ignored.
func applyLogLevel(c *config.Config, level string) error {
	if level == "" {
		return nil
	}
	c.Logging.Level = level
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./docrag.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "project directory holding .docrag (default is current directory)")
	rootCmd.PersistentFlags().StringVarP(&ownerID, "owner", "o", "", "owner whose documents are used (default $DOCRAG_OWNER or \"local\")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}
