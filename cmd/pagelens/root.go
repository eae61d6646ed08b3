package pagelens

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pagelens/pagelens/pkg/config"
	"github.com/pagelens/pagelens/pkg/log"
)

var (
	cfgFile string
	cfg     *config.Config
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "pagelens",
	Short: "PageLens - searchable PDF page index",
	Long: `PageLens ingests PDF documents page by page: it renders each page,
extracts text with OCR, detects figures and tables, and indexes both
for hybrid keyword and semantic search. A chat agent answers questions
grounded in the indexed pages.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		log.SetLevelFromString(os.Getenv("LOG_LEVEL"))

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return cfg.EnsureDirs()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version reported by the CLI.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pagelens version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path (default: ./pagelens.toml or ~/.pagelens/pagelens.toml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
}
