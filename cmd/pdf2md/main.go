// Command pdf2md converts PDF documents to Markdown from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/pdf2md/internal/config"
	"github.com/adverant/nexus/pdf2md/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "pdf2md",
	Short: "Convert PDF documents to Markdown",
	Long: `pdf2md rasterizes each page, detects layout regions, orders them with a
reading-order model and transcribes every region with OCR and LLM cleanup.

Configuration comes from the environment (and a .env file when present);
flags override it for a single run.`,
	SilenceUsage: true,
}

var logLevel string

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// loadConfig reads the environment configuration and applies the
// persistent flags.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logging.SetLevel(cfg.LogLevel)
	// keep stdout clean for piped output
	logging.SetOutput(os.Stderr)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
