package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/pdf2md/internal/app"
	"github.com/adverant/nexus/pdf2md/internal/processor"
)

var translateCmd = &cobra.Command{
	Use:   "translate [text]",
	Short: "Translate text with the configured cleanup model",
	Long: `Translate the given text, or stdin when no argument is given, with the
same provider and prompts used during conversion.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTranslate,
}

func init() {
	translateCmd.Flags().StringP("from", "s", "English", "source language")
	translateCmd.Flags().StringP("to", "t", "", "target language")
	translateCmd.Flags().String("provider", "", "cleanup provider: ollama or openai")
	_ = translateCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(translateCmd)
}

func runTranslate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("provider") {
		cfg.CleanupProvider, _ = cmd.Flags().GetString("provider")
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	var text string
	if len(args) == 1 {
		text = args[0]
	} else {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to translate")
	}

	cleaner, err := app.NewCleaner(cfg)
	if err != nil {
		return err
	}
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")

	out, err := processor.Translate(context.Background(), cleaner, from, to, text)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, out)
	return err
}
