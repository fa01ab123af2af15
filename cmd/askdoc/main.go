package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "askdoc",
	Short: "Ask questions about a document with a local or hosted model",
	Long: `askdoc splits a document into chunks, embeds them, and answers questions
using only the most relevant excerpts plus the running chat history.

Examples:
  askdoc chat ./contratto.pdf
  askdoc ask ./regolamento.md "Quante unità ha il condominio?"
  askdoc serve --mcp`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if _, ok := os.LookupEnv("NO_COLOR"); ok {
			noColor = true
		}
		setupLogging(slog.LevelWarn)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chunkCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(configCmd)
}

// setupLogging installs a text slog handler on stderr. --verbose forces
// debug; otherwise level is the floor.
func setupLogging(level slog.Level) {
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	// A .env in the working directory may carry ASKDOC_* settings.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		fmt.Fprintln(os.Stderr, "run 'askdoc --help' for usage")
		os.Exit(1)
	}
}
