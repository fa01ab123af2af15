package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/kalambet/askdoc/internal/proxy"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models available to the configured engine and provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		eng, err := newEngine(cfg)
		if err != nil {
			return err
		}
		names, err := eng.ListModels(ctx)
		if err != nil {
			return fmt.Errorf("listing %s models: %w", cfg.Engine.Backend, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", cfg.Engine.Backend)
		printModels(cmd.OutOrStdout(), names, cfg.ChatModel(), cfg.EmbedModel())

		if cfg.Completion.Provider != "openrouter" {
			return nil
		}
		if cfg.Proxy.OpenRouterAPIKey == "" {
			printWarning("openrouter: no API key configured")
			return nil
		}
		remote, err := proxy.NewClient(cfg.Proxy.OpenRouterAPIKey).ListModels(ctx)
		if err != nil {
			return fmt.Errorf("listing openrouter models: %w", err)
		}
		ids := make([]string, len(remote))
		for i, m := range remote {
			ids[i] = m.ID
		}
		fmt.Fprintln(cmd.OutOrStdout(), "\nopenrouter:")
		printModels(cmd.OutOrStdout(), ids, cfg.Proxy.DefaultModel)
		return nil
	},
}

// printModels lists names sorted, starring the ones in use.
func printModels(w io.Writer, names []string, inUse ...string) {
	if len(names) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	sorted := slices.Sorted(slices.Values(names))
	for _, n := range sorted {
		mark := " "
		if slices.Contains(inUse, n) {
			mark = colorize(colorGreen, "*")
		}
		fmt.Fprintf(w, "%s %s\n", mark, n)
	}
}
