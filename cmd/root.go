package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/atomicobject/vaultweaver/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "vaultweaver",
	Short:   "vaultweaver - a knowledge-graph enrichment engine for Markdown vaults",
	Version: "v0.1.0",
	Long: "vaultweaver watches a Markdown vault, maintains a queryable shadow cache\n" +
		"of its notes, and runs rules that enrich notes (tagging, linking, daily\n" +
		"rollovers, meeting extraction) via an LLM, under operator-visible\n" +
		"observability and a durable workflow runtime.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to vaultweaver.yaml")
}

// loadConfig resolves configuration honoring the command's own flags, so
// `vaultweaver serve --vault.path ...`-style overrides bind correctly.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	return config.Load(cfgFile, flags)
}
