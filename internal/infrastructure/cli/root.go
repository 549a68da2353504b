// Package cli assembles the cobra command tree.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/insightx/insightx/internal/log"
)

// Options tweak command construction.
type Options struct {
	Verbose bool
}

// NewRootCmd builds the root command with all subcommands attached.
func NewRootCmd(ctx context.Context, opts Options) (*cobra.Command, error) {
	level := ""
	if opts.Verbose {
		level = "debug"
	}
	log.Configure(log.Config{Level: level})

	root := &cobra.Command{
		Use:           "insightx",
		Short:         "Conversational analysis over uploaded datasets",
		Long:          "InsightX answers natural-language questions about uploaded CSV datasets\nby routing each question through query and analysis sandboxes.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newAskCommand())
	root.AddCommand(newKeysCommand())
	root.AddCommand(newVersionCommand())
	return root, nil
}
