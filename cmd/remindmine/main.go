// Command remindmine mirrors tracker issues into a vector index and drafts
// advice for new issues from similar past cases.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kkzk/remindmine/internal/config"
	"github.com/kkzk/remindmine/internal/services"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&rootOptions{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// rootOptions carries persistent flags and test hooks.
type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string

	// providers replace the configured backends when set.
	providers services.Providers
	// configure adjusts the loaded configuration before use.
	configure func(*config.Config)
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "remindmine",
		Short: "Issue-tracker RAG indexer and advice assistant",
		Long: `remindmine keeps a vector index of tracker issues up to date and drafts
advice for newly created issues from similar past cases.

Drafted advice is held in a pending ledger until an operator approves it,
at which point it is posted to the issue as a comment.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file (default .env)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newServeCmd(opts),
		newReindexCmd(opts),
		newSearchCmd(opts),
		newAdviceCmd(opts),
		newPendingCmd(opts),
		newSummaryCmd(opts),
		newStatsCmd(opts),
		newMCPCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "remindmine\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
