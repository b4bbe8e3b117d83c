package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kkzk/remindmine/internal/advice"
	"github.com/kkzk/remindmine/internal/mcp"
	"github.com/kkzk/remindmine/internal/services"
)

func newReindexCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Bring the vector index in line with the tracker",
		Long: `Fetch every issue from the tracker and reindex the ones that changed.

With --force the collection is dropped and rebuilt from scratch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				n, err := a.reg.Resyncer().Resync(cmd.Context(), force)
				if err != nil {
					return fmt.Errorf("reindex failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "drop and rebuild the collection")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		limit   int
		exclude int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find past issues similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			var excludeID *int
			if cmd.Flags().Changed("exclude") {
				excludeID = &exclude
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				results, _ := a.reg.Retriever().Search(cmd.Context(), strings.Join(args, " "), limit, excludeID)
				return writeJSON(cmd.OutOrStdout(), results)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "maximum results")
	cmd.Flags().IntVar(&exclude, "exclude", 0, "issue id to leave out")
	return cmd
}

func newAdviceCmd(opts *rootOptions) *cobra.Command {
	var store bool
	cmd := &cobra.Command{
		Use:   "advice <issue-id>",
		Short: "Draft advice for an issue",
		Long: `Draft advice for an issue from similar past cases and print it.

With --store the draft is added to the pending ledger for review instead
of only being printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIssueID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				res, err := services.AdviseItem(cmd.Context(), a.reg, id, store)
				if errors.Is(err, advice.ErrNoAdvice) {
					fmt.Fprintln(cmd.ErrOrStderr(), advice.Apology)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Advice)
				if res.PendingID != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "stored as pending advice %s\n", res.PendingID)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&store, "store", false, "add the draft to the pending ledger")
	return cmd
}

func newPendingCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Review drafted advice",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pending advice, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				return writeJSON(cmd.OutOrStdout(), services.PendingAdvice(a.reg))
			})
		},
	}

	approveCmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Post pending advice to its issue and remove it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				e, err := a.reg.Reviewer().Approve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "posted advice to issue #%d\n", e.IssueID)
				return nil
			})
		},
	}

	rejectCmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Discard pending advice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				e, err := a.reg.Reviewer().Reject(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rejected advice for issue #%d\n", e.IssueID)
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard all pending advice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				n, err := a.reg.Ledger().ClearAll()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d pending entries\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd, approveCmd, rejectCmd, clearCmd)
	return cmd
}

func newSummaryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <issue-id>",
		Short: "Summarize an issue and its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIssueID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(a *app) error {
				item, err := a.reg.Source().GetItem(cmd.Context(), id)
				if err != nil {
					return err
				}
				e, err := a.reg.Summarizer().Summarize(cmd.Context(), *item)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), e.Summary)
				return nil
			})
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index and advice pipeline statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				stats, err := services.CollectStats(cmd.Context(), a.reg)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				srv, err := mcp.NewServer(&mcp.Config{
					Name:    "remindmine",
					Version: version,
					Logger:  a.log.Underlying().Named("mcp"),
					Meter:   a.tel.Meter(meterName),
				}, a.reg)
				if err != nil {
					return err
				}
				return srv.Run(cmd.Context())
			})
		},
	}
}

func parseIssueID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid issue id %q", s)
	}
	return id, nil
}
