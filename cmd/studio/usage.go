package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/danilop/ai-doc-read-studio/internal/db"
	"github.com/danilop/ai-doc-read-studio/internal/usage"
)

func newUsageCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show token usage from the ledger",
		Long:  "Prints token totals across all sessions, or the per-model and per-agent breakdown of one session with --session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsage(cmd, configPath, sessionID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to studio config file")
	cmd.Flags().StringVar(&sessionID, "session", "", "show one session instead of the totals")
	return cmd
}

func runUsage(cmd *cobra.Command, configPath, sessionID string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	ledger, err := usage.New(usage.Opts{DB: gormDB})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if sessionID != "" {
		sum, err := ledger.SessionSummary(ctx, sessionID)
		if err != nil {
			return err
		}
		printSessionUsage(out, sum)
		return nil
	}
	total, err := ledger.TotalSummary(ctx)
	if err != nil {
		return err
	}
	printTotalUsage(out, total)
	return nil
}

func printSessionUsage(out io.Writer, sum usage.SessionSummary) {
	fmt.Fprintf(out, "Session %s\n", sum.SessionID)
	fmt.Fprintf(out, "  Tokens:      %s (%s in, %s out)\n",
		humanize.Comma(sum.TotalTokens), humanize.Comma(sum.TotalInputTokens), humanize.Comma(sum.TotalOutputTokens))
	fmt.Fprintf(out, "  Invocations: %d (%d failed attempts)\n", sum.TotalInvocations, sum.FailedAttempts)
	printBreakdown(out, "By model", sum.ModelBreakdown)
	printBreakdown(out, "By agent", sum.AgentBreakdown)
}

func printTotalUsage(out io.Writer, total usage.TotalSummary) {
	fmt.Fprintf(out, "Sessions:    %d\n", total.TotalSessions)
	fmt.Fprintf(out, "Tokens:      %s (%s in, %s out)\n",
		humanize.Comma(total.TotalTokens), humanize.Comma(total.TotalInputTokens), humanize.Comma(total.TotalOutputTokens))
	fmt.Fprintf(out, "Invocations: %d (%d failed attempts)\n", total.TotalInvocations, total.FailedAttempts)
	fmt.Fprintf(out, "Average:     %s per session, %s per invocation\n",
		humanize.Comma(total.AverageTokensPerSession), humanize.Comma(total.AverageTokensPerInvocation))
	printBreakdown(out, "By model", total.TokensByModel)
}

func printBreakdown(out io.Writer, title string, m map[string]usage.Breakdown) {
	if len(m) == 0 {
		return
	}
	fmt.Fprintf(out, "  %s:\n", title)
	for _, name := range usage.SortedNames(m) {
		b := m[name]
		fmt.Fprintf(out, "    %-24s %10s tokens  %4d calls\n", name, humanize.Comma(b.TotalTokens), b.Invocations)
	}
}
