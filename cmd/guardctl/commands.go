package main

import (
	"fmt"
	"time"

	"github.com/agentuity/go-guard/guard"
	"github.com/agentuity/go-guard/ratelimit"
	"github.com/agentuity/go-guard/tui"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var errNoStore = errors.New("no store available, set --redis-url or GUARD_REDIS_URL")

func connect(cmd *cobra.Command) (*guard.Guard, error) {
	cfg, log, err := setup(cmd)
	if err != nil {
		return nil, err
	}
	g := guard.Connect(cmd.Context(), cfg, log)
	if !g.Enabled() {
		return nil, errNoStore
	}
	return g, nil
}

func newBumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bump <namespace>",
		Short: "Invalidate every cache entry of a namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := connect(cmd)
			if err != nil {
				return err
			}
			version := g.Bump(cmd.Context(), args[0])
			if version == 0 {
				return errors.Newf("failed to bump %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now at %s\n", args[0], tui.Bold(fmt.Sprintf("v%d", version)))
			return nil
		},
	}
}

func newSuspiciousCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suspicious",
		Short: "List the clients with the most recorded offenses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := connect(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			list := g.ListSuspicious(cmd.Context(), limit)
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), tui.Muted("no suspicious clients recorded"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.SuspectTable(list))
			return nil
		},
	}
	cmd.Flags().Int("limit", 25, "number of entries to show")
	return cmd
}

func newLimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limit <bucket> <key>",
		Short: "Count one hit against a rate limit bucket and print the decision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := connect(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt64("limit")
			window, _ := cmd.Flags().GetDuration("window")
			req := ratelimit.Request{Bucket: args[0], Key: args[1], Limit: limit, Window: window}
			res := g.RateLimit(cmd.Context(), req)
			fmt.Fprintln(cmd.OutOrStdout(), tui.ResultTable(req, res))
			if !res.Allowed {
				fmt.Fprintln(cmd.OutOrStdout(), tui.Warning(fmt.Sprintf("rate limited, retry after %ds", res.ResetSeconds())))
			}
			return nil
		},
	}
	cmd.Flags().Int64("limit", 10, "hits allowed per window")
	cmd.Flags().Duration("window", time.Minute, "window length")
	return cmd
}
