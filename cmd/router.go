// File: cmd/router.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-engine/internal/observability"
	"github.com/xkilldash9x/pilot-engine/internal/router"
)

func newRouterCmd() *cobra.Command {
	routerCmd := &cobra.Command{
		Use:   "router",
		Short: "Compare and update per-task model routing",
	}

	var asJSON bool
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Show what the router would pick for each task class without saving",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRouter(cmd.Context(), cmd.OutOrStdout(), asJSON, func(ctx context.Context, o *router.Optimizer) ([]router.Recommendation, error) {
				return o.Check(ctx)
			})
		},
	}
	optimizeCmd := &cobra.Command{
		Use:   "optimize",
		Short: "Apply the router's picks to task classes with auto-update enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRouter(cmd.Context(), cmd.OutOrStdout(), asJSON, func(ctx context.Context, o *router.Optimizer) ([]router.Recommendation, error) {
				return o.Optimize(ctx)
			})
		},
	}
	routerCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print recommendations as JSON")

	routerCmd.AddCommand(checkCmd, optimizeCmd)
	return routerCmd
}

func runRouter(ctx context.Context, out io.Writer, asJSON bool, op func(context.Context, *router.Optimizer) ([]router.Recommendation, error)) error {
	cfg, err := configFromContext(ctx)
	if err != nil {
		return err
	}
	logger := observability.GetLogger()
	comps, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Shutdown()

	if err := comps.ensureCatalog(ctx); err != nil {
		return err
	}
	recs, err := op(ctx, comps.optimizer)
	if err != nil {
		return err
	}
	logger.Debug("Router recommendations computed", zap.Int("task_classes", len(recs)))

	if asJSON {
		data, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode recommendations: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	return printRecommendations(out, recs)
}

func printRecommendations(out io.Writer, recs []router.Recommendation) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tCURRENT\tRECOMMENDED\tFALLBACK\tSAVINGS\tUPDATED\tREASON")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			r.TaskType, orDash(r.CurrentPrimary), orDash(r.RecommendedPrimary), orDash(r.RecommendedFallback),
			orDash(r.Savings), r.Updated, r.Reason)
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
