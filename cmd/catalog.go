// File: cmd/catalog.go
package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-engine/internal/catalog"
	"github.com/xkilldash9x/pilot-engine/internal/observability"
)

func newCatalogCmd() *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and refresh the model catalog",
	}

	var limit int
	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the model catalog now and store it in the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
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

			snap, err := comps.refresher.Refresh(ctx)
			if err != nil {
				return fmt.Errorf("catalog refresh failed: %w", err)
			}
			logger.Info("Catalog refreshed", zap.Int("models", snap.Len()), zap.Uint64("version", snap.Version()))
			return printCatalog(cmd.OutOrStdout(), snap, limit)
		},
	}
	refreshCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of models to print (0 for all)")

	catalogCmd.AddCommand(refreshCmd)
	return catalogCmd
}

// printCatalog writes a table of the cheapest models first.
func printCatalog(out io.Writer, snap *catalog.Snapshot, limit int) error {
	entries := snap.Entries()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CombinedPrice() < entries[j].CombinedPrice()
	})
	fmt.Fprintf(out, "%d models (version %d, fetched %s)\n", snap.Len(), snap.Version(), snap.FetchedAt().Format("2006-01-02 15:04:05Z07:00"))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tINPUT/M\tOUTPUT/M\tCONTEXT\tCAPABILITIES")
	for i, e := range entries {
		if limit > 0 && i >= limit {
			break
		}
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%d\t%v\n", e.ID, e.PricingInput, e.PricingOutput, e.ContextLength, e.Capabilities.Strings())
	}
	return tw.Flush()
}
