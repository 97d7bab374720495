package cache

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittopam/cmd/dpam/cmdutil"
	"github.com/marmos91/dittopam/internal/cli/output"
	"github.com/marmos91/dittopam/pkg/apiclient"
)

var resetForce bool

var resetNegativeCmd = &cobra.Command{
	Use:   "reset-negative",
	Short: "Forget every negative lookup",
	Long: `Drop the negative cache so that users recently reported unknown are
looked up again. Filtered users stay filtered.`,
	RunE: runResetNegative,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show in-memory cache statistics",
	RunE:  runStats,
}

func init() {
	resetNegativeCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
}

func runResetNegative(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}
	return cmdutil.RunWithConfirmation("Reset the negative cache", resetForce, func() error {
		ctx, cancel := requestContext()
		defer cancel()
		if err := client.ResetNegativeCache(ctx); err != nil {
			return fmt.Errorf("failed to reset negative cache: %w", err)
		}
		cmdutil.PrintSuccess("Negative cache reset")
		return nil
	})
}

// statsTable renders cache statistics one row per table.
func statsTable(s *apiclient.CacheStats) *output.TableData {
	table := output.NewTableData("CACHE", "ENTRIES", "HITS", "MISSES", "HIT RATE")
	add := func(name string, ts apiclient.TableStats) {
		table.AddRow(name,
			fmt.Sprintf("%d", ts.Size),
			fmt.Sprintf("%d", ts.Hits),
			fmt.Sprintf("%d", ts.Misses),
			hitRate(ts),
		)
	}
	add("negative", s.NegativeCache)
	add("refreshed", s.Refreshed)
	return table
}

func hitRate(ts apiclient.TableStats) string {
	total := ts.Hits + ts.Misses
	if total == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", float64(ts.Hits)*100/float64(total))
}

func runStats(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	stats, err := client.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get cache statistics: %w", err)
	}
	return cmdutil.PrintOutput(os.Stdout, stats, false, "", statsTable(stats))
}
