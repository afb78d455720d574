package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/cuemeter/pkg/history"
	"github.com/ogulcanaydogan/cuemeter/pkg/model"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show session history and earnings",
	Long:  `Show closed sessions and earnings, filtered by table and time range.`,
	RunE:  runHistory,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all session history",
	RunE:  runHistoryClear,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyClearCmd)

	addReportFlags(historyCmd)
	historyCmd.Flags().Int("page", 1, "Page number")
	historyCmd.Flags().Int("page-size", 0, "Records per page (default from config)")
	historyCmd.Flags().Bool("detailed", false, "Show individual sessions")

	historyClearCmd.Flags().Bool("yes", false, "Confirm deletion")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	filter, err := reportFilter(cmd, cfg)
	if err != nil {
		return err
	}
	pageNumber, _ := cmd.Flags().GetInt("page")
	pageSize, _ := cmd.Flags().GetInt("page-size")
	if pageSize <= 0 {
		pageSize = cfg.History.PageSize
	}
	detailed, _ := cmd.Flags().GetBool("detailed")
	loc, err := cfg.Billing.Location()
	if err != nil {
		return err
	}

	store, err := initStorage(cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	ledger, err := loadLedger(cmd.Context(), store, newLogger(cfg))
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	summary := ledger.Aggregate(filter)

	fmt.Printf("=== Table Earnings ===\n")
	if !filter.StartTime.IsZero() || !filter.EndTime.IsZero() {
		fmt.Printf("Range: %s to %s\n", formatBound(filter.StartTime, loc), formatBound(filter.EndTime, loc))
	}
	fmt.Println()
	fmt.Printf("Total Earnings:  %s\n", summary.TotalCost.StringFixed(2))
	fmt.Printf("Sessions:        %s\n", humanize.Comma(summary.SessionCount))
	fmt.Printf("Table Time:      %s\n", model.FormatElapsed(summary.TotalSeconds))

	if len(summary.ByTable) > 0 {
		fmt.Printf("\nBy Table:\n")
		ids := lo.Keys(summary.ByTable)
		sort.Strings(ids)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  TABLE\tEARNINGS\n")
		for _, id := range ids {
			fmt.Fprintf(w, "  %s\t%s\n", id, summary.ByTable[id].StringFixed(2))
		}
		w.Flush()
	}

	if !detailed {
		return nil
	}

	page := ledger.Paginate(filter, model.Page{Number: pageNumber, Size: pageSize})
	if len(page.Records) == 0 {
		fmt.Printf("\nNo sessions on page %d.\n", pageNumber)
		return nil
	}

	fmt.Printf("\nSessions (page %d of %d):\n", page.Number, page.TotalPages)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  TABLE\tSTARTED\tENDED\tTIME\tCOST\n")
	for _, r := range page.Records {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			r.TableID,
			r.StartedAt.In(loc).Format("2006-01-02 15:04"),
			humanize.Time(r.EndedAt),
			model.FormatElapsed(r.ElapsedSeconds),
			r.TotalCost.StringFixed(2),
		)
	}
	return w.Flush()
}

func runHistoryClear(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		return fmt.Errorf("refusing to delete history without --yes")
	}

	store, err := initStorage(cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	if err := history.NewLedger(store, newLogger(cfg)).Clear(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Session history cleared.")
	return nil
}

func formatBound(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format("2006-01-02 15:04")
}
