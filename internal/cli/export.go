package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/cuemeter/pkg/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export session history as CSV",
	Long: `Write session records as header-less CSV rows:
table, start, end, elapsed (M:SS), cost. With --tables the active table
configuration is written instead.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	addReportFlags(exportCmd)
	exportCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
	exportCmd.Flags().Bool("tables", false, "Export table configuration instead of sessions")
}

func runExport(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	tablesOnly, _ := cmd.Flags().GetBool("tables")
	loc, err := cfg.Billing.Location()
	if err != nil {
		return err
	}
	filter, err := reportFilter(cmd, cfg)
	if err != nil {
		return err
	}

	store, err := initStorage(cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create %s: %w", output, err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = f
	}

	opts := export.Options{Location: loc}
	if tablesOnly {
		cfgs, _, err := activeTables(cmd.Context(), cfg, store)
		if err != nil {
			return err
		}
		return export.Tables(w, cfgs, opts)
	}

	ledger, err := loadLedger(cmd.Context(), store, newLogger(cfg))
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	records := ledger.Query(filter)
	if err := export.Sessions(w, records, opts); err != nil {
		return err
	}
	if output != "" {
		fmt.Fprintf(os.Stderr, "Exported %d session(s) to %s\n", len(records), output)
	}
	return nil
}
