package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/ogulcanaydogan/cuemeter/pkg/rates"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Manage tables and their rate schedules",
}

var tablesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured tables",
	RunE:  runTablesList,
}

var tablesApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Save tables from a schedule file",
	Long: `Validate a YAML schedule file and save it as the active table
configuration. A running server picks it up on its next start; use the
admin API to change tables without a restart.`,
	RunE: runTablesApply,
}

func init() {
	rootCmd.AddCommand(tablesCmd)
	tablesCmd.AddCommand(tablesListCmd)
	tablesCmd.AddCommand(tablesApplyCmd)

	tablesListCmd.Flags().Bool("yaml", false, "Print as a schedule file")

	tablesApplyCmd.Flags().StringP("file", "f", "", "Schedule file to apply")
	_ = tablesApplyCmd.MarkFlagRequired("file")
}

func runTablesList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	asYAML, _ := cmd.Flags().GetBool("yaml")

	store, err := initStorage(cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	cfgs, saved, err := activeTables(cmd.Context(), cfg, store)
	if err != nil {
		return err
	}

	if asYAML {
		data, err := rates.MarshalFile(cfgs)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	source := "config defaults"
	if saved {
		source = "storage"
	}
	fmt.Printf("Tables (%d, from %s):\n", len(cfgs), source)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  TABLE\tSCHEDULE\n")
	for _, c := range cfgs {
		entries := lo.Map(c.Schedule[:], func(e model.RateEntry, _ int) string {
			return fmt.Sprintf("%s @ %s/min", e.Start, e.Rate.StringFixed(2))
		})
		fmt.Fprintf(w, "  %s\t%s\n", c.ID, strings.Join(entries, ", "))
	}
	return w.Flush()
}

func runTablesApply(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("file")

	cfgs, err := rates.LoadFile(path)
	if err != nil {
		return err
	}

	store, err := initStorage(cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	if err := store.SaveTables(cmd.Context(), cfgs); err != nil {
		return fmt.Errorf("save tables: %w", err)
	}

	ids := lo.Map(cfgs, func(c model.TableConfig, _ int) string { return c.ID })
	fmt.Printf("Saved %d table(s): %s\n", len(cfgs), strings.Join(ids, ", "))
	fmt.Println("Restart the server, or PUT /api/v1/config in admin mode, to apply them to running timers.")
	return nil
}
