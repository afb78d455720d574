package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/cuemeter/internal/config"
	"github.com/ogulcanaydogan/cuemeter/pkg/alerts"
	"github.com/ogulcanaydogan/cuemeter/pkg/history"
	"github.com/ogulcanaydogan/cuemeter/pkg/model"
	"github.com/ogulcanaydogan/cuemeter/pkg/rates"
	"github.com/ogulcanaydogan/cuemeter/pkg/storage"
	"github.com/ogulcanaydogan/cuemeter/pkg/storage/bolt"
	redisstore "github.com/ogulcanaydogan/cuemeter/pkg/storage/redis"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cuemeter",
	Short: "cuemeter - time-based billing for pool and snooker tables",
	Long: `cuemeter runs a billing timer per table, charges each started minute at
the rate of the time of day, and keeps a history of closed sessions for
reporting. It exposes an HTTP API for the front desk and a CLI for
configuration and reports.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.cuemeter/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// initStorage creates a storage backend from config.
func initStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Type {
	case "", "sqlite":
		return storage.NewSQLite(cfg.Storage.Path)
	case "bolt":
		return bolt.Open(cfg.Storage.Path)
	case "redis":
		return redisstore.Open(redisstore.Config{
			Addr:      cfg.Storage.Redis.Addr,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			KeyPrefix: cfg.Storage.Redis.KeyPrefix,
		})
	case "memory":
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q: want sqlite, bolt, redis or memory", cfg.Storage.Type)
	}
}

// initNotifiers creates alert notifiers from config.
func initNotifiers(cfg *config.Config) []alerts.Notifier {
	var notifiers []alerts.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alerts.NewSlackNotifier(
			cfg.Alerts.Slack.WebhookURL,
			cfg.Alerts.Slack.Channel,
		))
	}

	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(
			cfg.Alerts.Webhook.URL,
			cfg.Alerts.Webhook.Secret,
		))
	}

	return notifiers
}

// defaultTables returns the tables from config, or the factory set.
func defaultTables(cfg *config.Config) ([]model.TableConfig, error) {
	if len(cfg.Tables) == 0 {
		return rates.DefaultTables(), nil
	}
	cfgs, err := rates.BuildAll(cfg.Tables)
	if err != nil {
		return nil, fmt.Errorf("tables in config: %w", err)
	}
	return cfgs, nil
}

// activeTables returns the saved tables, falling back to config.
func activeTables(ctx context.Context, cfg *config.Config, store storage.Storage) ([]model.TableConfig, bool, error) {
	saved, err := store.LoadTables(ctx)
	if err == nil {
		return saved, true, nil
	}
	if !storage.IsNotFound(err) {
		return nil, false, fmt.Errorf("load tables: %w", err)
	}
	cfgs, err := defaultTables(cfg)
	return cfgs, false, err
}

// loadLedger opens the stored session history for reporting.
func loadLedger(ctx context.Context, store storage.Storage, logger *slog.Logger) (*history.Ledger, error) {
	ledger := history.NewLedger(store, logger)
	if err := ledger.Load(ctx); err != nil {
		return nil, err
	}
	return ledger, nil
}

// reportFilter builds a history filter from the shared report flags.
func reportFilter(cmd *cobra.Command, cfg *config.Config) (model.HistoryFilter, error) {
	tableID, _ := cmd.Flags().GetString("table")
	period, _ := cmd.Flags().GetString("period")
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")

	filter := model.HistoryFilter{TableID: tableID}
	loc, err := cfg.Billing.Location()
	if err != nil {
		return filter, err
	}

	if period != "" {
		p, err := model.ParsePeriod(period)
		if err != nil {
			return filter, err
		}
		filter.StartTime, filter.EndTime = model.PeriodBounds(p, time.Now().In(loc))
	}
	if from != "" {
		if filter.StartTime, err = model.ParseTimeBound(from, loc, false); err != nil {
			return filter, err
		}
	}
	if to != "" {
		if filter.EndTime, err = model.ParseTimeBound(to, loc, true); err != nil {
			return filter, err
		}
	}
	return filter, nil
}

func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("table", "t", "", "Filter by table")
	cmd.Flags().StringP("period", "P", "", "Report period (daily, weekly, monthly)")
	cmd.Flags().String("from", "", "Sessions started at or after (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().String("to", "", "Sessions started at or before (YYYY-MM-DD or RFC 3339)")
}
