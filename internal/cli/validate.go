package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/cuemeter/internal/config"
	"github.com/ogulcanaydogan/cuemeter/pkg/billing"
	"github.com/ogulcanaydogan/cuemeter/pkg/rates"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and schedule files",
	Long: `Check the configuration file for values the server would reject:
timezone, storage backend, table schedules, scheduler intervals and the
MQTT feed. A schedule file given with -f is checked as well.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("file", "f", "", "Schedule file to check")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration could not be loaded: %v\n", err)
		return err
	}
	schedulePath, _ := cmd.Flags().GetString("file")

	problems := checkConfig(cfg)
	if schedulePath != "" {
		if _, err := rates.LoadFile(schedulePath); err != nil {
			problems = append(problems, err)
		}
	}

	if len(problems) > 0 {
		red := color.New(color.FgRed, color.Bold)
		red.Fprintf(os.Stdout, "❌ Found %d problem(s):\n", len(problems))
		for _, p := range problems {
			red.Fprintf(os.Stdout, "   - %v\n", p)
		}
		return errors.Join(problems...)
	}

	green := color.New(color.FgGreen)
	green.Fprintln(os.Stdout, "✅ Configuration is valid")
	if schedulePath != "" {
		green.Fprintf(os.Stdout, "✅ Schedule file is valid: %s\n", schedulePath)
	}
	return nil
}

// checkConfig collects every problem instead of stopping at the first.
func checkConfig(cfg *config.Config) []error {
	var problems []error

	if _, err := cfg.Billing.Location(); err != nil {
		problems = append(problems, err)
	}

	switch cfg.Storage.Type {
	case "", "sqlite", "bolt", "memory":
	case "redis":
		if cfg.Storage.Redis.Addr == "" {
			problems = append(problems, fmt.Errorf("storage.redis.addr is required for redis storage"))
		}
	default:
		problems = append(problems, fmt.Errorf("unknown storage type %q", cfg.Storage.Type))
	}

	if _, err := defaultTables(cfg); err != nil {
		problems = append(problems, err)
	}

	if _, err := billing.NewScheduler(nil, cfg.Billing.TickInterval, cfg.Billing.RateCheckInterval, nil); err != nil {
		problems = append(problems, err)
	}

	for name, value := range map[string]string{
		"server.read_timeout":  cfg.Server.ReadTimeout,
		"server.write_timeout": cfg.Server.WriteTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", name, err))
		}
	}

	if cfg.History.PageSize <= 0 {
		problems = append(problems, fmt.Errorf("history.page_size must be positive, got %d", cfg.History.PageSize))
	}

	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		problems = append(problems, fmt.Errorf("mqtt.broker is required when mqtt is enabled"))
	}

	return problems
}
