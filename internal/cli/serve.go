package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/cuemeter/internal/server"
	"github.com/ogulcanaydogan/cuemeter/internal/systemd"
	"github.com/ogulcanaydogan/cuemeter/pkg/billing"
	"github.com/ogulcanaydogan/cuemeter/pkg/publish"
	"github.com/ogulcanaydogan/cuemeter/pkg/tracker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the table timers and the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	listen, _ := cmd.Flags().GetString("listen")
	if listen != "" {
		cfg.Server.Listen = listen
	}

	logger := newLogger(cfg)

	loc, err := cfg.Billing.Location()
	if err != nil {
		return err
	}
	defaults, err := defaultTables(cfg)
	if err != nil {
		return err
	}

	store, err := initStorage(cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	var publisher tracker.Publisher
	if cfg.MQTT.Enabled {
		p, err := publish.Connect(publish.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
		})
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
		logger.Info("mqtt feed enabled", "broker", cfg.MQTT.Broker, "prefix", cfg.MQTT.TopicPrefix)
	}

	t := tracker.New(store, tracker.Options{
		Clock:     billing.RealClock{Location: loc},
		Defaults:  defaults,
		Notifiers: initNotifiers(cfg),
		Publisher: publisher,
		Logger:    logger,
	})
	if err := t.Bootstrap(cmd.Context()); err != nil {
		return err
	}

	scheduler, err := billing.NewScheduler(t, cfg.Billing.TickInterval, cfg.Billing.RateCheckInterval, logger)
	if err != nil {
		return err
	}

	apiServer := server.NewServer(t, server.Options{PageSize: cfg.History.PageSize, Location: loc}, logger)

	readTimeout, _ := time.ParseDuration(cfg.Server.ReadTimeout)
	if readTimeout == 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout, _ := time.ParseDuration(cfg.Server.WriteTimeout)
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}

	srv := &http.Server{
		Handler:      apiServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	ln, activated, err := systemd.Listen(cfg.Server.Listen)
	if err != nil {
		return err
	}

	runCtx, stopTimers := context.WithCancel(context.Background())
	defer stopTimers()
	schedDone := make(chan error, 1)
	go func() {
		schedDone <- scheduler.Run(runCtx)
	}()

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("cuemeter started", "listen", ln.Addr().String(), "socket_activated", activated)
		fmt.Fprintf(os.Stderr, "cuemeter listening on %s\n", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn("notify systemd", "error", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn("notify systemd", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown http server", "error", err)
	}
	stopTimers()
	if err := <-schedDone; err != nil {
		logger.Error("stop scheduler", "error", err)
	}
	if err := t.Shutdown(ctx); err != nil {
		logger.Error("shutdown tracker", "error", err)
	}

	logger.Info("cuemeter stopped")
	return serveErr
}
