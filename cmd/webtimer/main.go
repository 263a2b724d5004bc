package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/webtimer/db"
	"github.com/thatsimonsguy/webtimer/internal/api"
	"github.com/thatsimonsguy/webtimer/internal/config"
	"github.com/thatsimonsguy/webtimer/internal/datadog"
	"github.com/thatsimonsguy/webtimer/internal/distributor"
	"github.com/thatsimonsguy/webtimer/internal/env"
	"github.com/thatsimonsguy/webtimer/internal/executor"
	"github.com/thatsimonsguy/webtimer/internal/gpio"
	"github.com/thatsimonsguy/webtimer/internal/hostid"
	"github.com/thatsimonsguy/webtimer/internal/logging"
	"github.com/thatsimonsguy/webtimer/internal/model"
	"github.com/thatsimonsguy/webtimer/internal/notifications"
	"github.com/thatsimonsguy/webtimer/internal/sensor"
	"github.com/thatsimonsguy/webtimer/internal/signing"
	"github.com/thatsimonsguy/webtimer/internal/status"
	"github.com/thatsimonsguy/webtimer/internal/transport"
	"github.com/thatsimonsguy/webtimer/internal/updater"
	"github.com/thatsimonsguy/webtimer/system/shutdown"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "webtimer: %v\n", err)
		os.Exit(model.ExitError)
	}
	logFile, err := logging.Init(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "webtimer: %v\n", err)
		os.Exit(model.ExitError)
	}
	defer logFile.Close()
	env.Cfg = cfg

	log.Info().
		Str("work_dir", cfg.WorkDir).
		Str("status_file", cfg.StatusPath()).
		Dur("tick_interval", cfg.TickInterval).
		Bool("distribution", cfg.Distribution.Enabled).
		Msg("Starting web timer")

	if cfg.SafeMode {
		log.Warn().Msg("SAFE MODE ENABLED, GPIO writes are disabled")
	}

	datadog.InitMetrics()
	notifications.Init()

	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create work dir")
	}

	driver, err := gpio.New(cfg.GPIO.Pins, cfg.GPIO.ActiveHigh, cfg.SafeMode)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise GPIO")
	}
	shutdown.Register(driver)

	statusFile, err := status.Open(cfg.StatusPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open status file")
	}
	shutdown.OnShutdown(func() { statusFile.Close() })

	journal := &db.Journal{}
	if dbConn, err := db.Open(cfg.History.DBPath); err != nil {
		log.Error().Err(err).Msg("Journal unavailable, relay history will not be recorded")
	} else {
		journal.DB = dbConn
		shutdown.OnShutdown(func() { dbConn.Close() })
	}
	shutdown.OnShutdown(datadog.Close)

	exec := executor.New(cfg.WorkDir, driver, sensor.NewHub(cfg.Sensors.IIODevice, cfg.Sensors.NTC)).
		WithStatus(statusFile).
		WithJournal(journal).
		WithNotifier(notifications.Notify)
	shutdown.OnShutdown(func() { exec.Close() })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var upd *updater.Updater
	if cfg.Distribution.Enabled {
		if upd, err = newUpdater(cfg, journal); err != nil {
			shutdown.ShutdownWithError(err, "Failed to set up program distribution")
		}
		if err := upd.Recover(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to clear leftover distribution locks")
		}
	}

	if err := exec.Start(); err != nil {
		if errors.Is(err, model.ErrConfigInvalid) {
			log.Error().Err(err).Msg("Program configuration is invalid")
			shutdown.ShutdownWithError(err, "Refusing to run with an invalid program")
		}
		log.Error().Err(err).Msg("Startup incomplete, continuing")
	}

	if upd != nil {
		go upd.Run(ctx, cfg.Distribution.PollInterval)
	}

	if cfg.API.Port > 0 {
		go func() {
			if err := api.NewServer(journal.DB, exec).Start(cfg.API.Port); err != nil {
				log.Error().Err(err).Msg("Status API server stopped")
			}
		}()
	}

	exec.Run(ctx, cfg.TickInterval)
	log.Info().Msg("Signal received, shutting down")
	shutdown.Shutdown()
}

func newUpdater(cfg *config.Config, journal *db.Journal) (*updater.Updater, error) {
	id, err := hostid.Derive(cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("derive host id: %w", err)
	}
	remote, err := transport.Open(cfg.Distribution.Remote, cfg.Distribution.Credential)
	if err != nil {
		return nil, err
	}
	signer, err := signing.NewSigner(cfg.Secret, cfg.Distribution.Hash)
	if err != nil {
		return nil, err
	}

	d := distributor.New(remote, id, signer).WithRecorder(journal)
	log.Info().
		Str("host_id", id).
		Str("remote", cfg.Distribution.Remote).
		Dur("poll_interval", cfg.Distribution.PollInterval).
		Msg("Program distribution enabled")

	return updater.New(d, cfg.WorkDir, cfg.Distribution.InboxDir,
		cfg.Distribution.RetryAttempts, cfg.Distribution.RetryBackoff).
		WithNotifier(notifications.Notify).
		WithStatusFile(cfg.StatusPath()), nil
}
