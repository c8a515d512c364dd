// Command spibuttond bridges SPI button frames from the BeagleBone PRU to
// shell commands, Klipper API calls and MQTT notifications.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kpishere/SPIButtonController-BBB/internal/pruss"
	"github.com/kpishere/SPIButtonController-BBB/pkg/api"
	"github.com/kpishere/SPIButtonController-BBB/pkg/config"
	"github.com/kpishere/SPIButtonController-BBB/pkg/daemon"
	"github.com/kpishere/SPIButtonController-BBB/pkg/pru"
)

var version = "dev"

var (
	confPath = flag.String("confPath", config.DefaultPath, "configuration file path")
	logLevel = flag.String("logLevel", "info", "log level: debug, info, warn, error")
	testConf = flag.Bool("testConf", false, "validate the configuration and exit")
	showVer  = flag.Bool("version", false, "print the version and exit")
)

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.DisableStacktrace = true
	return zc.Build()
}

// slaveFirmware resolves the image handed to remoteproc: an absolute path
// when a firmware directory is known, otherwise the bare name of an image
// already installed under /lib/firmware.
func slaveFirmware(cfg *config.Config) string {
	dir := cfg.PRU.FirmwareDir
	if dir == "" {
		dir, _ = pruss.LocateFirmware()
	}
	if dir == "" {
		return pruss.SlaveFirmware
	}
	return filepath.Join(dir, pruss.SlaveFirmware)
}

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println("spibuttond", version)
		return
	}

	cfg, err := config.Load(*confPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *testConf {
		fmt.Printf("%s: configuration OK, %d button mappings\n", *confPath, len(cfg.Buttons))
		return
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("spibuttond failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	binding := pruss.New(&pruss.Config{}, logger)
	defer binding.Teardown()

	var haltAll atomic.Bool
	slave := pru.NewSlave(binding, pru.Options{
		Firmware:     slaveFirmware(cfg),
		PollInterval: cfg.PollInterval(),
		ExternalStop: &haltAll,
	})
	if err := slave.Init(); err != nil {
		return fmt.Errorf("init slave transport: %w", err)
	}
	defer slave.Cleanup()

	if err := slave.Start(func() {
		logger.Debug("buffer swap observed")
	}); err != nil {
		return fmt.Errorf("start slave monitor: %w", err)
	}
	defer func() {
		haltAll.Store(true)
		slave.Stop()
		if err := slave.Wait(); err != nil {
			logger.Warn("slave monitor exited abnormally", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	stats := daemon.NewStats(registry)

	d, err := daemon.New(slave, cfg, stats, logger)
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reload := func() error {
		next, err := config.Load(*confPath)
		if err != nil {
			return err
		}
		d.Reload(next)
		return nil
	}

	if cfg.API.Enabled {
		srv := api.New(cfg.API.Listen,
			api.Info{Name: "spibuttond", Version: version, APIVersion: "v1"},
			api.Hooks{
				Stats: func() any { return d.Snapshot() },
				Ready: func() error {
					if !slave.IsMapped() || slave.State() != pru.StateRunning {
						return fmt.Errorf("transport %s", slave.State())
					}
					return nil
				},
				Reload: reload,
			},
			registry, logger)
		go func() {
			if err := srv.Run(); err != nil {
				logger.Error("status API stopped", zap.Error(err))
			}
		}()
		defer srv.Shutdown()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	logger.Info("spibuttond started",
		zap.String("version", version),
		zap.Int("buttons", len(cfg.Buttons)),
		zap.Bool("klipper", cfg.Klipper != nil),
		zap.Bool("mqtt", cfg.MQTT != nil),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP: reloading configuration")
				if err := reload(); err != nil {
					logger.Error("reload failed, keeping previous configuration", zap.Error(err))
				}
				continue
			}
			logger.Info("shutting down", zap.String("signal", sig.String()))
			cancel()
			if err := <-runErr; err != nil && err != context.Canceled {
				return err
			}
			return nil
		case err := <-runErr:
			cancel()
			if err != nil && err != context.Canceled {
				return err
			}
			return nil
		}
	}
}
