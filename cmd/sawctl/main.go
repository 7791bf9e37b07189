package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/sawctl/internal/codec"
	"codeberg.org/mutker/sawctl/internal/config"
	"codeberg.org/mutker/sawctl/internal/controller"
	"codeberg.org/mutker/sawctl/internal/delay"
	"codeberg.org/mutker/sawctl/internal/errors"
	"codeberg.org/mutker/sawctl/internal/link"
	"codeberg.org/mutker/sawctl/internal/logger"
	"codeberg.org/mutker/sawctl/internal/loop"
	"codeberg.org/mutker/sawctl/internal/metrics"
	"codeberg.org/mutker/sawctl/internal/pid"
	"codeberg.org/mutker/sawctl/internal/snapshot"
	"codeberg.org/mutker/sawctl/internal/state"
	"codeberg.org/mutker/sawctl/internal/telemetry"
)

const maintenanceTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 2
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Str("file", cfg.File).Msg("Config loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if cfg.MaintenanceWrite != "" {
		return runMaintenance(ctx, cfg)
	}

	if err := pid.Write(cfg.PIDDir); err != nil {
		logger.Error().Err(err).Str("path", pid.Path(cfg.PIDDir)).Msg("Failed to acquire PID file")
		return 1
	}
	defer func() {
		if err := pid.Remove(cfg.PIDDir); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	return runDaemon(ctx, cancel, cfg)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func newLink(cfg *config.Config) (*link.Link, error) {
	lc := cfg.LinkConfig()
	opener, err := link.NewOpener(lc)
	if err != nil {
		return nil, err
	}
	return link.New(lc, opener, logger.New("link"))
}

// runMaintenance performs the one-time unlock, write, save sequence and
// exits without starting the control loop.
func runMaintenance(ctx context.Context, cfg *config.Config) int {
	steps, err := cfg.MaintenanceSequence()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid maintenance write")
		return 2
	}

	lnk, err := newLink(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create link")
		return 1
	}

	ctx, cancel := context.WithTimeout(ctx, maintenanceTimeout)
	defer cancel()

	if err := lnk.Connect(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to connect for maintenance write")
		return 1
	}
	defer lnk.Disconnect()

	if err := lnk.WriteSequence(steps); err != nil {
		logger.Error().Err(err).Msg("Maintenance write failed")
		return 1
	}

	logger.Info().
		Uint16("register", steps[1].Address).
		Uint16("value", steps[1].Value).
		Msg("Maintenance write saved")
	return 0
}

func runDaemon(ctx context.Context, cancel context.CancelFunc, cfg *config.Config) int {
	lnk, err := newLink(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create link")
		return 1
	}
	defer lnk.Disconnect()

	cd, err := cfg.NewCodec()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid codec configuration")
		return 1
	}

	specs, err := cfg.FieldSpecs()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid telemetry layout")
		return 1
	}
	mapper, err := snapshot.NewMapper(cd, specs)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create telemetry mapper")
		return 1
	}

	shared := state.NewShared()
	stats := metrics.NewStats(shared.Locker())

	factory, err := newFactory(cfg, cd, shared, stats)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create controller")
		return 1
	}

	calc, err := delay.New(cfg.DelayConfig(), lnk, cd, delay.WithLogger(logger.New("delay")))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create delay calculator")
		return 1
	}

	ctl, err := loop.New(cfg.LoopConfig(), loop.Deps{
		Link:    lnk,
		Mapper:  mapper,
		Factory: factory,
		Delay:   calc,
		Shared:  shared,
		Stats:   stats,
		Logger:  logger.New("loop"),
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create control loop")
		return 1
	}

	tlog := logger.New("telemetry")
	collector, err := telemetry.NewService(cfg.TelemetryConfig(), tlog)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize telemetry storage")
		return 1
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close telemetry storage")
		}
	}()
	recorder := telemetry.NewRecorder(shared, collector, cfg.Telemetry.Interval, tlog)

	var server *metrics.Server
	if mc := cfg.MetricsConfig(); mc.Enabled() {
		exporter := metrics.NewCollector(stats, func() string { return shared.State().String() }, state.Names())
		server, err = metrics.NewServer(mc, logger.New("metrics"), exporter)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create metrics server")
			return 1
		}
	}

	logger.Info().
		Str("strategy", string(factory.Active())).
		Str("transport", cfg.Link.Transport).
		Bool("auto_start", cfg.State.AutoStart).
		Bool("telemetry", cfg.Telemetry.Enabled).
		Msg("Starting sawctl")

	var wg sync.WaitGroup
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logger.Error().Err(err).Str("unit", name).Msg("Unit stopped with error")
				cancel()
			}
		}()
	}

	spawn("loop", func() error { return ctl.Run(ctx) })
	spawn("telemetry", func() error {
		recorder.Run(ctx)
		return nil
	})
	if server != nil {
		spawn("metrics", func() error { return server.Run(ctx) })
	}

	<-ctx.Done()

	code := 0
	if !join(&wg, cfg.Loop.JoinTimeout) {
		logger.ErrorWithCode(errors.New().WithData(errors.ErrShutdownFailed, cfg.Loop.JoinTimeout)).
			Msg("Timed out waiting for units to stop")
		code = 1
	}

	logger.Info().Object("stats", stats.Snapshot()).Str("state", shared.State().String()).Msg("Control statistics")
	logger.Info().Msg("Exiting...")
	return code
}

// newFactory builds every strategy with the configured one active, so a
// runtime Select needs no construction.
func newFactory(cfg *config.Config, cd *codec.Codec, shared *state.Shared, stats *metrics.Stats) (*controller.Factory, error) {
	configs, err := cfg.StrategyConfigs()
	if err != nil {
		return nil, err
	}

	active := cfg.Strategy()
	engines := make([]controller.Engine, 0, len(configs))
	for _, name := range append([]controller.Strategy{active}, controller.Strategies()...) {
		if name == active && len(engines) > 0 {
			continue
		}
		e, err := controller.NewEngine(name)
		if err != nil {
			return nil, err
		}
		engines = append(engines, e)
	}

	factory, err := controller.NewFactory(controller.Options{
		Codec:     cd,
		Limits:    cfg.SpeedLimits(),
		Registers: cfg.CommandRegisters(),
		Stats:     stats,
		Locker:    shared.Locker(),
		Logger:    logger.New("controller"),
	}, engines...)
	if err != nil {
		return nil, err
	}

	for name, sc := range configs {
		if err := factory.SetConfig(name, sc); err != nil {
			return nil, err
		}
	}
	return factory, nil
}

// join waits for wg up to timeout and reports whether every unit returned.
func join(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
