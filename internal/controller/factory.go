package controller

import (
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/sawctl/internal/codec"
	"codeberg.org/mutker/sawctl/internal/errors"
	"codeberg.org/mutker/sawctl/internal/logger"
	"codeberg.org/mutker/sawctl/internal/metrics"
	"codeberg.org/mutker/sawctl/internal/snapshot"
)

// Writer is the part of the register link the factory needs.
type Writer interface {
	Write(addr, value uint16) error
}

// Limits bound every commanded speed.
type Limits struct {
	CuttingMin float64
	CuttingMax float64
	DescentMin float64
	DescentMax float64
}

// DefaultLimits returns the reference speed limits in mm/min.
func DefaultLimits() Limits {
	return Limits{CuttingMin: 2, CuttingMax: 90, DescentMin: 5, DescentMax: 200}
}

func (l Limits) Validate() error {
	errFactory := errors.New()
	for _, r := range [][2]float64{{l.CuttingMin, l.CuttingMax}, {l.DescentMin, l.DescentMax}} {
		if math.IsNaN(r[0]) || math.IsNaN(r[1]) || r[0] > r[1] {
			return errFactory.WithData(ErrInvalidConfig, l)
		}
	}
	if l.CuttingMin < 0 {
		return errFactory.WithData(ErrInvalidConfig, l)
	}
	return nil
}

// Registers are the command register addresses.
type Registers struct {
	Cutting uint16
	Descent uint16
}

// DefaultRegisters returns the reference command registers.
func DefaultRegisters() Registers {
	return Registers{Cutting: 2050, Descent: 2051}
}

// Command is one axis of a decision.
type Command struct {
	Previous float64
	Target   float64
	Clamped  bool
	Speed    codec.SpeedCommand
}

// Decision reports what one AdjustSpeeds call did. Written is false when
// the call was rate limited, skipped, or failed.
type Decision struct {
	Strategy    Strategy
	RateLimited bool
	Skipped     bool
	Reason      string
	Coefficient float64
	Cutting     Command
	Descent     Command
	Written     bool
	Diagnostics Diagnostics
}

// Options configures a Factory.
type Options struct {
	Codec     *codec.Codec
	Limits    Limits
	Registers Registers
	Stats     *metrics.Stats
	// Locker guards the active engine and configs. It is the same lock as
	// the published snapshot slot.
	Locker sync.Locker
	Logger logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Factory holds the active engine and is the sole writer of speed
// commands.
type Factory struct {
	mu      sync.Locker
	engines map[Strategy]Engine
	configs map[Strategy]Config
	active  Strategy

	codec  *codec.Codec
	limits Limits
	regs   Registers
	stats  *metrics.Stats
	log    logger.Logger
	now    func() time.Time

	// last commanded speeds, used when the snapshot has no readback
	lastCutting snapshot.Reading
	lastDescent snapshot.Reading
}

// NewFactory registers engines. The first one becomes active and every
// engine starts with an enabled, empty config.
func NewFactory(opts Options, engines ...Engine) (*Factory, error) {
	errFactory := errors.New()

	if len(engines) == 0 {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "no controller engines")
	}
	if err := opts.Limits.Validate(); err != nil {
		return nil, err
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default()
	}
	if opts.Locker == nil {
		opts.Locker = &sync.Mutex{}
	}
	if opts.Stats == nil {
		opts.Stats = metrics.NewStats(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	f := &Factory{
		mu:      opts.Locker,
		engines: make(map[Strategy]Engine, len(engines)),
		configs: make(map[Strategy]Config, len(engines)),
		active:  engines[0].Name(),
		codec:   opts.Codec,
		limits:  opts.Limits,
		regs:    opts.Registers,
		stats:   opts.Stats,
		log:     opts.Logger.With("controller"),
		now:     opts.Now,
	}
	for _, e := range engines {
		f.engines[e.Name()] = e
		f.configs[e.Name()] = Config{Params: map[string]float64{}, Enabled: true, LastUpdate: f.now()}
	}

	return f, nil
}

// Select makes name the active engine. It takes effect on the next call.
func (f *Factory) Select(name Strategy) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.engines[name]; !ok {
		return errors.New().WithData(ErrUnknownStrategy, name)
	}
	if f.active != name {
		f.log.Info().Str("from", string(f.active)).Str("to", string(name)).Msg("Controller strategy switched")
	}
	f.active = name
	return nil
}

// Active returns the name of the active engine.
func (f *Factory) Active() Strategy {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// SetConfig validates and replaces the config of name. A zero LastUpdate
// is stamped with the current time.
func (f *Factory) SetConfig(name Strategy, cfg Config) error {
	engine, ok := f.engine(name)
	if !ok {
		return errors.New().WithData(ErrUnknownStrategy, name)
	}

	if err := validateGains(cfg); err != nil {
		return err
	}
	if err := engine.Validate(cfg); err != nil {
		return err
	}

	cfg = cfg.clone()
	if cfg.LastUpdate.IsZero() {
		cfg.LastUpdate = f.now()
	}

	f.mu.Lock()
	f.configs[name] = cfg
	f.mu.Unlock()

	f.log.Debug().Str("strategy", string(name)).Bool("enabled", cfg.Enabled).Msg("Controller config updated")
	return nil
}

// Config returns a copy of the config of name.
func (f *Factory) Config(name Strategy) (Config, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[name]
	return cfg.clone(), ok
}

func (f *Factory) engine(name Strategy) (Engine, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.engines[name]
	return e, ok
}

// AdjustSpeeds is the single decision entrypoint. Within minInterval of
// lastWrite it returns at once without consulting the engine. Otherwise it
// computes a coefficient, applies it to the previous commanded speeds,
// clamps to the limits and writes both commands. The returned time is the
// new last-write time; it only advances when both writes succeed.
func (f *Factory) AdjustSpeeds(
	snap *snapshot.Snapshot,
	w Writer,
	lastWrite time.Time,
	minInterval time.Duration,
	previousCurrent snapshot.Reading,
) (time.Time, Decision, error) {
	errFactory := errors.New()
	now := f.now()

	if !lastWrite.IsZero() && now.Sub(lastWrite) < minInterval {
		f.stats.Update(func(c *metrics.Counters) { c.RateLimited++ })
		return lastWrite, Decision{RateLimited: true, Reason: "rate_limited"}, nil
	}

	f.mu.Lock()
	name := f.active
	engine := f.engines[name]
	cfg := f.configs[name].clone()
	lastCutting, lastDescent := f.lastCutting, f.lastDescent
	f.mu.Unlock()

	decision := Decision{Strategy: name}

	if !cfg.Enabled {
		return lastWrite, f.skip(decision, "monitor"), nil
	}

	prevCutting := readback(snap, snapshot.CuttingSpeed, lastCutting)
	prevDescent := readback(snap, snapshot.DescentSpeed, lastDescent)
	if !prevCutting.Present || !prevDescent.Present {
		return lastWrite, f.skip(decision, "no_previous_speed"), nil
	}

	coef, diag, err := engine.Compute(snap, cfg, previousCurrent)
	decision.Diagnostics = diag
	if err != nil {
		if errors.HasCode(err, ErrMissingInput) {
			return lastWrite, f.skip(decision, "missing_input"), nil
		}
		if !errors.IsControllerError(err) {
			err = errFactory.Wrap(ErrInvalidConfig, err)
		}
		return lastWrite, decision, err
	}
	if math.IsNaN(coef) || math.IsInf(coef, 0) || coef < -1 || coef > 1 {
		return lastWrite, decision, errFactory.WithData(ErrInvalidCoefficient, struct {
			Strategy    Strategy
			Coefficient float64
		}{name, coef})
	}
	decision.Coefficient = coef

	cutting, err := f.command(f.regs.Cutting, prevCutting.Value, coef*cfg.Param(ParamCuttingGain, DefaultGain),
		f.limits.CuttingMin, f.limits.CuttingMax, f.codec.CuttingCommand)
	if err != nil {
		return lastWrite, decision, err
	}
	decision.Cutting = cutting

	descent, err := f.command(f.regs.Descent, prevDescent.Value, coef*cfg.Param(ParamDescentGain, DefaultGain),
		f.limits.DescentMin, f.limits.DescentMax, f.codec.DescentCommand)
	if err != nil {
		return lastWrite, decision, err
	}
	decision.Descent = descent

	f.stats.Update(func(c *metrics.Counters) {
		c.Decisions++
		c.StrategyUsage[string(name)]++
	})

	for _, cmd := range []codec.SpeedCommand{cutting.Speed, descent.Speed} {
		if err := w.Write(cmd.Register, cmd.Value); err != nil {
			f.stats.Update(func(c *metrics.Counters) { c.WriteFailures++ })
			return lastWrite, decision, errFactory.Wrap(ErrWriteFailed, err).WithData(cmd)
		}
		f.stats.Update(func(c *metrics.Counters) { c.Writes++ })
	}
	decision.Written = true

	f.mu.Lock()
	f.lastCutting = snapshot.Measured(cutting.Target)
	f.lastDescent = snapshot.Measured(descent.Target)
	f.mu.Unlock()

	f.log.Debug().
		Str("strategy", string(name)).
		Float64("coefficient", coef).
		Float64("cutting_speed", cutting.Target).
		Float64("descent_speed", descent.Target).
		Uint16("cutting_register", cutting.Speed.Value).
		Uint16("descent_register", descent.Speed.Value).
		Msg("Speed commands written")

	return now, decision, nil
}

type encodeFunc func(addr uint16, speed float64) (codec.SpeedCommand, error)

// command applies the scaled coefficient to prev, clamps and encodes.
func (f *Factory) command(addr uint16, prev, delta, lo, hi float64, encode encodeFunc) (Command, error) {
	target := prev * (1 + delta)
	cmd := Command{Previous: prev, Target: target}

	if target < lo || target > hi {
		clamped := math.Max(lo, math.Min(hi, target))
		f.stats.Update(func(c *metrics.Counters) { c.Clamped++ })
		f.log.Warn().
			Str("error_code", string(ErrSpeedClamped)).
			Uint16("register", addr).
			Float64("target", target).
			Float64("clamped", clamped).
			Msg("Commanded speed clamped")
		cmd.Target = clamped
		cmd.Clamped = true
	}

	speed, err := encode(addr, cmd.Target)
	if err != nil {
		return cmd, errors.New().Wrap(ErrEncodeFailed, err)
	}
	cmd.Speed = speed

	return cmd, nil
}

func (f *Factory) skip(d Decision, reason string) Decision {
	f.stats.Update(func(c *metrics.Counters) { c.Skipped++ })
	f.log.Debug().Str("strategy", string(d.Strategy)).Str("reason", reason).Msg("Decision skipped")
	d.Skipped = true
	d.Reason = reason
	return d
}

// readback prefers the speed the device reports over the last command.
func readback(snap *snapshot.Snapshot, field snapshot.Field, last snapshot.Reading) snapshot.Reading {
	if r := snap.Get(field); r.Present {
		return r
	}
	return last
}

func validateGains(cfg Config) error {
	if err := validateParam(cfg, ParamCuttingGain, 0, 1); err != nil {
		return err
	}
	return validateParam(cfg, ParamDescentGain, 0, 1)
}
