// Package loop runs the control cycle: read telemetry, map it, decide,
// write, publish. It owns the operating-state machine and every recovery
// decision.
package loop

import (
	"context"
	"time"

	"codeberg.org/mutker/sawctl/internal/controller"
	"codeberg.org/mutker/sawctl/internal/errors"
	"codeberg.org/mutker/sawctl/internal/link"
	"codeberg.org/mutker/sawctl/internal/logger"
	"codeberg.org/mutker/sawctl/internal/metrics"
	"codeberg.org/mutker/sawctl/internal/snapshot"
	"codeberg.org/mutker/sawctl/internal/state"
	"github.com/google/uuid"
)

const commandQueueSize = 8

// Link is the register link as the loop uses it.
type Link interface {
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	IsConnected() bool
	Read(addr, count uint16) ([]uint16, error)
	Write(addr, value uint16) error
}

// DelaySource supplies the startup delay when a cut is prepared.
type DelaySource interface {
	Delay() time.Duration
}

// Deps are the collaborators of a Loop.
type Deps struct {
	Link    Link
	Mapper  *snapshot.Mapper
	Factory *controller.Factory
	Delay   DelaySource
	Shared  *state.Shared
	Stats   *metrics.Stats
	Logger  logger.Logger
	Now     func() time.Time
}

type fault int

const (
	faultNone fault = iota
	// faultLink is a read or transport failure: reconnect, keep state.
	faultLink
	// faultWrite is a speed write that failed on the link: keep state and
	// retry next cycle, reconnecting once the link asks for it.
	faultWrite
	// faultController halts writes until reset.
	faultController
)

func (f fault) String() string {
	switch f {
	case faultLink:
		return "link"
	case faultWrite:
		return "write"
	case faultController:
		return "controller"
	default:
		return "none"
	}
}

// classify maps an error onto the recovery it needs.
func classify(err error) fault {
	switch {
	case err == nil:
		return faultNone
	case errors.HasCode(err, controller.ErrWriteFailed) && errors.IsLinkFault(err):
		return faultWrite
	case errors.IsControllerError(err):
		return faultController
	case errors.IsLinkFault(err):
		return faultLink
	default:
		return faultController
	}
}

// Loop is the control loop. Run and Step must be called from one
// goroutine; Start, Acknowledge and Reset may be called from any.
type Loop struct {
	cfg      Config
	link     Link
	mapper   *snapshot.Mapper
	factory  *controller.Factory
	delay    DelaySource
	shared   *state.Shared
	stats    *metrics.Stats
	log      logger.Logger
	now      func() time.Time
	commands chan state.Event

	machine     *state.Machine
	session     uuid.UUID
	readyAt     time.Time
	lastWrite   time.Time
	prevCurrent snapshot.Reading
}

func New(cfg Config, deps Deps) (*Loop, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Link == nil || deps.Mapper == nil || deps.Factory == nil || deps.Delay == nil || deps.Shared == nil {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "missing loop dependency")
	}
	if deps.Mapper.Span() > cfg.TelemetryCount {
		return nil, errFactory.WithData(ErrTelemetryTooShort, struct {
			Count uint16
			Span  uint16
		}{cfg.TelemetryCount, deps.Mapper.Span()})
	}
	if deps.Stats == nil {
		deps.Stats = metrics.NewStats(deps.Shared.Locker())
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Loop{
		cfg:      cfg,
		link:     deps.Link,
		mapper:   deps.Mapper,
		factory:  deps.Factory,
		delay:    deps.Delay,
		shared:   deps.Shared,
		stats:    deps.Stats,
		log:      deps.Logger.With("loop"),
		now:      deps.Now,
		commands: make(chan state.Event, commandQueueSize),
		machine:  state.NewMachine(),
	}, nil
}

// Start requests Idle to Preparing.
func (l *Loop) Start() error { return l.enqueue(state.Start) }

// Acknowledge requests Completed to Idle.
func (l *Loop) Acknowledge() error { return l.enqueue(state.Acknowledge) }

// Reset requests Error to Idle.
func (l *Loop) Reset() error { return l.enqueue(state.Reset) }

func (l *Loop) enqueue(e state.Event) error {
	select {
	case l.commands <- e:
		return nil
	default:
		return errors.New().WithData(ErrCommandQueueFull, e.String())
	}
}

// State returns the current state as published.
func (l *Loop) State() state.SystemState {
	return l.shared.State()
}

// Run connects the link and cycles until ctx is done. It returns nil on
// cancellation.
func (l *Loop) Run(ctx context.Context) error {
	if !l.link.IsConnected() {
		if err := l.link.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}

	if l.cfg.AutoStart {
		if err := l.Start(); err != nil {
			l.log.Warn().Err(err).Msg("Auto start not queued")
		}
	}

	l.log.Info().
		Dur("delay", l.cfg.Delay).
		Dur("min_write_interval", l.cfg.MinWriteInterval).
		Str("strategy", string(l.factory.Active())).
		Msg("Control loop started")

	for {
		select {
		case <-ctx.Done():
			l.log.Info().Str("state", l.machine.Current().String()).Msg("Control loop stopped")
			return nil
		default:
		}

		if err := l.Step(ctx); err != nil {
			l.log.Debug().Err(err).Msg("Cycle ended with fault")
		}

		timer := time.NewTimer(l.cfg.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Step runs one cycle and returns the fault it recovered from, if any.
func (l *Loop) Step(ctx context.Context) error {
	l.drainCommands()

	if l.machine.Current() == state.Preparing && !l.now().Before(l.readyAt) {
		l.fire(state.DelayElapsed)
	}

	values, err := l.link.Read(l.cfg.TelemetryStart, l.cfg.TelemetryCount)
	if err != nil {
		l.stats.Update(func(c *metrics.Counters) { c.ReadFailures++ })
		l.recover(ctx, err)
		return err
	}

	snap := l.mapper.Map(snapshot.NewFrame(l.cfg.TelemetryStart, values, l.now()))
	l.applyTelemetry(snap)

	var stepErr error
	if l.machine.Current() == state.Cutting {
		next, decision, err := l.factory.AdjustSpeeds(
			snap, l.link, l.lastWrite, l.cfg.MinWriteInterval, l.prevCurrent)
		if err != nil {
			l.recover(ctx, err)
			stepErr = err
		} else {
			l.lastWrite = next
			if decision.Written {
				l.log.Debug().
					Float64("coefficient", decision.Coefficient).
					Float64("cutting", decision.Cutting.Target).
					Float64("descent", decision.Descent.Target).
					Msg("Speeds adjusted")
			}
		}
	}

	l.prevCurrent = snap.Get(snapshot.CuttingCurrent)
	l.shared.Publish(snap)

	return stepErr
}

// applyTelemetry fires the transitions driven by descent_state.
func (l *Loop) applyTelemetry(snap *snapshot.Snapshot) {
	ds := snap.Get(snapshot.DescentState)
	if !ds.Present {
		return
	}

	switch l.machine.Current() {
	case state.Ready:
		if ds.Value >= l.cfg.DescentActiveThreshold {
			l.fire(state.DescentActive)
		}
	case state.Cutting:
		if ds.Value == l.cfg.CutCompleteValue {
			l.fire(state.CutComplete)
		}
	}
}

// drainCommands applies the commands queued before this cycle. Commands
// queued while draining wait for the next one.
func (l *Loop) drainCommands() {
	for n := len(l.commands); n > 0; n-- {
		l.fire(<-l.commands)
	}
}

// fire applies e to the machine and publishes the result. Invalid events
// are logged and dropped.
func (l *Loop) fire(e state.Event) {
	from, to, err := l.machine.Fire(e)
	if err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			l.log.ErrorWithCode(appErr).Str("event", e.String()).Msg("Event ignored")
		}
		return
	}

	switch {
	case from == state.Idle && to == state.Preparing:
		l.session = uuid.New()
		d := l.delay.Delay()
		l.readyAt = l.now().Add(d)
		l.log.Info().Str("session", l.session.String()).Dur("startup_delay", d).Msg("Cut prepared")
	case to == state.Cutting:
		l.lastWrite = time.Time{}
	case to == state.Idle:
		l.session = uuid.Nil
	}

	l.shared.SetState(to, l.session)
	l.log.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Str("event", e.String()).
		Msg("State changed")

	if to == state.Idle && l.cfg.AutoStart {
		if err := l.enqueue(state.Start); err != nil {
			l.log.Warn().Err(err).Msg("Auto start not queued")
		}
	}
}

// recover applies the policy for err's fault class.
func (l *Loop) recover(ctx context.Context, err error) {
	f := classify(err)

	switch f {
	case faultLink:
		l.stats.Update(func(c *metrics.Counters) { c.LinkFaults++ })
		l.log.Warn().Err(err).Str("fault", f.String()).Str("state", l.machine.Current().String()).Msg("Link fault")
		l.reconnect(ctx)
	case faultWrite:
		l.stats.Update(func(c *metrics.Counters) { c.LinkFaults++ })
		l.log.Warn().Err(err).Str("fault", f.String()).Msg("Speed write failed, retrying next cycle")
		if errors.HasCode(err, link.ErrReconnectRequired) {
			l.reconnect(ctx)
		}
	case faultController:
		l.stats.Update(func(c *metrics.Counters) { c.ControllerFaults++ })
		var appErr errors.Error
		if errors.As(err, &appErr) {
			l.log.ErrorWithCode(appErr).Str("fault", f.String()).Msg("Controller fault, halting writes")
		} else {
			l.log.Error().Err(err).Str("fault", f.String()).Msg("Controller fault, halting writes")
		}
		l.fire(state.Fault)
	}
}

func (l *Loop) reconnect(ctx context.Context) {
	if err := l.link.Reconnect(ctx); err != nil {
		l.log.Debug().Err(err).Msg("Reconnect abandoned")
		return
	}
	l.stats.Update(func(c *metrics.Counters) { c.Reconnects++ })
}
