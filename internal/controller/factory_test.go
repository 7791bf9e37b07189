package controller_test

import (
	"math"
	"testing"
	"time"

	"codeberg.org/mutker/sawctl/internal/codec"
	"codeberg.org/mutker/sawctl/internal/controller"
	"codeberg.org/mutker/sawctl/internal/errors"
	"codeberg.org/mutker/sawctl/internal/link"
	"codeberg.org/mutker/sawctl/internal/metrics"
	"codeberg.org/mutker/sawctl/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	writes []codec.SpeedCommand
	err    error
}

func (w *fakeWriter) Write(addr, value uint16) error {
	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, codec.SpeedCommand{Register: addr, Value: value})
	return nil
}

type stubEngine struct {
	coef  float64
	err   error
	calls int
}

func (*stubEngine) Name() controller.Strategy        { return "stub" }
func (*stubEngine) Validate(controller.Config) error { return nil }

func (e *stubEngine) Compute(*snapshot.Snapshot, controller.Config, snapshot.Reading) (float64, controller.Diagnostics, error) {
	e.calls++
	return e.coef, controller.Diagnostics{}, e.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func newFactory(t *testing.T, c *clock, engines ...controller.Engine) (*controller.Factory, *metrics.Stats) {
	t.Helper()
	stats := metrics.NewStats(nil)
	f, err := controller.NewFactory(controller.Options{
		Limits:    controller.DefaultLimits(),
		Registers: controller.DefaultRegisters(),
		Stats:     stats,
		Now:       c.now,
	}, engines...)
	require.NoError(t, err)
	return f, stats
}

func cuttingSnapshot(current, deviation, cutting, descent float64) *snapshot.Snapshot {
	return readings(map[snapshot.Field]float64{
		snapshot.CuttingCurrent: current,
		snapshot.BladeDeviation: deviation,
		snapshot.CuttingSpeed:   cutting,
		snapshot.DescentSpeed:   descent,
	})
}

func TestAdjustSpeeds_HighCurrentScenario(t *testing.T) {
	c := newClock()
	fuzzy, err := controller.NewFuzzy(controller.DefaultFuzzyModel())
	require.NoError(t, err)
	f, stats := newFactory(t, c, fuzzy)
	w := &fakeWriter{}

	lastWrite := c.t.Add(-time.Second)
	next, d, err := f.AdjustSpeeds(cuttingSnapshot(28, 1.8, 10, 60), w, lastWrite, 500*time.Millisecond, snapshot.Absent())
	require.NoError(t, err)

	assert.Equal(t, c.t, next)
	assert.True(t, d.Written)
	assert.Less(t, d.Cutting.Target, 10.0)
	assert.Less(t, d.Descent.Target, 60.0)
	require.Len(t, w.writes, 2)

	assert.Equal(t, uint16(2050), w.writes[0].Register)
	assert.Equal(t, uint16(math.Ceil(d.Cutting.Target/codec.DefaultCuttingStep)), w.writes[0].Value)
	assert.Equal(t, uint16(2051), w.writes[1].Register)
	assert.True(t, codec.DescentSign(w.writes[1].Value))

	counters := stats.Snapshot()
	assert.Equal(t, uint64(2), counters.Writes)
	assert.Equal(t, uint64(1), counters.Decisions)
	assert.Equal(t, uint64(1), counters.StrategyUsage["fuzzy"])
}

func TestAdjustSpeeds_RateLimit(t *testing.T) {
	c := newClock()
	engine := &stubEngine{coef: 0.1}
	f, stats := newFactory(t, c, engine)
	w := &fakeWriter{}
	snap := cuttingSnapshot(20, 0, 10, 60)
	minInterval := 500 * time.Millisecond

	last, d, err := f.AdjustSpeeds(snap, w, time.Time{}, minInterval, snapshot.Absent())
	require.NoError(t, err)
	require.True(t, d.Written)

	c.advance(300 * time.Millisecond)
	got, d, err := f.AdjustSpeeds(snap, w, last, minInterval, snapshot.Absent())
	require.NoError(t, err)
	assert.True(t, d.RateLimited)
	assert.Equal(t, last, got)
	assert.Equal(t, 1, engine.calls)
	assert.Len(t, w.writes, 2)

	c.advance(300 * time.Millisecond)
	got, d, err = f.AdjustSpeeds(snap, w, last, minInterval, snapshot.Absent())
	require.NoError(t, err)
	assert.True(t, d.Written)
	assert.Equal(t, c.t, got)
	assert.Equal(t, 2, engine.calls)
	assert.Len(t, w.writes, 4)

	assert.Equal(t, uint64(1), stats.Snapshot().RateLimited)
}

func TestAdjustSpeeds_Clamps(t *testing.T) {
	c := newClock()
	limits := controller.DefaultLimits()

	tests := []struct {
		name          string
		coef          float64
		cutting, want float64
	}{
		{"above max", 1, 80, limits.CuttingMax},
		{"below min", -1, 10, limits.CuttingMin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{coef: tt.coef}
			f, stats := newFactory(t, c, engine)
			require.NoError(t, f.SetConfig("stub", controller.Config{
				Enabled: true,
				Params:  map[string]float64{controller.ParamCuttingGain: 1},
			}))
			w := &fakeWriter{}

			_, d, err := f.AdjustSpeeds(cuttingSnapshot(20, 0, tt.cutting, 60), w, time.Time{}, 0, snapshot.Absent())
			require.NoError(t, err)

			assert.True(t, d.Cutting.Clamped)
			assert.Equal(t, tt.want, d.Cutting.Target)
			assert.Equal(t, uint16(math.Ceil(tt.want/codec.DefaultCuttingStep)), w.writes[0].Value)
			assert.Equal(t, uint64(1), stats.Snapshot().Clamped)
		})
	}
}

func TestAdjustSpeeds_WriteFailureKeepsLastWrite(t *testing.T) {
	c := newClock()
	f, stats := newFactory(t, c, &stubEngine{coef: 0.1})
	w := &fakeWriter{err: errors.New().New(link.ErrTimeout)}

	lastWrite := c.t.Add(-time.Minute)
	got, d, err := f.AdjustSpeeds(cuttingSnapshot(20, 0, 10, 60), w, lastWrite, time.Second, snapshot.Absent())

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, controller.ErrWriteFailed))
	assert.True(t, errors.IsControllerError(err))
	assert.True(t, errors.IsLinkFault(err))
	assert.Equal(t, errors.CategoryController, errors.CategoryOf(err))
	assert.Equal(t, lastWrite, got)
	assert.False(t, d.Written)
	assert.Equal(t, uint64(1), stats.Snapshot().WriteFailures)
}

func TestAdjustSpeeds_InvalidCoefficient(t *testing.T) {
	for _, coef := range []float64{math.NaN(), math.Inf(-1), 1.5} {
		c := newClock()
		f, _ := newFactory(t, c, &stubEngine{coef: coef})
		w := &fakeWriter{}

		_, _, err := f.AdjustSpeeds(cuttingSnapshot(20, 0, 10, 60), w, time.Time{}, 0, snapshot.Absent())
		assert.True(t, errors.HasCode(err, controller.ErrInvalidCoefficient))
		assert.True(t, errors.IsControllerError(err))
		assert.Empty(t, w.writes)
	}
}

func TestAdjustSpeeds_Skips(t *testing.T) {
	c := newClock()
	engine := &stubEngine{coef: 0.1}
	f, stats := newFactory(t, c, engine)
	w := &fakeWriter{}

	// No readback and nothing commanded yet.
	_, d, err := f.AdjustSpeeds(readings(map[snapshot.Field]float64{
		snapshot.CuttingCurrent: 20,
	}), w, time.Time{}, 0, snapshot.Absent())
	require.NoError(t, err)
	assert.True(t, d.Skipped)
	assert.Equal(t, "no_previous_speed", d.Reason)

	// Missing input from the engine.
	engine.err = errors.New().New(controller.ErrMissingInput)
	_, d, err = f.AdjustSpeeds(cuttingSnapshot(20, 0, 10, 60), w, time.Time{}, 0, snapshot.Absent())
	require.NoError(t, err)
	assert.Equal(t, "missing_input", d.Reason)
	engine.err = nil

	// Monitor mode.
	require.NoError(t, f.SetConfig("stub", controller.Config{Enabled: false}))
	_, d, err = f.AdjustSpeeds(cuttingSnapshot(20, 0, 10, 60), w, time.Time{}, 0, snapshot.Absent())
	require.NoError(t, err)
	assert.Equal(t, "monitor", d.Reason)

	assert.Empty(t, w.writes)
	assert.Equal(t, uint64(3), stats.Snapshot().Skipped)
}

func TestAdjustSpeeds_FallsBackToLastCommand(t *testing.T) {
	c := newClock()
	f, _ := newFactory(t, c, &stubEngine{coef: 0.5})
	w := &fakeWriter{}

	_, d, err := f.AdjustSpeeds(cuttingSnapshot(20, 0, 10, 60), w, time.Time{}, 0, snapshot.Absent())
	require.NoError(t, err)
	assert.InDelta(t, 11, d.Cutting.Target, 1e-12)

	_, d, err = f.AdjustSpeeds(readings(map[snapshot.Field]float64{
		snapshot.CuttingCurrent: 20,
	}), w, time.Time{}, 0, snapshot.Absent())
	require.NoError(t, err)
	assert.True(t, d.Written)
	assert.InDelta(t, 11, d.Cutting.Previous, 1e-12)
	assert.InDelta(t, 12.1, d.Cutting.Target, 1e-9)
}

func TestFactory_SelectAndConfig(t *testing.T) {
	c := newClock()
	fuzzy, err := controller.NewFuzzy(controller.DefaultFuzzyModel())
	require.NoError(t, err)
	f, _ := newFactory(t, c, fuzzy, controller.NewLinear())

	assert.Equal(t, controller.StrategyFuzzy, f.Active())
	require.NoError(t, f.Select(controller.StrategyLinear))
	assert.Equal(t, controller.StrategyLinear, f.Active())

	err = f.Select("neural")
	assert.True(t, errors.HasCode(err, controller.ErrUnknownStrategy))
	assert.Equal(t, controller.StrategyLinear, f.Active())

	err = f.SetConfig(controller.StrategyLinear, controller.Config{
		Params: map[string]float64{controller.ParamCuttingGain: 3},
	})
	assert.True(t, errors.HasCode(err, controller.ErrInvalidConfig))

	params := map[string]float64{controller.ParamTargetCurrent: 21}
	require.NoError(t, f.SetConfig(controller.StrategyLinear, controller.Config{Enabled: true, Params: params}))
	params[controller.ParamTargetCurrent] = 99

	cfg, ok := f.Config(controller.StrategyLinear)
	require.True(t, ok)
	assert.Equal(t, 21.0, cfg.Params[controller.ParamTargetCurrent])
	assert.Equal(t, c.t, cfg.LastUpdate)
}
