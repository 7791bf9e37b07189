package controller_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/sawctl/internal/controller"
	"codeberg.org/mutker/sawctl/internal/errors"
	"codeberg.org/mutker/sawctl/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readings(values map[snapshot.Field]float64) *snapshot.Snapshot {
	r := make(map[snapshot.Field]snapshot.Reading, len(values))
	for f, v := range values {
		r[f] = snapshot.Measured(v)
	}
	return snapshot.New(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), r)
}

func newFuzzy(t *testing.T) *controller.Fuzzy {
	t.Helper()
	f, err := controller.NewFuzzy(controller.DefaultFuzzyModel())
	require.NoError(t, err)
	return f
}

func TestSetDegree(t *testing.T) {
	tri := controller.Triangle(0, 1, 2)
	assert.Equal(t, 0.0, tri.Degree(-1))
	assert.Equal(t, 0.5, tri.Degree(0.5))
	assert.Equal(t, 1.0, tri.Degree(1))
	assert.Equal(t, 0.5, tri.Degree(1.5))
	assert.Equal(t, 0.0, tri.Degree(2))

	left := controller.Trapezoid(0, 0, 6, 10)
	assert.Equal(t, 1.0, left.Degree(-3))
	assert.Equal(t, 0.5, left.Degree(8))

	right := controller.Trapezoid(24, 30, 40, 40)
	assert.Equal(t, 1.0, right.Degree(55))
	assert.InDelta(t, 2.0/3.0, right.Degree(28), 1e-12)
}

func TestFuzzy_HighCurrentPositiveDeviationReduces(t *testing.T) {
	f := newFuzzy(t)
	snap := readings(map[snapshot.Field]float64{
		snapshot.CuttingCurrent: 28,
		snapshot.BladeDeviation: 1.8,
	})

	coef, diag, err := f.Compute(snap, controller.Config{Enabled: true}, snapshot.Absent())
	require.NoError(t, err)

	assert.Less(t, coef, -0.5)
	assert.GreaterOrEqual(t, coef, -1.0)
	assert.InDelta(t, 2.0/3.0, diag["out.reduce_a_lot"], 1e-12)
	assert.Zero(t, diag["out.increase"])
	assert.Equal(t, coef, diag["coefficient"])
}

func TestFuzzy_IdealIsNoChange(t *testing.T) {
	f := newFuzzy(t)
	snap := readings(map[snapshot.Field]float64{
		snapshot.CuttingCurrent: 19,
		snapshot.BladeDeviation: 0,
	})

	coef, _, err := f.Compute(snap, controller.Config{}, snapshot.Absent())
	require.NoError(t, err)
	assert.InDelta(t, 0, coef, 1e-9)
}

func TestFuzzy_LowCurrentIncreases(t *testing.T) {
	f := newFuzzy(t)
	snap := readings(map[snapshot.Field]float64{
		snapshot.CuttingCurrent: 4,
		snapshot.BladeDeviation: 0,
	})

	coef, _, err := f.Compute(snap, controller.Config{}, snapshot.Absent())
	require.NoError(t, err)
	assert.Greater(t, coef, 0.5)
}

func TestFuzzy_OptionalInputs(t *testing.T) {
	f := newFuzzy(t)
	base := map[snapshot.Field]float64{
		snapshot.CuttingCurrent: 19,
		snapshot.BladeDeviation: 0,
	}

	calm, _, err := f.Compute(readings(base), controller.Config{}, snapshot.Absent())
	require.NoError(t, err)

	base[snapshot.VibrationFrequency] = 400
	shaking, diag, err := f.Compute(readings(base), controller.Config{}, snapshot.Absent())
	require.NoError(t, err)
	assert.Equal(t, 1.0, diag["vibration.high"])
	assert.Less(t, shaking, calm)

	// A rising trend only matters together with high current.
	_, diag, err = f.Compute(readings(map[snapshot.Field]float64{
		snapshot.CuttingCurrent: 25,
		snapshot.BladeDeviation: 0,
	}), controller.Config{}, snapshot.Measured(20))
	require.NoError(t, err)
	assert.Equal(t, 1.0, diag["trend.rising"])
	assert.Equal(t, 1.0, diag["out.reduce_a_lot"])
}

func TestFuzzy_Deterministic(t *testing.T) {
	f := newFuzzy(t)
	snap := readings(map[snapshot.Field]float64{
		snapshot.CuttingCurrent:     23.7,
		snapshot.BladeDeviation:     -0.42,
		snapshot.VibrationFrequency: 180,
	})
	prev := snapshot.Measured(22.9)

	want, wantDiag, err := f.Compute(snap, controller.Config{}, prev)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		got, diag, err := f.Compute(snap, controller.Config{}, prev)
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.Equal(t, wantDiag, diag)
	}
}

func TestFuzzy_MissingInput(t *testing.T) {
	f := newFuzzy(t)

	_, _, err := f.Compute(readings(map[snapshot.Field]float64{
		snapshot.BladeDeviation: 0,
	}), controller.Config{}, snapshot.Absent())
	assert.True(t, errors.HasCode(err, controller.ErrMissingInput))

	_, _, err = f.Compute(readings(map[snapshot.Field]float64{
		snapshot.CuttingCurrent: 20,
	}), controller.Config{}, snapshot.Absent())
	assert.True(t, errors.HasCode(err, controller.ErrMissingInput))
}

func TestNewFuzzy_RejectsBadModel(t *testing.T) {
	model := controller.DefaultFuzzyModel()
	model.Rules = append(model.Rules, controller.Rule{
		If:   []controller.Term{{Input: controller.InputCurrent, Level: "lukewarm"}},
		Then: controller.Reduce,
	})
	_, err := controller.NewFuzzy(model)
	assert.True(t, errors.HasCode(err, controller.ErrInvalidConfig))

	model = controller.DefaultFuzzyModel()
	model.Outputs[0].Set = controller.Trapezoid(1, 0, 0, 0)
	_, err = controller.NewFuzzy(model)
	assert.True(t, errors.IsControllerError(err))
}

func TestLinear(t *testing.T) {
	l := controller.NewLinear()

	coef, _, err := l.Compute(readings(map[snapshot.Field]float64{
		snapshot.CuttingCurrent: 24,
		snapshot.BladeDeviation: -1,
	}), controller.Config{}, snapshot.Absent())
	require.NoError(t, err)
	// (19 - 24) / 10 - 0.5 * 1 / 2
	assert.InDelta(t, -0.75, coef, 1e-12)

	assert.Error(t, l.Validate(controller.Config{Params: map[string]float64{controller.ParamCurrentSpan: 0}}))
}

func TestDynamic(t *testing.T) {
	d := controller.NewDynamic()
	cfg := controller.Config{Params: map[string]float64{controller.ParamWindow: 1}}

	coef, _, err := d.Compute(readings(map[snapshot.Field]float64{
		snapshot.CuttingCurrent: 19,
	}), cfg, snapshot.Measured(19))
	require.NoError(t, err)
	assert.InDelta(t, 0, coef, 1e-12)

	coef, diag, err := d.Compute(readings(map[snapshot.Field]float64{
		snapshot.CuttingCurrent: 29,
	}), cfg, snapshot.Measured(29))
	require.NoError(t, err)
	assert.InDelta(t, 29, diag["smoothed_current"], 1e-12)
	assert.InDelta(t, -0.8, coef, 1e-12)
}

func TestLearned_FitsCurrentToSpeed(t *testing.T) {
	l := controller.NewLearned()
	cfg := controller.Config{}

	for speed := 5.0; speed < 15; speed++ {
		_, diag, err := l.Compute(readings(map[snapshot.Field]float64{
			snapshot.CuttingSpeed:   speed,
			snapshot.CuttingCurrent: 2*speed + 1,
		}), cfg, snapshot.Absent())
		require.NoError(t, err)
		if speed < 14 {
			assert.Equal(t, 1.0, diag["fallback"])
		}
	}

	// current = 1 + 2 * speed, so 19 A needs 9 m/min: from 10 that is a
	// 10% cut, or -0.5 at the default gain of 0.2.
	coef, diag, err := l.Compute(readings(map[snapshot.Field]float64{
		snapshot.CuttingSpeed:   10,
		snapshot.CuttingCurrent: 21,
	}), cfg, snapshot.Absent())
	require.NoError(t, err)
	assert.InDelta(t, 9, diag["desired_speed"], 1e-9)
	assert.InDelta(t, -0.5, coef, 1e-9)
}

func TestNewEngine(t *testing.T) {
	for _, s := range controller.Strategies() {
		e, err := controller.NewEngine(s)
		require.NoError(t, err)
		assert.Equal(t, s, e.Name())
	}

	_, err := controller.NewEngine("neural")
	assert.True(t, errors.HasCode(err, controller.ErrUnknownStrategy))
}
