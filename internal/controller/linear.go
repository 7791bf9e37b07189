package controller

import (
	"math"

	"codeberg.org/mutker/sawctl/internal/snapshot"
)

// Linear parameters.
const (
	ParamTargetCurrent   = "target_current"
	ParamCurrentSpan     = "current_span"
	ParamDeviationWeight = "deviation_weight"
	ParamDeviationSpan   = "deviation_span"
)

const (
	defaultTargetCurrent   = 19.0
	defaultCurrentSpan     = 10.0
	defaultDeviationWeight = 0.5
	defaultDeviationSpan   = 2.0
)

// Linear maps the current error and blade deviation proportionally:
//
//	coef = (target - current) / current_span - weight * |deviation| / deviation_span
type Linear struct{}

func NewLinear() *Linear { return &Linear{} }

func (*Linear) Name() Strategy { return StrategyLinear }

func (*Linear) Validate(cfg Config) error {
	return validateProportional(cfg)
}

func (*Linear) Compute(snap *snapshot.Snapshot, cfg Config, _ snapshot.Reading) (float64, Diagnostics, error) {
	current, err := requireInput(snap, snapshot.CuttingCurrent)
	if err != nil {
		return 0, nil, err
	}

	p := proportionalParams(cfg)
	currentTerm := (p.target - current) / p.currentSpan
	deviationTerm := p.deviationWeight * deviationMagnitude(snap) / p.deviationSpan

	coef := clampUnit(currentTerm - deviationTerm)
	return coef, Diagnostics{
		"current_term":   currentTerm,
		"deviation_term": deviationTerm,
		"coefficient":    coef,
	}, nil
}

type proportional struct {
	target          float64
	currentSpan     float64
	deviationWeight float64
	deviationSpan   float64
}

func proportionalParams(cfg Config) proportional {
	return proportional{
		target:          cfg.Param(ParamTargetCurrent, defaultTargetCurrent),
		currentSpan:     cfg.Param(ParamCurrentSpan, defaultCurrentSpan),
		deviationWeight: cfg.Param(ParamDeviationWeight, defaultDeviationWeight),
		deviationSpan:   cfg.Param(ParamDeviationSpan, defaultDeviationSpan),
	}
}

func validateProportional(cfg Config) error {
	checks := []struct {
		name   string
		lo, hi float64
	}{
		{ParamTargetCurrent, 0, 1000},
		{ParamCurrentSpan, 1e-3, 1000},
		{ParamDeviationWeight, 0, 10},
		{ParamDeviationSpan, 1e-3, 100},
	}
	for _, c := range checks {
		if err := validateParam(cfg, c.name, c.lo, c.hi); err != nil {
			return err
		}
	}
	return nil
}

// deviationMagnitude is |deviation|, or zero when the sensor is absent.
func deviationMagnitude(snap *snapshot.Snapshot) float64 {
	if d := snap.Get(snapshot.BladeDeviation); d.Present {
		return math.Abs(d.Value)
	}
	return 0
}
