package controller

import (
	"sync"

	"codeberg.org/mutker/sawctl/internal/snapshot"
	"gonum.org/v1/gonum/stat"
)

// Dynamic parameters, in addition to the proportional ones.
const (
	ParamKp     = "kp"
	ParamKd     = "kd"
	ParamWindow = "window"
)

const (
	defaultKp     = 0.8
	defaultKd     = 0.3
	defaultWindow = 5
	maxWindow     = 100
)

// Dynamic is a PD controller on a moving mean of the cutting current. The
// derivative comes from the previous current handed in by the loop.
type Dynamic struct {
	mu      sync.Mutex
	history []float64
}

func NewDynamic() *Dynamic { return &Dynamic{} }

func (*Dynamic) Name() Strategy { return StrategyDynamic }

func (*Dynamic) Validate(cfg Config) error {
	if err := validateProportional(cfg); err != nil {
		return err
	}
	if err := validateParam(cfg, ParamKp, 0, 10); err != nil {
		return err
	}
	if err := validateParam(cfg, ParamKd, 0, 10); err != nil {
		return err
	}
	return validateParam(cfg, ParamWindow, 1, maxWindow)
}

func (d *Dynamic) Compute(snap *snapshot.Snapshot, cfg Config, previousCurrent snapshot.Reading) (float64, Diagnostics, error) {
	current, err := requireInput(snap, snapshot.CuttingCurrent)
	if err != nil {
		return 0, nil, err
	}

	p := proportionalParams(cfg)
	window := int(cfg.Param(ParamWindow, defaultWindow))

	d.mu.Lock()
	d.history = append(d.history, current)
	if len(d.history) > window {
		d.history = append(d.history[:0], d.history[len(d.history)-window:]...)
	}
	smoothed := stat.Mean(d.history, nil)
	d.mu.Unlock()

	errTerm := (p.target - smoothed) / p.currentSpan
	var rate float64
	if previousCurrent.Present {
		rate = (current - previousCurrent.Value) / p.currentSpan
	}
	deviationTerm := p.deviationWeight * deviationMagnitude(snap) / p.deviationSpan

	kp := cfg.Param(ParamKp, defaultKp)
	kd := cfg.Param(ParamKd, defaultKd)
	coef := clampUnit(kp*errTerm - kd*rate - deviationTerm)

	return coef, Diagnostics{
		"smoothed_current": smoothed,
		"error_term":       errTerm,
		"rate_term":        rate,
		"deviation_term":   deviationTerm,
		"coefficient":      coef,
	}, nil
}

// Reset drops the current history.
func (d *Dynamic) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = d.history[:0]
}
