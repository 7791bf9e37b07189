// Package controller decides speed adjustments from processed telemetry.
// One Engine is active at a time; the Factory owns it and is the only
// place that writes speed commands back to the link.
package controller

import (
	"math"
	"sort"
	"time"

	"codeberg.org/mutker/sawctl/internal/errors"
	"codeberg.org/mutker/sawctl/internal/snapshot"
)

// Strategy names an Engine implementation.
type Strategy string

const (
	StrategyFuzzy   Strategy = "fuzzy"
	StrategyLinear  Strategy = "linear"
	StrategyDynamic Strategy = "dynamic"
	StrategyLearned Strategy = "learned"
)

// Parameters shared by every strategy. The factory applies them.
const (
	ParamCuttingGain = "cutting_gain"
	ParamDescentGain = "descent_gain"

	DefaultGain = 0.2
)

// Config is the named parameter set of one strategy.
type Config struct {
	Params     map[string]float64
	Enabled    bool
	LastUpdate time.Time
}

// Param returns the named parameter or def when unset.
func (c Config) Param(name string, def float64) float64 {
	if v, ok := c.Params[name]; ok {
		return v
	}
	return def
}

func (c Config) clone() Config {
	params := make(map[string]float64, len(c.Params))
	for k, v := range c.Params {
		params[k] = v
	}
	c.Params = params
	return c
}

// Diagnostics explains a decision: input memberships, rule strengths or
// the intermediate terms of a formula, keyed by name.
type Diagnostics map[string]float64

// Keys returns the diagnostic names in lexical order.
func (d Diagnostics) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Engine computes a speed adjustment coefficient in [-1, 1].
type Engine interface {
	Name() Strategy
	// Validate checks the strategy parameters once, when a config is set.
	Validate(cfg Config) error
	Compute(snap *snapshot.Snapshot, cfg Config, previousCurrent snapshot.Reading) (float64, Diagnostics, error)
}

// NewEngine constructs the named strategy with its default parameters.
func NewEngine(name Strategy) (Engine, error) {
	switch name {
	case StrategyFuzzy:
		return NewFuzzy(DefaultFuzzyModel())
	case StrategyLinear:
		return NewLinear(), nil
	case StrategyDynamic:
		return NewDynamic(), nil
	case StrategyLearned:
		return NewLearned(), nil
	default:
		return nil, errors.New().WithData(ErrUnknownStrategy, name)
	}
}

// Strategies lists every built-in strategy.
func Strategies() []Strategy {
	return []Strategy{StrategyFuzzy, StrategyLinear, StrategyDynamic, StrategyLearned}
}

func requireInput(snap *snapshot.Snapshot, f snapshot.Field) (float64, error) {
	r := snap.Get(f)
	if !r.Present {
		return 0, errors.New().WithData(ErrMissingInput, f)
	}
	return r.Value, nil
}

func validateParam(cfg Config, name string, lo, hi float64) error {
	v, ok := cfg.Params[name]
	if !ok {
		return nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < lo || v > hi {
		return errors.New().WithData(ErrInvalidConfig, struct {
			Param string
			Value float64
		}{name, v})
	}
	return nil
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
