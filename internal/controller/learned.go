package controller

import (
	"math"
	"sync"

	"codeberg.org/mutker/sawctl/internal/snapshot"
	"gonum.org/v1/gonum/stat"
)

// Learned parameters, in addition to the proportional ones.
const (
	ParamSamples    = "samples"
	ParamMinSamples = "min_samples"
)

const (
	defaultSamples    = 50
	defaultMinSamples = 10
	maxSamples        = 10000
)

// Learned fits current = alpha + beta * cutting_speed over recent cycles
// and asks for the speed that would draw the target current. Until enough
// varied samples exist it behaves like Linear.
type Learned struct {
	mu       sync.Mutex
	speeds   []float64
	currents []float64
}

func NewLearned() *Learned { return &Learned{} }

func (*Learned) Name() Strategy { return StrategyLearned }

func (*Learned) Validate(cfg Config) error {
	if err := validateProportional(cfg); err != nil {
		return err
	}
	if err := validateParam(cfg, ParamSamples, 2, maxSamples); err != nil {
		return err
	}
	if err := validateParam(cfg, ParamMinSamples, 2, maxSamples); err != nil {
		return err
	}
	return validateParam(cfg, ParamCuttingGain, 1e-3, 1)
}

func (l *Learned) Compute(snap *snapshot.Snapshot, cfg Config, _ snapshot.Reading) (float64, Diagnostics, error) {
	current, err := requireInput(snap, snapshot.CuttingCurrent)
	if err != nil {
		return 0, nil, err
	}
	speed, err := requireInput(snap, snapshot.CuttingSpeed)
	if err != nil {
		return 0, nil, err
	}

	p := proportionalParams(cfg)
	alpha, beta, n := l.observe(speed, current, cfg)

	diag := Diagnostics{"samples": float64(n)}

	var coef float64
	if n >= int(cfg.Param(ParamMinSamples, defaultMinSamples)) && beta > 0 && speed > 0 {
		desired := (p.target - alpha) / beta
		gain := cfg.Param(ParamCuttingGain, DefaultGain)
		coef = (desired/speed - 1) / gain
		diag["alpha"] = alpha
		diag["beta"] = beta
		diag["desired_speed"] = desired
	} else {
		coef = (p.target - current) / p.currentSpan
		diag["fallback"] = 1
	}
	coef -= p.deviationWeight * deviationMagnitude(snap) / p.deviationSpan

	if math.IsNaN(coef) || math.IsInf(coef, 0) {
		return coef, diag, nil
	}
	coef = clampUnit(coef)
	diag["coefficient"] = coef

	return coef, diag, nil
}

// observe records one sample and returns the fit over the window. beta is
// zero while the speeds carry no variance.
func (l *Learned) observe(speed, current float64, cfg Config) (alpha, beta float64, n int) {
	window := int(cfg.Param(ParamSamples, defaultSamples))

	l.mu.Lock()
	defer l.mu.Unlock()

	l.speeds = append(l.speeds, speed)
	l.currents = append(l.currents, current)
	if over := len(l.speeds) - window; over > 0 {
		l.speeds = append(l.speeds[:0], l.speeds[over:]...)
		l.currents = append(l.currents[:0], l.currents[over:]...)
	}

	n = len(l.speeds)
	if n < 2 || stat.Variance(l.speeds, nil) == 0 {
		return 0, 0, n
	}

	alpha, beta = stat.LinearRegression(l.speeds, l.currents, nil, false)
	return alpha, beta, n
}
