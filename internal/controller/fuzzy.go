package controller

import (
	"math"

	"codeberg.org/mutker/sawctl/internal/errors"
	"codeberg.org/mutker/sawctl/internal/snapshot"
)

// Set is a trapezoidal membership function rising over [A, B], flat over
// [B, C] and falling over [C, D]. A == B opens the left shoulder and
// C == D the right one, so the set extends to infinity on that side.
type Set struct {
	A, B, C, D float64
}

// Triangle peaks at b.
func Triangle(a, b, c float64) Set {
	return Set{A: a, B: b, C: b, D: c}
}

// Trapezoid is flat between b and c.
func Trapezoid(a, b, c, d float64) Set {
	return Set{A: a, B: b, C: c, D: d}
}

// Degree returns the membership of x.
func (s Set) Degree(x float64) float64 {
	switch {
	case x >= s.B && x <= s.C:
		return 1
	case x < s.B:
		if s.A == s.B {
			return 1
		}
		if x <= s.A {
			return 0
		}
		return (x - s.A) / (s.B - s.A)
	default:
		if s.C == s.D {
			return 1
		}
		if x >= s.D {
			return 0
		}
		return (s.D - x) / (s.D - s.C)
	}
}

func (s Set) valid() bool {
	for _, v := range []float64{s.A, s.B, s.C, s.D} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return s.A <= s.B && s.B <= s.C && s.C <= s.D
}

// Input names a fuzzified quantity.
type Input string

const (
	InputCurrent   Input = "current"
	InputDeviation Input = "deviation"
	InputVibration Input = "vibration"
	InputTrend     Input = "trend"
)

// Level is a linguistic term of an input or of the output.
type Level string

const (
	VeryLow  Level = "very_low"
	Low      Level = "low"
	Ideal    Level = "ideal"
	High     Level = "high"
	VeryHigh Level = "very_high"
	Negative Level = "negative"
	Positive Level = "positive"
	Rising   Level = "rising"

	ReduceALot   Level = "reduce_a_lot"
	Reduce       Level = "reduce"
	NoChange     Level = "no_change"
	Increase     Level = "increase"
	IncreaseALot Level = "increase_a_lot"
)

// Term is one antecedent: Input is Level.
type Term struct {
	Input Input
	Level Level
}

// Rule fires Then with the minimum degree of its antecedents.
type Rule struct {
	If   []Term
	Then Level
}

// OutputSet pairs an output level with its membership function.
type OutputSet struct {
	Level Level
	Set   Set
}

// FuzzyModel is the complete rule base. Input sets are keyed by input then
// level; output sets are ordered.
type FuzzyModel struct {
	Inputs  map[Input]map[Level]Set
	Outputs []OutputSet
	Rules   []Rule
	// Samples is the resolution of the centroid over [-1, 1].
	Samples int
}

// DefaultFuzzyModel is the reference rule base. Current is in amperes,
// deviation in millimetres, vibration frequency in hertz and trend in
// amperes per cycle.
func DefaultFuzzyModel() FuzzyModel {
	rules := []Rule{}
	// Output per current level for negative, ideal and positive deviation.
	table := []struct {
		current Level
		out     [3]Level
	}{
		{VeryLow, [3]Level{Increase, IncreaseALot, Increase}},
		{Low, [3]Level{NoChange, Increase, NoChange}},
		{Ideal, [3]Level{Reduce, NoChange, Reduce}},
		{High, [3]Level{Reduce, Reduce, ReduceALot}},
		{VeryHigh, [3]Level{ReduceALot, ReduceALot, ReduceALot}},
	}
	for _, row := range table {
		for i, dev := range []Level{Negative, Ideal, Positive} {
			rules = append(rules, Rule{
				If:   []Term{{InputCurrent, row.current}, {InputDeviation, dev}},
				Then: row.out[i],
			})
		}
	}
	rules = append(rules,
		Rule{If: []Term{{InputVibration, High}}, Then: ReduceALot},
		Rule{If: []Term{{InputTrend, Rising}, {InputCurrent, High}}, Then: ReduceALot},
	)

	return FuzzyModel{
		Inputs: map[Input]map[Level]Set{
			InputCurrent: {
				VeryLow:  Trapezoid(0, 0, 6, 10),
				Low:      Triangle(6, 12, 18),
				Ideal:    Triangle(15, 19, 23),
				High:     Triangle(20, 25, 30),
				VeryHigh: Trapezoid(24, 30, 40, 40),
			},
			InputDeviation: {
				Negative: Trapezoid(-5, -5, -1.5, -0.3),
				Ideal:    Triangle(-0.6, 0, 0.6),
				Positive: Trapezoid(0.3, 1.5, 5, 5),
			},
			InputVibration: {
				High: Trapezoid(150, 300, 5000, 5000),
			},
			InputTrend: {
				Rising: Trapezoid(0.5, 3, 100, 100),
			},
		},
		Outputs: []OutputSet{
			{ReduceALot, Trapezoid(-1, -1, -0.75, -0.4)},
			{Reduce, Triangle(-0.7, -0.35, 0)},
			{NoChange, Triangle(-0.2, 0, 0.2)},
			{Increase, Triangle(0, 0.35, 0.7)},
			{IncreaseALot, Trapezoid(0.4, 0.75, 1, 1)},
		},
		Rules:   rules,
		Samples: 201,
	}
}

// Fuzzy is the Mamdani engine: min for AND, max for aggregation, centroid
// defuzzification. It keeps no state between calls.
type Fuzzy struct {
	model  FuzzyModel
	output map[Level]Set
}

// NewFuzzy checks the model once.
func NewFuzzy(model FuzzyModel) (*Fuzzy, error) {
	errFactory := errors.New()

	if model.Samples < 3 {
		return nil, errFactory.WithData(ErrInvalidConfig, "samples")
	}

	output := make(map[Level]Set, len(model.Outputs))
	for _, o := range model.Outputs {
		if !o.Set.valid() {
			return nil, errFactory.WithData(ErrInvalidConfig, o.Level)
		}
		output[o.Level] = o.Set
	}
	for input, sets := range model.Inputs {
		for level, s := range sets {
			if !s.valid() {
				return nil, errFactory.WithData(ErrInvalidConfig, string(input)+"."+string(level))
			}
		}
	}
	for _, r := range model.Rules {
		if _, ok := output[r.Then]; !ok {
			return nil, errFactory.WithData(ErrInvalidConfig, r.Then)
		}
		for _, t := range r.If {
			if _, ok := model.Inputs[t.Input][t.Level]; !ok {
				return nil, errFactory.WithData(ErrInvalidConfig, string(t.Input)+"."+string(t.Level))
			}
		}
	}

	return &Fuzzy{model: model, output: output}, nil
}

func (*Fuzzy) Name() Strategy { return StrategyFuzzy }

func (*Fuzzy) Validate(Config) error { return nil }

// Compute needs cutting current and blade deviation. Vibration frequency
// and the current trend only take part when present.
func (f *Fuzzy) Compute(snap *snapshot.Snapshot, _ Config, previousCurrent snapshot.Reading) (float64, Diagnostics, error) {
	current, err := requireInput(snap, snapshot.CuttingCurrent)
	if err != nil {
		return 0, nil, err
	}
	deviation, err := requireInput(snap, snapshot.BladeDeviation)
	if err != nil {
		return 0, nil, err
	}

	crisp := map[Input]float64{
		InputCurrent:   current,
		InputDeviation: deviation,
	}
	if v := snap.Get(snapshot.VibrationFrequency); v.Present {
		crisp[InputVibration] = v.Value
	}
	if previousCurrent.Present {
		crisp[InputTrend] = current - previousCurrent.Value
	}

	diag := Diagnostics{}
	degrees := make(map[Input]map[Level]float64, len(crisp))
	for input, x := range crisp {
		degrees[input] = make(map[Level]float64, len(f.model.Inputs[input]))
		for level, s := range f.model.Inputs[input] {
			d := s.Degree(x)
			degrees[input][level] = d
			diag[string(input)+"."+string(level)] = d
		}
	}

	strength := make(map[Level]float64, len(f.output))
	for _, r := range f.model.Rules {
		w := 1.0
		for _, t := range r.If {
			d, ok := degrees[t.Input][t.Level]
			if !ok {
				w = 0
				break
			}
			w = math.Min(w, d)
		}
		strength[r.Then] = math.Max(strength[r.Then], w)
	}
	for _, o := range f.model.Outputs {
		diag["out."+string(o.Level)] = strength[o.Level]
	}

	coef := f.centroid(strength)
	diag["coefficient"] = coef

	return coef, diag, nil
}

// centroid samples the clipped, max-aggregated output over [-1, 1]. When no
// rule fires the result is zero.
func (f *Fuzzy) centroid(strength map[Level]float64) float64 {
	n := f.model.Samples
	var num, den float64
	for i := 0; i < n; i++ {
		x := -1 + 2*float64(i)/float64(n-1)
		var mu float64
		for _, o := range f.model.Outputs {
			mu = math.Max(mu, math.Min(strength[o.Level], o.Set.Degree(x)))
		}
		num += x * mu
		den += mu
	}
	if den == 0 {
		return 0
	}
	return clampUnit(num / den)
}
