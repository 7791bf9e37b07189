package snapshot

import (
	"math"

	"codeberg.org/mutker/sawctl/internal/codec"
	"codeberg.org/mutker/sawctl/internal/errors"
)

// Kind selects how a register word is decoded.
type Kind int

const (
	// KindScaled is raw * Factor, optionally two's complement.
	KindScaled Kind = iota
	// KindCutting is decoded by the cutting speed codec.
	KindCutting
	// KindDescent is decoded by the sign-packed descent speed codec.
	KindDescent
)

const (
	// SentinelUnsigned marks a missing unsigned sensor reading.
	SentinelUnsigned uint16 = 0xFFFF
	// SentinelSigned marks a missing signed sensor reading (int16 minimum).
	SentinelSigned uint16 = 0x8000
)

// FieldSpec maps one word of the telemetry block to a field.
type FieldSpec struct {
	Field  Field
	Offset uint16
	Kind   Kind
	Factor float64
	Signed bool
	// Min and Max bound plausible values; anything outside maps to absent.
	Min float64
	Max float64
}

// DefaultFields returns the reference telemetry block layout.
func DefaultFields() []FieldSpec {
	return []FieldSpec{
		{Field: HeadHeight, Offset: 0, Factor: 0.1, Min: 0, Max: 1000},
		{Field: CuttingCurrent, Offset: 1, Factor: 0.1, Min: 0, Max: 200},
		{Field: DescentCurrent, Offset: 2, Factor: 0.1, Min: 0, Max: 200},
		{Field: BladeDeviation, Offset: 3, Factor: 0.01, Signed: true, Min: -50, Max: 50},
		{Field: DescentState, Offset: 4, Factor: 1, Min: 0, Max: 16},
		{Field: CutState, Offset: 5, Factor: 1, Min: 0, Max: 16},
		{Field: CuttingSpeed, Offset: 6, Kind: KindCutting, Min: 0, Max: 500},
		{Field: DescentSpeed, Offset: 7, Kind: KindDescent, Min: -500, Max: 500},
		{Field: AmbientTemperature, Offset: 8, Factor: 0.1, Signed: true, Min: -40, Max: 125},
		{Field: MotorTemperature, Offset: 9, Factor: 0.1, Signed: true, Min: -40, Max: 200},
		{Field: VibrationX, Offset: 10, Factor: 0.01, Min: 0, Max: 100},
		{Field: VibrationY, Offset: 11, Factor: 0.01, Min: 0, Max: 100},
		{Field: VibrationZ, Offset: 12, Factor: 0.01, Min: 0, Max: 100},
		{Field: VibrationFrequency, Offset: 13, Factor: 0.1, Min: 0, Max: 5000},
		{Field: HydraulicPressure, Offset: 14, Factor: 0.1, Min: 0, Max: 400},
	}
}

// WithOffsets returns a copy of specs with offsets overridden by name.
func WithOffsets(specs []FieldSpec, offsets map[string]uint16) ([]FieldSpec, error) {
	out := make([]FieldSpec, len(specs))
	copy(out, specs)

	index := make(map[Field]int, len(out))
	for i, s := range out {
		index[s.Field] = i
	}

	for name, off := range offsets {
		i, ok := index[Field(name)]
		if !ok {
			return nil, errors.New().WithData(ErrUnknownField, name)
		}
		out[i].Offset = off
	}

	return out, nil
}

// Mapper turns a raw frame into a processed snapshot. It never fails: a
// word that is missing, a sentinel, or out of range maps to absent.
type Mapper struct {
	codec *codec.Codec
	specs []FieldSpec
	span  uint16
}

// NewMapper validates specs once.
func NewMapper(c *codec.Codec, specs []FieldSpec) (*Mapper, error) {
	errFactory := errors.New()

	seen := make(map[Field]bool, len(specs))
	var span uint16
	for _, s := range specs {
		if seen[s.Field] {
			return nil, errFactory.WithData(ErrDuplicateField, s.Field)
		}
		seen[s.Field] = true

		if s.Kind == KindScaled && !(s.Factor > 0) {
			return nil, errFactory.WithData(ErrInvalidSpec, s.Field)
		}
		if s.Max < s.Min {
			return nil, errFactory.WithData(ErrInvalidSpec, s.Field)
		}
		if s.Offset+1 > span {
			span = s.Offset + 1
		}
	}

	out := make([]FieldSpec, len(specs))
	copy(out, specs)

	return &Mapper{codec: c, specs: out, span: span}, nil
}

// Span is the number of registers a frame must carry to cover every field.
func (m *Mapper) Span() uint16 {
	return m.span
}

// Map decodes every field of f.
func (m *Mapper) Map(f Frame) *Snapshot {
	readings := make(map[Field]Reading, len(m.specs))
	for _, s := range m.specs {
		readings[s.Field] = m.decode(s, f)
	}
	return &Snapshot{readings: readings, capturedAt: f.CapturedAt()}
}

func (m *Mapper) decode(s FieldSpec, f Frame) Reading {
	raw, ok := f.Offset(s.Offset)
	if !ok {
		return Reading{}
	}

	var v float64
	switch s.Kind {
	case KindCutting:
		v = m.codec.DecodeCutting(raw)
	case KindDescent:
		v = m.codec.DecodeDescent(raw)
	default:
		if s.Signed && raw == SentinelSigned || !s.Signed && raw == SentinelUnsigned {
			return Reading{}
		}
		v = codec.Scale(raw, s.Factor, s.Signed)
	}

	if math.IsNaN(v) || math.IsInf(v, 0) || v < s.Min || v > s.Max {
		return Reading{}
	}

	return Reading{Value: v, Present: true}
}
