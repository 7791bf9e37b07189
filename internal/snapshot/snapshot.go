// Package snapshot holds the raw register frame read each cycle and the
// processed snapshot of physical quantities mapped from it.
package snapshot

import (
	"math"
	"sort"
	"time"
)

// Field names one physical quantity in a processed snapshot.
type Field string

const (
	HeadHeight         Field = "head_height"
	CuttingCurrent     Field = "cutting_current"
	DescentCurrent     Field = "descent_current"
	BladeDeviation     Field = "blade_deviation"
	DescentState       Field = "descent_state"
	CutState           Field = "cut_state"
	CuttingSpeed       Field = "cutting_speed"
	DescentSpeed       Field = "descent_speed"
	AmbientTemperature Field = "ambient_temperature"
	MotorTemperature   Field = "motor_temperature"
	VibrationX         Field = "vibration_x"
	VibrationY         Field = "vibration_y"
	VibrationZ         Field = "vibration_z"
	VibrationFrequency Field = "vibration_frequency"
	HydraulicPressure  Field = "hydraulic_pressure"
)

// Reading is a measured value or an explicit absence. The zero Reading is
// absent.
type Reading struct {
	Value   float64
	Present bool
}

// Measured returns a present reading, or an absent one when v is not finite.
func Measured(v float64) Reading {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Reading{}
	}
	return Reading{Value: v, Present: true}
}

// Absent returns the absence marker.
func Absent() Reading {
	return Reading{}
}

// Frame is a burst of consecutive registers starting at Start, as captured
// by one link read.
type Frame struct {
	start      uint16
	values     []uint16
	capturedAt time.Time
}

// NewFrame captures a copy of values.
func NewFrame(start uint16, values []uint16, capturedAt time.Time) Frame {
	v := make([]uint16, len(values))
	copy(v, values)
	return Frame{start: start, values: v, capturedAt: capturedAt}
}

func (f Frame) Start() uint16         { return f.start }
func (f Frame) Len() int              { return len(f.values) }
func (f Frame) CapturedAt() time.Time { return f.capturedAt }

// Register returns the word at absolute address addr.
func (f Frame) Register(addr uint16) (uint16, bool) {
	if addr < f.start {
		return 0, false
	}
	i := int(addr - f.start)
	if i >= len(f.values) {
		return 0, false
	}
	return f.values[i], true
}

// Offset returns the word at offset i from the start of the frame.
func (f Frame) Offset(i uint16) (uint16, bool) {
	if int(i) >= len(f.values) {
		return 0, false
	}
	return f.values[i], true
}

// Snapshot is an immutable set of readings captured at one instant.
type Snapshot struct {
	readings   map[Field]Reading
	capturedAt time.Time
}

// New builds a snapshot from readings. Non-finite values are stored as
// absent.
func New(capturedAt time.Time, readings map[Field]Reading) *Snapshot {
	m := make(map[Field]Reading, len(readings))
	for f, r := range readings {
		if r.Present {
			r = Measured(r.Value)
		}
		m[f] = r
	}
	return &Snapshot{readings: m, capturedAt: capturedAt}
}

// Get returns the reading for f, absent if f was never mapped.
func (s *Snapshot) Get(f Field) Reading {
	if s == nil {
		return Reading{}
	}
	return s.readings[f]
}

func (s *Snapshot) CapturedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.capturedAt
}

// Fields returns the mapped field names in lexical order.
func (s *Snapshot) Fields() []Field {
	if s == nil {
		return nil
	}
	fields := make([]Field, 0, len(s.readings))
	for f := range s.readings {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

// Values returns a copy of the present readings.
func (s *Snapshot) Values() map[Field]float64 {
	if s == nil {
		return nil
	}
	out := make(map[Field]float64, len(s.readings))
	for f, r := range s.readings {
		if r.Present {
			out[f] = r.Value
		}
	}
	return out
}
