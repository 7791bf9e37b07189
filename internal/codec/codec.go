// Package codec converts between engineering units and raw register words.
package codec

import (
	"math"

	"codeberg.org/mutker/sawctl/internal/errors"
)

const (
	// DefaultCuttingStep is the cutting speed represented by one register step.
	DefaultCuttingStep = 0.0754
	// DefaultDescentStep is the descent speed represented by one register step.
	DefaultDescentStep = 0.06

	signBit       = 0x8000
	magnitudeMask = 0x7FFF
	descentOrigin = 32768
)

// SpeedCommand is the only thing ever written back to the link.
type SpeedCommand struct {
	Register uint16
	Value    uint16
}

// Codec holds the calibration constants of one machine.
type Codec struct {
	cuttingStep float64
	descentStep float64
}

// New returns a Codec with the given per-step constants.
func New(cuttingStep, descentStep float64) (*Codec, error) {
	errFactory := errors.New()
	if !(cuttingStep > 0) || !(descentStep > 0) {
		return nil, errFactory.WithData(ErrInvalidStep, struct {
			Cutting float64
			Descent float64
		}{cuttingStep, descentStep})
	}

	return &Codec{cuttingStep: cuttingStep, descentStep: descentStep}, nil
}

// Default returns a Codec using the reference scale factors.
func Default() *Codec {
	return &Codec{cuttingStep: DefaultCuttingStep, descentStep: DefaultDescentStep}
}

func (c *Codec) CuttingStep() float64 { return c.cuttingStep }
func (c *Codec) DescentStep() float64 { return c.descentStep }

// MaxCutting is the largest cutting speed a register can carry.
func (c *Codec) MaxCutting() float64 {
	return math.MaxUint16 * c.cuttingStep
}

// MaxDescent is the largest descent magnitude the 15-bit field can carry.
func (c *Codec) MaxDescent() float64 {
	return magnitudeMask * c.descentStep
}

// EncodeCutting returns ceil(speed / step).
func (c *Codec) EncodeCutting(speed float64) (uint16, error) {
	errFactory := errors.New()
	if math.IsNaN(speed) || math.IsInf(speed, 0) {
		return 0, errFactory.WithData(ErrNotFinite, speed)
	}

	raw := math.Ceil(speed / c.cuttingStep)
	if raw < 0 || raw > math.MaxUint16 {
		return 0, errFactory.WithData(ErrNotEncodable, speed)
	}

	return uint16(raw), nil
}

// DecodeCutting returns raw * step.
func (c *Codec) DecodeCutting(raw uint16) float64 {
	return float64(raw) * c.cuttingStep
}

// EncodeDescent packs a signed descent speed. The base word is
// ceil(speed / -step + 32768); its low 15 bits carry the magnitude field
// and bit 15 is set when speed >= 0.
func (c *Codec) EncodeDescent(speed float64) (uint16, error) {
	errFactory := errors.New()
	if math.IsNaN(speed) || math.IsInf(speed, 0) {
		return 0, errFactory.WithData(ErrNotFinite, speed)
	}

	base := math.Ceil(speed/-c.descentStep + descentOrigin)
	// speed >= 0 keeps base in [1, 32768]; speed < 0 keeps it in [32769, 65535].
	if base < 1 || base > math.MaxUint16 {
		return 0, errFactory.WithData(ErrNotEncodable, speed)
	}

	raw := uint16(base) & magnitudeMask
	if speed >= 0 {
		raw |= signBit
	}

	return raw, nil
}

// DecodeDescent is the inverse of EncodeDescent: it rebuilds the base word
// from the sign bit and magnitude field and returns (base - 32768) * -step.
// A raw zero decodes to zero.
func (c *Codec) DecodeDescent(raw uint16) float64 {
	if raw == 0 {
		return 0
	}

	low := int(raw & magnitudeMask)
	var base int
	if raw&signBit != 0 {
		base = low
		if base == 0 {
			base = descentOrigin
		}
	} else {
		base = low + descentOrigin
	}

	return float64(base-descentOrigin) * -c.descentStep
}

// DescentSign reports the sign flag of a packed descent word.
func DescentSign(raw uint16) bool {
	return raw&signBit != 0
}

// CuttingCommand encodes a cutting speed for register addr.
func (c *Codec) CuttingCommand(addr uint16, speed float64) (SpeedCommand, error) {
	v, err := c.EncodeCutting(speed)
	if err != nil {
		return SpeedCommand{}, err
	}
	return SpeedCommand{Register: addr, Value: v}, nil
}

// DescentCommand encodes a descent speed for register addr.
func (c *Codec) DescentCommand(addr uint16, speed float64) (SpeedCommand, error) {
	v, err := c.EncodeDescent(speed)
	if err != nil {
		return SpeedCommand{}, err
	}
	return SpeedCommand{Register: addr, Value: v}, nil
}

// Scale decodes a plain scaled register: raw * factor, reading raw as
// two's complement when signed is set.
func Scale(raw uint16, factor float64, signed bool) float64 {
	if signed {
		return float64(int16(raw)) * factor
	}
	return float64(raw) * factor
}
