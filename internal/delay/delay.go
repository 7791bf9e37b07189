// Package delay derives the startup delay from the configured descent
// speed.
package delay

import (
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/sawctl/internal/codec"
	"codeberg.org/mutker/sawctl/internal/errors"
	"codeberg.org/mutker/sawctl/internal/logger"
)

const (
	DefaultTargetDistance = 20.0 // mm
	DefaultMin            = 500 * time.Millisecond
	DefaultMax            = 30 * time.Second
	DefaultDelay          = 5 * time.Second
	DefaultCacheWindow    = 5 * time.Second
)

// Reader is the part of the register link the calculator needs.
type Reader interface {
	Read(addr, count uint16) ([]uint16, error)
}

// Config bounds the computed delay.
type Config struct {
	// TargetDistance is how far the head must travel before cutting
	// starts, in mm.
	TargetDistance float64
	Min            time.Duration
	Max            time.Duration
	// Default is returned when the speed cannot be read or is not positive.
	Default     time.Duration
	CacheWindow time.Duration
	// Register holds the commanded descent speed (sign-packed).
	Register uint16
}

func DefaultConfig() Config {
	return Config{
		TargetDistance: DefaultTargetDistance,
		Min:            DefaultMin,
		Max:            DefaultMax,
		Default:        DefaultDelay,
		CacheWindow:    DefaultCacheWindow,
		Register:       2051,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !(c.TargetDistance > 0) || math.IsInf(c.TargetDistance, 0) {
		return errFactory.WithData(ErrInvalidConfig, c.TargetDistance)
	}
	if c.Min < 0 || c.Max < c.Min {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Min time.Duration
			Max time.Duration
		}{c.Min, c.Max})
	}
	if c.Default < c.Min || c.Default > c.Max {
		return errFactory.WithData(ErrInvalidConfig, c.Default)
	}
	if c.CacheWindow < 0 {
		return errFactory.WithData(ErrInvalidConfig, c.CacheWindow)
	}
	return nil
}

// Calculator caches the last computed delay for CacheWindow.
type Calculator struct {
	cfg   Config
	link  Reader
	codec *codec.Codec
	log   logger.Logger
	now   func() time.Time

	mu       sync.Mutex
	cached   time.Duration
	cachedAt time.Time
	valid    bool
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Calculator) { c.log = log.With("delay") }
}

func New(cfg Config, link Reader, cd *codec.Codec, opts ...Option) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cd == nil {
		cd = codec.Default()
	}

	c := &Calculator{cfg: cfg, link: link, codec: cd, log: logger.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Delay returns the startup delay: TargetDistance / speed, in minutes,
// clamped to [Min, Max]. Failures fall back to Default and are not cached.
func (c *Calculator) Delay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.valid && now.Sub(c.cachedAt) < c.cfg.CacheWindow {
		return c.cached
	}

	values, err := c.link.Read(c.cfg.Register, 1)
	if err != nil {
		c.log.Warn().Err(err).Dur("default", c.cfg.Default).Msg("Descent speed read failed, using default delay")
		return c.cfg.Default
	}

	speed := c.codec.DecodeDescent(values[0])
	if speed <= 0 {
		c.log.Debug().Float64("speed", speed).Dur("default", c.cfg.Default).Msg("Descent speed not positive, using default delay")
		return c.cfg.Default
	}

	d := Compute(c.cfg, speed)
	c.cached, c.cachedAt, c.valid = d, now, true

	c.log.Debug().Float64("speed", speed).Dur("delay", d).Msg("Startup delay computed")
	return d
}

// Invalidate drops the cached value.
func (c *Calculator) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}

// Compute is the uncached formula for a positive speed in mm/min.
func Compute(cfg Config, speed float64) time.Duration {
	ms := cfg.TargetDistance / speed * 60000
	d := time.Duration(ms * float64(time.Millisecond))
	if ms >= float64(math.MaxInt64/int64(time.Millisecond)) {
		d = cfg.Max
	}
	if d < cfg.Min {
		return cfg.Min
	}
	if d > cfg.Max {
		return cfg.Max
	}
	return d
}
