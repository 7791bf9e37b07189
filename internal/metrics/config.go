package metrics

import (
	"net"

	"codeberg.org/mutker/sawctl/internal/errors"
)

const defaultPath = "/metrics"

// Config controls the exporter. An empty Listen disables it.
type Config struct {
	Listen string
	Path   string
}

func DefaultConfig() Config {
	return Config{
		Path: defaultPath,
	}
}

func (c Config) Enabled() bool {
	return c.Listen != ""
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Enabled() {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errFactory.Wrap(ErrInvalidListen, err)
	}
	if c.Path == "" || c.Path[0] != '/' {
		return errFactory.WithData(ErrInvalidConfig, c.Path)
	}
	return nil
}
