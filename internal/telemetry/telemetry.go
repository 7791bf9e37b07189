// Package telemetry is the storage loop: it persists the published
// snapshots, with their state and cut session, to a local sqlite database.
package telemetry

import (
	"context"

	"codeberg.org/mutker/sawctl/internal/errors"
	"codeberg.org/mutker/sawctl/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
}

type noopCollector struct{}

func (noopCollector) Record(context.Context, *Record) error { return nil }
func (noopCollector) Close() error                          { return nil }

// NewService returns the collector for cfg. A disabled config yields a
// collector that records nothing.
func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Info().Msg("Telemetry storage disabled")
		return noopCollector{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return newService(repo, cfg), nil
}

func newService(repo Repository, cfg Config) *service {
	return &service{repo: repo, cfg: cfg}
}

func (s *service) Record(ctx context.Context, rec *Record) error {
	errFactory := errors.New()

	if rec == nil {
		return errFactory.New(ErrInvalidRecord)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Record(rec); err != nil {
			return errFactory.Wrap(ErrCollection, err)
		}
	}

	return nil
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	return nil
}
