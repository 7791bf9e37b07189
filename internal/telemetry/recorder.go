package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/sawctl/internal/logger"
	"codeberg.org/mutker/sawctl/internal/state"
)

// Source is the published slot the recorder polls.
type Source interface {
	View() state.View
}

// Recorder copies each newly published snapshot into a Collector.
type Recorder struct {
	src      Source
	sink     Collector
	interval time.Duration
	log      logger.Logger
	lastSeq  uint64
	failures int
}

func NewRecorder(src Source, sink Collector, interval time.Duration, log logger.Logger) *Recorder {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Recorder{src: src, sink: sink, interval: interval, log: log}
}

// Run polls until ctx is done. Record failures are logged and counted,
// never fatal.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Debug().Int("failures", r.failures).Msg("Telemetry recorder stopped")
			return
		case <-ticker.C:
			if err := r.Poll(ctx); err != nil {
				r.failures++
				r.log.Warn().Err(err).Msg("Failed to record telemetry")
			}
		}
	}
}

// Poll records the current view if it carries a snapshot not seen before.
func (r *Recorder) Poll(ctx context.Context) error {
	v := r.src.View()
	if v.Seq == r.lastSeq {
		return nil
	}

	rec := NewRecord(v)
	if rec == nil {
		return nil
	}

	r.lastSeq = v.Seq
	return r.sink.Record(ctx, rec)
}
