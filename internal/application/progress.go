package application

import (
	"log/slog"
	"sync/atomic"
)

// BuildProgress implements the Progress port. It counts processed records,
// logs every step records and can be cancelled from another goroutine.
type BuildProgress struct {
	total     int64
	step      int64
	processed atomic.Int64
	cancelled atomic.Bool
	logger    *slog.Logger
}

// NewBuildProgress creates a progress for a build over total records. A
// non-positive step disables logging.
func NewBuildProgress(total, step int64, logger *slog.Logger) *BuildProgress {
	return &BuildProgress{total: total, step: step, logger: logger}
}

// IsActive reports whether the build should continue.
func (p *BuildProgress) IsActive() bool {
	return !p.cancelled.Load()
}

// Advance records n processed records.
func (p *BuildProgress) Advance(n int) {
	after := p.processed.Add(int64(n))
	before := after - int64(n)
	if p.logger == nil || p.step <= 0 || before/p.step == after/p.step {
		return
	}
	p.logger.Info("indexing progress", "processed", after, "total", p.total)
}

// Cancel stops the build at the next record.
func (p *BuildProgress) Cancel() {
	p.cancelled.Store(true)
}

// Processed returns the number of processed records.
func (p *BuildProgress) Processed() int64 {
	return p.processed.Load()
}
