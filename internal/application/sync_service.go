package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrRateLimited is returned when a manual sync is triggered during the
// cooldown.
var ErrRateLimited = errors.New("rate limit exceeded")

// DefaultSyncCooldown is the minimum time between two manual syncs.
const DefaultSyncCooldown = 30 * time.Second

// SyncResult contains the result of a sync operation.
type SyncResult struct {
	PackagesAdded   int       `json:"packages_added"`
	PackagesRemoved int       `json:"packages_removed"`
	PackagesTotal   int       `json:"packages_total"`
	SyncedAt        time.Time `json:"synced_at"`
	NextScheduledAt time.Time `json:"next_scheduled_at,omitempty"`
}

// SyncService periodically pulls packages from remote storage into the
// registry, which indexes them on load.
type SyncService struct {
	registry *PackageRegistry
	interval time.Duration
	cooldown time.Duration
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// guards lastTrigger
	triggerMu   sync.Mutex
	lastTrigger time.Time

	// serializes sync runs
	runMu sync.Mutex

	nextMu   sync.RWMutex
	nextSync time.Time
}

// NewSyncService creates a new sync service. A non-positive cooldown uses
// DefaultSyncCooldown.
func NewSyncService(registry *PackageRegistry, interval, cooldown time.Duration, logger *slog.Logger) *SyncService {
	if cooldown <= 0 {
		cooldown = DefaultSyncCooldown
	}
	return &SyncService{
		registry: registry,
		interval: interval,
		cooldown: cooldown,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sync scheduler.
func (s *SyncService) Start(ctx context.Context) {
	s.logger.Info("starting sync service", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

func (s *SyncService) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.setNextSync(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("sync service stopped")
			return
		case <-ticker.C:
			s.logger.Debug("scheduled sync triggered")
			if _, err := s.sync(ctx); err != nil {
				s.logger.Error("sync failed", "error", err)
			}
			s.setNextSync(time.Now().Add(s.interval))
		}
	}
}

// Stop gracefully stops the sync service. It is safe to call more than once.
func (s *SyncService) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping sync service")
		close(s.stopCh)
	})
	s.wg.Wait()
}

// TriggerSync runs a sync now. It returns ErrRateLimited when the previous
// manual sync is less than the cooldown ago.
func (s *SyncService) TriggerSync(ctx context.Context) (SyncResult, error) {
	s.triggerMu.Lock()
	if !s.lastTrigger.IsZero() && time.Since(s.lastTrigger) < s.cooldown {
		s.triggerMu.Unlock()
		return SyncResult{}, ErrRateLimited
	}
	s.lastTrigger = time.Now()
	s.triggerMu.Unlock()

	return s.sync(ctx)
}

func (s *SyncService) sync(ctx context.Context) (SyncResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	stats, err := s.registry.Sync(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	return SyncResult{
		PackagesAdded:   stats.Added,
		PackagesRemoved: stats.Removed,
		PackagesTotal:   s.registry.PackageCount(),
		SyncedAt:        time.Now(),
		NextScheduledAt: s.NextSync(),
	}, nil
}

func (s *SyncService) setNextSync(t time.Time) {
	s.nextMu.Lock()
	defer s.nextMu.Unlock()
	s.nextSync = t
}

// NextSync returns the time of the next scheduled sync.
func (s *SyncService) NextSync() time.Time {
	s.nextMu.RLock()
	defer s.nextMu.RUnlock()
	return s.nextSync
}

// Interval returns the sync interval.
func (s *SyncService) Interval() time.Duration {
	return s.interval
}
