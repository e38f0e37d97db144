package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ikkim/account-backend/internal/app/repository"
	"github.com/ikkim/account-backend/pkg/logger"
	"github.com/robfig/cron/v3"
)

const DefaultCleanupSchedule = "0 * * * *"

// CodeCleanupScheduler purges one-time codes older than the configured TTL.
type CodeCleanupScheduler struct {
	cron     *cron.Cron
	codeRepo repository.EmailCodeRepository
	schedule string
	ttl      time.Duration
	now      func() time.Time
}

func NewCodeCleanupScheduler(codeRepo repository.EmailCodeRepository, schedule string, ttl time.Duration) *CodeCleanupScheduler {
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}
	return &CodeCleanupScheduler{
		cron:     cron.New(),
		codeRepo: codeRepo,
		schedule: schedule,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Start registers the purge job. A non-positive TTL means codes never
// expire, so there is nothing to schedule.
func (s *CodeCleanupScheduler) Start() error {
	if s.ttl <= 0 {
		return fmt.Errorf("code cleanup requires a positive TTL, got %s", s.ttl)
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(); err != nil {
			logger.Error("Failed to purge expired email codes from scheduler", err)
		}
	})
	if err != nil {
		logger.Error("Failed to add cron job for email code cleanup", err, map[string]interface{}{
			"schedule": s.schedule,
		})
		return err
	}

	s.cron.Start()
	logger.Info("Email code cleanup scheduler started", map[string]interface{}{
		"schedule": s.schedule,
		"ttl":      s.ttl.String(),
	})
	return nil
}

// RunOnce deletes every code created before now minus the TTL.
func (s *CodeCleanupScheduler) RunOnce() (int64, error) {
	cutoff := s.now().Add(-s.ttl)
	deleted, err := s.codeRepo.DeleteCreatedBefore(cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		logger.Info("Purged expired email codes", map[string]interface{}{
			"count":  deleted,
			"cutoff": cutoff,
		})
	}
	return deleted, nil
}

// Stop waits for a running purge to finish or ctx to expire.
func (s *CodeCleanupScheduler) Stop(ctx context.Context) {
	logger.Info("Stopping email code cleanup scheduler...", nil)
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	logger.Info("Email code cleanup scheduler stopped", nil)
}
