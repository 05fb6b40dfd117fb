package db

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultCleanupInterval = 1 * time.Hour
)

// CleanupService prunes messages older than the retention period.
type CleanupService struct {
	messages  *MessageRepository
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

func NewCleanupService(messages *MessageRepository, retention, interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &CleanupService{
		messages:  messages,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}
}

func (s *CleanupService) Start(ctx context.Context) {
	if s.retention <= 0 {
		slog.Info("message retention disabled", "component", "cleanup")
		return
	}
	slog.Info("starting message cleanup service", "component", "cleanup", "interval", s.interval, "retention", s.retention)

	s.runCleanup()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping message cleanup service", "component", "cleanup")
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

func (s *CleanupService) runCleanup() int64 {
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.messages.DeleteOlderThan(cutoff)
	if err != nil {
		slog.Error("error deleting expired messages", "component", "cleanup", "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("deleted expired messages", "component", "cleanup", "count", deleted, "cutoff", cutoff)
	}
	return deleted
}
