package extract

import (
	"context"
	"fmt"

	robfigcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule flushes dirty conversations every ten minutes.
const DefaultSchedule = "*/10 * * * *"

// Scheduler flushes the extraction service on a cron schedule.
type Scheduler struct {
	service *Service
	cron    *robfigcron.Cron
	logger  *zap.Logger
}

// NewScheduler wires a flush of the service to the given cron expression
// (standard five-field syntax, or descriptors like "@hourly").
func NewScheduler(service *Service, schedule string, logger *zap.Logger) (*Scheduler, error) {
	if service == nil {
		return nil, fmt.Errorf("an extraction service is required")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}

	s := &Scheduler{
		service: service,
		cron:    robfigcron.New(),
		logger:  logger,
	}

	if _, err := s.cron.AddFunc(schedule, s.flush); err != nil {
		return nil, fmt.Errorf("invalid extraction schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Start begins the schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for an in-flight flush to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) flush() {
	results := s.service.Flush(context.Background())
	if len(results) > 0 {
		s.logger.Info("scheduled extraction flush",
			zap.Int("conversations", len(results)),
		)
	}
}
