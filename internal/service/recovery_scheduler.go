package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type staleJobRecoverer interface {
	RecoverPendingJobs(ctx context.Context) (int, error)
}

// RecoveryScheduler periodically re-enqueues generation jobs whose delivery
// was lost, for example because the process crashed mid-step.
type RecoveryScheduler struct {
	engine    *cron.Cron
	recoverer staleJobRecoverer
	spec      string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewRecoveryScheduler builds a scheduler for spec, a robfig/cron expression
// such as "@every 1m".
func NewRecoveryScheduler(recoverer staleJobRecoverer, spec string, logger *zap.Logger) *RecoveryScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spec == "" {
		spec = "@every 1m"
	}
	return &RecoveryScheduler{
		engine:    cron.New(cron.WithLocation(time.UTC)),
		recoverer: recoverer,
		spec:      spec,
		timeout:   30 * time.Second,
		logger:    logger,
	}
}

// Start registers the sweep and starts the cron engine.
func (s *RecoveryScheduler) Start() error {
	if _, err := s.engine.AddFunc(s.spec, s.sweep); err != nil {
		return fmt.Errorf("register recovery sweep %q: %w", s.spec, err)
	}
	s.engine.Start()
	s.logger.Sugar().Infow("job recovery scheduler started", "spec", s.spec)
	return nil
}

// Stop halts the engine and waits for a running sweep to finish.
func (s *RecoveryScheduler) Stop() {
	<-s.engine.Stop().Done()
}

func (s *RecoveryScheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.recoverer.RecoverPendingJobs(ctx); err != nil {
		s.logger.Sugar().Warnw("job recovery sweep failed", "error", err)
	}
}
