package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultRefreshSchedule rebuilds the hierarchy every five minutes
const DefaultRefreshSchedule = "@every 5m"

// Refresher periodically reloads the department hierarchy. Bundles are only
// dropped when the reloaded structure differs from the one in service.
type Refresher struct {
	cron       *cron.Cron
	authorizer *Authorizer
	timeout    time.Duration
	logger     logrus.FieldLogger
}

// NewRefresher schedules refreshes on a cron spec such as "@every 5m" or
// "*/10 * * * *"
func NewRefresher(a *Authorizer, schedule string, timeout time.Duration, logger logrus.FieldLogger) (*Refresher, error) {
	if schedule == "" {
		schedule = DefaultRefreshSchedule
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := &Refresher{
		cron:       cron.New(),
		authorizer: a,
		timeout:    timeout,
		logger:     logger.WithFields(logrus.Fields{"component": "authz_refresher", "schedule": schedule}),
	}
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("failed to schedule hierarchy refresh: %w", err)
	}
	return r, nil
}

// Start begins the schedule in the background
func (r *Refresher) Start() {
	r.cron.Start()
	r.logger.Info("hierarchy refresher started")
}

// Stop halts the schedule. The returned context is done when a running
// refresh has finished.
func (r *Refresher) Stop() context.Context {
	return r.cron.Stop()
}

func (r *Refresher) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if _, err := r.Refresh(ctx); err != nil {
		r.logger.WithError(err).Warn("hierarchy refresh failed")
	}
}

// Refresh reloads the hierarchy now and reports whether its structure
// changed
func (r *Refresher) Refresh(ctx context.Context) (bool, error) {
	provider := r.authorizer.provider
	previous := provider.Current()

	current, err := provider.Rebuild(ctx)
	if err != nil {
		return false, err
	}
	if previous != nil && previous.SameStructure(current) {
		return false, nil
	}

	r.logger.WithField("departments", current.Len()).Info("department structure changed, invalidating bundles")
	return true, r.authorizer.cache.InvalidateAll(ctx)
}
