package checkpoint

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	kgraph "github.com/kgraph-ai/kgraph"
	"github.com/kgraph-ai/kgraph/log"
)

// Sweeper prunes aged checkpoints on a cron schedule. Threads register as
// they are used; each sweep prunes every known thread.
type Sweeper struct {
	store  kgraph.CheckpointStore
	maxAge time.Duration
	cron   *cron.Cron
	logger log.Logger

	threads func() []string
}

// SweeperOptions configuration for the background sweep.
type SweeperOptions struct {
	// Schedule in cron syntax, e.g. "@every 10m".
	Schedule string
	// MaxAge passed to Prune on every sweep.
	MaxAge time.Duration
	// Threads supplies the thread ids to prune on each sweep.
	Threads func() []string
	Logger  log.Logger
}

// NewSweeper creates a sweeper over the store. Call Start to begin sweeping.
func NewSweeper(store kgraph.CheckpointStore, opts SweeperOptions) (*Sweeper, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	schedule := opts.Schedule
	if schedule == "" {
		schedule = "@every 10m"
	}

	s := &Sweeper{
		store:   store,
		maxAge:  opts.MaxAge,
		cron:    cron.New(),
		logger:  logger,
		threads: opts.Threads,
	}

	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the background schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep prunes every known thread once and returns the removed count.
func (s *Sweeper) Sweep(ctx context.Context) int {
	if s.threads == nil {
		return 0
	}

	total := 0
	for _, threadID := range s.threads() {
		removed, err := s.store.Prune(ctx, threadID, s.maxAge)
		if err != nil {
			s.logger.Error("failed to prune thread %s: %v", threadID, err)
			continue
		}
		total += removed
	}
	if total > 0 {
		s.logger.Info("checkpoint sweep removed %d checkpoints", total)
	}
	return total
}
