package service

import (
	"context"
	"sync"
	"time"

	apprepository "github.com/sifan077/shortlink/internal/app/repository"
	"go.uber.org/zap"
)

const (
	defaultPruneInterval  = 10 * time.Minute
	defaultDedupRetention = 24 * time.Hour
)

// AppliedClickPruner periodically forgets applied click IDs older than the retention window.
// Retention must outlast any redelivery, otherwise a late duplicate would be counted twice.
type AppliedClickPruner struct {
	logger    *zap.Logger
	ledger    apprepository.ClickLedger
	retention time.Duration
	interval  time.Duration
	stopChan  chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	now       func() time.Time
}

// NewAppliedClickPruner creates a new pruner. Zero durations fall back to defaults.
func NewAppliedClickPruner(logger *zap.Logger, ledger apprepository.ClickLedger, retention, interval time.Duration) *AppliedClickPruner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention <= 0 {
		retention = defaultDedupRetention
	}
	if interval <= 0 {
		interval = defaultPruneInterval
	}
	return &AppliedClickPruner{
		logger:    logger,
		ledger:    ledger,
		retention: retention,
		interval:  interval,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start begins periodic pruning.
func (p *AppliedClickPruner) Start() {
	go p.run()
}

// Stop stops the periodic pruning and waits for the loop to exit.
func (p *AppliedClickPruner) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	<-p.done
}

func (p *AppliedClickPruner) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.prune(context.Background())
		case <-p.stopChan:
			p.logger.Info("applied click pruner stopped")
			return
		}
	}
}

func (p *AppliedClickPruner) prune(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, defaultStoreTimeout)
	defer cancel()

	before := p.now().UTC().Add(-p.retention)
	affected, err := p.ledger.PruneAppliedBefore(ctx, before)
	if err != nil {
		p.logger.Error("failed to prune applied click events", zap.Error(err))
		return 0
	}

	if affected > 0 {
		p.logger.Info("pruned applied click events",
			zap.Int64("count", affected),
			zap.Time("applied_before", before),
		)
	}
	return affected
}
