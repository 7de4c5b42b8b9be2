package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/pdfdeck/internal/job"
)

const (
	DefaultConvertWorkers = 2
	DefaultMergeWorkers   = 4
)

// PoolConfig sizes the convert and merge pools separately.
type PoolConfig struct {
	Convert      int
	Merge        int
	PollInterval time.Duration
	Lease        time.Duration
}

// Pool runs a fixed set of workers.
type Pool struct {
	workers []*Worker
	cfg     PoolConfig
}

// NewPool creates cfg.Convert convert workers and cfg.Merge merge workers.
// Zero sizes take the defaults; a negative size disables that pool.
func NewPool(store JobClaimer, proc Processor, cfg PoolConfig) *Pool {
	if cfg.Convert == 0 {
		cfg.Convert = DefaultConvertWorkers
	}
	if cfg.Merge == 0 {
		cfg.Merge = DefaultMergeWorkers
	}
	p := &Pool{cfg: cfg}
	for i := range max(cfg.Convert, 0) {
		p.workers = append(p.workers, NewWorker(fmt.Sprintf("convert-%d", i), store, proc,
			[]job.Kind{job.KindConvert}, cfg.PollInterval, cfg.Lease))
	}
	for i := range max(cfg.Merge, 0) {
		p.workers = append(p.workers, NewWorker(fmt.Sprintf("merge-%d", i), store, proc,
			[]job.Kind{job.KindMerge}, cfg.PollInterval, cfg.Lease))
	}
	return p
}

// Size returns the number of convert and merge workers.
func (p *Pool) Size() (convert, merge int) {
	return max(p.cfg.Convert, 0), max(p.cfg.Merge, 0)
}

// Run starts every worker and blocks until ctx is cancelled and all
// in-flight jobs have finished.
func (p *Pool) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, w := range p.workers {
		g.Go(func() error {
			w.Run(ctx)
			return nil
		})
	}
	return g.Wait()
}
