package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
)

// CaseProcessor drives one transaction to a terminal case. *Engine implements it.
type CaseProcessor interface {
	Process(ctx context.Context, tx Transaction) *Case
}

// OrchestratorOptions configures a batch run.
type OrchestratorOptions struct {
	// Concurrency is the number of cases in flight. Values below 2 run sequentially.
	Concurrency int

	// Store, if set, receives every terminal case that was scored. Store errors are logged
	// and never affect statistics.
	Store Store

	// OnCase, if set, is called once per terminal case. Calls are serialized.
	OnCase func(idx int, c *Case)
}

// Orchestrator runs many transactions through a CaseProcessor, isolating
// per-case failures and aggregating run statistics.
type Orchestrator struct {
	engine CaseProcessor
	logger log.Logger
	opts   OrchestratorOptions
	caseMu sync.Mutex
}

// NewOrchestrator creates a batch orchestrator around engine.
func NewOrchestrator(engine CaseProcessor, logger log.Logger, opts OrchestratorOptions) *Orchestrator {
	if logger == nil {
		logger = log.Nop()
	}
	return &Orchestrator{engine: engine, logger: logger, opts: opts}
}

// Run processes txs and returns the run statistics. It never fails: every
// case ends up counted, possibly as errored. Once ctx is done no new case is
// started, but cases already in flight finish with a detached context.
func (o *Orchestrator) Run(ctx context.Context, txs []Transaction) *RunStatistics {
	stats := &RunStatistics{}
	start := time.Now()

	var started atomic.Int64
	if o.opts.Concurrency < 2 {
		for i, tx := range txs {
			if ctx.Err() != nil {
				break
			}
			started.Add(1)
			o.runCase(ctx, i, tx, stats)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(o.opts.Concurrency)
		for i, tx := range txs {
			if ctx.Err() != nil {
				break
			}
			// g.Go blocks while every slot is busy, so ctx may be done by the time this runs
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				started.Add(1)
				o.runCase(ctx, i, tx, stats)
				return nil
			})
		}
		_ = g.Wait()
	}

	snap := stats.Snapshot()
	if skipped := int64(len(txs)) - started.Load(); skipped > 0 {
		o.logger.Warn(ctx, "batch run stopped early", "skipped", skipped, "error", context.Cause(ctx))
	}
	o.logger.Info(context.WithoutCancel(ctx), "batch run complete",
		"total", snap.Total,
		"auto_blocked", snap.AutoBlocked,
		"escalated_to_human", snap.EscalatedToHuman,
		"approved", snap.Approved,
		"errored", snap.Errored,
		"hit_rate", snap.HitRateString(),
		"duration", time.Since(start).Seconds(),
	)
	return stats
}

func (o *Orchestrator) runCase(ctx context.Context, idx int, tx Transaction, stats *RunStatistics) {
	cctx := context.WithoutCancel(ctx)
	c := o.process(cctx, tx)

	if !c.Status.Terminal() {
		_ = c.Fail(fmt.Errorf("case left in non-terminal status %s", c.Status))
	}
	if c.Status == StatusFailed {
		o.logger.Warn(cctx, "case failed", "row", idx, "case_id", c.ID, "error", c.Error)
	}

	stats.Record(c)

	if o.opts.Store != nil && c.ID != "" {
		if err := o.opts.Store.Put(cctx, c); err != nil {
			o.logger.Error(cctx, err, "failed to persist case", "case_id", c.ID)
		}
	}

	if o.opts.OnCase != nil {
		o.caseMu.Lock()
		o.opts.OnCase(idx, c)
		o.caseMu.Unlock()
	}
}

// process shields the batch from a panicking or nil-returning processor.
func (o *Orchestrator) process(ctx context.Context, tx Transaction) (c *Case) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic processing case: %v", r)
			o.logger.Error(ctx, err, "recovered panic")
			failed := NewCase(tx)
			_ = failed.Fail(err)
			c = failed
		}
	}()

	c = o.engine.Process(ctx, tx)
	if c == nil {
		c = NewCase(tx)
		_ = c.Fail(errors.New("processor returned no case"))
	}
	return c
}
