// Package worker runs the pipeline's in-process concurrency on bounded ants
// pools: detached follow-ups of API requests, and the per-account fan-out
// of the batch jobs. Nothing under internal/ starts a bare goroutine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gamestats.io/telemetry/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool names accepted by SubmitDetached.
const (
	PoolGeneral = "general"
	PoolBatch   = "batch"
)

// releaseTimeout bounds how long Shutdown waits for running tasks per pool.
const releaseTimeout = 30 * time.Second

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool is one bounded ants pool.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools holds the process pools.
type Pools struct {
	// General runs short detached tasks such as on-demand aggregation requests.
	General *Pool
	// Batch runs the per-account work of qualifier evaluation.
	Batch *Pool

	// serviceCtx ends at Shutdown; detached tasks run under it.
	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig sizes the pools. Non-positive sizes, which ants would treat
// as unbounded, fall back to DefaultPoolConfig.
type PoolConfig struct {
	GeneralPoolSize int
	BatchPoolSize   int
}

// DefaultPoolConfig returns the sizes used when config leaves them unset.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{GeneralPoolSize: 100, BatchPoolSize: 16}
}

func (c PoolConfig) withDefaults() PoolConfig {
	def := DefaultPoolConfig()
	if c.GeneralPoolSize <= 0 {
		c.GeneralPoolSize = def.GeneralPoolSize
	}
	if c.BatchPoolSize <= 0 {
		c.BatchPoolSize = def.BatchPoolSize
	}
	return c
}

// NewPools creates the pools. Detached tasks stop when ctx ends or at
// Shutdown, whichever comes first.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	cfg = cfg.withDefaults()

	general, err := newPool(PoolGeneral, cfg.GeneralPoolSize, 10*time.Second)
	if err != nil {
		return nil, err
	}
	// Batch workers query the database once per account; keep them warm
	// across a whole evaluation run.
	batch, err := newPool(PoolBatch, cfg.BatchPoolSize, time.Minute)
	if err != nil {
		general.pool.Release()
		return nil, err
	}

	serviceCtx, serviceCancel := context.WithCancel(ctx)
	return &Pools{
		General:       general,
		Batch:         batch,
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

func newPool(name string, size int, expiry time.Duration) (*Pool, error) {
	p, err := ants.NewPool(size,
		ants.WithPanicHandler(func(v interface{}) {
			logger.Error("worker panic recovered",
				zap.String("pool", name),
				zap.Any("panic", v),
				zap.Stack("stack"),
			)
		}),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(expiry),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s pool: %w", name, err)
	}
	return &Pool{pool: p, name: name}, nil
}

// Each runs task(ctx, i) for every i in [0, n) on the pool and waits for
// all of them. Once ctx ends no further index is started; indexes already
// started see the done ctx and are expected to return promptly. The
// returned error is ctx's, or the first submission failure.
func (p *Pool) Each(ctx context.Context, n int, task func(ctx context.Context, i int)) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		i := i
		wg.Add(1)
		err := p.submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			task(ctx, i)
		})
		if err != nil {
			wg.Done()
			return fmt.Errorf("submit item %d to %s pool: %w", i, p.name, err)
		}
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Pool) submit(fn func()) error {
	err := p.pool.Submit(fn)
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// SubmitDetached queues a task that outlives the calling request. It runs
// under the service context, so it still stops at Shutdown.
func (p *Pools) SubmitDetached(poolName string, task Task) error {
	pool := p.General
	if poolName == PoolBatch {
		pool = p.Batch
	}
	return pool.submit(func() {
		if p.serviceCtx.Err() != nil {
			logger.Debug("detached task dropped: shutting down", zap.String("pool", pool.name))
			return
		}
		task(p.serviceCtx)
	})
}

// Shutdown ends the service context, then waits for running tasks.
func (p *Pools) Shutdown() {
	p.serviceCancel()
	for _, pool := range []*Pool{p.General, p.Batch} {
		if err := pool.pool.ReleaseTimeout(releaseTimeout); err != nil {
			logger.Warn("pool shutdown timed out", zap.String("pool", pool.name), zap.Error(err))
		}
	}
}

// Metrics returns pool occupancy for the readiness probe.
func (p *Pools) Metrics() map[string]interface{} {
	out := make(map[string]interface{}, 2)
	for _, pool := range []*Pool{p.General, p.Batch} {
		out[pool.name] = map[string]int{
			"running": pool.pool.Running(),
			"free":    pool.pool.Free(),
			"cap":     pool.pool.Cap(),
		}
	}
	return out
}
