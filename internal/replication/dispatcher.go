package replication

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/iudanet/dirsync/internal/models"
)

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("dispatcher is closed")

// OperationReplayer replays one operation.
type OperationReplayer interface {
	Replay(ctx context.Context, msg *models.UpdateMsg) (Outcome, error)
}

type task struct {
	ctx  context.Context
	msg  *models.UpdateMsg
	done chan taskResult
}

type taskResult struct {
	err     error
	outcome Outcome
}

// Dispatcher runs replays on a fixed set of shard workers. All operations
// on one DN go to the same shard and are replayed in submission order;
// operations on different DNs run in parallel.
type Dispatcher struct {
	replayer OperationReplayer
	metrics  *Metrics
	logger   *slog.Logger
	group    *errgroup.Group
	name     string
	shards   []chan *task
	mu       sync.RWMutex
	closed   bool
}

// NewDispatcher starts workers shard goroutines, each with a queue of queueSize.
func NewDispatcher(name string, replayer OperationReplayer, workers, queueSize int, metrics *Metrics, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	d := &Dispatcher{
		name:     name,
		replayer: replayer,
		metrics:  metrics,
		logger:   logger,
		group:    &errgroup.Group{},
		shards:   make([]chan *task, workers),
	}
	for i := range d.shards {
		shard := make(chan *task, queueSize)
		d.shards[i] = shard
		d.group.Go(func() error {
			d.work(shard)
			return nil
		})
	}
	return d
}

// Submit queues msg and waits for its outcome.
func (d *Dispatcher) Submit(ctx context.Context, msg *models.UpdateMsg) (Outcome, error) {
	t := &task{ctx: ctx, msg: msg, done: make(chan taskResult, 1)}

	if err := d.enqueue(ctx, t); err != nil {
		return "", err
	}

	select {
	case res := <-t.done:
		return res.outcome, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, t *task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	gauge := d.metrics.QueueDepth.WithLabelValues(d.name)
	gauge.Inc()
	select {
	case d.shards[d.shardOf(t.msg.TargetDN)] <- t:
		return nil
	case <-ctx.Done():
		gauge.Dec()
		return ctx.Err()
	}
}

func (d *Dispatcher) shardOf(dn string) int {
	return int(xxhash.Sum64String(models.NormalizeDN(dn)) % uint64(len(d.shards)))
}

func (d *Dispatcher) work(shard <-chan *task) {
	gauge := d.metrics.QueueDepth.WithLabelValues(d.name)
	for t := range shard {
		gauge.Dec()

		if err := t.ctx.Err(); err != nil {
			t.done <- taskResult{err: err}
			continue
		}

		outcome, err := d.replayer.Replay(t.ctx, t.msg)
		if err != nil {
			d.logger.Error("Replay failed", "domain", d.name, "msg", t.msg.String(), "error", err)
		}
		t.done <- taskResult{outcome: outcome, err: err}
	}
}

// Close stops accepting operations, lets the workers drain their queues
// and waits for them.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, shard := range d.shards {
		close(shard)
	}
	d.mu.Unlock()

	return d.group.Wait()
}
