// Package sync drives the trie package's scheduler against a live network
// connection: it pulls missing hashes, dispatches them concurrently to a
// Fetcher, feeds the responses back into the scheduler, and periodically
// flushes committed nodes to storage.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eth2030/triesync/log"
	"github.com/eth2030/triesync/metrics"
	"github.com/eth2030/triesync/trie"
)

// Fetcher is the network seam the driver calls into. Implementations
// typically fan a hash list out across several peers; this package does
// not care how, only that the returned map is keyed by the hashes that
// were actually resolved (a short response is not an error, just partial
// progress retried on the next round).
type Fetcher interface {
	FetchNodes(ctx context.Context, hashes []trie.NodeHash) (map[trie.NodeHash][]byte, error)
	FetchCode(ctx context.Context, hashes []trie.NodeHash) (map[trie.NodeHash][]byte, error)
}

// Default tuning values, overridable via Option.
const (
	DefaultBatchSize    = 384
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultFlushEvery   = 4096 // commits between forced mid-run flushes
)

// Driver owns one scheduler run at a time: Run is not safe to call
// concurrently on the same Driver.
type Driver struct {
	store    trie.Store
	fetcher  Fetcher
	progress *ProgressTracker
	log      *log.Logger
	metrics  *metrics.Registry

	batchSize    int
	retryBackoff time.Duration
	flushEvery   int
}

// Option configures a Driver.
type Option func(*Driver)

// WithBatchSize overrides DefaultBatchSize, the max hashes pulled from the
// scheduler per round.
func WithBatchSize(n int) Option {
	return func(d *Driver) { d.batchSize = n }
}

// WithRetryBackoff overrides the pause before retrying a round whose fetch
// failed outright.
func WithRetryBackoff(d2 time.Duration) Option {
	return func(d *Driver) { d.retryBackoff = d2 }
}

// WithLogger overrides the driver's logger (default: log.Default().Module("sync")).
func WithLogger(l *log.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// WithMetrics overrides the registry counters are recorded into (default:
// metrics.DefaultRegistry).
func WithMetrics(r *metrics.Registry) Option {
	return func(d *Driver) { d.metrics = r }
}

// WithFlushEvery overrides DefaultFlushEvery, the number of commits between
// forced mid-run flushes.
func WithFlushEvery(n int) Option {
	return func(d *Driver) { d.flushEvery = n }
}

// NewDriver returns a Driver that reads/writes through store and fetches
// missing data through fetcher.
func NewDriver(store trie.Store, fetcher Fetcher, opts ...Option) *Driver {
	d := &Driver{
		store:        store,
		fetcher:      fetcher,
		progress:     NewProgressTracker(),
		log:          log.Default().Module("sync"),
		metrics:      metrics.DefaultRegistry,
		batchSize:    DefaultBatchSize,
		retryBackoff: DefaultRetryBackoff,
		flushEvery:   DefaultFlushEvery,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Progress returns a snapshot of the current or most recent run.
func (d *Driver) Progress() Snapshot {
	return d.progress.GetProgress()
}

// Run drives the scheduler to completion for targetRoot: it loops pulling
// missing hashes, fetching them, feeding responses back in, and flushing
// commits, until the scheduler reports no pending work or ctx is cancelled.
// blockNumber tags every node committed during this run, for the store's
// own bookkeeping.
func (d *Driver) Run(ctx context.Context, targetRoot trie.NodeHash, blockNumber uint64) error {
	state, err := trie.Init(d.store, targetRoot)
	if err != nil {
		return fmt.Errorf("sync: init: %w", err)
	}
	if state == nil {
		d.log.Info("nothing to sync", "root", targetRoot)
		return nil
	}

	d.progress.Reset()
	d.progress.Start()
	committedSinceFlush := 0

	for state.PendingCount() > 0 {
		if err := ctx.Err(); err != nil {
			d.progress.SetStage(StageFailed)
			return err
		}

		taken := trie.TakeMissing(state, d.batchSize)
		if len(taken) == 0 {
			// Every active request is already dispatched; nothing new to
			// fetch this round, but responses may still be in flight from
			// the caller's perspective. The driver has no outstanding
			// round of its own in that case, which means the scheduler is
			// stuck waiting on a response nobody will ever deliver.
			d.progress.SetStage(StageFailed)
			return fmt.Errorf("sync: %d active requests have no pending hashes to drain", state.PendingCount())
		}

		nodeHashes, codeHashes := splitByKind(state, taken)
		isCode := make(map[trie.NodeHash]bool, len(codeHashes))
		for _, h := range codeHashes {
			isCode[h] = true
		}

		d.metrics.Gauge("triesync.driver.pending").Set(int64(state.PendingCount()))
		d.metrics.Gauge("triesync.driver.batch_size").Set(int64(len(taken)))

		roundTimer := metrics.NewTimer(d.metrics.Histogram("triesync.driver.round_duration_ms"))
		responses, err := d.fetchRound(ctx, nodeHashes, codeHashes)
		roundTimer.Stop()
		if err != nil {
			trie.Requeue(state, taken)
			d.log.Warn("fetch round failed, will retry", "err", err, "hashes", len(taken))
			d.metrics.Counter("triesync.driver.fetch_errors").Inc()
			select {
			case <-ctx.Done():
				d.progress.SetStage(StageFailed)
				return ctx.Err()
			case <-time.After(d.retryBackoff):
			}
			continue
		}

		// A fetcher may resolve only part of the batch (e.g. a peer had
		// some hashes but not others). Anything taken this round but not
		// answered goes back on the queue for the next pass.
		answered := make(map[trie.NodeHash]bool, len(responses))
		for _, r := range responses {
			answered[r.Hash] = true
		}
		var unanswered []trie.NodeHash
		for _, h := range taken {
			if !answered[h] {
				unanswered = append(unanswered, h)
			}
		}
		if len(unanswered) > 0 {
			trie.Requeue(state, unanswered)
		}

		beforeBatch := state.BatchSize()
		if err := trie.ProcessResponses(state, d.store, responses, d.onNonCritical); err != nil {
			d.progress.SetStage(StageFailed)
			return fmt.Errorf("sync: process responses: %w", err)
		}
		committedSinceFlush += state.BatchSize() - beforeBatch

		d.progress.UpdateOutstanding(state.PendingCount())
		for _, r := range responses {
			d.progress.RecordCommit(isCode[r.Hash], len(r.Data))
		}

		if committedSinceFlush >= d.flushEvery || state.PendingCount() == 0 {
			if err := trie.Flush(state, d.store, blockNumber); err != nil {
				d.progress.SetStage(StageFailed)
				return fmt.Errorf("sync: flush: %w", err)
			}
			committedSinceFlush = 0
		}
	}

	d.progress.SetStage(StageComplete)
	d.log.Info("sync complete", "root", targetRoot)
	return nil
}

func (d *Driver) onNonCritical(err error) {
	d.progress.RecordFault()
	switch {
	case errors.Is(err, trie.ErrNotRequested):
		d.metrics.Counter("triesync.scheduler.not_requested").Inc()
	case errors.Is(err, trie.ErrAlreadyProcessed):
		d.metrics.Counter("triesync.scheduler.already_processed").Inc()
	}
	d.log.Debug("absorbed non-critical scheduler fault", "err", err)
}

// fetchRound dispatches the node and code fetches for one round
// concurrently and merges their results into a flat Response slice.
func (d *Driver) fetchRound(ctx context.Context, nodeHashes, codeHashes []trie.NodeHash) ([]trie.Response, error) {
	var (
		mu        sync.Mutex
		responses []trie.Response
	)
	g, gctx := errgroup.WithContext(ctx)

	if len(nodeHashes) > 0 {
		g.Go(func() error {
			data, err := d.fetcher.FetchNodes(gctx, nodeHashes)
			if err != nil {
				return fmt.Errorf("fetch nodes: %w", err)
			}
			mu.Lock()
			for h, b := range data {
				responses = append(responses, trie.Response{Hash: h, Data: b})
			}
			mu.Unlock()
			return nil
		})
	}
	if len(codeHashes) > 0 {
		g.Go(func() error {
			data, err := d.fetcher.FetchCode(gctx, codeHashes)
			if err != nil {
				return fmt.Errorf("fetch code: %w", err)
			}
			mu.Lock()
			for h, b := range data {
				responses = append(responses, trie.Response{Hash: h, Data: b})
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

// splitByKind partitions hashes into trie-node requests and code requests
// based on what each hash was scheduled as.
func splitByKind(state *trie.SchedulerState, hashes []trie.NodeHash) (nodeHashes, codeHashes []trie.NodeHash) {
	for _, h := range hashes {
		kind, ok := state.KindOf(h)
		if !ok {
			continue
		}
		if kind == trie.Code {
			codeHashes = append(codeHashes, h)
		} else {
			nodeHashes = append(nodeHashes, h)
		}
	}
	return nodeHashes, codeHashes
}
