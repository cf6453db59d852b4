// Package pull implements the concurrent pull pipeline: a dispatcher, up
// to 10 downloaders, one inserter, and one elaborator cooperating through
// mutex-guarded queues and a shared worker-count semaphore to bring a
// causal and its full dependency closure into main storage.
package pull

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/steveyegge/sharesync/internal/entity"
	"github.com/steveyegge/sharesync/internal/hash"
	"github.com/steveyegge/sharesync/internal/store"
	"github.com/steveyegge/sharesync/internal/transport"
)

// maxWorkers bounds the downloaders, inserter, and elaborator combined,
// excluding the dispatcher itself: up to 10 concurrent downloads plus the
// inserter and elaborator's own transactions.
const maxWorkers = 12

var tracer = otel.Tracer("github.com/steveyegge/sharesync/internal/pull")

// pipelineMetrics holds the instruments the pipeline's roles record
// against, registered once at package init rather than lazily per call.
type pipelineMetrics struct {
	entitiesDownloaded metric.Int64Counter
	entitiesPromoted   metric.Int64Counter
	batchesDownloaded  metric.Int64Counter
}

var pullMetrics = newPipelineMetrics()

func newPipelineMetrics() pipelineMetrics {
	meter := otel.Meter("github.com/steveyegge/sharesync/internal/pull")
	downloaded, _ := meter.Int64Counter("pull.entities_downloaded",
		metric.WithDescription("entities fetched from the server during a pull"))
	promoted, _ := meter.Int64Counter("pull.entities_promoted",
		metric.WithDescription("entities moved from temp into main storage"))
	batches, _ := meter.Int64Counter("pull.batches_downloaded",
		metric.WithDescription("download batches completed by any downloader"))
	return pipelineMetrics{entitiesDownloaded: downloaded, entitiesPromoted: promoted, batchesDownloaded: batches}
}

// Store is the subset of the surrounding store the pull pipeline needs:
// the full Store contract plus transaction support, since the inserter
// and elaborator must each group their work into a single commit.
type Store interface {
	store.Store
	store.Beginner
}

// Callbacks report pull progress back to the caller.
type Callbacks struct {
	OnDownloaded        func(n int)
	OnQueuedForDownload func(n int)
	// Logger receives per-role diagnostic messages (dispatcher exit,
	// downloader batch correlation, terminal summary). A nil Logger
	// defaults to slog.Default().
	Logger *slog.Logger
}

// downloadedBatch is one downloader's completed fetch, awaiting the
// inserter.
type downloadedBatch struct {
	hashes   []hash.Hash32
	entities map[hash.Hash32]*entity.Entity
	batchID  string
}

// pipeline holds all state shared across the dispatcher, downloaders,
// inserter, and elaborator for one Pull call. Every field below mu is
// guarded by it; cond wakes the dispatcher (and the inserter/elaborator
// loops) whenever any of that state changes.
type pipeline struct {
	store     Store
	transport transport.Transport
	path      store.Path

	onDownloaded        func(n int)
	onQueuedForDownload func(n int)
	logger              *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	sem      *semaphore.Weighted
	workers  int
	shutdown bool
	err      error

	toDownload      *hash.JWTSet
	inFlight        map[hash.Hash32]struct{}
	downloadedQueue []downloadedBatch
	newTempQueue    [][]hash.Hash32

	// downloadedCount and promotedToMainCount accumulate the terminal
	// summary — entities downloaded and entities promoted to main,
	// logged once the dispatcher's scope closes.
	downloadedCount     int
	promotedToMainCount int
}

// Pull resolves path to a causal hash and ensures it, and its full
// dependency closure, are present in main storage.
func Pull(ctx context.Context, st Store, tr transport.Transport, path store.Path, cb Callbacks) (hash.Hash32, error) {
	logger := cb.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, span := tracer.Start(ctx, "pull.Pull", trace.WithAttributes(
		attribute.String("repo", path.RepoName),
	))
	defer span.End()

	pf, err := preflight(ctx, st, tr, path, cb)
	if err != nil {
		span.RecordError(err)
		return hash.Hash32{}, err
	}
	if pf.alreadyMain {
		logger.Debug("pull: already in main, nothing to do", "hash", pf.target.String(), "path", path.String())
		span.SetAttributes(attribute.Bool("already_main", true))
		return pf.target, nil
	}

	start := time.Now()

	p := &pipeline{
		store:               st,
		transport:           tr,
		path:                path,
		onDownloaded:        cb.OnDownloaded,
		onQueuedForDownload: cb.OnQueuedForDownload,
		logger:              logger,
		sem:                 semaphore.NewWeighted(maxWorkers),
		toDownload:          hash.NewJWTSet(),
		inFlight:            make(map[hash.Hash32]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	if len(pf.seed) > 0 {
		p.newTempQueue = append(p.newTempQueue, pf.seed)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return p.dispatcherLoop(gctx, group) })
	group.Go(func() error { return p.inserterLoop(gctx) })
	group.Go(func() error { return p.elaboratorLoop(gctx) })

	// Forward cancellation of the caller's context (not merely an
	// internal worker error, which already goes through p.fail) to every
	// loop blocked in cond.Wait.
	go func() {
		<-gctx.Done()
		if gctx.Err() != nil {
			p.fail(gctx.Err())
		}
	}()

	if err := group.Wait(); err != nil {
		span.RecordError(err)
		return hash.Hash32{}, err
	}

	logger.Info("pull: complete",
		"path", path.String(),
		"entities_downloaded", p.downloadedCount,
		"entities_promoted_to_main", p.promotedToMainCount,
		"elapsed", time.Since(start).String(),
	)
	return pf.target, nil
}

// fail records the first error to occur anywhere in the pipeline and
// wakes every loop so it can observe shutdown and exit.
func (p *pipeline) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.shutdown = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// dispatcherLoop is the single dispatcher role. Its dispatch-or-terminate
// choice is made under mu as one atomic step, so the pipeline can never
// simultaneously spawn a worker and decide to exit.
func (p *pipeline) dispatcherLoop(ctx context.Context, group *errgroup.Group) error {
	// The inserter and elaborator hold a semaphore slot only while busy, so
	// live downloaders are counted separately (under mu) to keep two of the
	// maxWorkers slots for them.
	const maxDownloaders = maxWorkers - 2
	downloaders := 0
	for {
		p.mu.Lock()

		if p.shutdown {
			err := p.err
			p.mu.Unlock()
			return err
		}

		if p.toDownload.Len() > 0 && downloaders < maxDownloaders && p.sem.TryAcquire(1) {
			batch := p.toDownload.Take(transport.MaxBatchSize)
			for _, j := range batch {
				h, err := j.Hash()
				if err != nil {
					p.sem.Release(1)
					p.mu.Unlock()
					wrapped := fmt.Errorf("pull: parse dispatched hash: %w", err)
					p.fail(wrapped)
					return wrapped
				}
				p.inFlight[h] = struct{}{}
			}
			p.workers++
			downloaders++
			p.mu.Unlock()

			group.Go(func() error {
				err := p.runDownloader(ctx, batch)
				p.mu.Lock()
				downloaders--
				p.mu.Unlock()
				p.cond.Broadcast()
				return err
			})
			continue
		}

		if p.workers == 0 && len(p.downloadedQueue) == 0 && len(p.newTempQueue) == 0 && p.toDownload.Len() == 0 {
			p.shutdown = true
			p.mu.Unlock()
			p.logger.Debug("pull: dispatcher exiting, no work remains")
			p.cond.Broadcast()
			return nil
		}

		p.cond.Wait()
		p.mu.Unlock()
	}
}

// runDownloader is one downloader instance (up to 10 concurrent). batchID
// is a correlation id attached to the downloader's log lines and trace
// span so a single batch can be followed across the dispatch/download/
// insert handoff.
func (p *pipeline) runDownloader(ctx context.Context, batch []hash.HashJWT) error {
	batchID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "pull.downloadBatch", trace.WithAttributes(
		attribute.String("batch_id", batchID),
		attribute.Int("batch_size", len(batch)),
	))
	defer span.End()
	defer func() {
		p.mu.Lock()
		p.workers--
		p.sem.Release(1)
		p.mu.Unlock()
		p.cond.Broadcast()
	}()

	p.logger.Debug("pull: downloader fetching batch", "batch_id", batchID, "size", len(batch))

	resp, err := p.transport.DownloadEntities(ctx, transport.DownloadEntitiesRequest{RepoName: p.path.RepoName, Hashes: batch})
	if err != nil {
		p.logger.Error("pull: downloader failed", "batch_id", batchID, "error", err)
		span.RecordError(err)
		p.fail(err)
		return err
	}

	if p.onDownloaded != nil {
		p.onDownloaded(len(batch))
	}

	hashes := make([]hash.Hash32, 0, len(resp.Entities))
	for h := range resp.Entities {
		hashes = append(hashes, h)
	}

	pullMetrics.entitiesDownloaded.Add(ctx, int64(len(hashes)))
	pullMetrics.batchesDownloaded.Add(ctx, 1)

	p.mu.Lock()
	p.downloadedCount += len(hashes)
	p.downloadedQueue = append(p.downloadedQueue, downloadedBatch{hashes: hashes, entities: resp.Entities, batchID: batchID})
	p.mu.Unlock()
	p.cond.Broadcast()
	return nil
}

// inserterLoop is the single, long-lived inserter (role 3). Each batch's
// promotions happen inside one transaction, so observers never see a
// partially-applied batch.
func (p *pipeline) inserterLoop(ctx context.Context) error {
	for {
		p.mu.Lock()
		for len(p.downloadedQueue) == 0 && !p.shutdown {
			p.cond.Wait()
		}
		if p.shutdown {
			err := p.err
			p.mu.Unlock()
			return err
		}
		batch := p.downloadedQueue[0]
		p.downloadedQueue = p.downloadedQueue[1:]
		// Counted as a worker in the same step that dequeues, so the
		// dispatcher can never observe empty queues with this batch
		// uncounted and exit early.
		p.workers++
		p.mu.Unlock()

		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.mu.Lock()
			p.workers--
			p.mu.Unlock()
			p.fail(err)
			return err
		}

		tempSubset, promoted, err := p.insertBatch(ctx, batch)

		p.mu.Lock()
		p.workers--
		p.sem.Release(1)
		for _, h := range batch.hashes {
			delete(p.inFlight, h)
		}
		if err == nil {
			p.promotedToMainCount += promoted
			if len(tempSubset) > 0 {
				p.newTempQueue = append(p.newTempQueue, tempSubset)
			}
		}
		p.mu.Unlock()
		p.cond.Broadcast()

		if err != nil {
			p.logger.Error("pull: inserter failed", "batch_id", batch.batchID, "error", err)
			p.fail(err)
			return err
		}
		p.logger.Debug("pull: inserter committed batch", "batch_id", batch.batchID, "promoted_to_main", promoted, "staged_temp", len(tempSubset))
	}
}

// insertBatch applies the promotion rule to every entity in batch inside
// one transaction, returning the subset that landed in temp and a count
// of those promoted straight to main.
func (p *pipeline) insertBatch(ctx context.Context, batch downloadedBatch) ([]hash.Hash32, int, error) {
	ctx, span := tracer.Start(ctx, "pull.insertBatch", trace.WithAttributes(
		attribute.String("batch_id", batch.batchID),
		attribute.Int("batch_size", len(batch.entities)),
	))
	defer span.End()

	tx, err := p.store.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	var tempSubset []hash.Hash32
	promoted := 0
	for h, e := range batch.entities {
		loc, err := promote(ctx, tx, h, e)
		if err != nil {
			_ = tx.Rollback()
			span.RecordError(err)
			return nil, 0, err
		}
		switch loc {
		case store.Temp:
			tempSubset = append(tempSubset, h)
		case store.Main:
			promoted++
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return nil, 0, err
	}
	pullMetrics.entitiesPromoted.Add(ctx, int64(promoted))
	span.SetAttributes(attribute.Int("promoted_to_main", promoted), attribute.Int("staged_temp", len(tempSubset)))
	return tempSubset, promoted, nil
}

// elaboratorLoop is the single, long-lived elaborator (role 4).
func (p *pipeline) elaboratorLoop(ctx context.Context) error {
	for {
		p.mu.Lock()
		for len(p.newTempQueue) == 0 && !p.shutdown {
			p.cond.Wait()
		}
		if p.shutdown {
			err := p.err
			p.mu.Unlock()
			return err
		}
		set := p.newTempQueue[0]
		p.newTempQueue = p.newTempQueue[1:]
		p.workers++
		p.mu.Unlock()

		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.mu.Lock()
			p.workers--
			p.mu.Unlock()
			p.fail(err)
			return err
		}

		more, err := p.elaborate(ctx, set)

		added := 0
		p.mu.Lock()
		p.workers--
		p.sem.Release(1)
		if err == nil {
			for _, jwt := range more {
				h, herr := jwt.Hash()
				if herr != nil {
					err = herr
					break
				}
				if _, busy := p.inFlight[h]; busy {
					continue
				}
				if !p.toDownload.Has(h) {
					added++
				}
				_ = p.toDownload.Add(jwt)
			}
		}
		p.mu.Unlock()
		p.cond.Broadcast()

		if err != nil {
			p.logger.Error("pull: elaborator failed", "error", err)
			p.fail(err)
			return err
		}
		if added > 0 {
			p.logger.Debug("pull: elaborator discovered new hashes to download", "added", added)
			if p.onQueuedForDownload != nil {
				p.onQueuedForDownload(added)
			}
		}
	}
}

func (p *pipeline) elaborate(ctx context.Context, newlyTemp []hash.Hash32) ([]hash.HashJWT, error) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	more, err := tx.ElaborateHashes(ctx, newlyTemp)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return more, nil
}
