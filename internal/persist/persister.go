package persist

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/logtide/logtide/internal/errors"
	"github.com/logtide/logtide/internal/event"
	"github.com/logtide/logtide/internal/metrics"
	"github.com/logtide/logtide/internal/queue"
	"github.com/logtide/logtide/internal/storage"
)

// Options tune the persister's retry behavior.
type Options struct {
	// MaxRetries bounds re-attempts per batch after the first failure.
	MaxRetries uint64

	// InitialBackoff is the delay before the first retry; subsequent
	// delays grow exponentially with jitter.
	InitialBackoff time.Duration

	// SweepInterval is how often the dead-letter directory is swept
	// for expired or excess files while the persister runs.
	SweepInterval time.Duration
}

// DefaultOptions returns the production retry settings.
func DefaultOptions() Options {
	return Options{
		MaxRetries:     5,
		InitialBackoff: 100 * time.Millisecond,
		SweepInterval:  10 * time.Minute,
	}
}

// Persister is the single background consumer of the ingestion queue.
// It writes each batch to the store in one transaction, retrying
// transient failures with exponential backoff and dead-lettering
// batches that never commit. Failures are reported through metrics and
// logs only; the submitting client has already been acknowledged.
type Persister struct {
	queue   *queue.Queue
	store   storage.Store
	dlq     *DLQ
	metrics *metrics.Metrics
	log     zerolog.Logger
	opts    Options

	done chan struct{}
}

// New wires a persister. dlq may be nil, in which case exhausted
// batches are dropped after logging.
func New(q *queue.Queue, store storage.Store, dlq *DLQ, m *metrics.Metrics, logger zerolog.Logger, opts Options) *Persister {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultOptions().InitialBackoff
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultOptions().SweepInterval
	}
	return &Persister{
		queue:   q,
		store:   store,
		dlq:     dlq,
		metrics: m,
		log:     logger.With().Str("component", "persister").Logger(),
		opts:    opts,
		done:    make(chan struct{}),
	}
}

// Run consumes batches until the queue is closed and drained, then
// returns. Call it in its own goroutine; wait on Done during shutdown
// so buffered batches reach the store. ctx aborts in-flight retries but
// does not stop the drain loop; closing the queue does. Between
// batches the dead-letter directory is swept on a timer so age and
// size caps hold without a restart.
func (p *Persister) Run(ctx context.Context) {
	defer close(p.done)

	p.replayDeadLetters(ctx)

	sweep := time.NewTicker(p.opts.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case b, ok := <-p.queue.Batches():
			if !ok {
				p.log.Info().Msg("queue drained, persister stopping")
				return
			}
			p.persist(ctx, b)
		case <-sweep.C:
			if p.dlq != nil {
				p.dlq.Sweep()
			}
		}
	}
}

// replayDeadLetters pushes surviving dead-letter batches back into the
// store before new work is consumed. Replayed batches count toward the
// persistence totals; they did reach storage, just late.
func (p *Persister) replayDeadLetters(ctx context.Context) {
	if p.dlq == nil {
		return
	}
	batches, events, err := p.dlq.Replay(ctx, p.store)
	if err != nil {
		p.log.Error().Err(err).Msg("dead-letter replay aborted")
	}
	if batches > 0 {
		p.metrics.BatchesReplayed.Add(float64(batches))
		p.metrics.BatchesPersisted.Add(float64(batches))
		p.metrics.EventsPersisted.Add(float64(events))
		p.log.Info().Int("batches", batches).Int("events", events).Msg("replayed dead-letter batches")
	}
}

// Done is closed once Run has drained the queue and returned.
func (p *Persister) Done() <-chan struct{} {
	return p.done
}

// persist commits one batch, retrying transient storage failures.
func (p *Persister) persist(ctx context.Context, b *event.Batch) {
	start := time.Now()

	op := func() error {
		err := p.store.InsertBatch(ctx, b)
		if err != nil && !errors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.opts.InitialBackoff
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, p.opts.MaxRetries), ctx))

	p.metrics.PersistDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		p.metrics.BatchesPersisted.Inc()
		p.metrics.EventsPersisted.Add(float64(b.Len()))
		p.log.Debug().
			Int("events", b.Len()).
			Dur("took", time.Since(start)).
			Msg("batch persisted")
		return
	}

	p.metrics.BatchesFailed.Inc()
	p.log.Error().Err(err).
		Int("events", b.Len()).
		Msg("batch failed permanently")

	if p.dlq == nil {
		return
	}
	if dlqErr := p.dlq.Store(b); dlqErr != nil {
		p.log.Error().Err(dlqErr).Int("events", b.Len()).Msg("dead-letter write failed, batch lost")
		return
	}
	p.metrics.BatchesDeadLettered.Inc()
}
