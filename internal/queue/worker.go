package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler executes one claimed ticket. Errors are logged and counted; the
// ticket is still acknowledged because the burst processor guarantees the
// conversation is unstuck (buffer cleared) before it surfaces an error.
type Handler func(ctx context.Context, t Ticket) error

// Source is the queue surface the worker pool consumes. *RedisQueue
// satisfies it; tests substitute an in-memory fake.
type Source interface {
	Claim(ctx context.Context) (*Lease, error)
	Ack(ctx context.Context, l *Lease) error
	Reap(ctx context.Context) (int, error)
}

// Worker runs a pool of goroutines that poll the queue and execute claimed
// tickets with a fixed per-job timeout. One reaper goroutine periodically
// requeues expired leases so a crashed peer's tickets are never lost.
type Worker struct {
	Source       Source
	Handle       Handler
	Concurrency  int
	JobTimeout   time.Duration
	PollInterval time.Duration

	Log zerolog.Logger
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for i := 0; i < w.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.loop(ctx, slot)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reapLoop(ctx)
	}()

	wg.Wait()
}

func (w *Worker) loop(ctx context.Context, slot int) {
	log := w.Log.With().Int("slot", slot).Logger()
	for {
		if ctx.Err() != nil {
			return
		}
		lease, err := w.Source.Claim(ctx)
		if err != nil {
			log.Error().Err(err).Msg("claim failed")
			w.sleep(ctx)
			continue
		}
		if lease == nil {
			w.sleep(ctx)
			continue
		}
		w.execute(ctx, log, lease)
	}
}

func (w *Worker) execute(ctx context.Context, log zerolog.Logger, lease *Lease) {
	t := lease.Ticket
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, w.JobTimeout)
	err := w.Handle(jobCtx, t)
	cancel()

	jobDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		jobsFailed.Inc()
		log.Error().Err(err).
			Str("ticket_id", t.ID).
			Str("tenant_id", t.TenantID).
			Str("conversation_id", t.ConversationID).
			Msg("burst job failed")
	} else {
		log.Debug().
			Str("ticket_id", t.ID).
			Str("conversation_id", t.ConversationID).
			Dur("took", time.Since(start)).
			Msg("burst job done")
	}

	// Ack with a fresh context: shutdown must not strand a finished lease
	// until the reaper finds it.
	ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Source.Ack(ackCtx, lease); err != nil {
		log.Warn().Err(err).Str("ticket_id", t.ID).Msg("ack failed; lease will be reaped")
	}
}

func (w *Worker) reapLoop(ctx context.Context) {
	// Reaping at a multiple of the poll interval is plenty: leases live for
	// minutes, not milliseconds.
	interval := 10 * w.PollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.Source.Reap(ctx)
			if err != nil {
				if ctx.Err() == nil {
					w.Log.Error().Err(err).Msg("lease reap failed")
				}
				continue
			}
			if n > 0 {
				w.Log.Warn().Int("requeued", n).Msg("recovered expired leases")
			}
		}
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.PollInterval):
	}
}
