package crawl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter"
	"github.com/rs/zerolog/log"

	"github.com/fedimapper/fedimapper/internal/config"
)

// closeSentinel is queued once per worker on graceful shutdown. Hostnames
// never collide with it.
const closeSentinel = "\x00close"

// Queue population thresholds as fractions of max_queue_size: above the
// low mark population is skipped, and fills never go past the high mark.
const (
	populateSkipFraction = 0.3
	populateFillFraction = 0.8
)

// IngestFunc crawls a single host.
type IngestFunc func(ctx context.Context, host string) (bool, error)

// Runner owns the crawl loop: one supervisor goroutine keeps the queue
// populated and the worker pool at size, workers recycle themselves after
// max_jobs_per_process jobs.
type Runner struct {
	selector *Selector
	ingest   IngestFunc
	settings *config.Settings

	queue chan string

	// Hosts queued inside prevent_requeuing_time are suppressed so slow
	// tiers don't feed the same host to two workers.
	recent otter.Cache[string, struct{}]

	wg        sync.WaitGroup
	workerSeq atomic.Int64
	closing   atomic.Bool
}

// NewRunner wires a Runner. fn is typically Ingester.IngestHost.
func NewRunner(selector *Selector, fn IngestFunc, settings *config.Settings) *Runner {
	recent, err := otter.MustBuilder[string, struct{}](settings.MaxQueueSize * 10).
		WithTTL(settings.PreventRequeuingTime).
		Build()
	if err != nil {
		panic("crawl: failed to create requeue cache: " + err.Error())
	}
	return &Runner{
		selector: selector,
		ingest:   fn,
		settings: settings,
		queue:    make(chan string, settings.MaxQueueSize),
		recent:   recent,
	}
}

// Shutdown requests a graceful stop: workers finish their current host and
// drain until they see a close sentinel. Safe to call more than once.
func (r *Runner) Shutdown() {
	r.closing.Store(true)
}

// Run crawls until ctx is cancelled (hard stop: in-flight fetches abort)
// or Shutdown is called (graceful stop). Blocks until the workers exit or
// the graceful timeout lapses.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.selector.Bootstrap(); err != nil {
		return err
	}

	for i := 0; i < r.settings.NumProcesses; i++ {
		r.spawnWorker(ctx)
	}

	for ctx.Err() == nil && !r.closing.Load() {
		filled, err := r.populate()
		if err != nil {
			log.Error().Err(err).Msg("queue population failed")
		}
		if filled {
			// Small pause between attempts to keep off the database.
			sleepCtx(ctx, 50*time.Millisecond)
		} else {
			sleepCtx(ctx, r.settings.FullQueueSleepTime)
		}
	}

	if r.closing.Load() && ctx.Err() == nil {
		log.Info().Msg("graceful shutdown: draining workers")
		r.sendCloseSentinels()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.settings.GracefulShutdownTimeout):
		log.Warn().Msg("graceful shutdown timeout, abandoning workers")
	}

	r.recent.Close()
	return ctx.Err()
}

// populate tops the queue up from the selector. Reports true when the
// queue needs no attention right now.
func (r *Runner) populate() (bool, error) {
	qlen := len(r.queue)
	if float64(qlen) >= float64(r.settings.MaxQueueSize)*populateSkipFraction {
		return true, nil
	}

	// Never fill to 100%: channel length is sampled, not locked.
	want := int(float64(r.settings.MaxQueueSize)*populateFillFraction) - qlen
	if want <= 0 {
		return false, nil
	}

	added := 0
	for added < want {
		block := r.settings.LookupBlockSize
		if block > want-added {
			block = want - added
		}
		hosts, err := r.selector.Next(block)
		if err != nil {
			return added > 0, err
		}
		if len(hosts) == 0 {
			return added > 0, nil
		}

		progressed := false
		for _, host := range hosts {
			if r.enqueue(host) {
				added++
				progressed = true
			}
		}
		// Every candidate was suppressed or the queue is full; the same
		// block would come straight back.
		if !progressed {
			return added > 0, nil
		}
	}
	return true, nil
}

// enqueue offers host to the queue unless it was queued too recently.
func (r *Runner) enqueue(host string) bool {
	if _, seen := r.recent.Get(host); seen {
		return false
	}
	select {
	case r.queue <- host:
		r.recent.Set(host, struct{}{})
		return true
	case <-time.After(r.settings.QueueInteractionTimeout):
		return false
	}
}

func (r *Runner) sendCloseSentinels() {
	for i := 0; i < r.settings.NumProcesses; i++ {
		select {
		case r.queue <- closeSentinel:
		case <-time.After(r.settings.QueueInteractionTimeout):
		}
	}
}

func (r *Runner) spawnWorker(ctx context.Context) {
	id := r.workerSeq.Add(1)
	r.wg.Add(1)
	go r.worker(ctx, id)
}

func (r *Runner) worker(ctx context.Context, id int64) {
	defer r.wg.Done()
	log.Debug().Int64("worker", id).Msg("worker started")

	jobs := 0
	for {
		select {
		case <-ctx.Done():
			return
		case host := <-r.queue:
			if host == closeSentinel {
				log.Debug().Int64("worker", id).Msg("worker draining on close")
				return
			}
			r.runJob(ctx, host)

			jobs++
			if max := r.settings.MaxJobsPerProcess; max > 0 && jobs >= max {
				log.Info().Int64("worker", id).Int("jobs", jobs).Msg("worker recycling")
				if ctx.Err() == nil && !r.closing.Load() {
					r.spawnWorker(ctx)
				}
				return
			}
		case <-time.After(r.settings.EmptyQueueSleepTime):
			if r.closing.Load() {
				return
			}
		}
	}
}

// runJob isolates one crawl so a panicking extractor takes down a single
// job, not the pool.
func (r *Runner) runJob(ctx context.Context, host string) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("host", host).Any("panic", p).Msg("crawl panicked")
		}
	}()
	if _, err := r.ingest(ctx, host); err != nil {
		log.Debug().Err(err).Str("host", host).Msg("crawl failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
