// Package dispatcher applies webhook deliveries in the background. Jobs for
// the same issue run one at a time and failed jobs are retried with
// exponential backoff.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cexll/pmsync/internal/frontmatter"
	"github.com/cexll/pmsync/internal/ghsync"
	"github.com/cexll/pmsync/internal/github"
)

var (
	// ErrQueueFull is returned by Enqueue when no slot is free.
	ErrQueueFull = errors.New("dispatcher queue is full")
	// ErrQueueClosed is returned by Enqueue after Shutdown.
	ErrQueueClosed = errors.New("dispatcher is shut down")
)

// Applier downloads a batch of issues into the store.
type Applier interface {
	DownloadIssues(ctx context.Context, issues []*github.Issue, opts ghsync.Options) (*ghsync.Report, error)
}

// Job is one issue delivery waiting to be applied.
type Job struct {
	Delivery string
	Issue    *github.Issue
	Attempt  int
}

// Config controls dispatcher behaviour
type Config struct {
	Workers           int
	QueueSize         int
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// Dispatcher serialises jobs per issue and retries failed ones with backoff
type Dispatcher struct {
	applier Applier
	opts    ghsync.Options
	cfg     Config

	queue chan *Job

	keyedLocks *keyedMutex

	stopCh chan struct{}
	wg     sync.WaitGroup

	once sync.Once
}

// New starts cfg.Workers workers applying jobs with opts.
func New(applier Applier, opts ghsync.Options, cfg Config) *Dispatcher {
	normalized := normalizeConfig(cfg)
	d := &Dispatcher{
		applier:    applier,
		opts:       opts,
		cfg:        normalized,
		queue:      make(chan *Job, normalized.QueueSize),
		keyedLocks: newKeyedMutex(),
		stopCh:     make(chan struct{}),
	}
	d.startWorkers()
	return d
}

func normalizeConfig(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 16
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 5 * time.Second
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Minute
	}
	return cfg
}

func (d *Dispatcher) startWorkers() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Enqueue queues a delivery for its first attempt.
func (d *Dispatcher) Enqueue(job *Job) error {
	if job == nil || job.Issue == nil {
		return errors.New("dispatcher enqueue: job has no issue")
	}

	select {
	case <-d.stopCh:
		return ErrQueueClosed
	default:
	}

	job.Attempt = 1
	select {
	case d.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case job, ok := <-d.queue:
			if !ok {
				return
			}
			d.process(job)
		}
	}
}

func (d *Dispatcher) process(job *Job) {
	key := fmt.Sprintf("#%d", job.Issue.Number)
	d.keyedLocks.Lock(key)

	report, err := d.applier.DownloadIssues(context.Background(), []*github.Issue{job.Issue}, d.opts)

	d.keyedLocks.Unlock(key)

	if err != nil {
		log.Printf("[Webhook] Issue %s attempt %d failed: %v", key, job.Attempt, err)
		if !retryable(err) {
			log.Printf("[Webhook] Issue %s attempt %d is not retryable; giving up", key, job.Attempt)
			return
		}
		d.handleRetry(job, err)
		return
	}

	log.Printf("[Webhook] Applied issue %s (delivery %s): %s", key, job.Delivery, report.Summary())
}

// retryable reports whether another attempt could succeed. A local file
// that does not parse stays broken until someone edits it.
func retryable(err error) bool {
	return !frontmatter.IsParseError(err)
}

func (d *Dispatcher) handleRetry(job *Job, applyErr error) {
	if job.Attempt >= d.cfg.MaxAttempts {
		log.Printf("[Webhook] Issue #%d exceeded max attempts (%d): %v", job.Issue.Number, d.cfg.MaxAttempts, applyErr)
		return
	}

	next := &Job{Delivery: job.Delivery, Issue: job.Issue, Attempt: job.Attempt + 1}
	delay := d.backoffDuration(next.Attempt)
	log.Printf("[Webhook] Scheduling retry %d for issue #%d in %s", next.Attempt, job.Issue.Number, delay)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			d.enqueueRetry(next)
		case <-d.stopCh:
			return
		}
	}()
}

func (d *Dispatcher) enqueueRetry(job *Job) {
	for {
		select {
		case <-d.stopCh:
			return
		case d.queue <- job:
			return
		default:
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func (d *Dispatcher) backoffDuration(attempt int) time.Duration {
	backoff := float64(d.cfg.InitialBackoff)
	for i := 2; i < attempt; i++ {
		backoff *= d.cfg.BackoffMultiplier
		if backoff >= float64(d.cfg.MaxBackoff) {
			return d.cfg.MaxBackoff
		}
	}
	return time.Duration(backoff)
}

// Shutdown stops the workers and waits for in-flight jobs, or for ctx.
// Queued jobs that have not started are dropped.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.once.Do(func() {
		close(d.stopCh)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return
	case <-done:
		return
	}
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[string]*sync.Mutex),
	}
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	k.mu.Unlock()

	if !ok {
		return
	}

	m.Unlock()
}
