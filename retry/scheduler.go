// Package retry runs compensations that failed their inline attempt as
// asynchronous jobs with bounded attempts and exponential backoff.
package retry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fortressi/gatewaysync"
	"github.com/fortressi/gatewaysync/observability"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// Backoff is the retry budget: Attempts retries, the k-th one delayed by
// Unit * 2^k.
type Backoff struct {
	Attempts int
	Unit     time.Duration
}

// DefaultBackoff waits 2, 4, 8, 16 and 32 seconds.
var DefaultBackoff = Backoff{Attempts: 5, Unit: time.Second}

// Delay returns the wait before the given attempt, counting from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	return b.Unit * time.Duration(uint64(1)<<uint(attempt))
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithBackoff(b Backoff) Option {
	return func(s *Scheduler) { s.backoff = b }
}

func WithSleep(fn SleepFunc) Option {
	return func(s *Scheduler) { s.sleep = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler owns the at-least-once execution of compensations.
//
// Attempts for the same resource key run one at a time, whether they come
// from a job or from an inline compensation holding the key through Acquire.
// Jobs for different keys run concurrently. Every state change is written to the JobStore so pending
// jobs survive a restart and can be picked up again with Resume.
type Scheduler struct {
	registry *gatewaysync.ActionRegistry
	jobs     JobStore
	recorder gatewaysync.LifecycleRecorder
	backoff  Backoff
	sleep    SleepFunc
	log      zerolog.Logger

	locks *xsync.MapOf[gatewaysync.ResourceKey, *sync.Mutex]
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs run until Close is called.
func NewScheduler(registry *gatewaysync.ActionRegistry, jobs JobStore, recorder gatewaysync.LifecycleRecorder, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		registry: registry,
		jobs:     jobs,
		recorder: recorder,
		backoff:  DefaultBackoff,
		sleep:    sleepContext,
		log:      zerolog.Nop(),
		locks:    xsync.NewMapOf[gatewaysync.ResourceKey, *sync.Mutex](),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule implements gatewaysync.Scheduler. The job is persisted and started
// in the background; a persistence failure is logged and the job still runs.
func (s *Scheduler) Schedule(ctx context.Context, comp gatewaysync.Compensation) {
	now := time.Now()
	job := Job{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Compensation: comp,
		State:        gatewaysync.LifecycleCompensating,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.jobs.Put(ctx, job); err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist compensation job")
	}
	s.start(job)
}

// Resume restarts every non-terminal job found in the store, continuing from
// its recorded attempt count.
func (s *Scheduler) Resume(ctx context.Context) (int, error) {
	pending, err := s.jobs.Pending(ctx)
	if err != nil {
		return 0, err
	}
	for _, job := range pending {
		s.start(job)
	}
	if len(pending) > 0 {
		s.log.Info().Int("jobs", len(pending)).Msg("resumed pending compensation jobs")
	}
	return len(pending), nil
}

// Wait blocks until every started job has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close stops waiting jobs and blocks until their goroutines return. Jobs
// interrupted this way stay pending in the store.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) start(job Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(job)
	}()
}

func (s *Scheduler) lockFor(key gatewaysync.ResourceKey) *sync.Mutex {
	mu, _ := s.locks.LoadOrCompute(key, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	return mu
}

// Acquire implements gatewaysync.Scheduler. It waits for any attempt running
// for key, including one started by a job, and holds key until released.
func (s *Scheduler) Acquire(key gatewaysync.ResourceKey) func() {
	mu := s.lockFor(key)
	mu.Lock()
	return mu.Unlock
}

// try runs a single attempt while holding the resource key and settles a
// success in the mirror. Backoff sleeps happen outside the key.
func (s *Scheduler) try(ctx context.Context, log zerolog.Logger, comp gatewaysync.Compensation) error {
	release := s.Acquire(comp.Resource)
	defer release()

	result, err := s.registry.Run(ctx, comp)
	if err != nil {
		return err
	}
	if err := gatewaysync.Settle(ctx, s.recorder, comp, result); err != nil {
		log.Warn().Err(err).Msg("compensation succeeded but mirror bookkeeping failed")
	}
	return nil
}

func (s *Scheduler) run(job Job) {
	comp := job.Compensation

	log := s.log.With().
		Str("job_id", job.ID).
		Str("action", string(comp.Action)).
		Str("resource", comp.Resource.String()).
		Logger()

	ctx := s.ctx
	if err := s.recorder.SetLifecycle(ctx, comp.Resource, gatewaysync.LifecycleCompensating); err != nil {
		log.Warn().Err(err).Msg("failed to mark resource compensating")
	}

	var lastErr error
	if job.LastError != "" {
		lastErr = errors.New(job.LastError)
	}

	for attempt := job.Attempts + 1; attempt <= s.backoff.Attempts; attempt++ {
		delay := s.backoff.Delay(attempt)
		job.NextAttemptAt = time.Now().Add(delay)
		s.save(ctx, log, &job)

		if err := s.sleep(ctx, delay); err != nil {
			log.Info().Int("attempt", attempt).Msg("scheduler stopping, job left pending")
			return
		}

		err := s.try(ctx, log, comp)
		job.Attempts = attempt
		if err == nil {
			job.State = gatewaysync.LifecycleCompensated
			job.LastError = ""
			s.save(ctx, log, &job)
			observability.RecordCompensation(string(comp.Action), "retried_ok")
			log.Info().Int("attempt", attempt).Msg("compensation succeeded")
			return
		}

		lastErr = err
		job.LastError = err.Error()
		s.save(ctx, log, &job)
		observability.RecordCompensation(string(comp.Action), "retry_failed")
		log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", s.backoff.Attempts).Msg("compensation attempt failed")
	}

	job.State = gatewaysync.LifecycleCompensationExhausted
	s.save(ctx, log, &job)
	if err := s.recorder.SetLifecycle(ctx, comp.Resource, gatewaysync.LifecycleCompensationExhausted); err != nil {
		log.Warn().Err(err).Msg("failed to mark resource exhausted")
	}
	observability.RecordCompensation(string(comp.Action), "exhausted")
	log.Error().Err(&gatewaysync.CompensationExhausted{
		Action:   comp.Action,
		Resource: comp.Resource,
		Attempts: job.Attempts,
		Last:     lastErr,
	}).Msg("compensation exhausted, manual intervention required")
}

func (s *Scheduler) save(ctx context.Context, log zerolog.Logger, job *Job) {
	job.UpdatedAt = time.Now()
	if err := s.jobs.Put(ctx, *job); err != nil {
		log.Error().Err(err).Msg("failed to persist compensation job")
	}
}
