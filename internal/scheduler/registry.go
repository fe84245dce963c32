package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xsync/xsync/internal/ingestion"
	"github.com/xsync/xsync/internal/models"
)

// Trigger names why a run started.
type Trigger string

const (
	TriggerRecurring Trigger = "recurring"
	TriggerBackfill  Trigger = "backfill"
)

// Run describes one scheduled execution handed to a RunFunc.
type Run struct {
	Job     models.SyncJob
	Window  models.SyncWindow
	Trigger Trigger
}

// RunFunc executes the collection pipeline for one run. Returning an error
// wrapping models.ErrAccountNotFound unregisters the account.
type RunFunc func(ctx context.Context, run Run) error

// Registry owns the recurring and one-shot jobs of every tracked account.
// At most one run per account is in flight at any time.
type Registry struct {
	// persistMu orders writes to jobs with the schedule changes they describe.
	// It is always taken before mu.
	persistMu sync.Mutex
	mu        sync.Mutex
	cron    *cron.Cron
	chain   cron.Chain
	jobs    ingestion.SyncJobRepository
	run     RunFunc
	logger  *slog.Logger
	now     func() time.Time
	entries map[string]*accountEntry
	running map[string]uint64
	seq     uint64
	started bool
	stopped bool
	wg      sync.WaitGroup
}

type accountEntry struct {
	job         models.SyncJob
	gen         uint64
	entryID     cron.EntryID
	once        *time.Timer
	oncePending bool
	tickPending bool
}

// NewRegistry creates a registry that persists schedules in jobs and executes
// runs through run.
func NewRegistry(jobs ingestion.SyncJobRepository, run RunFunc, logger *slog.Logger) *Registry {
	cl := cronLogger{logger: logger}
	return &Registry{
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		chain:   cron.NewChain(cron.Recover(cl)),
		jobs:    jobs,
		run:     run,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*accountEntry),
		running: make(map[string]uint64),
	}
}

// Start begins dispatching. Schedules persisted by a previous process are
// restored; accounts that never completed a run also get their backfill.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.mu.Unlock()

	r.cron.Start()

	saved, err := r.jobs.List(ctx)
	if err != nil {
		return fmt.Errorf("load sync jobs: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range saved {
		if _, ok := r.entries[job.Account]; ok {
			continue
		}
		if job.Interval <= 0 {
			r.logger.Warn("skipping stored sync job with invalid interval", "account", job.Account)
			continue
		}
		r.installLocked(job, job.LastRunAt == nil)
	}

	r.logger.Info("sync registry started", "restored_jobs", len(r.entries))
	return nil
}

// Register persists job and atomically replaces any schedule for the same
// account: a recurring job whose first tick is now, plus one backfill run
// bounded below by job.BackfillStart.
func (r *Registry) Register(ctx context.Context, job models.SyncJob) error {
	if job.Account == "" {
		return fmt.Errorf("account is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", models.ErrInvalidFrequency)
	}
	job.BackfillStart = job.BackfillStart.UTC()

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	if r.isStopped() {
		return fmt.Errorf("sync registry is shut down")
	}
	if err := r.jobs.Save(ctx, job); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return fmt.Errorf("sync registry is shut down")
	}

	if prev, ok := r.entries[job.Account]; ok {
		r.removeLocked(prev)
		r.logger.Info("replacing sync schedule", "account", job.Account)
	}
	r.installLocked(job, true)

	r.logger.Info("sync scheduled",
		"account", job.Account,
		"frequency", job.Frequency,
		"interval", job.Interval,
		"start_time", job.BackfillStart,
	)
	return nil
}

// Unregister cancels every future trigger for account and forgets its
// schedule. A run already executing completes but schedules nothing further.
func (r *Registry) Unregister(ctx context.Context, account string) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	e, ok := r.entries[account]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrNoSuchTask, account)
	}
	r.removeLocked(e)
	r.mu.Unlock()

	r.logger.Info("sync unscheduled", "account", account)
	return r.jobs.Delete(ctx, account)
}

// Job returns the active schedule for account.
func (r *Registry) Job(account string) (models.SyncJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[account]
	if !ok {
		return models.SyncJob{}, false
	}
	job := e.job
	if next := r.cron.Entry(e.entryID).Next; !next.IsZero() {
		next = next.UTC()
		job.NextRunAt = &next
	}
	return job, true
}

// Accounts returns the accounts with an active schedule, sorted.
func (r *Registry) Accounts() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.entries))
	for account := range r.entries {
		out = append(out, account)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

func (r *Registry) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Shutdown cancels pending triggers and waits for in-flight runs to finish or
// for ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	for _, e := range r.entries {
		if e.once != nil {
			e.once.Stop()
			e.once = nil
		}
		e.oncePending = false
		e.tickPending = false
	}
	r.mu.Unlock()

	cronDone := r.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("sync registry stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("sync registry shutdown timed out with runs in flight")
		return ctx.Err()
	}
}

func (r *Registry) installLocked(job models.SyncJob, backfill bool) {
	r.seq++
	e := &accountEntry{job: job, gen: r.seq}
	account, gen := job.Account, e.gen

	sched := &firstTickSchedule{first: r.now(), every: cron.Every(job.Interval)}
	e.entryID = r.cron.Schedule(sched, cron.FuncJob(func() {
		r.trigger(account, gen, TriggerRecurring)
	}))

	if backfill {
		e.once = time.AfterFunc(0, func() {
			r.chain.Then(cron.FuncJob(func() {
				r.trigger(account, gen, TriggerBackfill)
			})).Run()
		})
	}
	r.entries[account] = e
}

func (r *Registry) removeLocked(e *accountEntry) {
	r.cron.Remove(e.entryID)
	if e.once != nil {
		e.once.Stop()
	}
	delete(r.entries, e.job.Account)
}

// currentLocked returns the entry for account if it still belongs to gen.
func (r *Registry) currentLocked(account string, gen uint64) (*accountEntry, bool) {
	e, ok := r.entries[account]
	if !ok || e.gen != gen || r.stopped {
		return nil, false
	}
	return e, true
}

func (r *Registry) trigger(account string, gen uint64, trigger Trigger) {
	r.mu.Lock()
	e, ok := r.currentLocked(account, gen)
	if !ok {
		r.mu.Unlock()
		return
	}
	if trigger == TriggerBackfill {
		e.once = nil
	}
	if runningGen, busy := r.running[account]; busy {
		switch {
		case trigger == TriggerBackfill:
			e.oncePending = true
			r.logger.Debug("backfill deferred until the current run finishes", "account", account)
		case runningGen != gen:
			// The in-flight run belongs to a replaced schedule; this entry's
			// first tick must still happen.
			e.tickPending = true
			r.logger.Debug("tick deferred until the replaced schedule's run finishes", "account", account)
		default:
			r.logger.Info("previous run still in flight, skipping tick", "account", account)
		}
		r.mu.Unlock()
		return
	}
	r.running[account] = gen
	r.wg.Add(1)
	r.mu.Unlock()

	defer r.wg.Done()

	for {
		r.execute(account, gen, trigger)

		r.mu.Lock()
		next, ok := r.pendingLocked(account)
		if !ok {
			delete(r.running, account)
			r.mu.Unlock()
			return
		}
		gen, trigger = next.gen, next.trigger
		r.running[account] = gen
		r.mu.Unlock()
	}
}

type pendingRun struct {
	gen     uint64
	trigger Trigger
}

// pendingLocked claims a run deferred while the account was busy. The
// current entry is consulted whatever its generation, so a schedule installed
// during the previous run still gets its backfill and first tick.
func (r *Registry) pendingLocked(account string) (pendingRun, bool) {
	e, ok := r.entries[account]
	if !ok || r.stopped {
		return pendingRun{}, false
	}
	switch {
	case e.oncePending:
		e.oncePending = false
		return pendingRun{gen: e.gen, trigger: TriggerBackfill}, true
	case e.tickPending:
		e.tickPending = false
		return pendingRun{gen: e.gen, trigger: TriggerRecurring}, true
	}
	return pendingRun{}, false
}

// execute performs one run. Only a successful run advances the persisted
// last_run_at, and only while gen still owns the account.
func (r *Registry) execute(account string, gen uint64, trigger Trigger) {
	r.mu.Lock()
	e, ok := r.currentLocked(account, gen)
	if !ok {
		r.mu.Unlock()
		return
	}
	job := e.job
	r.mu.Unlock()

	now := r.now()
	var window models.SyncWindow
	if trigger == TriggerBackfill {
		window = models.BackfillWindow(now, job.BackfillStart)
	} else {
		window = models.RecurringWindow(now, job.Interval, job.BackfillStart)
	}

	ctx := context.Background()
	err := r.run(ctx, Run{Job: job, Window: window, Trigger: trigger})

	if errors.Is(err, models.ErrAccountNotFound) {
		r.logger.Warn("account no longer resolves, removing its schedule", "account", account, "error", err)
		r.unregisterGen(ctx, account, gen)
		return
	}
	if err != nil {
		r.logger.Error("sync run failed", "account", account, "trigger", trigger, "error", err)
		return
	}

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	e, ok = r.currentLocked(account, gen)
	if !ok {
		r.mu.Unlock()
		return
	}
	next := r.cron.Entry(e.entryID).Next
	r.mu.Unlock()
	if next.IsZero() || next.Before(now) {
		next = now.Add(job.Interval)
	}

	if err := r.jobs.MarkRun(ctx, account, now, next); err != nil {
		r.logger.Error("failed to record sync run", "account", account, "error", err)
	}
}

func (r *Registry) unregisterGen(ctx context.Context, account string, gen uint64) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	e, ok := r.entries[account]
	if !ok || e.gen != gen {
		r.mu.Unlock()
		return
	}
	r.removeLocked(e)
	r.mu.Unlock()

	if err := r.jobs.Delete(ctx, account); err != nil {
		r.logger.Error("failed to delete sync job", "account", account, "error", err)
	}
}

// firstTickSchedule fires once at first, then every interval after each run.
// Next is only called from the cron goroutine.
type firstTickSchedule struct {
	first time.Time
	every cron.ConstantDelaySchedule
	fired bool
}

func (s *firstTickSchedule) Next(t time.Time) time.Time {
	if !s.fired {
		s.fired = true
		return s.first
	}
	return s.every.Next(t)
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
