package jobs

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"herald/internal/directory"
	"herald/internal/eval"
	"herald/internal/eventbus"
	"herald/internal/storage"
	"herald/pkg/logx"
)

// Config controls the job service.
type Config struct {
	// RefreshInterval is how often continuous jobs are re-evaluated.
	RefreshInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = time.Minute
	}
	return c
}

type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	dir   directory.Client
	ev    *eval.Evaluator
	store storage.Store // nil when storage is disabled

	mu            sync.Mutex
	cfg           Config
	jobs          map[string]*Job
	nextID        uint64
	sending       bool
	blockExisting bool
	blockNew      bool
	down          bool

	queue *sendQueue
	wake  chan struct{} // resumes a paused dispatch loop

	cron      *cron.Cron
	entry     cron.EntryID
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfg Config, dir directory.Client, ev *eval.Evaluator, bus eventbus.Bus, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:   log.With(logx.String("component", "jobs")),
		bus:   bus,
		dir:   dir,
		ev:    ev,
		store: store,
		cfg:   cfg.withDefaults(),
		jobs:  map[string]*Job{},
		queue: newSendQueue(),
		wake:  make(chan struct{}, 1),
	}
}

// Start launches the dispatch loop and the refresh schedule. Calling Start
// twice, or after Shutdown, is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCancel != nil || s.down {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx, s.runCancel = runCtx, cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatchLoop(runCtx)
	}()

	c := cron.New()
	entry, err := c.AddFunc("@every "+s.cfg.RefreshInterval.String(), func() { s.refreshTick(runCtx) })
	if err != nil {
		// "@every <duration>" with a positive duration cannot fail; keep the
		// dispatch loop alive regardless.
		s.log.Error("registering refresh schedule", logx.Err(err))
	} else {
		s.entry = entry
		c.Start()
		s.cron = c
	}

	s.log.Info("job manager started", logx.Duration("refresh_interval", s.cfg.RefreshInterval))
}

// Apply updates tunables at runtime. Only the refresh interval is live
// today; a change reschedules the refresh entry in place.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := cfg.RefreshInterval != s.cfg.RefreshInterval
	s.cfg = cfg
	if !changed || s.cron == nil {
		return
	}
	s.cron.Remove(s.entry)
	runCtx := s.runCtx
	entry, err := s.cron.AddFunc("@every "+cfg.RefreshInterval.String(), func() { s.refreshTick(runCtx) })
	if err != nil {
		s.log.Error("rescheduling refresh", logx.Err(err))
		return
	}
	s.entry = entry
	s.log.Info("refresh interval updated", logx.Duration("refresh_interval", cfg.RefreshInterval))
}

// Submit evaluates the query and registers a job for the result. The
// blocked/shutdown checks run before evaluation so a blocked caller never
// costs directory requests.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return "", ErrShutdown
	}
	if s.blockNew {
		s.mu.Unlock()
		return "", ErrBlocked
	}
	s.mu.Unlock()

	nations, err := s.ev.Evaluate(ctx, req.Query, req.Rules)
	if err != nil {
		return "", err
	}
	if len(nations) == 0 && !req.Continuous {
		return "", ErrNoRecipients
	}

	s.mu.Lock()
	if s.down {
		// Shut down while we were evaluating.
		s.mu.Unlock()
		return "", ErrShutdown
	}
	id := strconv.FormatUint(s.nextID, 10)
	s.nextID++

	job := &Job{
		ID:         id,
		Query:      req.Query,
		Params:     req.Params,
		Continuous: req.Continuous,
		DryRun:     req.DryRun,
		Rules:      req.Rules,
		known:      make(map[string]bool, len(nations)),
	}
	for _, n := range nations {
		r := &Recipient{Nation: n, JobID: id}
		job.recipients = append(job.recipients, r)
		job.known[n] = true
	}
	s.jobs[id] = job
	pending := append([]*Recipient(nil), job.recipients...)
	s.mu.Unlock()

	for _, r := range pending {
		s.queue.enqueue(r)
	}
	s.log.Info("job submitted",
		logx.String("job", id),
		logx.Int("recipients", len(pending)),
		logx.Bool("continuous", req.Continuous),
		logx.Bool("dry_run", req.DryRun))
	return id, nil
}

// Cancel fails every still-pending recipient of the job and terminates it
// permanently, continuous or not. A send already past the in-flight point
// is not retracted; its late result is dropped by the single-writer rule.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	cancelled := 0
	for _, r := range job.recipients {
		if r.resolved {
			continue
		}
		r.resolved = true
		r.success = false
		r.cause = ErrCancelled
		s.queue.remove(r)
		cancelled++
	}
	completed := !job.complete
	job.complete = true
	s.mu.Unlock()

	if completed {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobCompleted, JobID: id})
	}
	s.log.Info("job cancelled", logx.String("job", id), logx.Int("pending_cancelled", cancelled))
	return nil
}

// Job returns a copy of the job's current state.
func (s *Service) Job(id string) (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return JobStatus{}, ErrNotFound
	}
	return jobStatusLocked(job), nil
}

// Snapshot copies the state of every job plus the queue for rendering.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		QueueLen:      s.queue.len(),
		Sending:       s.sending,
		BlockExisting: s.blockExisting,
		BlockNew:      s.blockNew,
		Down:          s.down,
	}
	for _, job := range s.jobs {
		snap.Jobs = append(snap.Jobs, jobStatusLocked(job))
	}
	return snap
}

// SetBlockExisting pauses (true) or resumes (false) the dispatch loop.
// The queue is retained; an in-flight send is not interrupted.
func (s *Service) SetBlockExisting(v bool) {
	s.mu.Lock()
	s.blockExisting = v
	s.mu.Unlock()
	if !v {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	s.log.Info("dispatch block updated", logx.Bool("blocked", v))
}

// SetBlockNew rejects (true) or accepts (false) new submissions. While set,
// the refresh tick is also skipped.
func (s *Service) SetBlockNew(v bool) {
	s.mu.Lock()
	s.blockNew = v
	s.mu.Unlock()
	s.log.Info("submission block updated", logx.Bool("blocked", v))
}

// Shutdown permanently disables dispatch and refresh, fails everything
// still queued with ErrCleared, and waits (bounded by ctx) for the
// in-flight send to wind down. Further submissions fail with ErrShutdown.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return
	}
	s.down = true
	c := s.cron
	s.cron = nil
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	if cancel != nil {
		cancel()
	}

	pending := s.queue.drain()
	var completed []string
	s.mu.Lock()
	for _, r := range pending {
		job := s.jobs[r.JobID]
		if job == nil {
			continue
		}
		if wrote, done := s.resolveLocked(job, r, false, ErrCleared); wrote && done {
			completed = append(completed, job.ID)
		}
	}
	s.mu.Unlock()
	for _, id := range completed {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobCompleted, JobID: id})
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("job manager shut down", logx.Int("cleared", len(pending)))
}

// resolveLocked writes a recipient's final status if it is still pending.
// Caller holds s.mu. Returns whether this call did the write, and whether
// the owning job transitioned to complete because of it.
func (s *Service) resolveLocked(job *Job, r *Recipient, success bool, cause error) (wrote, completed bool) {
	if r.resolved {
		return false, false
	}
	r.resolved = true
	r.success = success
	r.cause = cause

	if job.Continuous || job.complete {
		return true, false
	}
	for _, other := range job.recipients {
		if !other.resolved {
			return true, false
		}
	}
	job.complete = true
	return true, true
}

func jobStatusLocked(job *Job) JobStatus {
	st := JobStatus{
		ID:         job.ID,
		Query:      job.Query,
		Continuous: job.Continuous,
		DryRun:     job.DryRun,
		Started:    job.started,
		Complete:   job.complete,
		Total:      len(job.recipients),
	}
	st.Recipients = make([]RecipientStatus, 0, len(job.recipients))
	for _, r := range job.recipients {
		rs := RecipientStatus{Nation: r.Nation, Pending: !r.resolved, Success: r.resolved && r.success}
		if r.resolved && r.cause != nil {
			rs.Error = r.cause.Error()
		}
		switch {
		case !r.resolved:
			st.Pending++
		case r.success:
			st.Succeeded++
		default:
			st.Failed++
		}
		st.Recipients = append(st.Recipients, rs)
	}
	return st
}
