/*
Package scheduler runs recurring background jobs.

PURPOSE:
  A process-wide recurring-task executor driving the watchers. Each job
  has an identifier, a trigger (fixed interval or daily wall-clock time),
  and a hard cap of one in-flight execution: a slow run never overlaps
  its own next firing.

OVERLAP POLICY: SKIP.
  If a firing arrives while the previous run is still going, the firing is
  skipped and the job waits for its next trigger. The watchers are
  idempotent scans, so a skipped firing's work is picked up whole on the
  next tick. Skips are recorded in the run history.

FAILURE ISOLATION:
  A job that returns an error or panics is logged with its identifier and
  timestamp, the run is marked failed, and the next scheduled firing
  proceeds unaffected. No job is fatal to the process or to sibling jobs.

LIFECYCLE:
  The scheduler is an explicitly constructed object owned by whoever owns
  the process lifecycle; there is no package-level shared instance.
  Register is idempotent: re-registering a job id replaces the prior
  definition, so startup can declare the full job set unconditionally.

USAGE:
  s := scheduler.New()
  s.Register(scheduler.Job{ID: "low-stock", Trigger: scheduler.Every(15 * time.Minute), Run: fn})
  s.Start()
  defer s.Stop()
*/
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// =============================================================================
// TRIGGERS
// =============================================================================

// Trigger computes the next firing time strictly after the given instant.
type Trigger interface {
	Next(after time.Time) time.Time
	String() string
}

type intervalTrigger struct {
	every time.Duration
}

// Every fires at a fixed interval.
func Every(d time.Duration) Trigger { return intervalTrigger{every: d} }

func (t intervalTrigger) Next(after time.Time) time.Time { return after.Add(t.every) }
func (t intervalTrigger) String() string                 { return fmt.Sprintf("every %v", t.every) }

type dailyTrigger struct {
	hour, minute int
}

// DailyAt fires once a day at the given local wall-clock time.
func DailyAt(hour, minute int) Trigger { return dailyTrigger{hour: hour, minute: minute} }

func (t dailyTrigger) Next(after time.Time) time.Time {
	next := time.Date(after.Year(), after.Month(), after.Day(), t.hour, t.minute, 0, 0, after.Location())
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (t dailyTrigger) String() string { return fmt.Sprintf("daily at %02d:%02d", t.hour, t.minute) }

// =============================================================================
// JOBS AND RUN HISTORY
// =============================================================================

// Job is a recurring unit of work.
type Job struct {
	ID      string
	Trigger Trigger
	Run     func(ctx context.Context) error
}

type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped" // firing arrived while previous run was in flight
)

// RunRecord is one entry in a job's run history.
type RunRecord struct {
	JobID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	Error      string
}

// historyLimit caps retained run records per job.
const historyLimit = 50

// =============================================================================
// SCHEDULER
// =============================================================================

type jobState struct {
	job     Job
	history []RunRecord
	stop    chan struct{} // closes to cancel this job's loop
}

// Scheduler executes registered jobs on their own schedules. Construct
// with New, pass to whatever owns the process lifecycle.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*jobState
	started bool
	wg      sync.WaitGroup

	// running is keyed by job ID rather than kept on jobState so that a
	// replacement registered mid-run still sees the old run in flight.
	running map[string]bool

	// now is the clock; overridable for tests.
	now func() time.Time
}

func New() *Scheduler {
	return &Scheduler{
		jobs:    make(map[string]*jobState),
		running: make(map[string]bool),
		now:     time.Now,
	}
}

// Register adds a job, replacing any prior definition with the same ID.
// If the scheduler is already started and the job is replaced, the old
// loop is stopped and a new one started.
func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[job.ID]; ok {
		close(old.stop)
	}
	st := &jobState{job: job, stop: make(chan struct{})}
	s.jobs[job.ID] = st

	if s.started {
		s.launch(st)
	}
}

// Start launches a loop per registered job. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	for _, st := range s.jobs {
		s.launch(st)
	}
	log.Printf("[Scheduler] Started with %d jobs", len(s.jobs))
}

// Stop cancels all job loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	for _, st := range s.jobs {
		close(st.stop)
		st.stop = make(chan struct{})
	}
	s.mu.Unlock()

	s.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

// launch starts one job loop. Caller holds s.mu.
func (s *Scheduler) launch(st *jobState) {
	s.wg.Add(1)
	stop := st.stop
	go s.loop(st, stop)
}

func (s *Scheduler) loop(st *jobState, stop chan struct{}) {
	defer s.wg.Done()

	for {
		next := st.job.Trigger.Next(s.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			s.fire(st)
		case <-stop:
			timer.Stop()
			return
		}
	}
}

// fire runs the job once, unless a previous run is still in flight; in
// that case the firing is skipped and recorded as such.
func (s *Scheduler) fire(st *jobState) {
	s.mu.Lock()
	if s.running[st.job.ID] {
		now := s.now()
		s.recordLocked(st, RunRecord{
			JobID:      st.job.ID,
			StartedAt:  now,
			FinishedAt: now,
			Status:     RunSkipped,
		})
		s.mu.Unlock()
		log.Printf("[Scheduler] Job %s still running, skipping firing", st.job.ID)
		return
	}
	s.running[st.job.ID] = true
	s.mu.Unlock()

	started := s.now()
	err := s.runProtected(st.job)
	finished := s.now()

	rec := RunRecord{
		JobID:      st.job.ID,
		StartedAt:  started,
		FinishedAt: finished,
		Status:     RunSucceeded,
	}
	if err != nil {
		rec.Status = RunFailed
		rec.Error = err.Error()
		log.Printf("[Scheduler] Job %s failed at %v: %v", st.job.ID, finished, err)
	}

	s.mu.Lock()
	s.running[st.job.ID] = false
	s.recordLocked(st, rec)
	s.mu.Unlock()
}

// runProtected converts a panic in a job into an error so one bad watcher
// cannot take down the scheduler or its siblings.
func (s *Scheduler) runProtected(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()
	return job.Run(context.Background())
}

func (s *Scheduler) recordLocked(st *jobState, rec RunRecord) {
	st.history = append(st.history, rec)
	if len(st.history) > historyLimit {
		st.history = st.history[len(st.history)-historyLimit:]
	}
}

// RunNow fires a job immediately (admin/testing). Respects the
// one-in-flight cap like a scheduled firing.
func (s *Scheduler) RunNow(id string) error {
	s.mu.Lock()
	st, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no job registered with id %q", id)
	}
	s.fire(st)
	return nil
}

// History returns a copy of the run records for a job, oldest first.
func (s *Scheduler) History(id string) []RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[id]
	if !ok {
		return nil
	}
	return append([]RunRecord(nil), st.history...)
}

// JobIDs returns the registered job identifiers.
func (s *Scheduler) JobIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}
