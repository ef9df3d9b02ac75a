// Package scheduler fires recurring scan jobs on fixed intervals. Each
// job ticks independently; a tick whose previous run is still active is
// skipped rather than stacked.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smcscan/smcscan/internal/application/scan"
)

// Job is one recurring scan definition.
type Job struct {
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	RunOnStart bool          `json:"run_on_start"`
	Params     scan.Params   `json:"params"`
}

// JobState is the accounting for one job across ticks.
type JobState struct {
	LastRunID   string      `json:"last_run_id,omitempty"`
	LastStarted time.Time   `json:"last_started"`
	LastStatus  scan.Status `json:"last_status,omitempty"`
	Runs        int         `json:"runs"`
	Skipped     int         `json:"skipped"`
	LastError   string      `json:"last_error,omitempty"`
}

// JobStatus pairs a job with its live state.
type JobStatus struct {
	Job      Job      `json:"job"`
	State    JobState `json:"state"`
	InFlight bool     `json:"in_flight"`
}

// Scheduler drives a set of jobs against one scan manager.
type Scheduler struct {
	manager *scan.Manager
	jobs    []Job

	mu      sync.Mutex
	states  map[string]JobState
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates the job table and builds a stopped scheduler.
func New(manager *scan.Manager, jobs []Job) (*Scheduler, error) {
	if manager == nil {
		return nil, errors.New("scheduler: scan manager is required")
	}
	if len(jobs) == 0 {
		return nil, errors.New("scheduler: at least one job is required")
	}
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if j.Name == "" {
			return nil, errors.New("scheduler: job name is required")
		}
		if seen[j.Name] {
			return nil, fmt.Errorf("scheduler: duplicate job %q", j.Name)
		}
		seen[j.Name] = true
		if j.Interval <= 0 {
			return nil, fmt.Errorf("scheduler: job %q needs a positive interval", j.Name)
		}
	}
	return &Scheduler{
		manager: manager,
		jobs:    jobs,
		states:  make(map[string]JobState, len(jobs)),
	}, nil
}

// Start launches one ticker loop per job. It returns immediately; Stop
// or cancelling ctx ends the loops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler: already running")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runJob(ctx, job)
	}
	log.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
	return nil
}

// Stop ends the ticker loops and waits for them. Scans already created
// keep running under the scan manager.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	log.Info().Msg("scheduler stopped")
}

// Status reports every job with its accounting, in table order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		st := s.states[job.Name]
		st.LastStatus = s.refreshStatusLocked(&st)
		s.states[job.Name] = st
		out = append(out, JobStatus{
			Job:      job,
			State:    st,
			InFlight: st.LastStatus != "" && !st.LastStatus.Terminal(),
		})
	}
	return out
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	if job.RunOnStart {
		s.fire(job)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(job)
		}
	}
}

// fire creates a scan for the job unless its previous run is still
// active, in which case the tick is dropped.
func (s *Scheduler) fire(job Job) {
	s.mu.Lock()
	st := s.states[job.Name]
	if last := s.refreshStatusLocked(&st); last != "" && !last.Terminal() {
		st.Skipped++
		s.states[job.Name] = st
		s.mu.Unlock()
		log.Warn().Str("job", job.Name).Str("run_id", st.LastRunID).
			Msg("previous run still active, skipping tick")
		return
	}
	s.mu.Unlock()

	snap, err := s.manager.Create(job.Params)

	s.mu.Lock()
	defer s.mu.Unlock()
	st = s.states[job.Name]
	if err != nil {
		st.LastError = err.Error()
		s.states[job.Name] = st
		log.Error().Str("job", job.Name).Err(err).Msg("scheduled scan failed to start")
		return
	}
	st.LastRunID = snap.ID
	st.LastStarted = time.Now().UTC()
	st.LastStatus = snap.Status
	st.LastError = ""
	st.Runs++
	s.states[job.Name] = st
	log.Info().Str("job", job.Name).Str("run_id", snap.ID).Int("runs", st.Runs).
		Msg("scheduled scan started")
}

// refreshStatusLocked pulls the latest status of the job's last run.
func (s *Scheduler) refreshStatusLocked(st *JobState) scan.Status {
	if st.LastRunID == "" {
		return ""
	}
	snap, ok := s.manager.Get(st.LastRunID)
	if !ok {
		// Pruned from the manager's history; treat as finished.
		return scan.StatusCompleted
	}
	return snap.Status
}
