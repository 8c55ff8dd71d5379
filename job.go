package mpigo

import (
	"sync"
	"time"
)

// JobLockState is one of a JobLock's two states.
type JobLockState int

const (
	// Idle means no job is currently running on this master.
	Idle JobLockState = iota
	// Running means a job holds the lock.
	Running
)

func (s JobLockState) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// JobLock is a single-entry lock on the master ensuring at most one
// active job at a time. It is a package-level singleton, mirroring a
// process-wide, mutex-guarded running flag.
type JobLock struct {
	mu        sync.Mutex
	state     JobLockState
	jobID     string
	startedAt time.Time
}

// theJobLock is the process-wide job lock. Tests that need isolation
// construct their own *JobLock via NewJobLock instead of using this
// singleton.
var theJobLock = NewJobLock()

// NewJobLock returns a fresh, idle JobLock.
func NewJobLock() *JobLock { return &JobLock{} }

// Acquire transitions the lock from idle to running(jobID, now), or
// fails if a job is already running.
func (l *JobLock) Acquire(jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Running {
		return E(KindBusy, "job "+l.jobID+" is already running")
	}
	l.state = Running
	l.jobID = jobID
	l.startedAt = time.Now()
	return nil
}

// Release transitions the lock back to idle. Release is idempotent:
// calling it when the lock is already idle is a no-op, so that every
// exit path (kernel return, kernel error, cancellation drain,
// launcher error) can unconditionally defer it.
func (l *JobLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = Idle
	l.jobID = ""
}

// State reports the lock's current state and, if running, the job ID
// and start time.
func (l *JobLock) State() (state JobLockState, jobID string, startedAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.jobID, l.startedAt
}
