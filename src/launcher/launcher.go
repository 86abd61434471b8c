// Package launcher executes hook scripts one at a time off a FIFO queue,
// isolating the event-processing path from process-spawn latency and from any
// single script's runtime.
package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("module", "launcher")

// DefaultTimeout is the daemon-wide script execution timeout.
const DefaultTimeout = 20 * time.Second

// DefaultQueueSize bounds the job queue. Submit reports an explicit error
// instead of blocking when the bound is hit.
const DefaultQueueSize = 1024

var (
	// ErrQueueClosed is returned by Submit when the worker is not running.
	ErrQueueClosed = errors.New("launcher queue is closed")

	// ErrQueueFull is returned by Submit when the queue cannot accept
	// another job without blocking the caller.
	ErrQueueFull = errors.New("launcher queue is full")

	// ErrExecuteFailed marks a job whose process could not be spawned.
	ErrExecuteFailed = errors.New("script execution failed")

	// ErrExecuteTimeout marks a wait-policy job killed after its timeout.
	ErrExecuteTimeout = errors.New("script execution timed out")
)

// Job is a fully built, immutable unit of work. Once submitted it is owned by
// the launcher queue; a nowait job hands its wait to a detached goroutine.
type Job struct {
	// ID correlates log lines of one execution. Submit assigns one when
	// empty.
	ID string

	Path string

	// Args are passed verbatim: arg0 is the state, arg1 the interface.
	Args []string

	// Env is added on top of the daemon's inherited environment.
	Env map[string]string

	// NoWait selects fire-and-forget execution; Timeout is ignored.
	NoWait bool

	Timeout time.Duration
}

// Result is the outcome of one executed job.
type Result struct {
	Job      Job
	ExitCode int
	Err      error
}

// Launcher drains submitted jobs with a single worker.
type Launcher struct {
	jobs chan Job

	mu      sync.Mutex
	running bool
	stopped bool
	wg      sync.WaitGroup

	// OnResult, when set before Start, observes every wait-policy outcome
	// and spawn failure. Called from the worker goroutine.
	OnResult func(Result)
}

// New creates a launcher with the given queue bound (DefaultQueueSize when
// size is zero or negative).
func New(size int) *Launcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Launcher{jobs: make(chan Job, size)}
}

// Start spins up the worker. A launcher is one-shot: once stopped, its queue
// is closed for good and it cannot be started again.
func (l *Launcher) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("launcher is already running")
	}
	if l.stopped {
		return fmt.Errorf("launcher cannot be restarted")
	}

	l.running = true
	l.wg.Add(1)
	go l.work()

	logger.Debug("Script launcher started")
	return nil
}

// Stop closes the queue and waits for the worker to drain it. In-flight
// nowait children keep running to completion on their own.
func (l *Launcher) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	l.stopped = true
	close(l.jobs)
	l.mu.Unlock()

	l.wg.Wait()
	return nil
}

// Submit enqueues a job without blocking the caller. Failure to accept the
// job is reported, never silently dropped.
func (l *Launcher) Submit(job Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return ErrQueueClosed
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	select {
	case l.jobs <- job:
		return nil
	default:
		return fmt.Errorf("%w: dropping %s", ErrQueueFull, job.Path)
	}
}

func (l *Launcher) work() {
	defer l.wg.Done()

	for job := range l.jobs {
		l.execute(job)
	}
}

// execute runs one job. A spawn failure or timeout never stops the worker.
func (l *Launcher) execute(job Job) {
	cmd := exec.Command(job.Path, job.Args...)
	cmd.Env = append(os.Environ(), flatten(job.Env)...)

	fields := logrus.Fields{
		"job":    job.ID,
		"script": job.Path,
		"arg0":   arg(job.Args, 0),
		"arg1":   arg(job.Args, 1),
	}

	if err := cmd.Start(); err != nil {
		logger.WithFields(fields).WithError(err).Warn("Failed to execute script")
		l.report(Result{Job: job, ExitCode: -1, Err: fmt.Errorf("%w: %s: %v", ErrExecuteFailed, job.Path, err)})
		return
	}

	logger.WithFields(fields).Info("Execute script")

	if job.NoWait {
		// Reap in the background so one slow nowait script does not
		// serialize the rest of the queue behind it.
		go func() {
			err := cmd.Wait()
			if err != nil {
				logger.WithFields(fields).WithError(err).Warn("Script wasn't running")
				return
			}
			logger.WithFields(fields).WithField("exit_code", cmd.ProcessState.ExitCode()).
				Info("Finished executing script")
		}()
		return
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(job.Timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		exitCode := cmd.ProcessState.ExitCode()
		if err != nil && exitCode < 0 {
			logger.WithFields(fields).WithError(err).Warn("Script wait failed")
			l.report(Result{Job: job, ExitCode: exitCode, Err: fmt.Errorf("%w: %s: %v", ErrExecuteFailed, job.Path, err)})
			return
		}
		// Exit status is logged but has no effect on control flow.
		logger.WithFields(fields).WithField("exit_code", exitCode).Info("Finished executing script")
		l.report(Result{Job: job, ExitCode: exitCode})

	case <-timer.C:
		_ = cmd.Process.Kill()
		<-done // reap, no zombie
		logger.WithFields(fields).WithField("timeout", job.Timeout).Warn("Execute timeout, script killed")
		l.report(Result{Job: job, ExitCode: cmd.ProcessState.ExitCode(),
			Err: fmt.Errorf("%w: %s after %s", ErrExecuteTimeout, job.Path, job.Timeout)})
	}
}

func (l *Launcher) report(r Result) {
	if l.OnResult != nil {
		l.OnResult(r)
	}
}

func flatten(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
