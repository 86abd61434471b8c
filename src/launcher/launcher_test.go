package launcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func waitForFile(t *testing.T, path string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("file %s did not appear within %s", path, timeout)
}

func TestSubmitBeforeStart(t *testing.T) {
	l := New(4)
	err := l.Submit(Job{Path: "/bin/true"})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestSubmitAfterStop(t *testing.T) {
	l := New(4)
	require.NoError(t, l.Start())
	require.NoError(t, l.Stop())

	err := l.Submit(Job{Path: "/bin/true"})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestStartAfterStopFails(t *testing.T) {
	l := New(4)
	require.NoError(t, l.Start())
	require.NoError(t, l.Stop())

	// Restart must be refused; the queue is closed and a new worker would
	// let Submit panic on a send to the closed channel.
	require.Error(t, l.Start())
	assert.ErrorIs(t, l.Submit(Job{Path: "/bin/true"}), ErrQueueClosed)
}

func TestExecuteReportsExitStatus(t *testing.T) {
	dir := t.TempDir()
	exit52 := writeScript(t, dir, "exit52", "exit 52\n")

	results := make(chan Result, 1)
	l := New(4)
	l.OnResult = func(r Result) { results <- r }
	require.NoError(t, l.Start())
	defer l.Stop()

	require.NoError(t, l.Submit(Job{Path: exit52, Args: []string{"routable", "wlan0"}, Timeout: 5 * time.Second}))

	r := <-results
	// A nonzero exit status is an outcome, not an error.
	assert.NoError(t, r.Err)
	assert.Equal(t, 52, r.ExitCode)
}

func TestSpawnFailureDoesNotStopWorker(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	ok := writeScript(t, dir, "ok", "touch "+marker+"\n")

	results := make(chan Result, 2)
	l := New(4)
	l.OnResult = func(r Result) { results <- r }
	require.NoError(t, l.Start())
	defer l.Stop()

	require.NoError(t, l.Submit(Job{Path: filepath.Join(dir, "does-not-exist"), Timeout: time.Second}))
	require.NoError(t, l.Submit(Job{Path: ok, Timeout: 5 * time.Second}))

	r := <-results
	assert.ErrorIs(t, r.Err, ErrExecuteFailed)

	r = <-results
	assert.NoError(t, r.Err)
	waitForFile(t, marker, time.Second)
}

func TestTimeoutKillsScriptAndNextJobRuns(t *testing.T) {
	dir := t.TempDir()
	slow := writeScript(t, dir, "slow", "sleep 30\n")
	marker := filepath.Join(dir, "second-ran")
	second := writeScript(t, dir, "second", "touch "+marker+"\n")

	results := make(chan Result, 2)
	l := New(4)
	l.OnResult = func(r Result) { results <- r }
	require.NoError(t, l.Start())
	defer l.Stop()

	start := time.Now()
	require.NoError(t, l.Submit(Job{Path: slow, Timeout: 300 * time.Millisecond}))
	require.NoError(t, l.Submit(Job{Path: second, Timeout: 5 * time.Second}))

	r := <-results
	assert.ErrorIs(t, r.Err, ErrExecuteTimeout)
	assert.Less(t, time.Since(start), 5*time.Second, "timeout must not wait for the script's full runtime")

	r = <-results
	assert.NoError(t, r.Err)
	waitForFile(t, marker, time.Second)
}

func TestNoWaitDoesNotBlockQueue(t *testing.T) {
	dir := t.TempDir()
	slow := writeScript(t, dir, "slow-nowait", "sleep 5\n")
	marker := filepath.Join(dir, "second-ran")
	second := writeScript(t, dir, "second", "touch "+marker+"\n")

	l := New(4)
	require.NoError(t, l.Start())
	defer l.Stop()

	start := time.Now()
	require.NoError(t, l.Submit(Job{Path: slow, NoWait: true}))
	require.NoError(t, l.Submit(Job{Path: second, Timeout: 5 * time.Second}))

	// The second job's side effect must appear long before the nowait
	// script's 5 second runtime elapses.
	waitForFile(t, marker, 2*time.Second)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestQueueFull(t *testing.T) {
	dir := t.TempDir()
	slow := writeScript(t, dir, "slow", "sleep 3\n")

	l := New(1)
	require.NoError(t, l.Start())
	defer l.Stop()

	// Occupy the worker, then fill the single queue slot.
	require.NoError(t, l.Submit(Job{Path: slow, Timeout: 10 * time.Second}))
	time.Sleep(200 * time.Millisecond) // let the worker dequeue the first job
	require.NoError(t, l.Submit(Job{Path: slow, Timeout: 10 * time.Second}))

	err := l.Submit(Job{Path: slow, Timeout: 10 * time.Second})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestSubmitAssignsJobID(t *testing.T) {
	results := make(chan Result, 1)
	l := New(4)
	l.OnResult = func(r Result) { results <- r }
	require.NoError(t, l.Start())
	defer l.Stop()

	require.NoError(t, l.Submit(Job{Path: "/bin/true", Timeout: 5 * time.Second}))
	r := <-results
	assert.NotEmpty(t, r.Job.ID)
}
