package taskq

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnqueueCoalescesPendingRuns(t *testing.T) {
	q := New(0)
	var runs int
	task := NewTask(func() { runs++ })

	require.True(t, q.Enqueue(task))
	require.False(t, q.Enqueue(task))
	require.Equal(t, 1, q.Len())

	require.Equal(t, 1, q.RunPending())
	require.Equal(t, 1, runs)
	require.Zero(t, q.RunPending())
}

func TestTaskEnqueuedWhileRunningRunsAgain(t *testing.T) {
	q := New(0)
	var runs int
	var task *Task
	task = NewTask(func() {
		runs++
		if runs == 1 {
			require.True(t, q.Enqueue(task))
			// still running, so it must not be queued yet
			require.Zero(t, q.Len())
		}
	})

	q.Enqueue(task)
	require.Equal(t, 2, q.RunPending())
	require.Equal(t, 2, runs)
}

func TestTaskNeverRunsConcurrently(t *testing.T) {
	q := New(4)
	defer q.Close()

	var active, maxActive, total int32
	task := NewTask(func() {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&total, 1)
		atomic.AddInt32(&active, -1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				q.Enqueue(task)
				time.Sleep(200 * time.Microsecond)
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return q.Len() == 0 && atomic.LoadInt32(&active) == 0 }, time.Second, time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
	require.Positive(t, atomic.LoadInt32(&total))
}

func TestCancelDropsPendingAndWaitsForRunning(t *testing.T) {
	q := New(1)
	defer q.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	var runs atomic.Int32
	task := NewTask(func() {
		runs.Add(1)
		close(started)
		<-release
		finished.Store(true)
	})

	q.Enqueue(task)
	<-started
	q.Enqueue(task)

	done := make(chan struct{})
	go func() {
		q.Cancel(task)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("cancel returned while the task was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancel did not return")
	}
	require.True(t, finished.Load())
	require.Zero(t, q.Len())
	require.Equal(t, int32(1), runs.Load())
}

func TestCloseDiscardsQueued(t *testing.T) {
	q := New(0)
	var runs int
	task := NewTask(func() { runs++ })

	q.Enqueue(task)
	q.Close()

	require.Zero(t, q.Len())
	require.False(t, q.Enqueue(task))
	require.Zero(t, q.RunPending())
	require.Zero(t, runs)
}

func TestWorkersRunTasks(t *testing.T) {
	q := New(2)
	defer q.Close()

	var count atomic.Int32
	tasks := make([]*Task, 10)
	for i := range tasks {
		tasks[i] = NewTask(func() { count.Add(1) })
		q.Enqueue(tasks[i])
	}

	require.Eventually(t, func() bool { return count.Load() == 10 }, time.Second, time.Millisecond)
	require.Equal(t, 2, q.Workers())
}
