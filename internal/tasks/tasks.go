// Package tasks starts the process's long-running tasks and waits for the
// first one to stop.
package tasks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Entry is one long-running task. Run is expected to block for the life of
// the process and return only on failure or cancellation.
type Entry[S any] struct {
	Name string
	Run  func(ctx context.Context, shared S) error
}

// Task is a started Entry.
type Task struct {
	Name string

	done chan struct{}
	err  error
}

// Done is closed when the task returns.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's result. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	return t.err
}

// Spawn starts one goroutine per entry, each receiving the same shared
// value, and returns the started tasks with their count. The logger is taken
// from ctx.
func Spawn[S any](ctx context.Context, shared S, entries ...Entry[S]) ([]*Task, int) {
	started := make([]*Task, 0, len(entries))
	for _, e := range entries {
		t := &Task{Name: e.Name, done: make(chan struct{})}
		run := e.Run
		go func() {
			defer close(t.done)
			defer func() {
				if r := recover(); r != nil {
					t.err = fmt.Errorf("task %s panicked: %v", t.Name, r)
				}
			}()
			t.err = run(ctx, shared)
		}()
		started = append(started, t)
	}

	zerolog.Ctx(ctx).Info().Msgf("spawned %d task(s)", len(started))
	return started, len(started)
}

// FirstExit blocks until one of ts returns and reports its index and result.
// If ctx ends first it returns -1 and the context's error.
func FirstExit(ctx context.Context, ts []*Task) (int, error) {
	if len(ts) == 0 {
		return -1, fmt.Errorf("no tasks to wait for")
	}

	exited := make(chan int, len(ts))
	stop := make(chan struct{})
	defer close(stop)
	for i, t := range ts {
		go func() {
			select {
			case <-t.done:
				exited <- i
			case <-stop:
			}
		}()
	}

	select {
	case i := <-exited:
		return i, ts[i].err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}
