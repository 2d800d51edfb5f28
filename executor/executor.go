// Package executor runs independent units of work concurrently and returns
// their results in submission order. A failing task never aborts the batch:
// errors and panics are captured in that task's Result.
package executor

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

var ErrTaskPanicked = errors.New("task panicked")

// Task is a zero-argument unit of work.
type Task func() (interface{}, error)

type Result struct {
	Value interface{}
	Err   error
}

type Executor struct {
	maxWorkers int
}

// New returns an executor running at most maxWorkers tasks at once;
// maxWorkers <= 0 means one goroutine per task.
func New(maxWorkers int) *Executor {
	return &Executor{maxWorkers: maxWorkers}
}

// Execute runs tasks and blocks until all of them have finished. Tasks that
// have not started when ctx is cancelled report ctx.Err().
func (e *Executor) Execute(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return []Result{}
	}
	results := make([]Result, len(tasks))

	var g errgroup.Group
	if e.maxWorkers > 0 {
		g.SetLimit(e.maxWorkers)
	}
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{Err: err}
				return nil
			}
			results[i] = run(i, task)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func run(i int, task Task) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("%w: task %d: %v", ErrTaskPanicked, i, r)}
		}
	}()
	if task == nil {
		return Result{Err: fmt.Errorf("task %d is nil", i)}
	}
	v, err := task()
	return Result{Value: v, Err: err}
}
