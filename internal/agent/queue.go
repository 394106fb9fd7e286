package agent

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Runner executes one task.
type Runner interface {
	Run(ctx context.Context, task Task) (Result, error)
}

// Queue admits one task at a time to a Runner. Callers block until the task
// ahead of them finishes or their context ends.
type Queue struct {
	runner Runner
	sem    *semaphore.Weighted
}

func NewQueue(runner Runner) *Queue {
	return &Queue{runner: runner, sem: semaphore.NewWeighted(1)}
}

func (q *Queue) Submit(ctx context.Context, task Task) (Result, error) {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return Result{Instruction: task.Description, Status: PhaseAborted, AbortReason: err}, err
	}
	defer q.sem.Release(1)
	return q.runner.Run(ctx, task)
}
