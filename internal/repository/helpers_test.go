package repository_test

import (
	"context"

	"gamestats.io/telemetry/internal/pkg/worker"
)

type syncRunner struct{}

func (syncRunner) Submit(ctx context.Context, task worker.Task) error {
	task(ctx)
	return nil
}

func (syncRunner) Each(ctx context.Context, n int, task func(context.Context, int)) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		task(ctx, i)
	}
	return nil
}
