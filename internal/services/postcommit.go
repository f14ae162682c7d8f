package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// PostCommit runs side effects of an already committed mutation outside the
// caller's failure domain. Failures are logged and never reach the caller.
type PostCommit struct {
	wg sync.WaitGroup
}

// Go runs fn in the background with a context that outlives the caller's.
func (p *PostCommit) Go(ctx context.Context, step string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "Post-commit step panicked", "step", step, "panic", fmt.Sprint(r))
			}
		}()

		if err := fn(ctx); err != nil {
			slog.WarnContext(ctx, "Post-commit step failed", "step", step, "error", err)
		}
	}()
}

// Wait blocks until every started side effect has finished.
func (p *PostCommit) Wait() {
	p.wg.Wait()
}
