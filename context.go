package dispatcher

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// workerToken identity of one execution context owned by an executor
type workerToken struct {
	id       string     // diagnostic id
	executor *_Executor // owner executor
}

func newWorkerToken(executor *_Executor) *workerToken {
	return &workerToken{
		id:       uuid.NewString(),
		executor: executor,
	}
}

func (token *workerToken) String() string {
	return token.id
}

// unitRun state of one unit execution, bound into the dispatch context
type unitRun struct {
	token   *workerToken // worker running the unit
	unit    *Unit        // running unit
	running atomic.Bool  // true while the action executes
}

type runKey struct{}

func withRun(ctx context.Context, run *unitRun) context.Context {
	return context.WithValue(ctx, runKey{}, run)
}

func runFrom(ctx context.Context) (*unitRun, bool) {
	if ctx == nil {
		return nil, false
	}

	run, ok := ctx.Value(runKey{}).(*unitRun)

	if !ok || !run.running.Load() {
		return nil, false
	}

	return run, true
}

// IsDispatcherThread reports whether ctx is the dispatch context of a unit
// currently executing on any executor. Identity travels with ctx, not with the
// goroutine: a goroutine the action starts with ctx (or a context derived
// from it) also reports true until the unit's action returns.
func IsDispatcherThread(ctx context.Context) bool {
	_, ok := runFrom(ctx)
	return ok
}

// CurrentUnit get the unit bound to a live dispatch context
func CurrentUnit(ctx context.Context) (*Unit, bool) {
	run, ok := runFrom(ctx)

	if !ok {
		return nil, false
	}

	return run.unit, true
}

// WorkerID get the worker token id bound to a live dispatch context
func WorkerID(ctx context.Context) (string, bool) {
	run, ok := runFrom(ctx)

	if !ok {
		return "", false
	}

	return run.token.id, true
}

// ExecutorName get the name of the executor running the unit bound to ctx
func ExecutorName(ctx context.Context) (string, bool) {
	run, ok := runFrom(ctx)

	if !ok {
		return "", false
	}

	return run.token.executor.name, true
}
