package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gsdocker/gslogger"
	"golang.org/x/sync/errgroup"
)

func init() {
	gslogger.NewFlags(gslogger.ERROR | gslogger.INFO)
}

func waitTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSerialIdentity(t *testing.T) {
	executor := BuildExecutor("serial-identity").Serial().Build()

	var inside, outside int32

	entered := make(chan struct{})
	release := make(chan struct{})

	var escaped context.Context

	blocking := NewUnit("blocking", func(ctx context.Context) error {
		if !executor.IsDispatcherThread(ctx) || !IsDispatcherThread(ctx) {
			return errors.New("not on dispatcher")
		}

		escaped = ctx

		close(entered)
		<-release
		return nil
	})

	if err := executor.Submit(blocking); err != nil {
		t.Fatal(err)
	}

	<-entered

	// observations from the test goroutine while the unit runs
	if executor.IsDispatcherThread(context.Background()) || IsDispatcherThread(context.Background()) {
		t.Fatal("background context reported as dispatcher")
	}

	close(release)

	if err := blocking.Future().Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}

	if executor.IsDispatcherThread(escaped) {
		t.Fatal("dispatch context still live after the unit finished")
	}

	var units []*Unit

	for i := 0; i < 100; i++ {
		unit := NewUnit(fmt.Sprintf("unit-%d", i), func(ctx context.Context) error {
			if executor.IsDispatcherThread(ctx) {
				atomic.AddInt32(&inside, 1)
			}

			if executor.IsDispatcherThread(context.TODO()) {
				atomic.AddInt32(&outside, 1)
			}

			return nil
		})

		if err := executor.Submit(unit); err != nil {
			t.Fatal(err)
		}

		units = append(units, unit)
	}

	for _, unit := range units {
		if err := unit.Future().Wait(waitTimeout(t)); err != nil {
			t.Fatal(err)
		}
	}

	if inside != 100 || outside != 0 {
		t.Fatalf("check identity error: inside %d outside %d", inside, outside)
	}

	executor.Shutdown()

	if err := executor.Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}
}

func TestIdentityIsPerExecutor(t *testing.T) {
	first := BuildExecutor("identity-first").Build()
	second := BuildExecutor("identity-second").Build()

	future, err := first.Execute(func(ctx context.Context) error {
		if second.IsDispatcherThread(ctx) {
			return errors.New("second executor accepted first executor context")
		}

		if _, ok := CurrentUnit(ctx); !ok {
			return errors.New("current unit not bound")
		}

		if _, ok := WorkerID(ctx); !ok {
			return errors.New("worker id not bound")
		}

		return nil
	})

	if err != nil {
		t.Fatal(err)
	}

	if err := future.Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}

	first.Shutdown()
	second.Shutdown()
}

func TestSerialOrder(t *testing.T) {
	executor := BuildExecutor("serial-order").Build()

	var order []int

	var running, overlap int32

	var last *Unit

	for i := 0; i < 1000; i++ {
		last = NewUnit("", func(ctx context.Context) error {
			if atomic.AddInt32(&running, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}

			order = append(order, i)

			atomic.AddInt32(&running, -1)

			return nil
		})

		if err := executor.Submit(last); err != nil {
			t.Fatal(err)
		}
	}

	executor.Shutdown()

	if err := executor.Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}

	if last.Future().Err() != nil {
		t.Fatal(last.Future().Err())
	}

	if overlap != 0 {
		t.Fatal("serial executor ran units concurrently")
	}

	if len(order) != 1000 {
		t.Fatalf("expect 1000 executions, got %d", len(order))
	}

	for i, v := range order {
		if i != v {
			t.Fatalf("unit %d executed at position %d", v, i)
		}
	}

	if last.ID != 1000 {
		t.Fatalf("expect last unit id 1000, got %d", last.ID)
	}
}

func TestSerialConcurrentSources(t *testing.T) {
	executor := BuildExecutor("serial-sources").Build()

	const sources = 8
	const perSource = 200

	var mutex sync.Mutex

	seen := make(map[int][]int)

	var group errgroup.Group

	for source := 0; source < sources; source++ {
		group.Go(func() error {
			for i := 0; i < perSource; i++ {
				unit := NewUnit("", func(ctx context.Context) error {
					mutex.Lock()
					seen[source] = append(seen[source], i)
					mutex.Unlock()
					return nil
				})

				if err := executor.Submit(unit); err != nil {
					return err
				}
			}

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		t.Fatal(err)
	}

	executor.Shutdown()

	if err := executor.Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}

	for source := 0; source < sources; source++ {
		values := seen[source]

		if len(values) != perSource {
			t.Fatalf("source %d executed %d units", source, len(values))
		}

		for i, v := range values {
			if i != v {
				t.Fatalf("source %d unit %d executed at position %d", source, v, i)
			}
		}
	}
}

func TestActionFailed(t *testing.T) {
	executor := BuildExecutor("action-failed").Build()

	cause := errors.New("servant error")

	before := GetProfile()

	var units []*Unit

	for i := 0; i < 10; i++ {
		unit := NewUnit("fail", func(ctx context.Context) error {
			return cause
		})

		if err := executor.Submit(unit); err != nil {
			t.Fatal(err)
		}

		units = append(units, unit)
	}

	panicking := NewUnit("panic", func(ctx context.Context) error {
		panic("boom")
	})

	if err := executor.Submit(panicking); err != nil {
		t.Fatal(err)
	}

	for _, unit := range units {
		err := unit.Future().Wait(waitTimeout(t))

		if !errors.Is(err, ErrActionFailed) || !errors.Is(err, cause) {
			t.Fatalf("expect action failed error, got %v", err)
		}

		var actionErr *ActionError

		if !errors.As(err, &actionErr) || actionErr.Unit != unit.ID {
			t.Fatalf("check action error unit: %v", err)
		}
	}

	if err := panicking.Future().Wait(waitTimeout(t)); !errors.Is(err, ErrActionFailed) {
		t.Fatalf("expect panic reported as action failed, got %v", err)
	}

	if !executor.IsRunning() {
		t.Fatalf("executor state %s after action errors", executor.State())
	}

	future, err := executor.Execute(func(ctx context.Context) error { return nil })

	if err != nil {
		t.Fatal(err)
	}

	if err := future.Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}

	if GetProfile().Failed-before.Failed < 11 {
		t.Fatal("check profile failed counter")
	}

	executor.Shutdown()
}

func TestShutdownFromUnit(t *testing.T) {
	executor := BuildExecutor("shutdown-inside").Build()

	var waitErr error

	unit := NewUnit("shutdown", func(ctx context.Context) error {
		executor.Shutdown()

		waitErr = executor.Wait(ctx)

		if executor.State() != StateDraining {
			return fmt.Errorf("expect draining, got %s", executor.State())
		}

		return nil
	})

	if err := executor.Submit(unit); err != nil {
		t.Fatal(err)
	}

	if err := executor.Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}

	if err := unit.Future().Err(); err != nil {
		t.Fatal(err)
	}

	if !errors.Is(waitErr, ErrWaitOnDispatcher) {
		t.Fatalf("expect ErrWaitOnDispatcher, got %v", waitErr)
	}

	if !executor.IsStopped() {
		t.Fatalf("expect stopped, got %s", executor.State())
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	executor := BuildExecutor("submit-after-shutdown").Build()

	executor.Shutdown()
	executor.Shutdown()

	var executed int32

	unit := NewUnit("late", func(ctx context.Context) error {
		atomic.StoreInt32(&executed, 1)
		return nil
	})

	err := executor.Submit(unit)

	if !errors.Is(err, ErrRejected) || !errors.Is(err, ErrCanceled) {
		t.Fatalf("expect rejected submission, got %v", err)
	}

	if !errors.Is(unit.Future().Err(), ErrRejected) {
		t.Fatalf("expect rejected completion, got %v", unit.Future().Err())
	}

	if err := executor.Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}

	if atomic.LoadInt32(&executed) != 0 {
		t.Fatal("rejected unit executed")
	}
}

func TestShutdownScenario(t *testing.T) {
	executor := BuildExecutor("scenario").Build()

	a := NewUnit("A", func(ctx context.Context) error {
		if !IsDispatcherThread(ctx) {
			return errors.New("A not on dispatcher")
		}
		return nil
	})

	b := NewUnit("B", func(ctx context.Context) error {
		return nil
	})

	if err := executor.Submit(a); err != nil {
		t.Fatal(err)
	}

	executor.Shutdown()

	if err := executor.Submit(b); !errors.Is(err, ErrRejected) {
		t.Fatalf("expect B rejected, got %v", err)
	}

	if err := executor.Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}

	if err := a.Future().Err(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-a.Future().Done():
	default:
		t.Fatal("A not completed")
	}

	if executor.State() != StateStopped {
		t.Fatalf("expect stopped, got %s", executor.State())
	}
}

func TestShutdownNow(t *testing.T) {
	executor := BuildExecutor("shutdown-now").Build()

	entered := make(chan struct{})
	release := make(chan struct{})

	inflight := NewUnit("inflight", func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	})

	if err := executor.Submit(inflight); err != nil {
		t.Fatal(err)
	}

	<-entered

	var queued []*Unit

	for i := 0; i < 3; i++ {
		unit := NewUnit("queued", func(ctx context.Context) error {
			return errors.New("canceled unit executed")
		})

		if err := executor.Submit(unit); err != nil {
			t.Fatal(err)
		}

		queued = append(queued, unit)
	}

	executor.ShutdownNow()

	for _, unit := range queued {
		if err := unit.Future().Wait(waitTimeout(t)); !errors.Is(err, ErrCanceled) {
			t.Fatalf("expect canceled, got %v", err)
		}
	}

	if executor.IsStopped() {
		t.Fatal("executor stopped with an in-flight unit")
	}

	close(release)

	if err := executor.Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}

	if err := inflight.Future().Err(); err != nil {
		t.Fatal(err)
	}
}

func TestBounded(t *testing.T) {
	const workers = 4

	executor := BuildExecutor("bounded").Bounded(workers).Build()

	var running, peak, wrong int32

	var units []*Unit

	for i := 0; i < 64; i++ {
		unit := NewUnit("", func(ctx context.Context) error {
			current := atomic.AddInt32(&running, 1)

			for {
				old := atomic.LoadInt32(&peak)
				if current <= old || atomic.CompareAndSwapInt32(&peak, old, current) {
					break
				}
			}

			if !executor.IsDispatcherThread(ctx) {
				atomic.AddInt32(&wrong, 1)
			}

			time.Sleep(time.Millisecond)

			atomic.AddInt32(&running, -1)

			return nil
		})

		if err := executor.Submit(unit); err != nil {
			t.Fatal(err)
		}

		units = append(units, unit)
	}

	for _, unit := range units {
		if err := unit.Future().Wait(waitTimeout(t)); err != nil {
			t.Fatal(err)
		}
	}

	if peak > workers {
		t.Fatalf("bounded(%d) executor ran %d units concurrently", workers, peak)
	}

	if wrong != 0 {
		t.Fatalf("%d units failed the identity check", wrong)
	}

	executor.Shutdown()

	if err := executor.Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}
}

func TestUnbounded(t *testing.T) {
	executor := BuildExecutor("unbounded").Unbounded().Build()

	const units = 32

	var barrier sync.WaitGroup

	barrier.Add(units)

	var futures []Future

	for i := 0; i < units; i++ {
		future, err := executor.Execute(func(ctx context.Context) error {
			if !executor.IsDispatcherThread(ctx) {
				return errors.New("not on dispatcher")
			}

			// completes only when every unit runs at the same time
			barrier.Done()
			barrier.Wait()

			return nil
		})

		if err != nil {
			t.Fatal(err)
		}

		futures = append(futures, future)
	}

	for _, future := range futures {
		if err := future.Wait(waitTimeout(t)); err != nil {
			t.Fatal(err)
		}
	}

	executor.Shutdown()

	if err := executor.Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}
}

func TestWorkerFatalRestart(t *testing.T) {
	executor := BuildExecutor("fatal-restart").MaxRestarts(4).Build()

	before := GetProfile()

	var firstWorker, secondWorker string

	dying := NewUnit("goexit", func(ctx context.Context) error {
		firstWorker, _ = WorkerID(ctx)
		runtime.Goexit()
		return nil
	})

	if err := executor.Submit(dying); err != nil {
		t.Fatal(err)
	}

	next := NewUnit("next", func(ctx context.Context) error {
		if !executor.IsDispatcherThread(ctx) {
			return errors.New("replacement worker failed identity check")
		}

		secondWorker, _ = WorkerID(ctx)

		return nil
	})

	if err := executor.Submit(next); err != nil {
		t.Fatal(err)
	}

	if err := dying.Future().Wait(waitTimeout(t)); !errors.Is(err, ErrWorkerFatal) {
		t.Fatalf("expect worker fatal, got %v", err)
	}

	if err := next.Future().Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}

	if firstWorker == "" || firstWorker == secondWorker {
		t.Fatalf("expect replacement worker, got %q and %q", firstWorker, secondWorker)
	}

	if !executor.IsRunning() {
		t.Fatalf("expect running, got %s", executor.State())
	}

	if GetProfile().Restarts == before.Restarts {
		t.Fatal("check profile restarts counter")
	}

	executor.Shutdown()

	if err := executor.Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}
}

func TestWorkerFatalEscalate(t *testing.T) {
	executor := BuildExecutor("fatal-escalate").MaxRestarts(0).Build()

	entered := make(chan struct{})
	release := make(chan struct{})

	dying := NewUnit("goexit", func(ctx context.Context) error {
		close(entered)
		<-release
		runtime.Goexit()
		return nil
	})

	if err := executor.Submit(dying); err != nil {
		t.Fatal(err)
	}

	<-entered

	var queued []*Unit

	for i := 0; i < 3; i++ {
		unit := NewUnit("queued", func(ctx context.Context) error {
			return nil
		})

		if err := executor.Submit(unit); err != nil {
			t.Fatal(err)
		}

		queued = append(queued, unit)
	}

	close(release)

	err := executor.Wait(waitTimeout(t))

	if !errors.Is(err, ErrWorkerFatal) {
		t.Fatalf("expect fatal executor error, got %v", err)
	}

	if !errors.Is(executor.Err(), ErrWorkerFatal) || !executor.IsStopped() {
		t.Fatalf("expect stopped with fatal error, got %s %v", executor.State(), executor.Err())
	}

	for _, unit := range append(queued, dying) {
		if err := unit.Future().Wait(waitTimeout(t)); !errors.Is(err, ErrWorkerFatal) {
			t.Fatalf("expect worker fatal, got %v", err)
		}
	}

	if err := executor.Submit(NewUnit("late", func(ctx context.Context) error { return nil })); !errors.Is(err, ErrRejected) {
		t.Fatalf("expect rejected, got %v", err)
	}
}

func TestLazyAndOverflow(t *testing.T) {
	executor := BuildExecutor("lazy").Lazy().CacheSize(1).Build()

	if executor.State() != StateCreated {
		t.Fatalf("expect created, got %s", executor.State())
	}

	first := NewUnit("first", func(ctx context.Context) error { return nil })

	if err := executor.Submit(first); err != nil {
		t.Fatal(err)
	}

	second := NewUnit("second", func(ctx context.Context) error { return nil })

	if err := executor.Submit(second); !errors.Is(err, ErrRejected) || !errors.Is(err, ErrOverflow) {
		t.Fatalf("expect overflow, got %v", err)
	}

	if executor.Pending() != 1 {
		t.Fatalf("expect 1 pending, got %d", executor.Pending())
	}

	if err := executor.Start(); err != nil {
		t.Fatal(err)
	}

	if err := first.Future().Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}

	executor.Shutdown()

	if err := executor.Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}

	if err := executor.Start(); !errors.Is(err, ErrRejected) {
		t.Fatalf("expect restart rejected, got %v", err)
	}
}

func TestShutdownNeverStarted(t *testing.T) {
	executor := BuildExecutor("never-started").Lazy().Build()

	unit := NewUnit("", func(ctx context.Context) error { return nil })

	if err := executor.Submit(unit); err != nil {
		t.Fatal(err)
	}

	executor.Shutdown()

	if !executor.IsStopped() {
		t.Fatalf("expect stopped, got %s", executor.State())
	}

	if err := unit.Future().Err(); !errors.Is(err, ErrCanceled) {
		t.Fatalf("expect canceled, got %v", err)
	}
}

func TestWaitDrainTimeout(t *testing.T) {
	executor := BuildExecutor("drain-timeout").Build()

	release := make(chan struct{})

	if _, err := executor.Execute(func(ctx context.Context) error {
		<-release
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	executor.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := executor.Wait(ctx); !errors.Is(err, ErrDrainTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect drain timeout, got %v", err)
	}

	close(release)

	if err := executor.Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}
}

func TestInvalidUnit(t *testing.T) {
	executor := BuildExecutor("invalid").Build()
	defer executor.Shutdown()

	if err := executor.Submit(nil); err == nil {
		t.Fatal("expect nil unit rejected")
	}

	empty := &Unit{Name: "empty"}

	if err := executor.Submit(empty); err == nil {
		t.Fatal("expect unit without action rejected")
	}

	if empty.Future().Err() == nil {
		t.Fatal("expect unit without action completed")
	}

	unit := NewUnit("twice", func(ctx context.Context) error { return nil })

	if err := executor.Submit(unit); err != nil {
		t.Fatal(err)
	}

	if err := executor.Submit(unit); err == nil {
		t.Fatal("expect second submission rejected")
	}

	if err := unit.Future().Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}
}

type _RecordObserver struct {
	sync.Mutex
	executions []*Execution
}

func (observer *_RecordObserver) Executed(execution *Execution) {
	observer.Lock()
	defer observer.Unlock()

	observer.executions = append(observer.executions, execution)
}

func TestInterceptorsAndObservers(t *testing.T) {
	var trail []string

	record := func(name string) Interceptor {
		return func(ctx context.Context, unit *Unit, next Action) error {
			if !IsDispatcherThread(ctx) {
				return errors.New("interceptor not on dispatcher")
			}

			trail = append(trail, name+">")
			err := next(ctx)
			trail = append(trail, "<"+name)
			return err
		}
	}

	observer := &_RecordObserver{}

	executor := BuildExecutor("intercept").
		Intercept(record("outer"), record("inner")).
		Observe(observer).
		Build()

	unit := NewUnit("op", func(ctx context.Context) error {
		trail = append(trail, "action")
		return nil
	})

	var callbacks int32

	unit.OnComplete(func(unit *Unit, err error) {
		atomic.AddInt32(&callbacks, 1)
	})

	if err := executor.Submit(unit); err != nil {
		t.Fatal(err)
	}

	executor.Shutdown()

	if err := executor.Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}

	expect := []string{"outer>", "inner>", "action", "<inner", "<outer"}

	if fmt.Sprint(trail) != fmt.Sprint(expect) {
		t.Fatalf("expect %v, got %v", expect, trail)
	}

	if atomic.LoadInt32(&callbacks) != 1 {
		t.Fatalf("expect one callback, got %d", callbacks)
	}

	// late registration runs immediately
	unit.OnComplete(func(unit *Unit, err error) {
		atomic.AddInt32(&callbacks, 1)
	})

	if atomic.LoadInt32(&callbacks) != 2 {
		t.Fatal("late callback not invoked")
	}

	if len(observer.executions) != 1 || observer.executions[0].Name != "op" || observer.executions[0].Executor != "intercept" {
		t.Fatalf("check observer executions: %v", observer.executions)
	}
}

func TestCallbackPanic(t *testing.T) {
	executor := BuildExecutor("callback-panic").Build()
	defer executor.ShutdownNow()

	restarts := GetProfile().Restarts

	var after int32

	unit := NewUnit("panic", func(ctx context.Context) error {
		return nil
	})

	unit.OnComplete(func(unit *Unit, err error) {
		panic("callback failure")
	})

	unit.OnComplete(func(unit *Unit, err error) {
		atomic.AddInt32(&after, 1)
	})

	if err := executor.Submit(unit); err != nil {
		t.Fatal(err)
	}

	if err := unit.Future().Wait(waitTimeout(t)); err != nil {
		t.Fatalf("unit outcome: %v", err)
	}

	future, err := executor.Execute(func(ctx context.Context) error {
		return nil
	})

	if err != nil {
		t.Fatal(err)
	}

	if err := future.Wait(waitTimeout(t)); err != nil {
		t.Fatalf("next unit: %v", err)
	}

	if !executor.IsRunning() || executor.Err() != nil {
		t.Fatalf("executor state %s, err %v", executor.State(), executor.Err())
	}

	if atomic.LoadInt32(&after) != 1 {
		t.Fatal("callback after the panicking one not invoked")
	}

	if GetProfile().Restarts != restarts {
		t.Fatal("callback panic restarted the worker")
	}

	// late registration is recovered too
	unit.OnComplete(func(unit *Unit, err error) {
		panic("late callback failure")
	})
}

func TestConcurrentResubmit(t *testing.T) {
	executor := BuildExecutor("resubmit").Build()
	defer executor.ShutdownNow()

	unit := NewUnit("contended", func(ctx context.Context) error { return nil })

	var accepted, invalid int32

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := executor.Submit(unit)

			if err == nil {
				atomic.AddInt32(&accepted, 1)
			} else {
				atomic.AddInt32(&invalid, 1)
			}
		}()
	}

	wg.Wait()

	if accepted != 1 || invalid != 7 {
		t.Fatalf("expect 1 accepted and 7 invalid, got %d and %d", accepted, invalid)
	}

	if err := unit.Future().Wait(waitTimeout(t)); err != nil {
		t.Fatal(err)
	}
}
