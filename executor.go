package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gsdocker/gserrors"
	"github.com/gsdocker/gslogger"
)

// Executor the dispatch executor, runs submitted units on worker contexts it
// owns exclusively
type Executor interface {
	fmt.Stringer
	// Name executor name
	Name() string
	// Start transit created executor to running and start workers
	Start() error
	// Submit enqueue unit for execution, never waits for the unit to run
	Submit(unit *Unit) error
	// Execute create and submit an anonymous unit
	Execute(action Action) (Future, error)
	// IsDispatcherThread reports whether ctx is the dispatch context of a unit
	// currently running on this executor, goroutines the action hands ctx to
	// share that identity until the action returns
	IsDispatcherThread(ctx context.Context) bool
	// Shutdown stop accepting units and drain pending ones, never blocks
	Shutdown()
	// ShutdownNow like Shutdown but cancel units not yet started
	ShutdownNow()
	// Wait blocks until stopped or ctx is done
	Wait(ctx context.Context) error
	// Done closed once the executor is stopped
	Done() <-chan struct{}
	// State current lifecycle state
	State() State
	// IsRunning .
	IsRunning() bool
	// IsStopped .
	IsStopped() bool
	// Err fatal error which stopped the executor
	Err() error
	// Pending queued units
	Pending() int
	// Active in-flight units
	Active() int
}

// Interceptor wrap the execution of a unit's action, called on the worker
// with the dispatch context
type Interceptor func(ctx context.Context, unit *Unit, next Action) error

// Execution record of one finished unit
type Execution struct {
	Executor string    // executor name
	Worker   string    // worker token id
	Unit     uint64    // unit sequence id
	Name     string    // unit name
	Start    time.Time // action start time
	End      time.Time // action end time
	Err      error     // unit outcome
}

// Observer receive an execution record for every unit a worker finished
type Observer interface {
	Executed(execution *Execution)
}

type _Executor struct {
	gslogger.Log                 // mixin log
	sync.Mutex                   // guards fields below
	cond         *sync.Cond      // workers park here
	name         string          // executor name
	concurrency  Concurrency     // concurrency mode
	workers      int             // worker count for serial/bounded
	cachedsize   int             // queue capacity, 0 for unlimited
	maxRestarts  int             // worker restart budget
	interceptor  Interceptor     // unit interceptor chain
	observers    []Observer      // execution observers
	ctx          context.Context // base of every dispatch context
	state        State           // lifecycle state
	queue        unitQueue       // pending units
	seqID        uint64          // unit sequence id
	active       int             // in-flight units
	alive        int             // alive workers
	restarts     int             // restarted workers
	err          error           // fatal error
	done         chan struct{}   // closed on stopped
}

func newExecutor(builder *ExecutorBuilder) *_Executor {
	executor := &_Executor{
		Log:         gslogger.Get(fmt.Sprintf("dispatcher.%s", builder.name)),
		name:        builder.name,
		concurrency: builder.concurrency,
		workers:     builder.workers,
		cachedsize:  builder.cachedsize,
		maxRestarts: builder.maxRestarts,
		interceptor: chainInterceptors(builder.interceptors),
		observers:   builder.observers,
		ctx:         context.Background(),
		state:       StateCreated,
		done:        make(chan struct{}),
	}

	executor.cond = sync.NewCond(&executor.Mutex)

	switch executor.concurrency {
	case Serial:
		executor.workers = 1
	case Bounded:
		if executor.workers < 1 {
			executor.workers = 1
		}
	case Unbounded:
		executor.workers = 0
	}

	return executor
}

func (executor *_Executor) String() string {
	return executor.name
}

func (executor *_Executor) Name() string {
	return executor.name
}

func (executor *_Executor) Start() error {
	executor.Lock()
	defer executor.Unlock()

	switch executor.state {
	case StateRunning:
		return nil
	case StateCreated:
	default:
		return &RejectedError{Executor: executor.name, State: executor.state, Cause: ErrCanceled}
	}

	executor.state = StateRunning

	executor.I("executor(%s) start, concurrency %s, workers %d", executor.name, executor.concurrency, executor.workers)

	for i := 0; i < executor.workers; i++ {
		executor.spawnLocked()
	}

	if executor.concurrency == Unbounded {
		for _, unit := range executor.queue.Drain() {
			executor.active++
			go executor.detached(unit)
		}
	}

	return nil
}

func (executor *_Executor) Submit(unit *Unit) error {

	if unit == nil {
		return gserrors.Newf(ErrInvalidUnit, "submit nil unit to executor(%s)", executor.name)
	}

	if !unit.claim() {
		return gserrors.Newf(ErrInvalidUnit, "unit(%s) already submitted", unit.Name)
	}

	if unit.Action == nil {
		err := gserrors.Newf(ErrInvalidUnit, "unit(%s) without action", unit.Name)
		unit.complete(err)
		return err
	}

	executor.Lock()

	if !executor.state.Accepting() {
		state := executor.state
		executor.Unlock()

		return executor.reject(unit, state, ErrCanceled)
	}

	if executor.cachedsize > 0 && executor.queue.Len() >= executor.cachedsize {
		state := executor.state
		executor.Unlock()

		return executor.reject(unit, state, ErrOverflow)
	}

	executor.seqID++

	unit.ID = executor.seqID

	profile.submitted()

	if executor.concurrency == Unbounded && executor.state == StateRunning {
		executor.active++
		executor.Unlock()

		go executor.detached(unit)

		return nil
	}

	executor.queue.Push(unit)

	executor.cond.Signal()

	executor.Unlock()

	return nil
}

func (executor *_Executor) reject(unit *Unit, state State, cause error) error {
	err := &RejectedError{Executor: executor.name, State: state, Cause: cause}

	profile.rejected()

	executor.V("executor(%s) reject unit(%s): %s", executor.name, unit.Name, err)

	unit.complete(err)

	return err
}

func (executor *_Executor) Execute(action Action) (Future, error) {
	unit := NewUnit("", action)

	if err := executor.Submit(unit); err != nil {
		return unit.Future(), err
	}

	return unit.Future(), nil
}

func (executor *_Executor) IsDispatcherThread(ctx context.Context) bool {
	run, ok := runFrom(ctx)

	return ok && run.token.executor == executor
}

func (executor *_Executor) Shutdown() {
	executor.shutdown(false)
}

func (executor *_Executor) ShutdownNow() {
	executor.shutdown(true)
}

func (executor *_Executor) shutdown(cancel bool) {
	executor.Lock()

	var canceled []*Unit

	switch executor.state {
	case StateStopped:
		executor.Unlock()
		return

	case StateCreated:
		// never started, nothing will run the queued units
		canceled = executor.queue.Drain()
		executor.stopLocked()

	case StateRunning:
		executor.I("executor(%s) draining, pending %d, active %d", executor.name, executor.queue.Len(), executor.active)
		executor.state = StateDraining
		fallthrough

	case StateDraining:
		if cancel {
			canceled = executor.queue.Drain()
		}

		executor.cond.Broadcast()

		executor.tryStopLocked()
	}

	executor.Unlock()

	for _, unit := range canceled {
		profile.canceled()
		unit.complete(ErrCanceled)
	}
}

func (executor *_Executor) Wait(ctx context.Context) error {

	if executor.IsDispatcherThread(ctx) {
		return ErrWaitOnDispatcher
	}

	select {
	case <-executor.done:
		return executor.Err()
	case <-ctx.Done():
		return fmt.Errorf("executor(%s) pending %d active %d: %w (%w)", executor.name, executor.Pending(), executor.Active(), ErrDrainTimeout, ctx.Err())
	}
}

func (executor *_Executor) Done() <-chan struct{} {
	return executor.done
}

func (executor *_Executor) State() State {
	executor.Lock()
	defer executor.Unlock()

	return executor.state
}

func (executor *_Executor) IsRunning() bool {
	return executor.State() == StateRunning
}

func (executor *_Executor) IsStopped() bool {
	return executor.State() == StateStopped
}

func (executor *_Executor) Err() error {
	executor.Lock()
	defer executor.Unlock()

	return executor.err
}

func (executor *_Executor) Pending() int {
	executor.Lock()
	defer executor.Unlock()

	return executor.queue.Len()
}

func (executor *_Executor) Active() int {
	executor.Lock()
	defer executor.Unlock()

	return executor.active
}

// stopLocked transit to stopped, caller holds the lock
func (executor *_Executor) stopLocked() {
	if executor.state == StateStopped {
		return
	}

	executor.state = StateStopped

	close(executor.done)

	executor.cond.Broadcast()

	executor.I("executor(%s) stopped", executor.name)
}

// tryStopLocked finish draining once nothing is pending or in flight
func (executor *_Executor) tryStopLocked() {
	if executor.state == StateDraining && executor.queue.Len() == 0 && executor.active == 0 {
		executor.stopLocked()
	}
}

func (executor *_Executor) spawnLocked() {
	executor.alive++

	go executor.worker(newWorkerToken(executor))
}

// next blocks until a unit is available, returns false once the worker
// should exit
func (executor *_Executor) next() (*Unit, bool) {
	executor.Lock()
	defer executor.Unlock()

	for executor.queue.Len() == 0 && executor.state == StateRunning {
		executor.cond.Wait()
	}

	if executor.state == StateStopped || executor.queue.Len() == 0 {
		executor.alive--
		return nil, false
	}

	unit := executor.queue.Pop()

	executor.active++

	return unit, true
}

func (executor *_Executor) worker(token *workerToken) {

	var current *Unit

	exited := true

	defer func() {
		if exited {
			executor.fatal(token, current, false)
		}
	}()

	executor.V("executor(%s) worker(%s) start", executor.name, token)

	for {
		unit, ok := executor.next()

		if !ok {
			break
		}

		current = unit

		executor.execute(token, unit)

		current = nil
	}

	exited = false

	executor.V("executor(%s) worker(%s) exit", executor.name, token)
}

func (executor *_Executor) detached(unit *Unit) {
	token := newWorkerToken(executor)

	exited := true

	defer func() {
		if exited {
			executor.fatal(token, unit, true)
		}
	}()

	executor.execute(token, unit)

	exited = false
}

func (executor *_Executor) execute(token *workerToken, unit *Unit) {

	run := &unitRun{token: token, unit: unit}

	ctx := withRun(executor.ctx, run)

	start := time.Now()

	err := executor.invoke(ctx, run, unit)

	end := time.Now()

	if err != nil {
		profile.failed()

		executor.E("executor(%s) unit(%d:%s) error\n%s", executor.name, unit.ID, unit.Name, err)

		err = &ActionError{Unit: unit.ID, Name: unit.Name, Cause: err}
	} else {
		profile.executed()
	}

	unit.complete(err)

	executor.observe(&Execution{
		Executor: executor.name,
		Worker:   token.id,
		Unit:     unit.ID,
		Name:     unit.Name,
		Start:    start,
		End:      end,
		Err:      err,
	})

	executor.Lock()
	executor.active--
	executor.tryStopLocked()
	executor.Unlock()
}

func (executor *_Executor) invoke(ctx context.Context, run *unitRun, unit *Unit) (err error) {

	run.running.Store(true)

	defer run.running.Store(false)

	defer func() {
		if e := recover(); e != nil {
			if cause, ok := e.(error); ok {
				err = gserrors.Newf(cause, "catched dispatch unit(%d) exception", unit.ID)
			} else {
				err = gserrors.Newf(nil, "catched dispatch unit(%d) exception :%v", unit.ID, e)
			}
		}
	}()

	if executor.interceptor != nil {
		return executor.interceptor(ctx, unit, unit.Action)
	}

	return unit.Action(ctx)
}

func (executor *_Executor) observe(execution *Execution) {
	for _, observer := range executor.observers {
		func() {
			defer func() {
				if e := recover(); e != nil {
					executor.W("executor(%s) observer exception\n%s", executor.name, gserrors.Newf(nil, "%v", e))
				}
			}()

			observer.Executed(execution)
		}()
	}
}

// fatal handle a worker goroutine which terminated while running unit
func (executor *_Executor) fatal(token *workerToken, unit *Unit, detached bool) {

	err := &WorkerFatalError{Executor: executor.name, Worker: token.id}

	if unit != nil {
		err.Unit = unit.ID
	}

	profile.fatal()

	executor.E("%s", err)

	if unit != nil {
		unit.complete(err)
	}

	var failed []*Unit

	executor.Lock()

	if unit != nil {
		executor.active--
	}

	if !detached {
		executor.alive--

		if executor.state != StateStopped {
			if executor.restarts < executor.maxRestarts {
				executor.restarts++

				profile.restarted()

				executor.W("executor(%s) restart worker(%d/%d)", executor.name, executor.restarts, executor.maxRestarts)

				executor.spawnLocked()
			} else {
				executor.E("executor(%s) worker restart budget exhausted, stop executor", executor.name)

				executor.err = err

				failed = executor.queue.Drain()

				executor.stopLocked()
			}
		}
	}

	executor.tryStopLocked()

	executor.Unlock()

	for _, pending := range failed {
		profile.fatal()
		pending.complete(err)
	}
}

func chainInterceptors(interceptors []Interceptor) Interceptor {
	switch len(interceptors) {
	case 0:
		return nil
	case 1:
		return interceptors[0]
	}

	return func(ctx context.Context, unit *Unit, next Action) error {
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			inner := next
			next = func(ctx context.Context) error {
				return interceptor(ctx, unit, inner)
			}
		}

		return next(ctx)
	}
}
