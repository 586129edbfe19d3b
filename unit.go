package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gsdocker/gserrors"
	"github.com/gsdocker/gslogger"
)

var unitLog = gslogger.Get("dispatcher.unit")

// Action application logic executed by a dispatch unit, ctx is the dispatch
// context handed out by the worker
type Action func(ctx context.Context) error

// Callback unit completion callback, invoked on the goroutine which signaled
// the unit's promise
type Callback func(unit *Unit, err error)

// Unit one deferred invocation of application logic
type Unit struct {
	sync.Mutex            // guards sink and callbacks
	ID         uint64     // sequence id, assigned when the executor accepts the unit
	Name       string     // diagnostic name
	Action     Action     // action to run
	promise    Promise    // completion sink
	callbacks  []Callback // completion callbacks
	completed  bool       // completion flag
	err        error      // outcome
	submitted  uint32     // submitted flag
}

// NewUnit create new dispatch unit
func NewUnit(name string, action Action) *Unit {
	return &Unit{
		Name:    name,
		Action:  action,
		promise: NewPromise(),
	}
}

// Future get unit completion future
func (unit *Unit) Future() Future {
	unit.Lock()
	defer unit.Unlock()

	return unit.sink()
}

func (unit *Unit) sink() Promise {
	if unit.promise == nil {
		unit.promise = NewPromise()
	}

	return unit.promise
}

// OnComplete register completion callback, if the unit already completed the
// callback is invoked immediately on the calling goroutine
func (unit *Unit) OnComplete(callback Callback) *Unit {
	unit.Lock()

	if unit.completed {
		err := unit.err
		unit.Unlock()
		unit.notify(callback, err)
		return unit
	}

	unit.callbacks = append(unit.callbacks, callback)

	unit.Unlock()

	return unit
}

// claim mark the unit as submitted, a unit can be submitted only once
func (unit *Unit) claim() bool {
	return atomic.CompareAndSwapUint32(&unit.submitted, 0, 1)
}

// complete signal the unit's sink exactly once
func (unit *Unit) complete(err error) bool {
	unit.Lock()

	if unit.completed {
		unit.Unlock()
		return false
	}

	unit.completed = true
	unit.err = err

	promise := unit.sink()
	callbacks := unit.callbacks
	unit.callbacks = nil

	unit.Unlock()

	promise.Notify(err)

	for _, callback := range callbacks {
		unit.notify(callback, err)
	}

	return true
}

// notify invoke one completion callback, a panicking callback is logged and
// never unwinds into the goroutine completing the unit
func (unit *Unit) notify(callback Callback, err error) {
	defer func() {
		if e := recover(); e != nil {
			unitLog.E("unit(%d:%s) completion callback exception\n%s", unit.ID, unit.Name, gserrors.Newf(nil, "%v", e))
		}
	}()

	callback(unit, err)
}
