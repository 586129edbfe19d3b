// Package adapter resolves decoded requests to servants and runs them as
// dispatch units, replies flow back through the transport's reply sink.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/gsdocker/gserrors"
	"github.com/gsdocker/gslogger"
	"github.com/gsrpc/dispatcher"
)

// ErrServantNotFound .
var ErrServantNotFound = errors.New("servant not found")

// Current per request dispatch information handed to servants
type Current struct {
	Adapter *Adapter // adapter dispatching the request
	Request *Request // the request
}

// Servant application object serving one service id
type Servant interface {
	ID() uint16
	String() string
	Dispatch(ctx context.Context, current *Current) (*Response, error)
}

// ReplySink transport callback receiving the response, nil for one-way
// requests
type ReplySink func(response *Response)

// Dispatcher executor side of the adapter
type Dispatcher interface {
	Submit(source string, unit *dispatcher.Unit) error
	IsDispatcherThread(ctx context.Context) bool
	IsRunning() bool
	Shutdown()
	Wait(ctx context.Context) error
}

type _Single struct {
	dispatcher.Executor // mixin executor
}

func (single *_Single) Submit(source string, unit *dispatcher.Unit) error {
	return single.Executor.Submit(unit)
}

// Single adapt one executor, the source key is ignored
func Single(executor dispatcher.Executor) Dispatcher {
	return &_Single{Executor: executor}
}

// Adapter the object adapter
type Adapter struct {
	gslogger.Log            // mixin log
	name         string     // adapter name
	dispatcher   Dispatcher // executor of servant upcalls
	registry     *Registry  // servants
}

// New create adapter dispatching through d, pass Single(executor) for a
// plain executor or a *group.Group for keyed lanes
func New(name string, d Dispatcher) *Adapter {
	return &Adapter{
		Log:        gslogger.Get(fmt.Sprintf("adapter.%s", name)),
		name:       name,
		dispatcher: d,
		registry:   NewRegistry(),
	}
}

func (adapter *Adapter) String() string {
	return adapter.name
}

// Registry .
func (adapter *Adapter) Registry() *Registry {
	return adapter.registry
}

// AddServant .
func (adapter *Adapter) AddServant(servant Servant) {
	if old := adapter.registry.Add(servant); old != nil {
		adapter.W("adapter(%s) servant(%d) %s replaced by %s", adapter.name, servant.ID(), old, servant)
	}
}

// RemoveServant .
func (adapter *Adapter) RemoveServant(servant Servant) {
	adapter.registry.Remove(servant)
}

// Accepting reports whether new requests can be dispatched
func (adapter *Adapter) Accepting() bool {
	return adapter.dispatcher.IsRunning()
}

// IsDispatcherThread .
func (adapter *Adapter) IsDispatcherThread(ctx context.Context) bool {
	return adapter.dispatcher.IsDispatcherThread(ctx)
}

// Shutdown stop dispatching, safe to call from a servant
func (adapter *Adapter) Shutdown() {
	adapter.I("adapter(%s) shutdown", adapter.name)
	adapter.dispatcher.Shutdown()
}

// Wait wait the dispatcher drained
func (adapter *Adapter) Wait(ctx context.Context) error {
	return adapter.dispatcher.Wait(ctx)
}

// Dispatch run request on its servant, never waits for the upcall. The reply
// sink receives exactly one response unless the request is one-way.
func (adapter *Adapter) Dispatch(request *Request, reply ReplySink) error {

	servant, ok := adapter.registry.Servant(request.Service)

	if !ok {
		err := gserrors.Newf(ErrServantNotFound, "adapter(%s) unhandle %s", adapter.name, request)

		adapter.W("%s", err)

		adapter.send(reply, failure(request, StatusServantNotFound, err))

		return err
	}

	var response *Response

	unit := dispatcher.NewUnit(request.String(), func(ctx context.Context) error {
		var err error

		response, err = servant.Dispatch(ctx, &Current{Adapter: adapter, Request: request})

		return err
	})

	unit.OnComplete(func(unit *dispatcher.Unit, err error) {
		adapter.completed(request, response, err, reply)
	})

	adapter.V("adapter(%s) dispatch %s from %s", adapter.name, request, request.Source)

	if err := adapter.dispatcher.Submit(request.Source, unit); err != nil {
		adapter.W("adapter(%s) dispatch %s error\n%s", adapter.name, request, err)
		return err
	}

	return nil
}

func (adapter *Adapter) completed(request *Request, response *Response, err error, reply ReplySink) {

	if err == nil {
		if response == nil {
			response = NewResponse(request, nil)
		}

		response.ID = request.ID

		adapter.send(reply, response)

		return
	}

	var status Status

	switch {
	case errors.Is(err, dispatcher.ErrRejected),
		errors.Is(err, dispatcher.ErrCanceled),
		errors.Is(err, dispatcher.ErrWorkerFatal):
		status = StatusUnavailable
	case errors.Is(err, dispatcher.ErrActionFailed):
		status = StatusUserError
	default:
		status = StatusUnknown
	}

	if reply == nil {
		adapter.E("adapter(%s) one-way %s error\n%s", adapter.name, request, err)
		return
	}

	adapter.send(reply, failure(request, status, err))
}

func (adapter *Adapter) send(reply ReplySink, response *Response) {
	if reply == nil {
		return
	}

	defer func() {
		if e := recover(); e != nil {
			adapter.E("adapter(%s) reply sink exception\n%s", adapter.name, gserrors.Newf(nil, "%v", e))
		}
	}()

	reply(response)
}
