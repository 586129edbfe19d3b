// Package group shards dispatch units over serial executor lanes with a
// consistent hash of the source key, units from one source run in submission
// order while distinct sources run in parallel.
package group

import (
	"context"
	"fmt"

	"github.com/gsdocker/gsconfig"
	"github.com/gsdocker/gslogger"
	"github.com/gsrpc/dispatcher"
	"github.com/gsrpc/dispatcher/hashring"
	"golang.org/x/sync/errgroup"
)

// ConfigureF customize lane executor builder
type ConfigureF func(builder *dispatcher.ExecutorBuilder) *dispatcher.ExecutorBuilder

// Group keyed lanes of serial executors
type Group struct {
	gslogger.Log                       // mixin log
	name         string                // group name
	lanes        []dispatcher.Executor // lanes
	ring         *hashring.HashRing    // key -> lane index
}

// New create group with n lanes, n <= 0 loads gsdispatch.group.lanes
func New(name string, n int, configure ConfigureF) *Group {

	if n <= 0 {
		n = gsconfig.Int("gsdispatch.group.lanes", 4)
	}

	group := &Group{
		Log:  gslogger.Get(fmt.Sprintf("dispatcher.group.%s", name)),
		name: name,
		ring: hashring.New(gsconfig.Int("gsdispatch.group.replicas", 64)),
	}

	for i := 0; i < n; i++ {
		builder := dispatcher.BuildExecutor(fmt.Sprintf("%s.%d", name, i))

		if configure != nil {
			builder = configure(builder)
		}

		// per source ordering needs serial lanes
		lane := builder.Serial().Build()

		group.lanes = append(group.lanes, lane)

		group.ring.Put(lane.Name(), i)
	}

	group.I("group(%s) created with %d lanes", name, n)

	return group
}

func (group *Group) String() string {
	return group.name
}

// Name .
func (group *Group) Name() string {
	return group.name
}

// Lanes .
func (group *Group) Lanes() []dispatcher.Executor {
	return group.lanes
}

// Lane get the lane owning source key
func (group *Group) Lane(key string) dispatcher.Executor {
	index, ok := group.ring.Get(key)

	if !ok {
		return group.lanes[0]
	}

	return group.lanes[index.(int)]
}

// Start start lazily built lanes
func (group *Group) Start() error {
	for _, lane := range group.lanes {
		if err := lane.Start(); err != nil {
			return err
		}
	}

	return nil
}

// Submit submit unit to the lane owning key
func (group *Group) Submit(key string, unit *dispatcher.Unit) error {
	return group.Lane(key).Submit(unit)
}

// IsDispatcherThread reports whether ctx belongs to a unit running on any lane
func (group *Group) IsDispatcherThread(ctx context.Context) bool {
	for _, lane := range group.lanes {
		if lane.IsDispatcherThread(ctx) {
			return true
		}
	}

	return false
}

// Shutdown drain every lane, never blocks
func (group *Group) Shutdown() {
	group.I("group(%s) shutdown", group.name)

	for _, lane := range group.lanes {
		lane.Shutdown()
	}
}

// ShutdownNow cancel pending units of every lane
func (group *Group) ShutdownNow() {
	group.I("group(%s) shutdown now", group.name)

	for _, lane := range group.lanes {
		lane.ShutdownNow()
	}
}

// Wait wait every lane stopped, returns the first lane error. Called from a
// unit running on any lane it returns ErrWaitOnDispatcher at once.
func (group *Group) Wait(ctx context.Context) error {

	if group.IsDispatcherThread(ctx) {
		return dispatcher.ErrWaitOnDispatcher
	}

	var g errgroup.Group

	for _, lane := range group.lanes {
		g.Go(func() error {
			return lane.Wait(ctx)
		})
	}

	return g.Wait()
}

// IsRunning all lanes running
func (group *Group) IsRunning() bool {
	for _, lane := range group.lanes {
		if !lane.IsRunning() {
			return false
		}
	}

	return true
}

// IsStopped all lanes stopped
func (group *Group) IsStopped() bool {
	for _, lane := range group.lanes {
		if !lane.IsStopped() {
			return false
		}
	}

	return true
}
