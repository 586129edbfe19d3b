// Package trace reports unit executions to a trace consumer
package trace

import (
	"sync/atomic"

	"github.com/gsrpc/dispatcher/snowflake"
)

// Consumer tracer consumer
type Consumer interface {
	// TraceFlag get trace flag
	TraceFlag() bool

	EvtUnit(evt *EvtUnit)
}

type _TraceProbe struct {
	sf       *snowflake.SnowFlake
	consumer Consumer
}

func _NewTraceProbe(workID uint32, consumer Consumer) *_TraceProbe {
	return &_TraceProbe{
		sf:       snowflake.New(workID),
		consumer: consumer,
	}
}

// NewTrace create new trace id
func (tracer *_TraceProbe) NewTrace() uint64 {
	return tracer.sf.Next()
}

var _traceProbe atomic.Pointer[_TraceProbe]

// Start open dispatcher trace
func Start(nodeID uint32, consumer Consumer) {
	_traceProbe.Store(_NewTraceProbe(nodeID, consumer))
}

// Stop close dispatcher trace
func Stop() {
	_traceProbe.Store(nil)
}

// NewTrace create a new trace id, 0 when trace is closed
func NewTrace() uint64 {
	if probe := _traceProbe.Load(); probe != nil {
		return probe.NewTrace()
	}

	return 0
}

// Flag trace flag
func Flag() bool {
	if probe := _traceProbe.Load(); probe != nil {
		return probe.consumer.TraceFlag()
	}

	return false
}
