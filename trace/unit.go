package trace

import (
	"fmt"
	"time"

	"github.com/gsdocker/gslogger"
	"github.com/gsrpc/dispatcher"
)

// EvtUnit execution event of one unit
type EvtUnit struct {
	Trace    uint64    // trace id
	Unit     uint64    // unit sequence id
	Name     string    // unit name
	Executor string    // executor name
	Worker   string    // worker token id
	Start    time.Time // action start
	End      time.Time // action end
	Err      error     // unit outcome
}

func (evt *EvtUnit) String() string {
	return fmt.Sprintf("TRACE:%d unit(%d:%s) on %s/%s in %s", evt.Trace, evt.Unit, evt.Name, evt.Executor, evt.Worker, evt.End.Sub(evt.Start))
}

type _Probe struct {
	gslogger.Log // mixin log
}

// Probe create executor observer reporting EvtUnit to the started consumer,
// it reports nothing while trace is closed or the consumer flag is off
func Probe() dispatcher.Observer {
	return &_Probe{
		Log: gslogger.Get("dispatcher.trace"),
	}
}

func (probe *_Probe) Executed(execution *dispatcher.Execution) {
	tracer := _traceProbe.Load()

	if tracer == nil || !tracer.consumer.TraceFlag() {
		return
	}

	evt := &EvtUnit{
		Trace:    tracer.NewTrace(),
		Unit:     execution.Unit,
		Name:     execution.Name,
		Executor: execution.Executor,
		Worker:   execution.Worker,
		Start:    execution.Start,
		End:      execution.End,
		Err:      execution.Err,
	}

	probe.V("%s", evt)

	tracer.consumer.EvtUnit(evt)
}
