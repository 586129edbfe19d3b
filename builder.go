package dispatcher

import (
	"fmt"
	"strings"

	"github.com/gsdocker/gsconfig"
	"github.com/gsdocker/gserrors"
)

// Concurrency executor concurrency mode
type Concurrency int

// Concurrency modes
const (
	Serial Concurrency = iota
	Bounded
	Unbounded
)

func (concurrency Concurrency) String() string {
	switch concurrency {
	case Serial:
		return "serial"
	case Bounded:
		return "bounded"
	case Unbounded:
		return "unbounded"
	}

	return fmt.Sprintf("Concurrency(%d)", int(concurrency))
}

// ParseConcurrency parse concurrency mode name
func ParseConcurrency(name string) (Concurrency, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "serial":
		return Serial, nil
	case "bounded":
		return Bounded, nil
	case "unbounded":
		return Unbounded, nil
	}

	return Serial, fmt.Errorf("unknown executor concurrency %q", name)
}

// ExecutorBuilder .
type ExecutorBuilder struct {
	name         string        // executor name
	concurrency  Concurrency   // concurrency mode
	workers      int           // bounded workers
	cachedsize   int           // queue capacity
	maxRestarts  int           // worker restart budget
	lazy         bool          // don't start on build
	interceptors []Interceptor // unit interceptors
	observers    []Observer    // execution observers
}

// BuildExecutor create executor builder, defaults are loaded from gsconfig
func BuildExecutor(name string) *ExecutorBuilder {

	concurrency, err := ParseConcurrency(gsconfig.String("gsdispatch.executor.concurrency", "serial"))

	gserrors.Assert(err == nil, "check gsdispatch.executor.concurrency")

	return &ExecutorBuilder{
		name:        name,
		concurrency: concurrency,
		workers:     gsconfig.Int("gsdispatch.executor.workers", 1),
		cachedsize:  gsconfig.Int("gsdispatch.executor.cached", 0),
		maxRestarts: gsconfig.Int("gsdispatch.executor.restarts", 16),
	}
}

// Serial run one unit at a time on a single dedicated worker
func (builder *ExecutorBuilder) Serial() *ExecutorBuilder {
	builder.concurrency = Serial
	builder.workers = 1
	return builder
}

// Bounded run up to n units concurrently
func (builder *ExecutorBuilder) Bounded(n int) *ExecutorBuilder {
	builder.concurrency = Bounded
	builder.workers = n
	return builder
}

// Unbounded spawn one execution context per unit
func (builder *ExecutorBuilder) Unbounded() *ExecutorBuilder {
	builder.concurrency = Unbounded
	return builder
}

// CacheSize limit pending units, 0 for unlimited
func (builder *ExecutorBuilder) CacheSize(size int) *ExecutorBuilder {
	builder.cachedsize = size
	return builder
}

// MaxRestarts set worker restart budget, 0 stops the executor on the first
// fatal worker exit
func (builder *ExecutorBuilder) MaxRestarts(n int) *ExecutorBuilder {
	builder.maxRestarts = n
	return builder
}

// Lazy don't start the executor on Build
func (builder *ExecutorBuilder) Lazy() *ExecutorBuilder {
	builder.lazy = true
	return builder
}

// Intercept append unit interceptors, the first one is the outermost
func (builder *ExecutorBuilder) Intercept(interceptors ...Interceptor) *ExecutorBuilder {
	builder.interceptors = append(builder.interceptors, interceptors...)
	return builder
}

// Observe append execution observers
func (builder *ExecutorBuilder) Observe(observers ...Observer) *ExecutorBuilder {
	builder.observers = append(builder.observers, observers...)
	return builder
}

// Build create executor
func (builder *ExecutorBuilder) Build() Executor {
	executor := newExecutor(builder)

	if !builder.lazy {
		executor.Start()
	}

	return executor
}
