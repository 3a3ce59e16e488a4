package workerpool

import "fmt"

// Where names the execution context a task must run on.
type Where int

const (
	// Primary is the single-threaded context callers receive results on.
	Primary Where = iota
	// Pooled is the background worker pool.
	Pooled
)

func (w Where) String() string {
	switch w {
	case Primary:
		return "primary"
	case Pooled:
		return "pooled"
	}
	return fmt.Sprintf("Where(%d)", int(w))
}

// Scheduler runs a task on a named execution context.
type Scheduler interface {
	Schedule(where Where, task func()) error
}

// Dispatcher combines one EventLoop and one WorkerPool.
type Dispatcher struct {
	loop *EventLoop
	pool *WorkerPool
}

var _ Scheduler = (*Dispatcher)(nil)

func NewDispatcher(config Config) *Dispatcher {
	pool := NewWorkerPool(config)
	return &Dispatcher{
		loop: NewEventLoop(pool.log),
		pool: pool,
	}
}

func (d *Dispatcher) Schedule(where Where, task func()) error {
	switch where {
	case Primary:
		return d.loop.Post(task)
	case Pooled:
		return d.pool.Submit(task)
	}
	return fmt.Errorf("workerpool: unknown execution context %s", where)
}

// Stop drains the pool first so pooled tasks can still hand results back to
// the primary loop, then drains the loop.
func (d *Dispatcher) Stop() {
	d.pool.Stop()
	d.loop.Stop()
}
