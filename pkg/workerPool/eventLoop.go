package workerpool

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// EventLoop runs tasks one at a time, in posting order, on a single
// goroutine. Posting never blocks.
type EventLoop struct {
	log *logrus.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
	done    chan struct{}
}

func NewEventLoop(log *logrus.Logger) *EventLoop {
	if log == nil {
		log = logrus.New()
	}
	l := &EventLoop{
		log:  log,
		done: make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

func (l *EventLoop) Post(task func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return ErrStopped
	}
	l.queue = append(l.queue, task)
	l.cond.Signal()
	return nil
}

// Stop rejects new tasks, runs what is already queued and waits for the
// loop to exit. Stop must not be called from a task on this loop.
func (l *EventLoop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.cond.Signal()
	l.mu.Unlock()

	<-l.done
}

func (l *EventLoop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.runTask(task)
	}
}

func (l *EventLoop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", fmt.Sprint(r)).Error("Event loop task panicked")
		}
	}()
	task()
}
