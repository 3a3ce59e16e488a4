package workerpool

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

var ErrStopped = errors.New("workerpool: stopped")

type Config struct {
	WorkerCount  int
	GlobalBuffer int
	Logger       *logrus.Logger
}

// WorkerPool runs tasks on a fixed set of goroutines fed from one queue.
type WorkerPool struct {
	config    Config
	log       *logrus.Logger
	taskQueue chan func()
	workers   sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		numberOfCPUs := runtime.NumCPU()
		numberOfWorkers := (numberOfCPUs * 3)
		config.WorkerCount = numberOfWorkers
	}

	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 10000
	}

	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	wp := &WorkerPool{
		config:    config,
		log:       config.Logger,
		taskQueue: make(chan func(), config.GlobalBuffer),
	}

	wp.workers.Add(config.WorkerCount)
	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.workers.Done()
	for task := range wp.taskQueue {
		wp.run(task)
	}
}

func (wp *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.log.WithField("panic", fmt.Sprint(r)).Error("Pooled task panicked")
		}
	}()
	task()
}

// Submit queues task, waiting for a free slot when the queue is full.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.stopped {
		return ErrStopped
	}
	wp.taskQueue <- task
	return nil
}

// Stop rejects new tasks, lets queued tasks finish and waits for the workers.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		wp.workers.Wait()
		return
	}
	wp.stopped = true
	close(wp.taskQueue)
	wp.mu.Unlock()

	wp.workers.Wait()
}

func (wp *WorkerPool) WorkerCount() int {
	return wp.config.WorkerCount
}
