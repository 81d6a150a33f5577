// Package jobs is a fixed size worker pool for CPU bound work such as shader
// compilation.
package jobs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/vkcore/engine/core"
)

var (
	ErrNoWorkers           = errors.New("attempting to create worker pool with less than 1 worker")
	ErrNegativeChannelSize = errors.New("attempting to create worker pool with a negative channel size")
	ErrPoolClosed          = errors.New("worker pool already shut down")
)

// Task is one unit of work. Its error is handed back to the submitter.
type Task func() error

type job struct {
	task Task
	done chan<- error
}

type Pool struct {
	numWorkers int
	jobQueue   chan job
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPool(numWorkers int, channelSize int) (*Pool, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}
	p := &Pool{
		numWorkers: numWorkers,
		jobQueue:   make(chan job, channelSize),
	}
	p.start()
	return p, nil
}

func (p *Pool) start() {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobQueue {
				j.done <- run(j.task)
			}
		}()
	}
}

// run keeps a panicking task from taking its worker down.
func run(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			core.LogError(err.Error())
		}
	}()
	return t()
}

func (p *Pool) Workers() int { return p.numWorkers }

// Submit queues t and returns a channel receiving its result. It blocks while
// the queue is full.
func (p *Pool) Submit(t Task) <-chan error {
	done := make(chan error, 1)
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		done <- ErrPoolClosed
		return done
	}
	p.jobQueue <- job{task: t, done: done}
	return done
}

// Run executes every task on the pool and returns their errors in task
// order.
func (p *Pool) Run(tasks []Task) []error {
	results := make([]<-chan error, len(tasks))
	for i, t := range tasks {
		results[i] = p.Submit(t)
	}
	errs := make([]error, len(tasks))
	for i, r := range results {
		errs[i] = <-r
	}
	return errs
}

// Shutdown waits for queued tasks to finish and stops the workers.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobQueue)
	p.mu.Unlock()
	p.wg.Wait()
}
