package command

import (
	"context"
	"sync"

	"github.com/danmuck/satlink/internal/observability"
	"github.com/rs/zerolog"
)

// Task is one released handler run.
type Task func(ctx context.Context) (Result, error)

// TaskResult is delivered once on the channel returned by Submit.
type TaskResult struct {
	TaskID string
	Result Result
	Err    error
}

type job struct {
	ctx    context.Context
	id     string
	run    Task
	result chan TaskResult
}

// Pool runs released handlers on a fixed set of workers. Jobs start in
// submission order; completion order is free.
type Pool struct {
	log  zerolog.Logger
	jobs chan job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(workers, queue int, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{
		log:  log,
		jobs: make(chan job, queue),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()
	for j := range p.jobs {
		res, err := p.runJob(j)
		observability.ReleaseDone()
		j.result <- TaskResult{TaskID: j.id, Result: res, Err: err}
		close(j.result)
		if err != nil {
			p.log.Debug().Int("worker", n).Str("task", j.id).Err(err).Msg("released task failed")
		}
	}
}

func (p *Pool) runJob(j job) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("task", j.id).Interface("panic", r).Msg("released task panicked")
			err = &HandlerError{Name: j.id, Err: errPanic(r)}
		}
	}()
	return j.run(j.ctx)
}

// Submit queues task and returns its future. It blocks while the queue is
// full, until ctx is done.
func (p *Pool) Submit(ctx context.Context, id string, task Task) (<-chan TaskResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	j := job{ctx: ctx, id: id, run: task, result: make(chan TaskResult, 1)}
	observability.ReleaseQueued()
	select {
	case p.jobs <- j:
		return j.result, nil
	case <-ctx.Done():
		observability.ReleaseDone()
		return nil, ctx.Err()
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
