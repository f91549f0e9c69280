package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"MarketSync/pkg/logger"
)

// MemoryQueue runs jobs on in-process workers. Messages do not survive a
// restart.
type MemoryQueue struct {
	logger *logger.Logger
	config *QueueConfig
	jobs   map[string]Job
	msgs   chan Message

	mu      sync.RWMutex
	running bool
	dead    []Message
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ QueueService = (*MemoryQueue)(nil)

func NewMemoryQueue(lgr *logger.Logger, config *QueueConfig, jobs ...Job) *MemoryQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	cfg := config.withDefaults()
	q := &MemoryQueue{
		logger: lgr,
		config: cfg,
		jobs:   make(map[string]Job),
		msgs:   make(chan Message, cfg.QueueSize),
	}
	for _, job := range jobs {
		q.jobs[job.Type()] = job
	}
	return q
}

// Start launches workers that run until ctx is cancelled or Stop is called.
func (q *MemoryQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return ErrAlreadyRunning
	}
	ctx, q.cancel = context.WithCancel(ctx)
	q.running = true
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.logger.Info("memory queue started", logger.Int("workers", q.config.Workers))
	return nil
}

func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	q.mu.RLock()
	running := q.running
	_, known := q.jobs[msgType]
	q.mu.RUnlock()
	if !running {
		return "", ErrNotRunning
	}
	if !known {
		return "", fmt.Errorf("%w: %s", ErrUnknownType, msgType)
	}

	msg, err := newMessage(msgType, payload)
	if err != nil {
		return "", err
	}
	select {
	case q.msgs <- msg:
		return msg.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// DeadLetters returns messages that exhausted their retries.
func (q *MemoryQueue) DeadLetters() []Message {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]Message(nil), q.dead...)
}

func (q *MemoryQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q.msgs:
			q.process(ctx, msg)
		}
	}
}

func (q *MemoryQueue) process(ctx context.Context, msg Message) {
	job := q.jobs[msg.Type]
	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		q.logger.Warn("message cancelled", logger.String("id", msg.ID), logger.String("job", job.Name()))
		return
	}

	q.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))
	if msg.Attempts >= q.config.RetryLimit {
		q.mu.Lock()
		q.dead = append(q.dead, msg)
		q.mu.Unlock()
		q.logger.Error("max retries reached", logger.String("id", msg.ID), logger.String("job", job.Name()))
		return
	}

	msg.Attempts++
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		t := time.NewTimer(q.config.RetryDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			select {
			case q.msgs <- msg:
			case <-ctx.Done():
			}
		}
	}()
}
