package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"MarketSync/pkg/logger"
)

// QueueMode defines the operation mode of the queue.
type QueueMode int

const (
	ModeProducerConsumer QueueMode = iota
	ModeProducerOnly
	ModeConsumerOnly
)

func (m QueueMode) String() string {
	switch m {
	case ModeProducerOnly:
		return "producer-only"
	case ModeConsumerOnly:
		return "consumer-only"
	default:
		return "producer-consumer"
	}
}

// RedisQueue is a list-backed queue with a sorted-set retry schedule and a
// dead letter list.
type RedisQueue struct {
	logger    *logger.Logger
	config    *QueueConfig
	client    *redis.Client
	jobs      map[string]Job
	mode      QueueMode
	keyPrefix string

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ QueueService = (*RedisQueue)(nil)

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) { r.keyPrefix = prefix }
}

func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, mode QueueMode, opts ...RedisQueueOption) *RedisQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	rq := &RedisQueue{
		logger:    lgr,
		config:    config.withDefaults(),
		client:    client,
		jobs:      make(map[string]Job),
		mode:      mode,
		keyPrefix: "marketsync:queue",
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

// RegisterJobs must be called before Start.
func (r *RedisQueue) RegisterJobs(jobs ...Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range jobs {
		if r.mode == ModeProducerOnly {
			r.logger.Warn("job registration ignored in producer-only mode", logger.String("job", job.Name()))
			continue
		}
		if _, exists := r.jobs[job.Type()]; exists {
			r.logger.Warn("job already registered", logger.String("job", job.Name()))
			continue
		}
		r.jobs[job.Type()] = job
		r.logger.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
	}
}

// Start pings redis and, unless producer-only, launches workers and the
// retry processor. They stop when ctx is cancelled or Stop is called.
func (r *RedisQueue) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	if r.mode != ModeProducerOnly {
		for i := 0; i < r.config.Workers; i++ {
			r.wg.Add(1)
			go r.worker(ctx)
		}
		r.wg.Add(1)
		go r.retryProcessor(ctx)
	}
	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("addr", r.client.Options().Addr),
		logger.String("mode", r.mode.String()))
	return nil
}

func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !running {
		return "", ErrNotRunning
	}
	if r.mode != ModeProducerOnly && !known {
		return "", fmt.Errorf("%w: %s", ErrUnknownType, msgType)
	}

	msg, err := newMessage(msgType, payload)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.queueKey(), data).Err(); err != nil {
		return "", fmt.Errorf("lpush: %w", err)
	}
	return msg.ID, nil
}

func (r *RedisQueue) worker(ctx context.Context) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		r.processNext(ctx)
	}
}

func (r *RedisQueue) processNext(ctx context.Context) {
	result, err := r.client.BRPop(ctx, time.Second, r.queueKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return
		}
		r.logger.Error("brpop error", logger.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}
	if len(result) < 2 {
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		r.logger.Error("unmarshal message", logger.Error(err))
		return
	}
	r.process(ctx, msg)
}

func (r *RedisQueue) process(ctx context.Context, msg Message) {
	r.mu.RLock()
	job, exists := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !exists {
		r.logger.Error("no job found", logger.String("type", msg.Type), logger.String("id", msg.ID))
		return
	}

	start := time.Now()
	err := job.Handle(ctx, msg.Payload)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		r.logger.Warn("message cancelled",
			logger.String("id", msg.ID),
			logger.String("job", job.Name()),
			logger.Duration("elapsed", time.Since(start)))
		return
	}

	r.logger.Error("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))
	if msg.Attempts < r.config.RetryLimit {
		msg.Attempts++
		r.scheduleRetry(ctx, msg, time.Now().Add(r.config.RetryDelay))
		return
	}
	r.logger.Error("max retries reached", logger.String("id", msg.ID), logger.String("job", job.Name()))
	r.moveToDeadLetter(ctx, msg)
}

func (r *RedisQueue) scheduleRetry(ctx context.Context, msg Message, at time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal retry", logger.Error(err))
		return
	}
	if err := r.client.ZAdd(ctx, r.retryKey(), redis.Z{Score: float64(at.Unix()), Member: data}).Err(); err != nil {
		r.logger.Error("zadd retry", logger.Error(err))
	}
}

func (r *RedisQueue) moveToDeadLetter(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal dlq", logger.Error(err))
		return
	}
	if err := r.client.LPush(ctx, r.deadLetterKey(), data).Err(); err != nil {
		r.logger.Error("lpush dlq", logger.Error(err))
	}
}

func (r *RedisQueue) retryProcessor(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.promoteRetries(ctx)
		}
	}
}

func (r *RedisQueue) promoteRetries(ctx context.Context) {
	due, err := r.client.ZRangeByScore(ctx, r.retryKey(), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("fetch retry messages", logger.Error(err))
		}
		return
	}
	for _, data := range due {
		pipe := r.client.TxPipeline()
		pipe.ZRem(ctx, r.retryKey(), data)
		pipe.LPush(ctx, r.queueKey(), data)
		if _, err := pipe.Exec(ctx); err != nil {
			if ctx.Err() == nil {
				r.logger.Error("move retry to queue", logger.Error(err))
			}
			return
		}
	}
}

func (r *RedisQueue) queueKey() string      { return r.keyPrefix + ":messages" }
func (r *RedisQueue) retryKey() string      { return r.keyPrefix + ":retry" }
func (r *RedisQueue) deadLetterKey() string { return r.keyPrefix + ":dlq" }
