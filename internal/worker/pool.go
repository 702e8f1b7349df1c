package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/omkar-codehub/sar-marine-backend/internal/service"
)

type Pool struct {
	queue      service.Queue
	processor  *Processor
	workers    int
	claimDelay time.Duration
	logger     *slog.Logger
}

func NewPool(queue service.Queue, processor *Processor, workers int, claimDelay time.Duration, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if claimDelay <= 0 {
		claimDelay = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: claimDelay,
		logger:     logger.With("component", "dispatch_pool"),
	}
}

const requeueBatch = 1000

// Run claims job ids and feeds them to the workers until ctx is cancelled.
// It returns after every in-flight dispatch has finished.
func (p *Pool) Run(ctx context.Context) error {
	p.heartbeat(ctx)
	p.requeueStale(ctx)

	p.logger.InfoContext(ctx, "dispatch pool started", "workers", p.workers)

	jobCh := make(chan string)
	var wg sync.WaitGroup

	// liveness + подбор claim'ов упавших соседей
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(service.ConsumerHeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.heartbeat(ctx)
				p.requeueStale(ctx)
			}
		}
	}()

	// N воркеров
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for jobID := range jobCh {
				p.handle(ctx, n, jobID)
			}
		}(i + 1)
	}

	defer func() {
		close(jobCh)
		wg.Wait()
		// unacked ids stay in our processing list for a peer or the next start
		if err := p.queue.Leave(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("leave dispatch queue", "error", err)
		}
		p.logger.Info("dispatch pool stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
		if err != nil {
			if !errors.Is(err, service.ErrQueueEmpty) && ctx.Err() == nil {
				// не fatal, но не крутимся в горячем цикле, если очередь недоступна
				p.logger.WarnContext(ctx, "claim failed", "error", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
				}
			}
			continue
		}

		select {
		case jobCh <- jobID:
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Pool) handle(ctx context.Context, n int, jobID string) {
	err := p.processor.Process(ctx, jobID)
	if errors.Is(err, context.Canceled) {
		// остаётся в processing, после Leave его вернёт RequeueStale соседа или следующего старта
		return
	}
	if err != nil {
		p.logger.WarnContext(ctx, "process job", "worker", n, "job_id", jobID, "error", err)
	}

	// ACK в любом случае: исход dispatch уже записан в job (или job не существует)
	if ackErr := p.queue.Ack(context.WithoutCancel(ctx), jobID); ackErr != nil {
		p.logger.ErrorContext(ctx, "ack job", "worker", n, "job_id", jobID, "error", ackErr)
	}
}

func (p *Pool) heartbeat(ctx context.Context) {
	if err := p.queue.Heartbeat(ctx); err != nil && ctx.Err() == nil {
		p.logger.WarnContext(ctx, "queue heartbeat", "error", err)
	}
}

func (p *Pool) requeueStale(ctx context.Context) {
	n, err := p.queue.RequeueStale(ctx, requeueBatch)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.WarnContext(ctx, "requeue stale claims", "error", err)
		}
		return
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "requeued stale claims", "count", n)
	}
}
