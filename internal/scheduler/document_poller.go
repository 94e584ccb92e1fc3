package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Acorn2/llama-doc-sub000/internal/application/service"
	"github.com/Acorn2/llama-doc-sub000/internal/domain/repository"
	"github.com/Acorn2/llama-doc-sub000/pkg/zlog"

	"go.uber.org/zap"
)

// DocumentPoller 文档处理轮询器:每个周期做两次有界扫描
// (新任务 + 冷却期已过的重试任务),每个文档派发一个并发任务。
// 轮询循环本身从不等待任务完成;认领由条件更新保证,不持进程内锁。
type DocumentPoller struct {
	docRepo repository.DocumentRepository
	taskSvc *service.ProcessTaskService

	interval     time.Duration
	pendingBatch int
	retryBatch   int
	cooldown     time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	running  atomic.Bool
	inFlight atomic.Int64
}

type DocumentPollerConfig struct {
	Interval     time.Duration
	PendingBatch int
	RetryBatch   int
	Cooldown     time.Duration
}

func NewDocumentPoller(docRepo repository.DocumentRepository, taskSvc *service.ProcessTaskService, cfg DocumentPollerConfig) *DocumentPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.PendingBatch <= 0 {
		cfg.PendingBatch = 5
	}
	if cfg.RetryBatch <= 0 {
		cfg.RetryBatch = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &DocumentPoller{
		docRepo:      docRepo,
		taskSvc:      taskSvc,
		interval:     cfg.Interval,
		pendingBatch: cfg.PendingBatch,
		retryBatch:   cfg.RetryBatch,
		cooldown:     cfg.Cooldown,
		stopChan:     make(chan struct{}),
	}
}

// Running 轮询循环是否仍在接收新扫描
func (p *DocumentPoller) Running() bool { return p.running.Load() }

// InFlight 当前在途的处理任务数
func (p *DocumentPoller) InFlight() int64 { return p.inFlight.Load() }

func (p *DocumentPoller) Start() {
	p.running.Store(true)
	go p.runLoop()
	zlog.Info("document poller started",
		zap.Duration("interval", p.interval),
		zap.Int("pending_batch", p.pendingBatch),
		zap.Int("retry_batch", p.retryBatch),
	)
}

// Stop 停止接收新扫描,并在超时范围内等待在途任务结束
func (p *DocumentPoller) Stop(timeout time.Duration) {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.running.Store(false)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		zlog.Info("document poller stopped")
	case <-time.After(timeout):
		zlog.Warn("document poller stop timed out with tasks in flight")
	}
}

func (p *DocumentPoller) runLoop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Tick(context.Background())
		case <-p.stopChan:
			return
		}
	}
}

// Tick 一次完整的轮询:新任务扫描 + 重试扫描。
// 两次扫描的状态过滤互斥,同一文档不会被同一轮重复认领。
func (p *DocumentPoller) Tick(ctx context.Context) {
	pending, err := p.docRepo.ListPending(ctx, p.pendingBatch)
	if err != nil {
		zlog.Warn("document poller pending sweep failed", zap.Error(err))
	} else {
		for i := range pending {
			p.dispatch(ctx, pending[i].Id)
		}
	}

	before := time.Now().Add(-p.cooldown)
	retryable, err := p.docRepo.ListRetryable(ctx, before, p.retryBatch)
	if err != nil {
		zlog.Warn("document poller retry sweep failed", zap.Error(err))
		return
	}
	for i := range retryable {
		p.dispatch(ctx, retryable[i].Id)
	}
}

func (p *DocumentPoller) dispatch(ctx context.Context, documentID string) {
	p.wg.Add(1)
	p.inFlight.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Add(-1)
		if err := p.taskSvc.Execute(ctx, documentID); err != nil {
			zlog.Warn("document task execute failed",
				zap.String("document_id", documentID),
				zap.Error(err),
			)
		}
	}()
}
