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

// VectorSyncPoller 向量同步轮询器,与文档轮询器结构相同但完全独立:
// 新任务扫描只选源文档已就绪的关联,重试扫描只选冷却期已过且
// 重试额度未耗尽的失败关联。
type VectorSyncPoller struct {
	kbDocRepo repository.KBDocumentRepository
	syncSvc   *service.SyncTaskService

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

type VectorSyncPollerConfig struct {
	Interval     time.Duration
	PendingBatch int
	RetryBatch   int
	Cooldown     time.Duration
}

func NewVectorSyncPoller(kbDocRepo repository.KBDocumentRepository, syncSvc *service.SyncTaskService, cfg VectorSyncPollerConfig) *VectorSyncPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.PendingBatch <= 0 {
		cfg.PendingBatch = 10
	}
	if cfg.RetryBatch <= 0 {
		cfg.RetryBatch = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &VectorSyncPoller{
		kbDocRepo:    kbDocRepo,
		syncSvc:      syncSvc,
		interval:     cfg.Interval,
		pendingBatch: cfg.PendingBatch,
		retryBatch:   cfg.RetryBatch,
		cooldown:     cfg.Cooldown,
		stopChan:     make(chan struct{}),
	}
}

func (p *VectorSyncPoller) Running() bool { return p.running.Load() }

func (p *VectorSyncPoller) InFlight() int64 { return p.inFlight.Load() }

func (p *VectorSyncPoller) Start() {
	p.running.Store(true)
	go p.runLoop()
	zlog.Info("vector sync poller started",
		zap.Duration("interval", p.interval),
		zap.Int("pending_batch", p.pendingBatch),
		zap.Int("retry_batch", p.retryBatch),
	)
}

func (p *VectorSyncPoller) Stop(timeout time.Duration) {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.running.Store(false)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		zlog.Info("vector sync poller stopped")
	case <-time.After(timeout):
		zlog.Warn("vector sync poller stop timed out with tasks in flight")
	}
}

func (p *VectorSyncPoller) runLoop() {
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

func (p *VectorSyncPoller) Tick(ctx context.Context) {
	links, err := p.kbDocRepo.ListPendingEligible(ctx, p.pendingBatch)
	if err != nil {
		zlog.Warn("vector sync pending sweep failed", zap.Error(err))
	} else {
		for i := range links {
			linkID := links[i].Id
			p.wg.Add(1)
			p.inFlight.Add(1)
			go func() {
				defer p.wg.Done()
				defer p.inFlight.Add(-1)
				if err := p.syncSvc.Execute(ctx, linkID); err != nil {
					zlog.Warn("sync task execute failed", zap.String("link_id", linkID), zap.Error(err))
				}
			}()
		}
	}

	before := time.Now().Add(-p.cooldown)
	retryable, err := p.kbDocRepo.ListRetryable(ctx, before, p.syncSvc.MaxRetries(), p.retryBatch)
	if err != nil {
		zlog.Warn("vector sync retry sweep failed", zap.Error(err))
		return
	}
	for i := range retryable {
		link := retryable[i]
		if _, err := p.syncSvc.Retry(ctx, &link); err != nil {
			zlog.Warn("sync retry reset failed", zap.String("link_id", link.Id), zap.Error(err))
		}
	}
}
