package scheduler

import (
	"context"
	"time"

	"github.com/Acorn2/llama-doc-sub000/internal/domain/repository"
	"github.com/Acorn2/llama-doc-sub000/pkg/zlog"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reconciler 周期性把崩溃后遗留在 processing / syncing 的行归还为
// 可重试状态。两个轮询器只扫描 pending/failed,没有这个兜底,
// 进程重启后卡住的行将永远停滞。
type Reconciler struct {
	docRepo      repository.DocumentRepository
	kbDocRepo    repository.KBDocumentRepository
	staleCeiling time.Duration
	cron         *cron.Cron
}

func NewReconciler(docRepo repository.DocumentRepository, kbDocRepo repository.KBDocumentRepository, staleCeiling time.Duration) *Reconciler {
	if staleCeiling <= 0 {
		staleCeiling = 30 * time.Minute
	}
	return &Reconciler{
		docRepo:      docRepo,
		kbDocRepo:    kbDocRepo,
		staleCeiling: staleCeiling,
		cron:         cron.New(),
	}
}

func (r *Reconciler) Start() {
	_, err := r.cron.AddFunc("@every 5m", func() {
		r.Reconcile(context.Background())
	})
	if err != nil {
		zlog.Error("reconciler schedule failed: " + err.Error())
		return
	}
	r.cron.Start()
	zlog.Info("reconciler started", zap.Duration("stale_ceiling", r.staleCeiling))
}

func (r *Reconciler) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// Reconcile 一次完整的陈旧状态回收
func (r *Reconciler) Reconcile(ctx context.Context) {
	now := time.Now()
	before := now.Add(-r.staleCeiling)

	released, err := r.docRepo.ReleaseStaleProcessing(ctx, before, now)
	if err != nil {
		zlog.Warn("release stale processing failed", zap.Error(err))
	} else if released > 0 {
		zlog.Info("released stale processing documents", zap.Int64("count", released))
	}

	released, err = r.kbDocRepo.ReleaseStaleSyncing(ctx, before, now)
	if err != nil {
		zlog.Warn("release stale syncing failed", zap.Error(err))
	} else if released > 0 {
		zlog.Info("released stale syncing links", zap.Int64("count", released))
	}

	// 文档侧同样回收:卡在 syncing 的文档会让它所有 pending 关联
	// 都过不了就绪条件
	released, err = r.docRepo.ReleaseStaleSyncing(ctx, before, now)
	if err != nil {
		zlog.Warn("release stale syncing documents failed", zap.Error(err))
	} else if released > 0 {
		zlog.Info("released stale syncing documents", zap.Int64("count", released))
	}
}
