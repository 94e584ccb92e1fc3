package repository

import (
	"context"
	"time"

	"github.com/Acorn2/llama-doc-sub000/internal/domain/document"
)

// DocumentRepository 文档元数据（MySQL）持久化
//
// 认领（Claim）类操作均为条件更新：RowsAffected == 0 表示竞争失败，
// 调用方必须放弃该条目。这使得核心逻辑不依赖进程内锁，支持多实例部署。
type DocumentRepository interface {
	Create(ctx context.Context, doc *document.Document) error
	GetByID(ctx context.Context, id string) (*document.Document, error)

	// ListPending 新任务扫描：status = pending
	ListPending(ctx context.Context, limit int) ([]document.Document, error)

	// ListRetryable 重试扫描：status = failed 且 retry_count < max_retries
	// 且（从未重试 或 上次重试早于 before）
	ListRetryable(ctx context.Context, before time.Time, limit int) ([]document.Document, error)

	// TryClaim pending → processing，设置 process_start_time
	TryClaim(ctx context.Context, id string, now time.Time) (bool, error)

	// TryClaimRetry failed → processing，retry_count+1，记录 last_retry_time
	TryClaimRetry(ctx context.Context, id string, now time.Time) (bool, error)

	MarkCompleted(ctx context.Context, id string, pages, chunkCount int, fileType string, now time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string, now time.Time) error
	MarkFailedPermanently(ctx context.Context, id string, errMsg string, now time.Time) error

	UpdateSyncStatus(ctx context.Context, id string, syncStatus string) error

	// CountByStatus 各处理状态的数量统计
	CountByStatus(ctx context.Context) (map[string]int64, error)

	// ReleaseStaleProcessing 将卡死在 processing 且开始时间早于 before 的文档
	// 归还为 failed（可重试），返回影响行数
	ReleaseStaleProcessing(ctx context.Context, before time.Time, now time.Time) (int64, error)

	// ReleaseStaleSyncing 将同步中途崩溃、卡死在 sync_status = syncing 的
	// 已完成文档放回 available，让其关联重新满足就绪条件
	ReleaseStaleSyncing(ctx context.Context, before time.Time, now time.Time) (int64, error)
}
