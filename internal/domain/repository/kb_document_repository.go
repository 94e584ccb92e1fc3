package repository

import (
	"context"
	"time"

	"github.com/Acorn2/llama-doc-sub000/internal/domain/document"
)

// KBDocumentRepository 知识库-文档关联（向量同步状态）的持久化
type KBDocumentRepository interface {
	Create(ctx context.Context, link *document.KnowledgeBaseDocument) error
	GetByID(ctx context.Context, id string) (*document.KnowledgeBaseDocument, error)

	// ListPendingEligible 新任务扫描：vector_sync_status = pending，
	// 且所引用文档 status = completed、sync_status = available（join 条件）。
	// 文档尚未就绪的关联会被跳过而不会报错。
	ListPendingEligible(ctx context.Context, limit int) ([]document.KnowledgeBaseDocument, error)

	// TryMarkSyncing pending → syncing，条件更新防止重复认领；
	// vector_sync_time 记录本次同步的开始时间
	TryMarkSyncing(ctx context.Context, id string, now time.Time) (bool, error)

	MarkCompleted(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string, now time.Time) error

	// ListRetryable 重试扫描：vector_sync_status = failed，
	// vector_sync_time 早于 before，且 sync_retry_count < maxRetries
	ListRetryable(ctx context.Context, before time.Time, maxRetries int, limit int) ([]document.KnowledgeBaseDocument, error)

	// TryResetForRetry failed → pending，条件更新防止重复认领；
	// sync_retry_count 记录已执行的重试次数，在此累加
	TryResetForRetry(ctx context.Context, id string, now time.Time) (bool, error)

	// CountByStatus 各同步状态的数量统计
	CountByStatus(ctx context.Context) (map[string]int64, error)

	// ReleaseStaleSyncing 将卡死在 syncing 且同步开始早于 before 的关联归还为
	// failed（可重试），返回影响行数
	ReleaseStaleSyncing(ctx context.Context, before time.Time, now time.Time) (int64, error)
}
