package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/Acorn2/llama-doc-sub000/internal/domain/document"
	"github.com/Acorn2/llama-doc-sub000/internal/domain/repository"

	"gorm.io/gorm"
)

type kbDocumentRepositoryImpl struct {
	db *gorm.DB
}

func NewKBDocumentRepository(db *gorm.DB) repository.KBDocumentRepository {
	return &kbDocumentRepositoryImpl{db: db}
}

func (r *kbDocumentRepositoryImpl) Create(ctx context.Context, link *document.KnowledgeBaseDocument) error {
	if link == nil {
		return nil
	}
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *kbDocumentRepositoryImpl) GetByID(ctx context.Context, id string) (*document.KnowledgeBaseDocument, error) {
	var link document.KnowledgeBaseDocument
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&link).Error
	if err == nil {
		return &link, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// ListPendingEligible 只取源文档已处理完成且向量可用的待同步关联
func (r *kbDocumentRepositoryImpl) ListPendingEligible(ctx context.Context, limit int) ([]document.KnowledgeBaseDocument, error) {
	if limit <= 0 {
		limit = 10
	}
	var links []document.KnowledgeBaseDocument
	err := r.db.WithContext(ctx).Model(&document.KnowledgeBaseDocument{}).
		Joins("JOIN documents ON documents.id = kb_documents.document_id").
		Where("kb_documents.vector_sync_status = ?", document.VectorSyncPending).
		Where("documents.status = ?", document.StatusCompleted).
		Where("documents.sync_status = ?", document.SyncStatusAvailable).
		Order("kb_documents.add_time ASC").
		Limit(limit).
		Find(&links).Error
	return links, err
}

func (r *kbDocumentRepositoryImpl) TryMarkSyncing(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&document.KnowledgeBaseDocument{}).
		Where("id = ? AND vector_sync_status = ?", id, document.VectorSyncPending).
		Updates(map[string]any{
			"vector_sync_status": document.VectorSyncSyncing,
			"vector_sync_time":   now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *kbDocumentRepositoryImpl) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&document.KnowledgeBaseDocument{}).Where("id = ?", id).Updates(map[string]any{
		"vector_sync_status": document.VectorSyncCompleted,
		"vector_sync_time":   now,
		"vector_sync_error":  "",
	}).Error
}

func (r *kbDocumentRepositoryImpl) MarkFailed(ctx context.Context, id string, errMsg string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&document.KnowledgeBaseDocument{}).Where("id = ?", id).Updates(map[string]any{
		"vector_sync_status": document.VectorSyncFailed,
		"vector_sync_time":   now,
		"vector_sync_error":  truncateErr(errMsg),
	}).Error
}

func (r *kbDocumentRepositoryImpl) ListRetryable(ctx context.Context, before time.Time, maxRetries, limit int) ([]document.KnowledgeBaseDocument, error) {
	if limit <= 0 {
		limit = 5
	}
	var links []document.KnowledgeBaseDocument
	err := r.db.WithContext(ctx).
		Where("vector_sync_status = ?", document.VectorSyncFailed).
		Where("sync_retry_count < ?", maxRetries).
		Where("(vector_sync_time IS NULL OR vector_sync_time < ?)", before).
		Order("add_time ASC").
		Limit(limit).
		Find(&links).Error
	return links, err
}

func (r *kbDocumentRepositoryImpl) TryResetForRetry(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&document.KnowledgeBaseDocument{}).
		Where("id = ? AND vector_sync_status = ?", id, document.VectorSyncFailed).
		Updates(map[string]any{
			"vector_sync_status": document.VectorSyncPending,
			"vector_sync_time":   now,
			"sync_retry_count":   gorm.Expr("sync_retry_count + ?", 1),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *kbDocumentRepositoryImpl) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		Total  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&document.KnowledgeBaseDocument{}).
		Select("vector_sync_status AS status, COUNT(*) AS total").
		Group("vector_sync_status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, it := range rows {
		counts[it.Status] = it.Total
	}
	return counts, nil
}

func (r *kbDocumentRepositoryImpl) ReleaseStaleSyncing(ctx context.Context, before time.Time, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&document.KnowledgeBaseDocument{}).
		Where("vector_sync_status = ? AND vector_sync_time IS NOT NULL AND vector_sync_time < ?", document.VectorSyncSyncing, before).
		Updates(map[string]any{
			"vector_sync_status": document.VectorSyncFailed,
			"vector_sync_time":   now,
			"vector_sync_error":  "sync abandoned: exceeded stale ceiling, returned for retry",
		})
	return res.RowsAffected, res.Error
}
