package persistence

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Acorn2/llama-doc-sub000/internal/domain/document"
	"github.com/Acorn2/llama-doc-sub000/internal/domain/repository"

	"gorm.io/gorm"
)

type documentRepositoryImpl struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) repository.DocumentRepository {
	return &documentRepositoryImpl{db: db}
}

func (r *documentRepositoryImpl) Create(ctx context.Context, doc *document.Document) error {
	if doc == nil {
		return nil
	}
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *documentRepositoryImpl) GetByID(ctx context.Context, id string) (*document.Document, error) {
	var doc document.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&doc).Error
	if err == nil {
		return &doc, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func (r *documentRepositoryImpl) ListPending(ctx context.Context, limit int) ([]document.Document, error) {
	if limit <= 0 {
		limit = 5
	}
	var docs []document.Document
	err := r.db.WithContext(ctx).
		Where("status = ?", document.StatusPending).
		Order("upload_time ASC").
		Limit(limit).
		Find(&docs).Error
	return docs, err
}

func (r *documentRepositoryImpl) ListRetryable(ctx context.Context, before time.Time, limit int) ([]document.Document, error) {
	if limit <= 0 {
		limit = 3
	}
	var docs []document.Document
	err := r.db.WithContext(ctx).
		Where("status = ?", document.StatusFailed).
		Where("retry_count < max_retries").
		Where("(last_retry_time IS NULL OR last_retry_time < ?)", before).
		Order("upload_time ASC").
		Limit(limit).
		Find(&docs).Error
	return docs, err
}

func (r *documentRepositoryImpl) TryClaim(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&document.Document{}).
		Where("id = ? AND status = ?", id, document.StatusPending).
		Updates(map[string]any{
			"status":             document.StatusProcessing,
			"process_start_time": now,
			"updated_at":         now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *documentRepositoryImpl) TryClaimRetry(ctx context.Context, id string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&document.Document{}).
		Where("id = ? AND status = ? AND retry_count < max_retries", id, document.StatusFailed).
		Updates(map[string]any{
			"status":             document.StatusProcessing,
			"retry_count":        gorm.Expr("retry_count + 1"),
			"last_retry_time":    now,
			"process_start_time": now,
			"updated_at":         now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *documentRepositoryImpl) MarkCompleted(ctx context.Context, id string, pages, chunkCount int, fileType string, now time.Time) error {
	updates := map[string]any{
		"status":           document.StatusCompleted,
		"sync_status":      document.SyncStatusAvailable,
		"pages":            pages,
		"chunk_count":      chunkCount,
		"process_end_time": now,
		"error_message":    "",
		"updated_at":       now,
	}
	// 文件类型为空时用抽取结果回填
	if fileType = strings.TrimSpace(fileType); fileType != "" {
		updates["file_type"] = gorm.Expr("CASE WHEN file_type IS NULL OR file_type = '' THEN ? ELSE file_type END", fileType)
	}
	return r.db.WithContext(ctx).Model(&document.Document{}).Where("id = ?", id).Updates(updates).Error
}

func (r *documentRepositoryImpl) MarkFailed(ctx context.Context, id string, errMsg string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&document.Document{}).Where("id = ?", id).Updates(map[string]any{
		"status":        document.StatusFailed,
		"error_message": truncateErr(errMsg),
		"updated_at":    now,
	}).Error
}

func (r *documentRepositoryImpl) MarkFailedPermanently(ctx context.Context, id string, errMsg string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&document.Document{}).Where("id = ?", id).Updates(map[string]any{
		"status":        document.StatusFailedPermanently,
		"error_message": truncateErr(errMsg),
		"updated_at":    now,
	}).Error
}

func (r *documentRepositoryImpl) UpdateSyncStatus(ctx context.Context, id string, syncStatus string) error {
	return r.db.WithContext(ctx).Model(&document.Document{}).Where("id = ?", id).Updates(map[string]any{
		"sync_status": syncStatus,
		"updated_at":  time.Now(),
	}).Error
}

func (r *documentRepositoryImpl) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		Total  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&document.Document{}).
		Select("status, COUNT(*) AS total").
		Group("status").
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

func (r *documentRepositoryImpl) ReleaseStaleProcessing(ctx context.Context, before time.Time, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&document.Document{}).
		Where("status = ? AND process_start_time IS NOT NULL AND process_start_time < ?", document.StatusProcessing, before).
		Updates(map[string]any{
			"status":        document.StatusFailed,
			"error_message": "processing abandoned: exceeded stale ceiling, returned for retry",
			"updated_at":    now,
		})
	return res.RowsAffected, res.Error
}

func (r *documentRepositoryImpl) ReleaseStaleSyncing(ctx context.Context, before time.Time, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&document.Document{}).
		Where("status = ? AND sync_status = ? AND updated_at < ?",
			document.StatusCompleted, document.SyncStatusSyncing, before).
		Updates(map[string]any{
			"sync_status": document.SyncStatusAvailable,
			"updated_at":  now,
		})
	return res.RowsAffected, res.Error
}

const maxErrMsgBytes = 255

// truncateErr 按字节截断错误文本,回退到完整的 rune 边界,
// 避免把多字节字符拦腰截断写进表里
func truncateErr(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrMsgBytes {
		return s
	}
	cut := maxErrMsgBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
