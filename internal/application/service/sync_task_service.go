package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Acorn2/llama-doc-sub000/internal/domain/document"
	"github.com/Acorn2/llama-doc-sub000/internal/domain/repository"
	"github.com/Acorn2/llama-doc-sub000/pkg/zlog"

	"go.uber.org/zap"
)

// SyncTaskService 单个知识库-文档关联的向量同步任务:把文档集合中的
// 全部向量复制进知识库聚合集合。关联与文档的状态各自独立落库。
type SyncTaskService struct {
	docRepo     repository.DocumentRepository
	kbDocRepo   repository.KBDocumentRepository
	vectorIndex repository.VectorIndex
	maxRetries  int
}

func NewSyncTaskService(
	docRepo repository.DocumentRepository,
	kbDocRepo repository.KBDocumentRepository,
	vectorIndex repository.VectorIndex,
	maxRetries int,
) *SyncTaskService {
	if maxRetries <= 0 {
		maxRetries = document.DefaultMaxRetries
	}
	return &SyncTaskService{
		docRepo:     docRepo,
		kbDocRepo:   kbDocRepo,
		vectorIndex: vectorIndex,
		maxRetries:  maxRetries,
	}
}

func (s *SyncTaskService) MaxRetries() int { return s.maxRetries }

// Execute 认领并同步一个关联。返回 error 仅代表基础设施故障。
func (s *SyncTaskService) Execute(ctx context.Context, linkID string) error {
	linkID = strings.TrimSpace(linkID)
	if linkID == "" {
		return nil
	}

	link, err := s.kbDocRepo.GetByID(ctx, linkID)
	if err != nil {
		return err
	}
	if link == nil {
		zlog.Warn("sync task link not found", zap.String("link_id", linkID))
		return nil
	}
	if link.VectorSyncStatus != document.VectorSyncPending {
		return nil
	}

	doc, err := s.docRepo.GetByID(ctx, link.DocumentId)
	if err != nil {
		return err
	}
	if doc == nil || !doc.SyncEligible() {
		// 文档尚未就绪,留在 pending 等下一轮
		return nil
	}

	now := time.Now()
	claimed, err := s.kbDocRepo.TryMarkSyncing(ctx, link.Id, now)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	if err := s.docRepo.UpdateSyncStatus(ctx, doc.Id, document.SyncStatusSyncing); err != nil {
		zlog.Warn("update document sync_status failed", zap.String("document_id", doc.Id), zap.Error(err))
	}

	s.run(ctx, link, doc)
	return nil
}

func (s *SyncTaskService) run(ctx context.Context, link *document.KnowledgeBaseDocument, doc *document.Document) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error("vector sync panicked",
				zap.String("link_id", link.Id),
				zap.Any("panic", r),
			)
			s.fail(ctx, link, doc, fmt.Sprintf("unexpected error: %v", r))
		}
	}()

	source := repository.DocumentCollection(link.DocumentId)
	target := repository.KnowledgeBaseCollection(link.KBId)

	zlog.Info("vector sync started",
		zap.String("link_id", link.Id),
		zap.String("document_id", link.DocumentId),
		zap.String("kb_id", link.KBId),
	)

	if err := s.vectorIndex.CopyByDocument(ctx, source, target, link.DocumentId); err != nil {
		s.fail(ctx, link, doc, err.Error())
		return
	}

	now := time.Now()
	if err := s.kbDocRepo.MarkCompleted(ctx, link.Id, now); err != nil {
		zlog.Error("mark link completed failed", zap.String("link_id", link.Id), zap.Error(err))
		return
	}
	if err := s.docRepo.UpdateSyncStatus(ctx, doc.Id, document.SyncStatusSynced); err != nil {
		zlog.Warn("update document sync_status failed", zap.String("document_id", doc.Id), zap.Error(err))
	}
	zlog.Info("vector sync completed",
		zap.String("link_id", link.Id),
		zap.String("document_id", link.DocumentId),
		zap.String("kb_id", link.KBId),
	)
}

func (s *SyncTaskService) fail(ctx context.Context, link *document.KnowledgeBaseDocument, doc *document.Document, errMsg string) {
	now := time.Now()
	if err := s.kbDocRepo.MarkFailed(ctx, link.Id, errMsg, now); err != nil {
		zlog.Error("mark link failed failed", zap.String("link_id", link.Id), zap.Error(err))
		return
	}
	if err := s.docRepo.UpdateSyncStatus(ctx, doc.Id, document.SyncStatusSyncFailed); err != nil {
		zlog.Warn("update document sync_status failed", zap.String("document_id", doc.Id), zap.Error(err))
	}
	zlog.Warn("vector sync failed",
		zap.String("link_id", link.Id),
		zap.String("document_id", link.DocumentId),
		zap.String("kb_id", link.KBId),
		zap.String("error", errMsg),
	)
}

// Retry 将一条冷却期已过、额度未耗尽的失败关联重置回 pending,
// 并把文档的同步状态放回 available 以重新满足就绪条件
func (s *SyncTaskService) Retry(ctx context.Context, link *document.KnowledgeBaseDocument) (bool, error) {
	if link == nil || link.VectorSyncStatus != document.VectorSyncFailed {
		return false, nil
	}
	if link.SyncRetryCount >= s.maxRetries {
		return false, nil
	}

	now := time.Now()
	ok, err := s.kbDocRepo.TryResetForRetry(ctx, link.Id, now)
	if err != nil || !ok {
		return false, err
	}

	doc, err := s.docRepo.GetByID(ctx, link.DocumentId)
	if err != nil {
		return true, err
	}
	// sync_failed 是正常失败路径;syncing 是进程在同步中途崩溃后的遗留,
	// 陈旧关联被归还为 failed 时文档无人收尾。两种情况都要放回 available,
	// 否则重置后的关联永远无法再满足就绪条件
	if doc != nil && doc.Status == document.StatusCompleted &&
		(doc.SyncStatus == document.SyncStatusSyncFailed || doc.SyncStatus == document.SyncStatusSyncing) {
		if err := s.docRepo.UpdateSyncStatus(ctx, doc.Id, document.SyncStatusAvailable); err != nil {
			zlog.Warn("restore document sync_status failed", zap.String("document_id", doc.Id), zap.Error(err))
		}
	}

	zlog.Info("vector sync retry scheduled",
		zap.String("link_id", link.Id),
		zap.Int("sync_retry_count", link.SyncRetryCount),
	)
	return true, nil
}
