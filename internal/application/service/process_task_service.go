package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Acorn2/llama-doc-sub000/internal/domain/document"
	"github.com/Acorn2/llama-doc-sub000/internal/domain/repository"
	"github.com/Acorn2/llama-doc-sub000/internal/infrastructure/extractor"
	"github.com/Acorn2/llama-doc-sub000/pkg/zlog"

	"go.uber.org/zap"
)

// ProcessTaskService 单文档处理任务。轮询器和消息队列消费者共用同一份
// 实现，保证两种执行器驱动下状态迁移完全一致。
//
// 认领通过条件更新完成：pending/failed → processing 只有一个执行器能
// 成功,其余执行器静默放弃。因此服务本身无进程内共享状态,多实例安全。
type ProcessTaskService struct {
	docRepo     repository.DocumentRepository
	fileStorage repository.FileStorage
	engine      *extractor.Engine
	vectorIndex repository.VectorIndex
}

func NewProcessTaskService(
	docRepo repository.DocumentRepository,
	fileStorage repository.FileStorage,
	engine *extractor.Engine,
	vectorIndex repository.VectorIndex,
) *ProcessTaskService {
	return &ProcessTaskService{
		docRepo:     docRepo,
		fileStorage: fileStorage,
		engine:      engine,
		vectorIndex: vectorIndex,
	}
}

// Execute 认领并处理一个文档,返回 error 仅代表基础设施故障
// (例如元数据库不可达)。业务失败全部落库,不向调用方传播。
func (s *ProcessTaskService) Execute(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil
	}

	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		zlog.Warn("process task document not found", zap.String("document_id", documentID))
		return nil
	}

	now := time.Now()
	var claimed bool
	switch doc.Status {
	case document.StatusPending:
		claimed, err = s.docRepo.TryClaim(ctx, doc.Id, now)
	case document.StatusFailed:
		if doc.RetryCount >= doc.MaxRetries {
			return nil
		}
		claimed, err = s.docRepo.TryClaimRetry(ctx, doc.Id, now)
	default:
		// completed / failed_permanently / 别处正在处理：重复投递,直接跳过
		return nil
	}
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	// 认领后重查,拿到累加后的 retry_count
	doc, err = s.docRepo.GetByID(ctx, documentID)
	if err != nil || doc == nil {
		return err
	}

	s.run(ctx, doc)
	return nil
}

func (s *ProcessTaskService) run(ctx context.Context, doc *document.Document) {
	start := time.Now()
	zlog.Info("document processing started",
		zap.String("document_id", doc.Id),
		zap.String("filename", doc.Filename),
		zap.Int("retry_count", doc.RetryCount),
	)

	// 任何未捕获异常都按抽取失败的可重试/永久分支落库,轮询循环不受影响
	defer func() {
		if r := recover(); r != nil {
			zlog.Error("document processing panicked",
				zap.String("document_id", doc.Id),
				zap.Any("panic", r),
			)
			s.failProcessing(ctx, doc, fmt.Sprintf("unexpected error: %v", r))
		}
	}()

	data, err := s.fileStorage.Resolve(ctx, doc.Id, doc.StorageType, doc.StorageKey)
	if err != nil {
		s.failProcessing(ctx, doc, fmt.Sprintf("resolve file: %v", err))
		return
	}

	result := s.engine.Process(ctx, doc.Id, data, doc.FileType)
	if !result.Success {
		s.failProcessing(ctx, doc, result.Error)
		return
	}

	// 向量化失败与抽取失败分支不同:一律可重试,不触发永久失败
	collection := repository.DocumentCollection(doc.Id)
	if err := s.vectorIndex.CreateCollection(ctx, collection); err != nil {
		s.failVectorization(ctx, doc, fmt.Sprintf("create collection: %v", err))
		return
	}
	items := make([]repository.ChunkItem, 0, len(result.Chunks))
	for _, c := range result.Chunks {
		items = append(items, repository.ChunkItem{
			ChunkId:    c.ChunkId,
			DocumentId: c.DocumentId,
			Index:      c.Index,
			Length:     c.Length,
			Content:    c.Content,
			Metadata:   c.Metadata,
		})
	}
	if err := s.vectorIndex.BulkUpsert(ctx, collection, items); err != nil {
		s.failVectorization(ctx, doc, fmt.Sprintf("write vectors: %v", err))
		return
	}

	now := time.Now()
	if err := s.docRepo.MarkCompleted(ctx, doc.Id, result.Metadata.Pages, result.ChunkCount, result.Metadata.FileType, now); err != nil {
		zlog.Error("mark document completed failed", zap.String("document_id", doc.Id), zap.Error(err))
		return
	}

	zlog.Info("document processing completed",
		zap.String("document_id", doc.Id),
		zap.Int("pages", result.Metadata.Pages),
		zap.Int("chunk_count", result.ChunkCount),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// failProcessing 抽取类失败:额度耗尽转 failed_permanently,否则 failed 等待重试
func (s *ProcessTaskService) failProcessing(ctx context.Context, doc *document.Document, errMsg string) {
	now := time.Now()
	if doc.RetryCount >= doc.MaxRetries {
		msg := fmt.Sprintf("%s (retry ceiling %d reached)", errMsg, doc.MaxRetries)
		if err := s.docRepo.MarkFailedPermanently(ctx, doc.Id, msg, now); err != nil {
			zlog.Error("mark document failed_permanently failed", zap.String("document_id", doc.Id), zap.Error(err))
			return
		}
		zlog.Warn("document failed permanently",
			zap.String("document_id", doc.Id),
			zap.Int("retry_count", doc.RetryCount),
			zap.String("error", errMsg),
		)
		return
	}
	if err := s.docRepo.MarkFailed(ctx, doc.Id, errMsg, now); err != nil {
		zlog.Error("mark document failed failed", zap.String("document_id", doc.Id), zap.Error(err))
		return
	}
	zlog.Warn("document processing failed",
		zap.String("document_id", doc.Id),
		zap.Int("retry_count", doc.RetryCount),
		zap.String("error", errMsg),
	)
}

// failVectorization 向量化失败:文档保持 failed 可重试,不标记同步可用
func (s *ProcessTaskService) failVectorization(ctx context.Context, doc *document.Document, errMsg string) {
	if err := s.docRepo.MarkFailed(ctx, doc.Id, errMsg, time.Now()); err != nil {
		zlog.Error("mark document failed failed", zap.String("document_id", doc.Id), zap.Error(err))
		return
	}
	zlog.Warn("document vectorization failed",
		zap.String("document_id", doc.Id),
		zap.String("error", errMsg),
	)
}
