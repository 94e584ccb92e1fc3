package queue

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/Acorn2/llama-doc-sub000/internal/application/service"
	"github.com/Acorn2/llama-doc-sub000/internal/domain/document"
	"github.com/Acorn2/llama-doc-sub000/internal/domain/repository"
	"github.com/Acorn2/llama-doc-sub000/internal/infrastructure/mq"
	"github.com/Acorn2/llama-doc-sub000/pkg/zlog"

	"go.uber.org/zap"
)

const (
	retryBaseDelay = 60 * time.Second
	maxRetryDelay  = 10 * time.Minute
)

// ProcessConsumerWorker 消息队列驱动的处理执行器。消息体是文档 id,
// 状态迁移与轮询器完全一致(同一个 ProcessTaskService)。失败的文档
// 由本执行器按指数退避补投,而不依赖重试扫描的冷却窗口。
//
// 部署约束:同一文档同一时刻只应由一种执行器驱动,队列模式下
// 应关闭文档轮询器。
type ProcessConsumerWorker struct {
	consumer   mq.Consumer
	taskSvc    *service.ProcessTaskService
	enqueueSvc *service.EnqueueService
	docRepo    repository.DocumentRepository
}

func NewProcessConsumerWorker(
	consumer mq.Consumer,
	taskSvc *service.ProcessTaskService,
	enqueueSvc *service.EnqueueService,
	docRepo repository.DocumentRepository,
) *ProcessConsumerWorker {
	return &ProcessConsumerWorker{
		consumer:   consumer,
		taskSvc:    taskSvc,
		enqueueSvc: enqueueSvc,
		docRepo:    docRepo,
	}
}

func (w *ProcessConsumerWorker) Run(ctx context.Context) error {
	if w == nil || w.consumer == nil {
		return errors.New("consumer is nil")
	}
	if w.taskSvc == nil {
		return errors.New("task service is nil")
	}
	return w.consumer.Run(ctx, w)
}

func (w *ProcessConsumerWorker) Close() error {
	if w == nil || w.consumer == nil {
		return nil
	}
	return w.consumer.Close()
}

func (w *ProcessConsumerWorker) Handle(ctx context.Context, msg mq.Message) error {
	documentID := strings.TrimSpace(string(msg.Value))
	if documentID == "" {
		zlog.Warn("process consumer empty document id", zap.String("topic", msg.Topic))
		return nil
	}

	// 补投的消息带生效时间,未到点先等待(Kafka 无延迟投递)
	if nb := parseInt64(msg.Headers[service.HeaderNotBefore]); nb > 0 {
		if wait := time.Until(time.Unix(nb, 0)); wait > 0 {
			if wait > maxRetryDelay {
				wait = maxRetryDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	if err := w.taskSvc.Execute(ctx, documentID); err != nil {
		zlog.Warn("process consumer execute failed", zap.String("document_id", documentID), zap.Error(err))
		return err
	}

	return w.requeueIfRetryable(ctx, documentID, parseAttempt(msg.Headers))
}

// requeueIfRetryable 业务失败已由任务落库为 failed,这里按
// 60s·2^n 指数退避补投,额度耗尽或进入终态则不再投递
func (w *ProcessConsumerWorker) requeueIfRetryable(ctx context.Context, documentID string, attempt int) error {
	if w.enqueueSvc == nil || w.docRepo == nil {
		return nil
	}

	doc, err := w.docRepo.GetByID(ctx, documentID)
	if err != nil || doc == nil {
		return err
	}
	if doc.Status != document.StatusFailed {
		return nil
	}
	if doc.RetryCount >= doc.MaxRetries {
		return nil
	}

	delay := computeBackoff(attempt)
	notBefore := time.Now().Add(delay).Unix()
	if err := w.enqueueSvc.EnqueueAttemptAfter(ctx, documentID, attempt+1, notBefore); err != nil {
		zlog.Warn("process consumer requeue failed", zap.String("document_id", documentID), zap.Error(err))
		return err
	}
	zlog.Info("document requeued with backoff",
		zap.String("document_id", documentID),
		zap.Int("attempt", attempt+1),
		zap.Duration("delay", delay),
	)
	return nil
}

func computeBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := retryBaseDelay
	for i := 0; i < attempt && d < maxRetryDelay; i++ {
		d = d * 2
	}
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

func parseAttempt(headers map[string]string) int {
	if headers == nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(headers[service.HeaderAttempt]))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseInt64(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
