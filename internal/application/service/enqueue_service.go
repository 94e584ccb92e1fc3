package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/Acorn2/llama-doc-sub000/internal/infrastructure/mq"
)

const (
	HeaderAttempt   = "attempt"
	HeaderNotBefore = "not_before"
)

// EnqueueService 把文档处理任务投递到消息队列,供消费者执行器消费。
// Key 取文档 id,保证同一文档落在同一分区、有序消费。
type EnqueueService struct {
	publisher mq.Publisher
	topic     string
}

func NewEnqueueService(publisher mq.Publisher, topic string) (*EnqueueService, error) {
	if publisher == nil {
		return nil, errors.New("publisher is nil")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("process topic is empty")
	}
	return &EnqueueService{publisher: publisher, topic: topic}, nil
}

func (s *EnqueueService) Enqueue(ctx context.Context, documentID string) error {
	return s.EnqueueAttempt(ctx, documentID, 0)
}

// EnqueueAttempt 带尝试序号投递,消费者失败补投时累加序号以计算退避
func (s *EnqueueService) EnqueueAttempt(ctx context.Context, documentID string, attempt int) error {
	return s.EnqueueAttemptAfter(ctx, documentID, attempt, 0)
}

// EnqueueAttemptAfter 投递一条带生效时间(Unix 秒)的补投消息,
// 消费者在生效时间前不会执行
func (s *EnqueueService) EnqueueAttemptAfter(ctx context.Context, documentID string, attempt int, notBefore int64) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return errors.New("document id is empty")
	}
	if attempt < 0 {
		attempt = 0
	}

	headers := map[string]string{
		HeaderAttempt: strconv.Itoa(attempt),
	}
	if notBefore > 0 {
		headers[HeaderNotBefore] = strconv.FormatInt(notBefore, 10)
	}

	_, err := s.publisher.Publish(ctx, mq.Message{
		Topic:   s.topic,
		Key:     []byte(documentID),
		Value:   []byte(documentID),
		Headers: headers,
	})
	return err
}
