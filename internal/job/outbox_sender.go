package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"debitledger/internal/config"
	"debitledger/internal/model"
	"debitledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Publisher *mq.Producer 实现了该接口
type Publisher interface {
	Publish(topic, key, eventType string, value []byte) error
}

// OutboxSender 把与业务同事务写入的 outbox 消息投递到 Kafka
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	logger     *zap.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
	interval   time.Duration
	batchSize  int
	maxRetry   int
	now        func() time.Time
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, cfg config.BusinessConfig, logger *zap.Logger) *OutboxSender {
	s := &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		logger:     logger.Named("outbox_sender"),
		stopCh:     make(chan struct{}),
		interval:   cfg.OutboxInterval,
		batchSize:  cfg.OutboxBatchSize,
		maxRetry:   cfg.MaxRetryCount,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if s.interval <= 0 {
		s.interval = 100 * time.Millisecond
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	if s.maxRetry <= 0 {
		s.maxRetry = 5
	}
	return s
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("消息发送任务启动", zap.Duration("interval", s.interval), zap.Int("batch_size", s.batchSize))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.logger.Info("任务停止")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunOnce 处理一批待发送消息
// 同一个 key 的消息一旦发送失败，本批次里排在它后面的消息都推迟到下一轮，保证单个客户的事件有序
func (s *OutboxSender) RunOnce(ctx context.Context) (sent, failed int) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("查询待发送消息失败", zap.Error(err))
		return 0, 0
	}

	blocked := make(map[string]bool)
	for _, msg := range messages {
		if blocked[msg.MessageKey] {
			continue
		}
		if s.sendMessage(ctx, msg) {
			sent++
			continue
		}
		failed++
		blocked[msg.MessageKey] = true
	}
	return sent, failed
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.EventType, []byte(msg.Payload))
	if err == nil {
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID, s.now()); updateErr != nil {
			// 状态没更新下一轮会重复投递，消费方按 movement_no / event_key 去重
			s.logger.Error("更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
		} else {
			s.logger.Debug("消息发送成功",
				zap.Int64("id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.String("key", msg.MessageKey))
		}
		return true
	}

	s.logger.Warn("消息发送失败",
		zap.Int64("id", msg.ID),
		zap.String("topic", msg.Topic),
		zap.Int("retry_count", msg.RetryCount),
		zap.Error(err))

	exhausted, recordErr := s.outboxRepo.RecordFailure(ctx, msg, err, s.maxRetry)
	if recordErr != nil {
		s.logger.Error("记录发送失败次数失败", zap.Int64("id", msg.ID), zap.Error(recordErr))
		return false
	}
	if exhausted {
		s.logger.Error("消息超过最大重试次数，标记为失败",
			zap.Int64("id", msg.ID),
			zap.String("topic", msg.Topic),
			zap.String("event_type", msg.EventType))
	}
	return false
}

// ErrOutboxNotFailed 只有 FAILED 状态的消息可以重新入队
var ErrOutboxNotFailed = errors.New("outbox message not found or not in FAILED status")

// Failed 列出超过重试次数的消息，供人工排查
func (s *OutboxSender) Failed(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	if limit <= 0 {
		limit = s.batchSize
	}
	return s.outboxRepo.GetFailedMessages(ctx, limit)
}

// Requeue 把 FAILED 消息放回待发送队列，重试次数清零
func (s *OutboxSender) Requeue(ctx context.Context, id int64) error {
	ok, err := s.outboxRepo.Requeue(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: id=%d", ErrOutboxNotFailed, id)
	}
	s.logger.Info("消息已重新入队", zap.Int64("id", id))
	return nil
}
