// Package kafka 提供了与 Kafka 消息队列交互的功能，用于异步重建文档索引。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"rag-chat-go/internal/config"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/tasks"
)

const maxTaskAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete service implementation.
type TaskProcessor interface {
	ProcessReindex(ctx context.Context, task tasks.ReindexTask) error
}

// Producer 发送重建任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers(cfg)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Publish 以文档 ID 为 key 发送一个重建任务。
func (p *Producer) Publish(ctx context.Context, task tasks.ReindexTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.DocumentID),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// AttemptCounter 记录任务失败次数，达到阈值后放弃重试。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type redisAttempts struct {
	rdb *redis.Client
}

// NewRedisAttempts 使用 Redis 计数，多个消费者实例共享失败次数。
func NewRedisAttempts(rdb *redis.Client) AttemptCounter {
	return &redisAttempts{rdb: rdb}
}

func (a *redisAttempts) Incr(ctx context.Context, key string) (int64, error) {
	n, err := a.rdb.Incr(ctx, key).Result()
	if err == nil {
		_ = a.rdb.Expire(ctx, key, 24*time.Hour).Err()
	}
	return n, err
}

func (a *redisAttempts) Reset(ctx context.Context, key string) error {
	return a.rdb.Del(ctx, key).Err()
}

type memoryAttempts struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryAttempts 在未配置 Redis 时使用进程内计数。
func NewMemoryAttempts() AttemptCounter {
	return &memoryAttempts{counts: make(map[string]int64)}
}

func (a *memoryAttempts) Incr(_ context.Context, key string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[key]++
	return a.counts[key], nil
}

func (a *memoryAttempts) Reset(_ context.Context, key string) error {
	a.mu.Lock()
	delete(a.counts, key)
	a.mu.Unlock()
	return nil
}

// messageReader 是 kafka.Reader 中消费者用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 消费重建任务并交给 TaskProcessor 同步处理。
// 同一 reader 会话里 FetchMessage 不会重新投递未提交的消息，失败的任务在进程内重试。
type Consumer struct {
	reader    messageReader
	processor TaskProcessor
	attempts  AttemptCounter
	backoff   func(attempt int) time.Duration
}

func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(r, processor, attempts)
}

func newConsumer(r messageReader, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	if attempts == nil {
		attempts = NewMemoryAttempts()
	}
	return &Consumer{reader: r, processor: processor, attempts: attempts, backoff: retryBackoff}
}

func retryBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * 2 * time.Second
}

// Run 阻塞消费直到 ctx 取消或读取失败。
func (c *Consumer) Run(ctx context.Context) error {
	log.Info("Kafka 消费者已启动")
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("从 Kafka 读取消息失败: %w", err)
		}
		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	log.Infof("收到 Kafka 消息: offset %d", m.Offset)

	var task tasks.ReindexTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.DocumentID == "" {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return
	}

	attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.DocumentID)
	for attempt := 1; ; attempt++ {
		err := c.processor.ProcessReindex(ctx, task)
		if err == nil {
			log.Infof("重建任务处理成功: DocumentID=%s", task.DocumentID)
			_ = c.attempts.Reset(ctx, attemptsKey)
			c.commit(ctx, m)
			return
		}
		log.Errorf("重建任务失败: DocumentID=%s, attempt=%d, Error: %v", task.DocumentID, attempt, err)

		// Redis 计数在多个实例之间共享，以较大的一方为准
		total := int64(attempt)
		if n, incErr := c.attempts.Incr(ctx, attemptsKey); incErr == nil && n > total {
			total = n
		}
		if total >= maxTaskAttempts {
			log.Errorf("重建任务多次失败(>=%d)，提交 offset 终止重试: DocumentID=%s", maxTaskAttempts, task.DocumentID)
			_ = c.attempts.Reset(ctx, attemptsKey)
			c.commit(ctx, m)
			return
		}

		select {
		case <-ctx.Done():
			// 未提交，下次加入消费组时从该 offset 重新消费
			return
		case <-time.After(c.backoff(attempt)):
		}
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
