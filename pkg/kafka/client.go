// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"gym-coach-go/internal/config"
	"gym-coach-go/internal/model"
	"gym-coach-go/pkg/log"
)

const (
	attemptsKeyPrefix = "kafka:attempts:"
	attemptsTTL       = 24 * time.Hour
	maxAttempts       = 3
	redeliverDelay    = 5 * time.Second
	fetchRetryMin     = time.Second
	fetchRetryMax     = 30 * time.Second
)

// TaskProcessor 处理一个同步任务，消费者与具体的同步实现解耦。
type TaskProcessor interface {
	Process(ctx context.Context, task model.SyncTask) error
}

// Producer 发送同步任务。
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

// PublishSyncTask 发送一个同步任务到 Kafka，以任务类型作为消息 key。
func (p *Producer) PublishSyncTask(ctx context.Context, task model.SyncTask) error {
	value, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(task.Type), Value: value})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader 是 kafka.Reader 中消费者用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 消费同步任务。失败次数记录在 Redis 中，未达阈值时不提交 offset，让 Kafka 重投。
type Consumer struct {
	reader    messageReader
	rdb       *redis.Client
	processor TaskProcessor
	delay     time.Duration
	fetchMin  time.Duration // 拉取失败后的退避区间
	fetchMax  time.Duration
}

// NewConsumer 创建消费者。
func NewConsumer(cfg config.KafkaConfig, rdb *redis.Client, processor TaskProcessor) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{
		reader:    r,
		rdb:       rdb,
		processor: processor,
		delay:     redeliverDelay,
		fetchMin:  fetchRetryMin,
		fetchMax:  fetchRetryMax,
	}
}

// Run 循环拉取消息直到 ctx 取消。
func (c *Consumer) Run(ctx context.Context) {
	log.Info("Kafka 消费者已启动")
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.fetchMin
	b.MaxInterval = c.fetchMax
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Info("Kafka 消费者已停止")
				return
			}
			// broker 不可用时退避后继续拉取，消费者只随 ctx 退出
			wait := b.NextBackOff()
			log.Errorf("从 Kafka 读取消息失败, %s 后重试: %v", wait, err)
			select {
			case <-ctx.Done():
				log.Info("Kafka 消费者已停止")
				return
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()
		// 未提交的消息在同一个 generation 内不会被重投，这里原地重试直到提交
		for !c.handle(ctx, m) {
			select {
			case <-ctx.Done():
				log.Info("Kafka 消费者已停止")
				return
			case <-time.After(c.delay):
			}
		}
	}
}

// handle 处理单条消息并决定是否提交 offset，返回 false 表示需要重试。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	log.Infof("收到 Kafka 消息: offset %d", m.Offset)

	var task model.SyncTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return true
	}

	attemptsKey := attemptsKeyPrefix + task.Key()
	if err := c.processor.Process(ctx, task); err != nil {
		log.Errorf("处理同步任务失败: %s, error: %v", task.Key(), err)
		attempts, incErr := c.rdb.Incr(ctx, attemptsKey).Result()
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
			log.Errorf("记录失败次数失败: %v", incErr)
			return false
		}
		_ = c.rdb.Expire(ctx, attemptsKey, attemptsTTL).Err()
		if attempts >= maxAttempts {
			log.Errorf("同步任务多次失败(>=%d)，提交 offset 终止重试: %s", maxAttempts, task.Key())
			c.commit(ctx, m)
			return true
		}
		return false
	}

	log.Infof("同步任务处理成功: %s", task.Key())
	_ = c.rdb.Del(ctx, attemptsKey).Err()
	c.commit(ctx, m)
	return true
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

// Enabled 判断是否配置了 Kafka。
func Enabled(cfg config.KafkaConfig) bool {
	return len(brokers(cfg)) > 0 && cfg.Topic != ""
}
