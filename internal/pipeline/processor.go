// Package pipeline 定义了同步任务的处理流程。
package pipeline

import (
	"context"
	"errors"
	"time"

	"gym-coach-go/internal/model"
	"gym-coach-go/pkg/log"
)

const defaultTaskTimeout = 10 * time.Minute

// SyncRunner 执行一次同步。
type SyncRunner interface {
	Run(ctx context.Context, task model.SyncTask) (*model.SyncResult, error)
}

// Processor 把 Kafka 中的变更事件交给同步服务处理。
type Processor struct {
	runner  SyncRunner
	timeout time.Duration
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(runner SyncRunner) *Processor {
	return &Processor{runner: runner, timeout: defaultTaskTimeout}
}

// Process 处理一个同步任务。参数非法的任务重试也不会成功，记录日志后直接返回 nil。
func (p *Processor) Process(ctx context.Context, task model.SyncTask) error {
	log.Infof("[Processor] 开始处理同步任务: %s", task.Key())

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result, err := p.runner.Run(ctx, task)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			log.Warnf("[Processor] 丢弃非法任务 %s: %v", task.Key(), err)
			return nil
		}
		return err
	}
	log.Infof("[Processor] 同步任务完成: %s, 成功 %d, 跳过 %d", task.Key(), result.Synced, result.Skipped)
	return nil
}
