package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mod-mirror/mod-mirror/internal/logging"
)

// Handler 处理一种任务。返回 nil 视为成功；返回 Terminal 包装的错误不再重试。
type Handler func(ctx context.Context, job *Job) error

// Worker 消费队列并分发给注册的 handler。并发度由 cfg.Workers 限定，
// 读路径的延迟与上游完全解耦：上游变慢只会降低未来读的可信度。
type Worker struct {
	queue    *Queue
	logger   *logrus.Logger
	handlers map[string]Handler
	onFinish func(job *Job)

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker 构建尚未启动的 Worker。
func NewWorker(q *Queue, logger *logrus.Logger) *Worker {
	return &Worker{
		queue:    q,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Register 绑定任务类型与 handler，重复注册视为编程错误。
func (w *Worker) Register(kind string, handler Handler) {
	if _, exists := w.handlers[kind]; exists {
		panic(fmt.Sprintf("handler %s already registered", kind))
	}
	w.handlers[kind] = handler
}

// SetFinishHook 注册任务终结（done/failed）时的回调，dispatcher 用它清理 in-flight 标记。
func (w *Worker) SetFinishHook(hook func(job *Job)) {
	w.onFinish = hook
}

// Start 启动 worker 池，直到 Stop 或 ctx 取消。
func (w *Worker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	workers := w.queue.cfg.Workers
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(runCtx)
		}()
	}

	w.logger.WithFields(logrus.Fields{
		"action":  "worker_start",
		"workers": workers,
	}).Info("同步 worker 池已启动")
}

// Stop 停止消费并等待在途任务执行完毕。
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	interval := w.queue.cfg.PollInterval.DurationValue()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		processed, err := w.ProcessOne(ctx)
		if err != nil {
			w.logger.WithError(err).WithField("action", "dequeue").Warn("出队失败")
		}
		if processed {
			// 队列非空时立即继续，不等轮询间隔
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOne 取出并执行一个任务。返回是否确实处理了任务。
// 独立导出以便测试与 Drain 同步驱动队列。
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	job, err := w.queue.Dequeue(ctx)
	if err != nil || job == nil {
		return false, err
	}

	fields := logging.JobFields(job.Kind, job.ID, job.Attempts)

	handler, ok := w.handlers[job.Kind]
	if !ok {
		// 未知任务类型是部署错误，直接终结避免无限重投
		_, failErr := w.queue.Fail(ctx, job, fmt.Errorf("unknown job kind %s", job.Kind), true)
		w.finish(job)
		w.logger.WithFields(fields).Error("未注册的任务类型")
		return true, failErr
	}

	handleErr := handler(ctx, job)
	if handleErr == nil {
		if err := w.queue.Complete(ctx, job); err != nil {
			w.logger.WithError(err).WithFields(fields).Warn("标记任务完成失败")
		}
		w.finish(job)
		w.logger.WithFields(fields).Debug("任务完成")
		return true, nil
	}

	terminal := IsTerminal(handleErr)
	ended, failErr := w.queue.Fail(ctx, job, handleErr, terminal)
	if failErr != nil {
		w.logger.WithError(failErr).WithFields(fields).Warn("记录任务失败状态出错")
	}
	if ended {
		w.finish(job)
		w.logger.WithError(handleErr).WithFields(fields).Error("任务终结失败")
	} else {
		w.logger.WithError(handleErr).WithFields(fields).Warn("任务失败，等待重试")
	}
	return true, nil
}

// Drain 同步消费队列直到为空，集成测试用。
func (w *Worker) Drain(ctx context.Context) error {
	for {
		processed, err := w.ProcessOne(ctx)
		if err != nil {
			return err
		}
		if !processed {
			return nil
		}
	}
}

func (w *Worker) finish(job *Job) {
	if w.onFinish != nil {
		w.onFinish(job)
	}
}
