package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mod-mirror/mod-mirror/internal/queue"
)

// Dispatcher 把对账差集转换为去重后的同步任务。fire-and-forget：
// 任何失败只记日志，绝不阻塞或拖垮读路径。
//
// in-flight 注册表保证同一键在任务终结前至多派发一次；force 请求绕过
// 注册表，因为强制刷新的语义优先于去重。
type Dispatcher struct {
	queue  *queue.Queue
	logger *logrus.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	jobKeys  map[int64][]string
}

// NewDispatcher 构建 Dispatcher，并需将 JobFinished 挂到 worker 的 finish 钩子上。
func NewDispatcher(q *queue.Queue, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		queue:    q,
		logger:   logger,
		inflight: make(map[string]struct{}),
		jobKeys:  make(map[int64][]string),
	}
}

// Dispatch 为给定键集提交一个批量同步任务。
//   - 空键集不产生任何入队调用
//   - force=false 时过滤掉已有在途任务的键；全部被过滤则不入队
//   - force=true 时对原始键集全量派发，不做去重
//
// build 把最终派发的键集转换为该任务类型的 payload。
func Dispatch[K comparable](ctx context.Context, d *Dispatcher, jobKind string, keys []K, force bool, build func([]K) any) {
	if d == nil || len(keys) == 0 {
		return
	}

	submit := keys
	var markers []string
	if !force {
		submit = submit[:0:0]
		for _, k := range keys {
			marker := jobKind + "\x00" + fmt.Sprint(k)
			if d.tryAcquire(marker) {
				submit = append(submit, k)
				markers = append(markers, marker)
			}
		}
		if len(submit) == 0 {
			d.logger.WithFields(logrus.Fields{
				"action":   "dispatch",
				"job_kind": jobKind,
			}).Debug("全部键已有在途任务，跳过派发")
			return
		}
	}

	jobID, err := d.queue.Enqueue(ctx, jobKind, build(submit))
	if err != nil {
		d.release(markers)
		d.logger.WithError(err).WithFields(logrus.Fields{
			"action":   "dispatch",
			"job_kind": jobKind,
			"keys":     len(submit),
		}).Warn("同步任务入队失败")
		return
	}

	if len(markers) > 0 {
		d.mu.Lock()
		d.jobKeys[jobID] = markers
		d.mu.Unlock()
	}

	d.logger.WithFields(logrus.Fields{
		"action":   "dispatch",
		"job_kind": jobKind,
		"job_id":   jobID,
		"keys":     len(submit),
		"force":    force,
	}).Debug("同步任务已入队")
}

// JobFinished 在任务终结（done/failed）时清理对应的 in-flight 标记。
// 可重试失败不触发：任务仍在队列里，标记应继续压制重复派发。
func (d *Dispatcher) JobFinished(job *queue.Job) {
	if job == nil {
		return
	}
	d.mu.Lock()
	markers := d.jobKeys[job.ID]
	delete(d.jobKeys, job.ID)
	for _, m := range markers {
		delete(d.inflight, m)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) tryAcquire(marker string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.inflight[marker]; exists {
		return false
	}
	d.inflight[marker] = struct{}{}
	return true
}

func (d *Dispatcher) release(markers []string) {
	if len(markers) == 0 {
		return
	}
	d.mu.Lock()
	for _, m := range markers {
		delete(d.inflight, m)
	}
	d.mu.Unlock()
}

// InflightCount 返回当前在途键数量，供诊断接口使用。
func (d *Dispatcher) InflightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}
