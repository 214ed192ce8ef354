// Package queue 实现基于 SQLite 的持久化任务队列。投递语义为 at-least-once：
// 任务通过租约出队，worker 崩溃后租约过期会被重新投递，handler 必须幂等。
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mod-mirror/mod-mirror/internal/config"
)

// 任务状态机：pending → running → (done | failed | pending 重试)。
const (
	StatePending = "pending"
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// Job 是队列表的一行。Payload 为任务自定义 JSON，由 handler 自行解码。
type Job struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Kind       string `gorm:"index:idx_jobs_state_kind,priority:2"`
	Payload    []byte
	State      string `gorm:"index:idx_jobs_state_kind,priority:1"`
	Attempts   int
	RunAfter   time.Time `gorm:"index"`
	LeaseUntil time.Time
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Job) TableName() string { return "sync_jobs" }

// Queue 持有数据库句柄与投递参数，启动时构造并注入到 dispatcher/worker。
type Queue struct {
	db  *gorm.DB
	cfg config.QueueConfig
	now func() time.Time
}

// New 构建 Queue。now 可在测试中覆盖。
func New(db *gorm.DB, cfg config.QueueConfig) *Queue {
	return &Queue{db: db, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate 创建队列表。
func (q *Queue) Migrate() error {
	return q.db.AutoMigrate(&Job{})
}

// Enqueue 序列化 payload 并插入一个 pending 任务，返回任务 ID。
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("序列化任务载荷失败: %w", err)
	}
	job := Job{
		Kind:     kind,
		Payload:  raw,
		State:    StatePending,
		RunAfter: q.now(),
	}
	if err := q.db.WithContext(ctx).Create(&job).Error; err != nil {
		return 0, fmt.Errorf("入队失败: %w", err)
	}
	return job.ID, nil
}

// Dequeue 以租约方式取出一个可执行任务；无任务时返回 (nil, nil)。
// 取出的条件：pending 且到达 RunAfter，或 running 但租约已过期（worker 崩溃）。
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	var job *Job
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := q.now()
		var candidate Job
		err := tx.
			Where("(state = ? AND run_after <= ?) OR (state = ? AND lease_until <= ?)",
				StatePending, now, StateRunning, now).
			Order("id").
			First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		candidate.State = StateRunning
		candidate.Attempts++
		candidate.LeaseUntil = now.Add(q.cfg.LeaseTimeout.DurationValue())
		if err := tx.Save(&candidate).Error; err != nil {
			return err
		}
		job = &candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Complete 将任务置为 done。
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	return q.db.WithContext(ctx).Model(job).
		Updates(map[string]any{"state": StateDone, "last_error": ""}).Error
}

// Fail 记录一次失败。terminal 或尝试次数耗尽时任务进入 failed，
// 否则退避后重新排队等待投递。返回任务是否已终结。
func (q *Queue) Fail(ctx context.Context, job *Job, cause error, terminal bool) (bool, error) {
	message := ""
	if cause != nil {
		message = cause.Error()
	}

	if terminal || job.Attempts >= q.cfg.MaxAttempts {
		err := q.db.WithContext(ctx).Model(job).
			Updates(map[string]any{"state": StateFailed, "last_error": message}).Error
		return true, err
	}

	err := q.db.WithContext(ctx).Model(job).
		Updates(map[string]any{
			"state":      StatePending,
			"last_error": message,
			"run_after":  q.now().Add(q.cfg.RetryBackoff.DurationValue()),
		}).Error
	return false, err
}

// Depth 返回尚未终结的任务数量，供诊断接口使用。
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&Job{}).
		Where("state IN ?", []string{StatePending, StateRunning}).
		Count(&count).Error
	return count, err
}

// terminalError 标记不可重试的失败，worker 据此跳过重投。
type terminalError struct{ err error }

func (e terminalError) Error() string { return e.err.Error() }
func (e terminalError) Unwrap() error { return e.err }

// Terminal 包装一个不可重试的错误（非 404 的 4xx、payload 解码失败等）。
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return terminalError{err: err}
}

// IsTerminal 判断错误是否被标记为不可重试。
func IsTerminal(err error) bool {
	var t terminalError
	return errors.As(err, &t)
}
