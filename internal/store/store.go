// Package store 封装 SQLite 存储引擎的打开、迁移与批量写入原语。
// 实体表由各 catalog 包定义，store 只提供统一的事务与 upsert 语义。
package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"reflect"
	"time"

	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/gormlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Open 打开（必要时创建）SQLite 数据库，所有组件共享同一个句柄。
func Open(path string) (*gorm.DB, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(gormlite.Open(path), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	return db, nil
}

// Migrate 对传入模型执行 AutoMigrate，启动时调用一次。
func Migrate(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("迁移数据库失败: %w", err)
	}
	return nil
}

// UpsertBatch 在单个事务内按主键 upsert 所有批次。每个 batch 必须是模型切片；
// 空切片会被跳过。任何一个批次失败则整个事务回滚，绝不产生部分提交。
func UpsertBatch(ctx context.Context, db *gorm.DB, batches ...any) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, batch := range batches {
			if isEmptyBatch(batch) {
				continue
			}
			result := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(batch)
			if result.Error != nil {
				return result.Error
			}
		}
		return nil
	})
}

func isEmptyBatch(batch any) bool {
	if batch == nil {
		return true
	}
	rv := reflect.ValueOf(batch)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return rv.Len() == 0
	}
	return false
}
