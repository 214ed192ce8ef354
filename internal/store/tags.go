package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TagBlob 是小型标签数据（分类、loader、游戏版本列表等）的 KV 存储单元。
// Value 保存上游返回的原始 JSON，读路径原样透传。
// Found=false 是负缓存：上游已确认该键不存在，读路径据此短路。
type TagBlob struct {
	Catalog string    `gorm:"primaryKey" json:"catalog"`
	Key     string    `gorm:"primaryKey" json:"key"`
	Value   []byte    `json:"value"`
	Found   bool      `json:"found"`
	SyncAt  time.Time `json:"sync_at"`
}

func (TagBlob) TableName() string { return "tag_blobs" }

// ErrTagNotFound 表示指定标签尚未同步过。
var ErrTagNotFound = errors.New("tag blob not found")

// TagStore 提供标签数据的读写，生命周期由启动逻辑显式注入。
type TagStore struct {
	db *gorm.DB
}

// NewTagStore 构建 TagStore，db 由调用方负责迁移。
func NewTagStore(db *gorm.DB) *TagStore {
	return &TagStore{db: db}
}

// Get 返回指定 catalog/key 的标签 JSON 及其同步时间。
func (s *TagStore) Get(ctx context.Context, catalog, key string) (*TagBlob, error) {
	var blob TagBlob
	err := s.db.WithContext(ctx).
		Where("catalog = ? AND key = ?", catalog, key).
		First(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTagNotFound
	}
	if err != nil {
		return nil, err
	}
	return &blob, nil
}

// Put 以 upsert 语义写入标签，SyncAt 由写入时刻决定。
func (s *TagStore) Put(ctx context.Context, catalog, key string, value []byte) error {
	return s.upsert(ctx, TagBlob{
		Catalog: catalog,
		Key:     key,
		Value:   value,
		Found:   true,
		SyncAt:  time.Now().UTC(),
	})
}

// PutTombstone 记录上游确认不存在的标签键。
func (s *TagStore) PutTombstone(ctx context.Context, catalog, key string) error {
	return s.upsert(ctx, TagBlob{
		Catalog: catalog,
		Key:     key,
		Found:   false,
		SyncAt:  time.Now().UTC(),
	})
}

func (s *TagStore) upsert(ctx context.Context, blob TagBlob) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&blob).Error
}
