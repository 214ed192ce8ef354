package curseforge

import (
	"context"

	"gorm.io/gorm"

	"github.com/mod-mirror/mod-mirror/internal/store"
)

// Store 提供本目录族的类型化查询。批量查询一律单次 IN 往返。
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) Migrate() error {
	return store.Migrate(s.db, &Mod{}, &File{}, &Fingerprint{})
}

// ModsByIDs 单次查询返回命中的 mod 记录（含墓碑）。
func (s *Store) ModsByIDs(ctx context.Context, ids []int) ([]Mod, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var mods []Mod
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&mods).Error
	return mods, err
}

// FilesByIDs 单次查询返回命中的文件记录（含墓碑）。
func (s *Store) FilesByIDs(ctx context.Context, ids []int) ([]File, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var files []File
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&files).Error
	return files, err
}

// FilesOfMod 返回某个 mod 已镜像的全部真实文件，墓碑不参与列表。
func (s *Store) FilesOfMod(ctx context.Context, modID int) ([]File, error) {
	var files []File
	err := s.db.WithContext(ctx).
		Where("mod_id = ? AND found = ?", modID, true).
		Order("id").
		Find(&files).Error
	return files, err
}

// FingerprintsByIDs 单次查询返回命中的指纹记录（含墓碑）。
func (s *Store) FingerprintsByIDs(ctx context.Context, ids []int64) ([]Fingerprint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var fps []Fingerprint
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&fps).Error
	return fps, err
}
