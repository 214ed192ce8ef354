package modrinth

import (
	"context"

	"gorm.io/gorm"

	"github.com/mod-mirror/mod-mirror/internal/store"
)

// Store 提供本目录族的类型化查询。id 与 slug 都是合法查找键。
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) Migrate() error {
	return store.Migrate(s.db, &Project{}, &Version{}, &File{})
}

// ProjectByIDOrSlug 先按 id 命中，再退到 slug。slug 不保证唯一，取第一条。
func (s *Store) ProjectByIDOrSlug(ctx context.Context, idOrSlug string) (*Project, error) {
	var projects []Project
	err := s.db.WithContext(ctx).
		Where("id = ? OR slug = ?", idOrSlug, idOrSlug).
		Limit(2).
		Find(&projects).Error
	if err != nil || len(projects) == 0 {
		return nil, err
	}
	for i := range projects {
		if projects[i].ID == idOrSlug {
			return &projects[i], nil
		}
	}
	return &projects[0], nil
}

// ProjectsByIDs 单次查询返回命中的项目（含墓碑）。
func (s *Store) ProjectsByIDs(ctx context.Context, ids []string) ([]Project, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var projects []Project
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&projects).Error
	return projects, err
}

// VersionsOfProject 返回项目已镜像的全部真实版本，墓碑不参与列表。
func (s *Store) VersionsOfProject(ctx context.Context, projectID string) ([]Version, error) {
	var versions []Version
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND found = ?", projectID, true).
		Order("date_published DESC").
		Find(&versions).Error
	return versions, err
}

// VersionsByIDs 单次查询返回命中的版本（含墓碑）。
func (s *Store) VersionsByIDs(ctx context.Context, ids []string) ([]Version, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var versions []Version
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&versions).Error
	return versions, err
}

// FilesByHashes 按指定算法列做单次 IN 查询。
func (s *Store) FilesByHashes(ctx context.Context, hashes []string, algorithm string) ([]File, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	column := "sha1"
	if algorithm == AlgoSHA512 {
		column = "sha512"
	}
	var files []File
	err := s.db.WithContext(ctx).Where(column+" IN ?", hashes).Find(&files).Error
	return files, err
}
