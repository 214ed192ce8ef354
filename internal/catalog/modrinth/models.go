// Package modrinth 实现项目索引型目录（catalog-B）：project → version → file。
// 文件只嵌套在 version payload 里出现，因此同步总是以 project 图为单位级联。
package modrinth

import (
	"encoding/json"
	"time"
)

type Project struct {
	ID           string          `gorm:"primaryKey" json:"id"`
	Slug         string          `gorm:"index" json:"slug"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	ProjectType  string          `json:"project_type"`
	ClientSide   string          `json:"client_side,omitempty"`
	ServerSide   string          `json:"server_side,omitempty"`
	Downloads    int64           `json:"downloads"`
	IconURL      string          `json:"icon_url,omitempty"`
	Team         string          `json:"team,omitempty"`
	Published    string          `json:"published,omitempty"`
	Updated      string          `json:"updated,omitempty"`
	License      json.RawMessage `gorm:"serializer:json" json:"license,omitempty"`
	Categories   []string        `gorm:"serializer:json" json:"categories,omitempty"`
	GameVersions []string        `gorm:"serializer:json" json:"game_versions,omitempty"`
	Loaders      []string        `gorm:"serializer:json" json:"loaders,omitempty"`
	Versions     []string        `gorm:"serializer:json" json:"versions,omitempty"`
	Gallery      json.RawMessage `gorm:"serializer:json" json:"gallery,omitempty"`

	Found  bool      `gorm:"index" json:"found"`
	SyncAt time.Time `json:"sync_at"`
}

func (Project) TableName() string { return "modrinth_projects" }

func (p Project) RecordFound() bool       { return p.Found }
func (p Project) RecordSyncAt() time.Time { return p.SyncAt }

// Hashes 是上游文件摘要，sha1 同时充当文件记录的主键。
type Hashes struct {
	SHA1   string `json:"sha1"`
	SHA512 string `json:"sha512,omitempty"`
}

// VersionFile 是 version payload 内嵌的文件摘要，落库前会被压平成 File。
type VersionFile struct {
	Hashes   Hashes `json:"hashes"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Primary  bool   `json:"primary"`
	Size     int64  `json:"size"`
	FileType string `json:"file_type,omitempty"`
}

type Version struct {
	ID            string          `gorm:"primaryKey" json:"id"`
	ProjectID     string          `gorm:"index" json:"project_id"`
	Slug          string          `gorm:"index" json:"slug,omitempty"`
	Name          string          `json:"name"`
	VersionNumber string          `json:"version_number"`
	Changelog     string          `json:"changelog,omitempty"`
	Dependencies  json.RawMessage `gorm:"serializer:json" json:"dependencies,omitempty"`
	GameVersions  []string        `gorm:"serializer:json" json:"game_versions,omitempty"`
	VersionType   string          `json:"version_type,omitempty"`
	Loaders       []string        `gorm:"serializer:json" json:"loaders,omitempty"`
	Featured      bool            `json:"featured"`
	Downloads     int64           `json:"downloads"`
	DatePublished string          `json:"date_published,omitempty"`
	Files         []VersionFile   `gorm:"serializer:json" json:"files,omitempty"`

	Found  bool      `gorm:"index" json:"found"`
	SyncAt time.Time `json:"sync_at"`
}

func (Version) TableName() string { return "modrinth_versions" }

func (v Version) RecordFound() bool       { return v.Found }
func (v Version) RecordSyncAt() time.Time { return v.SyncAt }

// File 是压平后的文件记录，sha1 为主键，父键反规范化。
// 墓碑记录把请求的哈希同时写进两个哈希列，保证以任一算法再查都命中负缓存。
type File struct {
	SHA1      string `gorm:"primaryKey;column:sha1" json:"sha1"`
	SHA512    string `gorm:"index;column:sha512" json:"sha512,omitempty"`
	VersionID string `gorm:"index" json:"version_id,omitempty"`
	ProjectID string `gorm:"index" json:"project_id,omitempty"`
	URL       string `json:"url,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Size      int64  `json:"size"`

	Found  bool      `gorm:"index" json:"found"`
	SyncAt time.Time `json:"sync_at"`
}

func (File) TableName() string { return "modrinth_files" }

func (f File) RecordFound() bool       { return f.Found }
func (f File) RecordSyncAt() time.Time { return f.SyncAt }

// 哈希查找支持的两种算法。
const (
	AlgoSHA1   = "sha1"
	AlgoSHA512 = "sha512"
)

// HashFor 返回记录在指定算法下的查找键。
func (f File) HashFor(algorithm string) string {
	if algorithm == AlgoSHA512 {
		return f.SHA512
	}
	return f.SHA1
}
