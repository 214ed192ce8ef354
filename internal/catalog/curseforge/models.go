// Package curseforge 实现文件索引型目录（catalog-A）：mod → file → fingerprint。
package curseforge

import (
	"encoding/json"
	"time"
)

// Mod 是上游 mod 记录的本地镜像。深层嵌套字段按原样透传，
// 只展开本地查询需要的列。
type Mod struct {
	ID                 int             `gorm:"primaryKey;autoIncrement:false" json:"id"`
	GameID             int             `json:"gameId"`
	Slug               string          `gorm:"index" json:"slug"`
	Name               string          `json:"name"`
	Summary            string          `json:"summary"`
	Status             int             `json:"status"`
	DownloadCount      int64           `json:"downloadCount"`
	Links              json.RawMessage `gorm:"serializer:json" json:"links,omitempty"`
	Categories         json.RawMessage `gorm:"serializer:json" json:"categories,omitempty"`
	Authors            json.RawMessage `gorm:"serializer:json" json:"authors,omitempty"`
	Logo               json.RawMessage `gorm:"serializer:json" json:"logo,omitempty"`
	Screenshots        json.RawMessage `gorm:"serializer:json" json:"screenshots,omitempty"`
	MainFileID         int             `json:"mainFileId"`
	LatestFiles        json.RawMessage `gorm:"serializer:json" json:"latestFiles,omitempty"`
	LatestFilesIndexes json.RawMessage `gorm:"serializer:json" json:"latestFilesIndexes,omitempty"`
	DateCreated        string          `json:"dateCreated,omitempty"`
	DateModified       string          `json:"dateModified,omitempty"`
	DateReleased       string          `json:"dateReleased,omitempty"`
	ClassID            int             `json:"classId"`

	Found  bool      `gorm:"index" json:"found"`
	SyncAt time.Time `json:"sync_at"`
}

func (Mod) TableName() string { return "curseforge_mods" }

func (m Mod) RecordFound() bool       { return m.Found }
func (m Mod) RecordSyncAt() time.Time { return m.SyncAt }

// FileHash 是上游文件哈希条目，algo 1=sha1 2=md5。
type FileHash struct {
	Value string `json:"value"`
	Algo  int    `json:"algo"`
}

// File 是单个发布文件。ModID 为反规范化外键，不做引用完整性约束。
type File struct {
	ID                   int             `gorm:"primaryKey;autoIncrement:false" json:"id"`
	GameID               int             `json:"gameId"`
	ModID                int             `gorm:"index" json:"modId"`
	IsAvailable          bool            `json:"isAvailable"`
	DisplayName          string          `json:"displayName"`
	FileName             string          `json:"fileName"`
	ReleaseType          int             `json:"releaseType"`
	FileStatus           int             `json:"fileStatus"`
	Hashes               []FileHash      `gorm:"serializer:json" json:"hashes,omitempty"`
	FileDate             string          `json:"fileDate,omitempty"`
	FileLength           int64           `json:"fileLength"`
	DownloadCount        int64           `json:"downloadCount"`
	DownloadURL          string          `json:"downloadUrl,omitempty"`
	GameVersions         []string        `gorm:"serializer:json" json:"gameVersions,omitempty"`
	SortableGameVersions json.RawMessage `gorm:"serializer:json" json:"sortableGameVersions,omitempty"`
	Dependencies         json.RawMessage `gorm:"serializer:json" json:"dependencies,omitempty"`
	FileFingerprint      int64           `gorm:"index" json:"fileFingerprint"`
	Modules              json.RawMessage `gorm:"serializer:json" json:"modules,omitempty"`

	Found  bool      `gorm:"index" json:"found"`
	SyncAt time.Time `json:"sync_at"`
}

func (File) TableName() string { return "curseforge_files" }

func (f File) RecordFound() bool       { return f.Found }
func (f File) RecordSyncAt() time.Time { return f.SyncAt }

// Fingerprint 按内容指纹索引已解析的文件。存储主键始终是指纹本身；
// 对外返回时 id 被替换为所解析文件的 id（见 WireView）。
type Fingerprint struct {
	ID          int64           `gorm:"primaryKey;autoIncrement:false" json:"id"`
	FileID      int             `gorm:"index" json:"-"`
	File        json.RawMessage `gorm:"serializer:json" json:"file,omitempty"`
	LatestFiles json.RawMessage `gorm:"serializer:json" json:"latestFiles,omitempty"`

	Found  bool      `gorm:"index" json:"found"`
	SyncAt time.Time `json:"sync_at"`
}

func (Fingerprint) TableName() string { return "curseforge_fingerprints" }

func (f Fingerprint) RecordFound() bool       { return f.Found }
func (f Fingerprint) RecordSyncAt() time.Time { return f.SyncAt }

// WireView 返回对外视图：命中的指纹 id 替换为解析出的文件 id。
// 这是刻意的身份替换，调用方按文件 id 消费匹配结果。
func (f Fingerprint) WireView() Fingerprint {
	if f.Found && f.FileID != 0 {
		f.ID = int64(f.FileID)
	}
	return f
}
