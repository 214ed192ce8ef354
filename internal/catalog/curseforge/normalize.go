package curseforge

import (
	"encoding/json"
	"time"
)

// 归一化层：把上游响应压平成可直接落库的记录。纯转换，不做 I/O。
// 所有经此产出的记录一律 found=true；墓碑只由 404 路径直接构造。

// NormalizeMods 为批量 mod 响应打上 found/sync_at 戳。
func NormalizeMods(mods []Mod, now time.Time) []Mod {
	out := make([]Mod, 0, len(mods))
	for _, m := range mods {
		m.Found = true
		m.SyncAt = now
		out = append(out, m)
	}
	return out
}

// NormalizeFiles 为文件记录打戳，并在上游漏填时注入父 mod id。
func NormalizeFiles(files []File, modID int, now time.Time) []File {
	out := make([]File, 0, len(files))
	for _, f := range files {
		if f.ModID == 0 {
			f.ModID = modID
		}
		f.Found = true
		f.SyncAt = now
		out = append(out, f)
	}
	return out
}

// NormalizeFingerprints 把指纹命中压平为指纹记录。存储主键保持原始指纹值，
// 解析出的文件 id 另存一列供对外身份替换使用。
func NormalizeFingerprints(matches []fingerprintMatch, now time.Time) []Fingerprint {
	out := make([]Fingerprint, 0, len(matches))
	for _, m := range matches {
		fp := Fingerprint{
			ID:          m.ID,
			File:        m.File,
			LatestFiles: m.LatestFiles,
			Found:       true,
			SyncAt:      now,
		}
		var summary struct {
			ID int `json:"id"`
		}
		if len(m.File) > 0 && json.Unmarshal(m.File, &summary) == nil {
			fp.FileID = summary.ID
		}
		out = append(out, fp)
	}
	return out
}

// TombstoneMod 构造"上游确认不存在"的负缓存记录。
func TombstoneMod(id int, now time.Time) Mod {
	return Mod{ID: id, Found: false, SyncAt: now}
}

func TombstoneFile(id int, now time.Time) File {
	return File{ID: id, Found: false, SyncAt: now}
}

func TombstoneFingerprint(id int64, now time.Time) Fingerprint {
	return Fingerprint{ID: id, Found: false, SyncAt: now}
}
