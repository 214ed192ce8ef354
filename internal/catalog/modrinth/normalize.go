package modrinth

import "time"

// 归一化层：把嵌套的 project → versions → files 图压平成三类独立记录，
// 父键沿途下沉。纯转换，不做 I/O；产出一律 found=true。

// NormalizeGraph 压平一个项目子图。每个 version 注入 project_id 与项目 slug，
// 每个内嵌文件摘要展开为独立 File 记录并注入 version_id/project_id。
func NormalizeGraph(project Project, versions []Version, now time.Time) (Project, []Version, []File) {
	project.Found = true
	project.SyncAt = now

	outVersions := make([]Version, 0, len(versions))
	var outFiles []File
	for _, v := range versions {
		if v.ProjectID == "" {
			v.ProjectID = project.ID
		}
		if v.Slug == "" {
			v.Slug = project.Slug
		}
		v.Found = true
		v.SyncAt = now
		outVersions = append(outVersions, v)

		for _, f := range v.Files {
			if f.Hashes.SHA1 == "" {
				continue
			}
			outFiles = append(outFiles, File{
				SHA1:      f.Hashes.SHA1,
				SHA512:    f.Hashes.SHA512,
				VersionID: v.ID,
				ProjectID: v.ProjectID,
				URL:       f.URL,
				Filename:  f.Filename,
				Size:      f.Size,
				Found:     true,
				SyncAt:    now,
			})
		}
	}
	return project, outVersions, outFiles
}

// TombstoneProject 以请求键（id 或 slug）为主键写负缓存。
func TombstoneProject(idOrSlug string, now time.Time) Project {
	return Project{ID: idOrSlug, Found: false, SyncAt: now}
}

func TombstoneVersion(id string, now time.Time) Version {
	return Version{ID: id, Found: false, SyncAt: now}
}

// TombstoneFile 把请求哈希写进两个哈希列，任一算法的后续查询都命中负缓存。
func TombstoneFile(hash string, now time.Time) File {
	return File{SHA1: hash, SHA512: hash, Found: false, SyncAt: now}
}
