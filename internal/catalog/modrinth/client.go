package modrinth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/mod-mirror/mod-mirror/internal/upstream"
)

// Client 封装上游 v2 REST 接口。批量接口的 ids 参数是 JSON 数组字符串。
type Client struct {
	http *upstream.Client
}

func NewClient(c *upstream.Client) *Client { return &Client{http: c} }

func idsQuery(ids []string) (url.Values, error) {
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("编码 ids 参数失败: %w", err)
	}
	return url.Values{"ids": {string(raw)}}, nil
}

// GetProject 按 id 或 slug 拉取项目，404 返回 upstream.ErrNotFound。
func (c *Client) GetProject(ctx context.Context, idOrSlug string) (Project, error) {
	var p Project
	err := c.http.GetJSON(ctx, "/v2/project/"+url.PathEscape(idOrSlug), nil, &p)
	return p, err
}

// GetProjectVersions 拉取项目的全部版本（含内嵌文件摘要）。
func (c *Client) GetProjectVersions(ctx context.Context, idOrSlug string) ([]Version, error) {
	var versions []Version
	err := c.http.GetJSON(ctx, "/v2/project/"+url.PathEscape(idOrSlug)+"/version", nil, &versions)
	return versions, err
}

// GetVersions 批量按版本 id 拉取。未知 id 在响应里静默缺席。
func (c *Client) GetVersions(ctx context.Context, ids []string) ([]Version, error) {
	query, err := idsQuery(ids)
	if err != nil {
		return nil, err
	}
	var versions []Version
	err = c.http.GetJSON(ctx, "/v2/versions", query, &versions)
	return versions, err
}

// GetVersionFiles 按哈希批量解析版本，返回 hash → version 映射；
// 未命中的哈希在响应里缺席。
func (c *Client) GetVersionFiles(ctx context.Context, hashes []string, algorithm string) (map[string]Version, error) {
	body := map[string]any{"hashes": hashes, "algorithm": algorithm}
	out := make(map[string]Version)
	err := c.http.PostJSON(ctx, "/v2/version_files", body, &out)
	return out, err
}

// GetTag 拉取指定类型的标签表（category / loader / game_version ...），原样返回。
func (c *Client) GetTag(ctx context.Context, tagType string) (json.RawMessage, error) {
	var blob json.RawMessage
	err := c.http.GetJSON(ctx, "/v2/tag/"+url.PathEscape(tagType), nil, &blob)
	return blob, err
}
