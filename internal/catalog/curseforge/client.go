package curseforge

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/mod-mirror/mod-mirror/internal/upstream"
)

// gameID 固定为 Minecraft；上游的分类与指纹接口都按游戏维度划分。
const gameID = 432

const filesPageSize = 50

// Client 封装上游 v1 REST 接口，x-api-key 随每个请求发送。
type Client struct {
	http *upstream.Client
}

func NewClient(c *upstream.Client) *Client { return &Client{http: c} }

type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

type pagedEnvelope[T any] struct {
	Data       []T `json:"data"`
	Pagination struct {
		Index       int `json:"index"`
		PageSize    int `json:"pageSize"`
		ResultCount int `json:"resultCount"`
		TotalCount  int `json:"totalCount"`
	} `json:"pagination"`
}

// GetMods 批量拉取 mod。响应里缺席的 id 不算错误，由调用方比对写墓碑。
func (c *Client) GetMods(ctx context.Context, modIDs []int) ([]Mod, error) {
	var env dataEnvelope[[]Mod]
	err := c.http.PostJSON(ctx, "/v1/mods", map[string]any{"modIds": modIDs}, &env)
	return env.Data, err
}

// GetModFiles 翻页拉取一个 mod 的全部文件。
func (c *Client) GetModFiles(ctx context.Context, modID int) ([]File, error) {
	var files []File
	for index := 0; ; {
		var env pagedEnvelope[File]
		query := url.Values{
			"index":    {strconv.Itoa(index)},
			"pageSize": {strconv.Itoa(filesPageSize)},
		}
		if err := c.http.GetJSON(ctx, "/v1/mods/"+strconv.Itoa(modID)+"/files", query, &env); err != nil {
			return nil, err
		}
		files = append(files, env.Data...)
		index += len(env.Data)
		if len(env.Data) < filesPageSize || (env.Pagination.TotalCount > 0 && index >= env.Pagination.TotalCount) {
			return files, nil
		}
	}
}

// GetFiles 批量按文件 id 拉取。
func (c *Client) GetFiles(ctx context.Context, fileIDs []int) ([]File, error) {
	var env dataEnvelope[[]File]
	err := c.http.PostJSON(ctx, "/v1/mods/files", map[string]any{"fileIds": fileIDs}, &env)
	return env.Data, err
}

// fingerprintMatch 是指纹接口的单条命中，file.id 用于身份替换。
type fingerprintMatch struct {
	ID          int64           `json:"id"`
	File        json.RawMessage `json:"file"`
	LatestFiles json.RawMessage `json:"latestFiles"`
}

// FingerprintsResult 把上游响应划分为命中与未命中两个集合。
type FingerprintsResult struct {
	ExactMatches []fingerprintMatch `json:"exactMatches"`
	Unmatched    []int64            `json:"unmatchedFingerprints"`
}

// MatchFingerprints 按内容指纹解析文件。
func (c *Client) MatchFingerprints(ctx context.Context, fingerprints []int64) (FingerprintsResult, error) {
	var env dataEnvelope[FingerprintsResult]
	err := c.http.PostJSON(ctx, "/v1/fingerprints/"+strconv.Itoa(gameID),
		map[string]any{"fingerprints": fingerprints}, &env)
	return env.Data, err
}

// GetCategories 拉取游戏的分类树，原样返回 JSON 数组。
func (c *Client) GetCategories(ctx context.Context) (json.RawMessage, error) {
	var env dataEnvelope[json.RawMessage]
	query := url.Values{"gameId": {strconv.Itoa(gameID)}}
	err := c.http.GetJSON(ctx, "/v1/categories", query, &env)
	return env.Data, err
}
