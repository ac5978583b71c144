package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"queryfed/internal/domain/federation"
	applog "queryfed/internal/platform/log"
)

// Config OpenSearch 连接配置
type Config struct {
	URL         string
	Username    string
	Password    string
	Index       string
	TextFields  []string // BM25 multi_match 字段
	VectorField string   // knn_vector 字段
}

// Client OpenSearch HTTP 客户端。
// 作为混合检索的两个排名源使用：BM25 词法 + kNN 向量。
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient 创建 OpenSearch 客户端
func NewClient(cfg Config) *Client {
	if len(cfg.TextFields) == 0 {
		cfg.TextFields = []string{"title^2", "content"}
	}
	if cfg.VectorField == "" {
		cfg.VectorField = "vector"
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // 开发环境
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// Ping 连通性检查
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, "GET", "/", nil)
	if err != nil {
		return fmt.Errorf("opensearch ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("opensearch ping status %d", resp.StatusCode)
	}
	return nil
}

// ── 排名源 ───────────────────────────────────────────────────

// BM25Source 词法排名源
type BM25Source struct{ client *Client }

// NewBM25Source 创建 BM25 排名源
func NewBM25Source(c *Client) *BM25Source { return &BM25Source{client: c} }

func (s *BM25Source) Name() string { return "opensearch-bm25" }

// SearchRanked BM25 全文检索，原生分数是 BM25 相关度
func (s *BM25Source) SearchRanked(ctx context.Context, q federation.VectorQuery) (federation.RankedList, error) {
	query := map[string]any{
		"size": q.TopK,
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  q.Text,
				"fields": s.client.cfg.TextFields,
			},
		},
	}
	return s.client.search(ctx, s.Name(), query)
}

// KNNSource 向量排名源
type KNNSource struct{ client *Client }

// NewKNNSource 创建 kNN 排名源
func NewKNNSource(c *Client) *KNNSource { return &KNNSource{client: c} }

func (s *KNNSource) Name() string { return "opensearch-knn" }

// SearchRanked kNN 向量检索，原生分数是索引的相似度
func (s *KNNSource) SearchRanked(ctx context.Context, q federation.VectorQuery) (federation.RankedList, error) {
	if len(q.Vector) == 0 {
		return federation.RankedList{Source: s.Name()}, fmt.Errorf("no query vector available")
	}
	query := map[string]any{
		"size": q.TopK,
		"query": map[string]any{
			"knn": map[string]any{
				s.client.cfg.VectorField: map[string]any{
					"vector": q.Vector,
					"k":      q.TopK,
				},
			},
		},
	}
	return s.client.search(ctx, s.Name(), query)
}

// ── 内部 ─────────────────────────────────────────────────────

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID    string  `json:"_id"`
			Score float64 `json:"_score"`
		} `json:"hits"`
	} `json:"hits"`
}

func (c *Client) search(ctx context.Context, source string, query map[string]any) (federation.RankedList, error) {
	list := federation.RankedList{Source: source}

	body, err := json.Marshal(query)
	if err != nil {
		return list, fmt.Errorf("marshal search body: %w", err)
	}

	start := time.Now()
	resp, err := c.doRequest(ctx, "POST", "/"+c.cfg.Index+"/_search", bytes.NewReader(body))
	if err != nil {
		return list, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return list, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return list, fmt.Errorf("search failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var parsed searchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return list, fmt.Errorf("parse search response: %w", err)
	}

	for i, hit := range parsed.Hits.Hits {
		list.Items = append(list.Items, federation.RankedItem{
			ID:    hit.ID,
			Rank:  i + 1,
			Score: hit.Score,
		})
	}

	applog.Debug("[Search/OpenSearch] Done",
		"source", source,
		"hits", len(list.Items),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return list, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.URL, "/")+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	return c.httpClient.Do(req)
}
