// internal/vectorsearch/client.go
package vectorsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/Corphon/StoryboardMCP/internal/errors"
	"github.com/Corphon/StoryboardMCP/internal/utils"
)

// SearchRequest 向量检索请求
type SearchRequest struct {
	Query      string   `json:"query"`
	TopK       int      `json:"top_k"`
	Threshold  float64  `json:"threshold"`
	FilterTags []string `json:"filter_tags,omitempty"`
}

// Hit 一条检索结果，顺序即相似度排名
type Hit struct {
	ShotID      string   `json:"shotId"`
	FilePath    string   `json:"filePath"`
	Label       string   `json:"label"`
	Similarity  float64  `json:"similarity"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
	Emotions    []string `json:"emotions"`
	Duration    float64  `json:"duration"`
}

type SearchResponse struct {
	Status   string `json:"status"`
	Query    string `json:"query"`
	Results  []Hit  `json:"results"`
	Total    int    `json:"total"`
	Searched int    `json:"searched"`
}

// ListRequest 媒体库列举请求
type ListRequest struct {
	Directory    string   `json:"directory"`
	FilePatterns []string `json:"file_patterns,omitempty"`
	Limit        int      `json:"limit"`
}

type LibraryFile struct {
	FilePath string  `json:"filePath"`
	ShotID   string  `json:"shotId"`
	Label    string  `json:"label"`
	Duration float64 `json:"duration"`
	Status   string  `json:"status"`
}

type ListResponse struct {
	Files   []LibraryFile `json:"files"`
	Summary struct {
		TotalFiles int    `json:"totalFiles"`
		Directory  string `json:"directory"`
	} `json:"summary"`
}

// Client 访问向量检索服务；所有失败都以 RetrievalTransport 错误返回
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *utils.Logger
}

// NewClient qps 为每秒允许的请求数
func NewClient(baseURL string, timeout time.Duration, qps float64) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	burst := int(qps)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(qps), burst),
		logger:  utils.GetLogger(),
	}
}

// Search POST {base}/search
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.post(ctx, "/search", req, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "" && resp.Status != "success" {
		return nil, apperrors.NewRetrievalTransportError("vector search returned status "+resp.Status, nil)
	}
	return &resp, nil
}

// List POST {base}/list
func (c *Client) List(ctx context.Context, req ListRequest) (*ListResponse, error) {
	var resp ListResponse
	if err := c.post(ctx, "/list", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health GET {base}/health
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return apperrors.NewRetrievalTransportError("build health request", err)
	}
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return apperrors.NewRetrievalTransportError("vector service unreachable", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return apperrors.NewRetrievalTransportError(fmt.Sprintf("vector service health status %d", httpResp.StatusCode), nil)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperrors.NewRetrievalTransportError("rate limiter wait", err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return apperrors.NewRetrievalTransportError("encode request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewRetrievalTransportError("build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return apperrors.NewRetrievalTransportError("vector service unreachable", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 2048))
		return apperrors.NewRetrievalTransportError(
			fmt.Sprintf("vector service %s returned %d: %s", path, httpResp.StatusCode, strings.TrimSpace(string(raw))), nil)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return apperrors.NewRetrievalTransportError("decode response", err)
	}

	c.logger.Debug("vector service call", map[string]interface{}{
		"path":     path,
		"duration": time.Since(start).Milliseconds(),
	})
	return nil
}
