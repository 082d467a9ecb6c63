package volc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	einomodel "github.com/cloudwego/eino/components/model"

	"spica/internal/model"
)

const (
	defaultBase = "https://ark.cn-beijing.volces.com/api/v3"
)

// ArkClient 火山方舟的连接参数，规划与视频任务共用
type ArkClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewArkClient(apiKey, baseURL string, timeout time.Duration) *ArkClient {
	if baseURL == "" {
		baseURL = defaultBase
	}
	return &ArkClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// ChatModel 创建指定接入点的 eino chat model
func (c *ArkClient) ChatModel(ctx context.Context, endpoint string) (einomodel.BaseChatModel, error) {
	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:     c.APIKey,
		BaseURL:    c.BaseURL,
		HTTPClient: c.HTTPClient,
		Model:      endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("create ark chat model: %w", err)
	}
	return cm, nil
}

// download 下载任务产物，非2xx时返回 ServiceError
func (c *ArkClient) download(ctx context.Context, op, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer res.Body.Close()
	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body := string(bodyBytes)
		if len(body) > 512 {
			body = body[:512]
		}
		return nil, &model.ServiceError{Op: op, StatusCode: res.StatusCode, Body: body}
	}
	return bodyBytes, nil
}
