package sora

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"spica/internal/model"
)

const (
	defaultBase    = "https://api.openai.com/v1"
	defaultVariant = "video"
)

// Client 封装规划接口与视频任务接口，除凭证外无状态，可被多个运行并发共享
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient baseURL 为空时使用 OpenAI 官方地址
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBase
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// PlanRequest 规划请求
type PlanRequest struct {
	Model    string
	Messages []Message
}

// Message chat 消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jobResponse struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Progress *float64 `json:"progress"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// PlanSegments 调用 chat completions，从回复中找出第一个JSON对象并解析出分段
func (c *Client) PlanSegments(ctx context.Context, p PlanRequest) ([]model.RawSegment, error) {
	if p.Model == "" {
		return nil, &model.ValidationError{Field: "planner_model", Reason: "is required"}
	}
	body := map[string]any{
		"model":           p.Model,
		"messages":        p.Messages,
		"response_format": map[string]any{"type": "json_object"},
	}
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.postJSON(ctx, "plan", "/chat/completions", body, &resp); err != nil {
		return nil, err
	}
	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	return DecodeSegments("plan", content)
}

// Submit 以 multipart 表单提交视频生成任务
func (c *Client) Submit(ctx context.Context, p model.SubmitRequest) (model.GenerationJob, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	fields := [][2]string{
		{"model", p.Model},
		{"prompt", p.Prompt},
		{"seconds", strconv.Itoa(p.Seconds)},
	}
	if p.Size != "" {
		fields = append(fields, [2]string{"size", p.Size})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return model.GenerationJob{}, fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	if p.Reference != nil && len(p.Reference.Data) > 0 {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="input_reference"; filename=%q`, ReferenceFilename(p.Reference.ContentType)))
		header.Set("Content-Type", p.Reference.ContentType)
		part, err := w.CreatePart(header)
		if err != nil {
			return model.GenerationJob{}, fmt.Errorf("create reference part: %w", err)
		}
		if _, err := part.Write(p.Reference.Data); err != nil {
			return model.GenerationJob{}, fmt.Errorf("write reference part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return model.GenerationJob{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/videos", buf)
	if err != nil {
		return model.GenerationJob{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	raw, err := c.do(req, "submit")
	if err != nil {
		return model.GenerationJob{}, err
	}
	return decodeJob("submit", raw)
}

// Poll 查询一次任务状态，不做等待
func (c *Client) Poll(ctx context.Context, jobID string) (model.GenerationJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/videos/"+url.PathEscape(jobID), nil)
	if err != nil {
		return model.GenerationJob{}, err
	}
	raw, err := c.do(req, "poll")
	if err != nil {
		return model.GenerationJob{}, err
	}
	return decodeJob("poll", raw)
}

// Fetch 下载已完成任务的产物
func (c *Client) Fetch(ctx context.Context, jobID, variant string) ([]byte, error) {
	if variant == "" {
		variant = defaultVariant
	}
	u := c.BaseURL + "/videos/" + url.PathEscape(jobID) + "/content?variant=" + url.QueryEscape(variant)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, "fetch")
}

// ReferenceFilename 声明类型含 png 时用 png，其余一律 jpg
func ReferenceFilename(contentType string) string {
	if strings.Contains(strings.ToLower(contentType), "png") {
		return "reference.png"
	}
	return "reference.jpg"
}

func (c *Client) postJSON(ctx context.Context, op, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	raw, err := c.do(req, op)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &model.MalformedResponse{Op: op, Reason: err.Error(), Raw: truncate(string(raw), 512)}
	}
	return nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
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
		return nil, &model.ServiceError{
			Op:         op,
			StatusCode: res.StatusCode,
			Message:    apiErrorMessage(bodyBytes),
			Body:       string(bodyBytes),
		}
	}
	return bodyBytes, nil
}

func decodeJob(op string, raw []byte) (model.GenerationJob, error) {
	var r jobResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.GenerationJob{}, &model.MalformedResponse{Op: op, Reason: err.Error(), Raw: truncate(string(raw), 512)}
	}
	if r.ID == "" {
		return model.GenerationJob{}, &model.MalformedResponse{Op: op, Reason: "missing job id", Raw: truncate(string(raw), 512)}
	}
	status := model.JobStatus(strings.ToLower(r.Status))
	if status.Rank() < 0 {
		return model.GenerationJob{}, &model.MalformedResponse{Op: op, Reason: fmt.Sprintf("unknown status %q", r.Status)}
	}
	job := model.GenerationJob{ID: r.ID, Status: status}
	if r.Progress != nil {
		job.Progress = NormalizeProgress(*r.Progress)
	}
	if r.Error != nil {
		job.Error = r.Error.Message
	}
	return job, nil
}

// NormalizeProgress 兼容 0..1 的小数进度，并截断到 [0,100]
func NormalizeProgress(p float64) float64 {
	if p > 0 && p < 1 {
		p *= 100
	}
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func apiErrorMessage(body []byte) string {
	var parsed struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		return parsed.Error.Message
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
