package volc

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	arkmodel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"

	"spica/internal/model"
)

// TaskState 内容生成任务的查询结果
type TaskState struct {
	ID       string
	Status   string
	VideoURL string
}

// TaskAPI 内容生成任务接口，默认实现走 arkruntime
type TaskAPI interface {
	Create(ctx context.Context, req arkmodel.CreateContentGenerationTaskRequest) (string, error)
	Get(ctx context.Context, id string) (TaskState, error)
}

type runtimeTasks struct {
	client *arkruntime.Client
}

func (r runtimeTasks) Create(ctx context.Context, req arkmodel.CreateContentGenerationTaskRequest) (string, error) {
	resp, err := r.client.CreateContentGenerationTask(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (r runtimeTasks) Get(ctx context.Context, id string) (TaskState, error) {
	req := arkmodel.GetContentGenerationTaskRequest{}
	req.ID = id
	resp, err := r.client.GetContentGenerationTask(ctx, req)
	if err != nil {
		return TaskState{}, err
	}
	return TaskState{ID: resp.ID, Status: resp.Status, VideoURL: resp.Content.VideoURL}, nil
}

// SeedanceJobs 用方舟 Seedance 图生视频任务实现视频任务服务
type SeedanceJobs struct {
	client *ArkClient
	tasks  TaskAPI
}

// NewSeedanceJobs tasks 为空时用 client 的凭证创建 arkruntime 客户端
func NewSeedanceJobs(client *ArkClient, tasks TaskAPI) *SeedanceJobs {
	if tasks == nil {
		tasks = runtimeTasks{client: arkruntime.NewClientWithApiKey(
			client.APIKey,
			arkruntime.WithBaseUrl(client.BaseURL),
		)}
	}
	return &SeedanceJobs{client: client, tasks: tasks}
}

// Submit 创建任务，参考图以 data URL 传入
func (s *SeedanceJobs) Submit(ctx context.Context, p model.SubmitRequest) (model.GenerationJob, error) {
	if p.Model == "" {
		return model.GenerationJob{}, &model.ValidationError{Field: "model", Reason: "is required"}
	}
	var res model.Resolution
	if p.Size != "" {
		r, err := model.ParseResolution(p.Size)
		if err != nil {
			return model.GenerationJob{}, &model.ValidationError{Field: "size", Reason: err.Error()}
		}
		res = r
	}
	content := []*arkmodel.CreateContentGenerationContentItem{
		{
			Type: arkmodel.ContentGenerationContentItemTypeText,
			Text: volcengine.String(TextCommand(p.Prompt, p.Seconds, res)),
		},
	}
	if p.Reference != nil && len(p.Reference.Data) > 0 {
		content = append(content, &arkmodel.CreateContentGenerationContentItem{
			Type:     arkmodel.ContentGenerationContentItemTypeImage,
			ImageURL: &arkmodel.ImageURL{URL: DataURL(*p.Reference)},
		})
	}
	id, err := s.tasks.Create(ctx, arkmodel.CreateContentGenerationTaskRequest{
		Model:   p.Model,
		Content: content,
	})
	if err != nil {
		return model.GenerationJob{}, fmt.Errorf("create video task: %w", err)
	}
	if id == "" {
		return model.GenerationJob{}, &model.MalformedResponse{Op: "create video task", Reason: "missing task id"}
	}
	return model.GenerationJob{ID: id, Status: model.JobQueued}, nil
}

// Poll 查询任务状态，方舟不返回进度，完成时记为100
func (s *SeedanceJobs) Poll(ctx context.Context, jobID string) (model.GenerationJob, error) {
	st, err := s.tasks.Get(ctx, jobID)
	if err != nil {
		return model.GenerationJob{}, fmt.Errorf("get video task: %w", err)
	}
	status, err := MapTaskStatus(st.Status)
	if err != nil {
		return model.GenerationJob{}, err
	}
	job := model.GenerationJob{ID: jobID, Status: status}
	switch status {
	case model.JobCompleted:
		job.Progress = 100
	case model.JobFailed:
		job.Error = "video task " + st.Status
	}
	return job, nil
}

// Fetch 下载已完成任务的视频，variant 只支持 video
func (s *SeedanceJobs) Fetch(ctx context.Context, jobID, variant string) ([]byte, error) {
	if variant != "" && variant != "video" {
		return nil, &model.ValidationError{Field: "variant", Reason: "only video is supported"}
	}
	st, err := s.tasks.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get video task: %w", err)
	}
	if st.VideoURL == "" {
		return nil, &model.MalformedResponse{Op: "fetch video", Reason: "missing video_url"}
	}
	return s.client.download(ctx, "fetch video", st.VideoURL)
}

// MapTaskStatus 方舟任务状态到统一状态
func MapTaskStatus(s string) (model.JobStatus, error) {
	switch strings.ToLower(s) {
	case "queued":
		return model.JobQueued, nil
	case "running":
		return model.JobInProgress, nil
	case "succeeded":
		return model.JobCompleted, nil
	case "failed", "cancelled", "expired":
		return model.JobFailed, nil
	}
	return "", &model.MalformedResponse{Op: "get video task", Reason: fmt.Sprintf("unknown status %q", s)}
}

// TextCommand 在提示词后追加 Seedance 文本参数，分辨率为零值时不带 --resolution 和 --ratio
func TextCommand(prompt string, seconds int, res model.Resolution) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(prompt))
	if seconds > 0 {
		fmt.Fprintf(&b, " --duration %d", seconds)
	}
	if res.Width > 0 && res.Height > 0 {
		short := min(res.Width, res.Height)
		g := gcd(res.Width, res.Height)
		fmt.Fprintf(&b, " --resolution %dp --ratio %d:%d", short, res.Width/g, res.Height/g)
	}
	return b.String()
}

func DataURL(ref model.ReferenceImage) string {
	ct := ref.ContentType
	if ct == "" {
		ct = "image/png"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(ref.Data)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}
