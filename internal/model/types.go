package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Resolution 目标分辨率
type Resolution struct {
	Width  int `json:"width" validate:"gte=1"`
	Height int `json:"height" validate:"gte=1"`
}

// String 按远端接口要求输出 WxH
func (r Resolution) String() string {
	if r.Width == 0 && r.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution 解析 "1280x720" 形式的分辨率
func ParseResolution(s string) (Resolution, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Resolution{}, fmt.Errorf("invalid size %q: want WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Resolution{}, fmt.Errorf("invalid size %q: bad width", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Resolution{}, fmt.Errorf("invalid size %q: bad height", s)
	}
	return Resolution{Width: width, Height: height}, nil
}

// ReferenceImage 参考图（首帧或上一段的尾帧）
type ReferenceImage struct {
	Data        []byte `json:"-"`            // 图片原始字节
	ContentType string `json:"content_type"` // 声明的MIME类型
}

// CreativeBrief 一次生成任务的输入，构造后只读
type CreativeBrief struct {
	BasePrompt        string          `json:"base_prompt" validate:"required"`                  // 整体创意描述
	SecondsPerSegment int             `json:"seconds_per_segment" validate:"gte=1"`             // 每段时长（秒）
	SegmentCount      int             `json:"segment_count" validate:"gte=1,lte=20"`            // 分段数量
	Size              Resolution      `json:"size"`                                             // 目标分辨率
	Model             string          `json:"model" validate:"required"`                        // 视频生成模型
	PlannerModel      string          `json:"planner_model"`                                    // 分镜规划模型
	InitialReference  *ReferenceImage `json:"initial_reference,omitempty" validate:"omitempty"` // 可选的首帧参考图
}

// RawSegment 规划接口返回的原始分段描述，不可信
type RawSegment struct {
	Title   string  `json:"title"`
	Seconds float64 `json:"seconds"`
	Prompt  string  `json:"prompt"`
}

// SegmentPlan 规划后的单个分段，Index 决定执行顺序
type SegmentPlan struct {
	Index   int    `json:"index"`   // 从0开始
	Title   string `json:"title"`   // 分段标题
	Prompt  string `json:"prompt"`  // 提交给视频模型的提示词
	Seconds int    `json:"seconds"` // 恒等于 brief.SecondsPerSegment
}

// JobStatus 远端任务状态
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Rank 用于判断状态是否单调前进
func (s JobStatus) Rank() int {
	switch s {
	case JobQueued:
		return 0
	case JobInProgress:
		return 1
	case JobCompleted, JobFailed:
		return 2
	default:
		return -1
	}
}

// Terminal 是否终态
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// GenerationJob 远端任务句柄
type GenerationJob struct {
	ID       string    `json:"id"`
	Status   JobStatus `json:"status"`
	Progress float64   `json:"progress,omitempty"` // 仅 in_progress 时有意义
	Error    string    `json:"error,omitempty"`    // 失败原因
}

// SegmentResult 单个分段的产出
type SegmentResult struct {
	Index           int    `json:"index"`
	JobID           string `json:"job_id"`
	Video           []byte `json:"-"` // MP4
	Reference       []byte `json:"-"` // 本段提交时使用的参考图
	ContinuityFrame []byte `json:"-"` // 尾帧，最后一段为空
}

// SegmentStatus 分段进度状态
type SegmentStatus string

const (
	SegmentPending    SegmentStatus = "pending"
	SegmentGenerating SegmentStatus = "generating"
	SegmentCompleted  SegmentStatus = "completed"
	SegmentFailed     SegmentStatus = "failed"
)

// SegmentProgress 推送给调用方的分段进度
type SegmentProgress struct {
	Index    int           `json:"index"`
	Title    string        `json:"title"`
	Status   SegmentStatus `json:"status"`
	Progress float64       `json:"progress"`
}

// Stage 流水线阶段
type Stage string

const (
	StagePlanning   Stage = "planning"
	StageGenerating Stage = "generating"
	StageExtracting Stage = "extracting"
	StageAssembling Stage = "assembling"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// RunEvent 一次运行的进度快照
type RunEvent struct {
	RunID    string            `json:"run_id"`
	Stage    Stage             `json:"stage"`
	Current  int               `json:"current_segment"`
	Segments []SegmentProgress `json:"segments"`
	Done     bool              `json:"done"`
	Error    string            `json:"error,omitempty"`
}

// SubmitRequest 提交一个视频生成任务所需的参数
type SubmitRequest struct {
	Prompt    string
	Size      string // WxH，为空时由远端决定
	Seconds   int
	Model     string
	Reference *ReferenceImage // 可选参考图
}
