package tools

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"spica/internal/model"
)

// SegmentPlanner 分段规划能力，planner.Planner 实现该接口
type SegmentPlanner interface {
	Plan(ctx context.Context, brief model.CreativeBrief) ([]model.SegmentPlan, error)
}

// PlanTool 实现eino框架的分段规划工具
type PlanTool struct {
	planner SegmentPlanner
	Model   string // 占位的视频模型，规划不依赖它，仅用于通过 brief 校验
}

// PlanToolArgs 分段规划请求参数
type PlanToolArgs struct {
	BasePrompt        string `json:"base_prompt"`
	SecondsPerSegment int    `json:"seconds_per_segment"`
	SegmentCount      int    `json:"segment_count"`
	PlannerModel      string `json:"planner_model"`
}

// PlanToolResp 分段规划响应
type PlanToolResp struct {
	Segments []model.SegmentPlan `json:"segments"`
}

// NewPlanTool 创建分段规划工具实例
func NewPlanTool(planner SegmentPlanner, videoModel string) *PlanTool {
	return &PlanTool{planner: planner, Model: videoModel}
}

// Info 获取分段规划工具信息
func (t *PlanTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"base_prompt":         {Type: schema.String, Required: true, Desc: "整体创意描述"},
		"seconds_per_segment": {Type: schema.Integer, Required: true, Desc: "每段时长（秒）"},
		"segment_count":       {Type: schema.Integer, Required: true, Desc: "分段数量，1-20"},
		"planner_model":       {Type: schema.String, Desc: "规划模型，留空使用默认值"},
	}
	return &schema.ToolInfo{
		Name:        "plan_segments",
		Desc:        "把一段创意描述拆成若干个首尾衔接的视频分段提示词",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

// InvokableRun 执行分段规划
func (t *PlanTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args PlanToolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("decode arguments: %w", err)
	}

	brief := model.CreativeBrief{
		BasePrompt:        args.BasePrompt,
		SecondsPerSegment: args.SecondsPerSegment,
		SegmentCount:      args.SegmentCount,
		Model:             t.Model,
		PlannerModel:      args.PlannerModel,
	}
	plans, err := t.planner.Plan(ctx, brief)
	if err != nil {
		return "", err
	}

	b, err := json.Marshal(PlanToolResp{Segments: plans})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// 确保PlanTool实现了einotool.InvokableTool接口
var _ einotool.InvokableTool = (*PlanTool)(nil)
