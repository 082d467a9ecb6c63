package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"spica/internal/model"
)

//go:generate mockgen -source=planner.go -destination=mock_service_test.go -package=planner

// DefaultModel 未指定规划模型时使用
const DefaultModel = "gpt-4o"

// PlanningService 远端规划接口，返回不可信的原始分段
type PlanningService interface {
	PlanSegments(ctx context.Context, modelName string, messages []*schema.Message) ([]model.RawSegment, error)
}

// Config 规划器配置
type Config struct {
	DefaultModel   string // 规划模型默认值
	AllowShortPlan bool   // 允许规划结果少于请求的分段数
}

// Planner 把一个 brief 拆成有序的分段提示词
type Planner struct {
	svc  PlanningService
	tmpl prompt.ChatTemplate
	cfg  Config
	log  logrus.FieldLogger
}

// New 创建规划器
func New(svc PlanningService, cfg Config, log logrus.FieldLogger) *Planner {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Planner{svc: svc, tmpl: newTemplate(), cfg: cfg, log: log}
}

// Messages 渲染发送给规划模型的 system/user 消息
func (p *Planner) Messages(ctx context.Context, brief model.CreativeBrief) ([]*schema.Message, error) {
	msgs, err := p.tmpl.Format(ctx, map[string]any{
		"base_prompt": strings.TrimSpace(brief.BasePrompt),
		"seconds":     brief.SecondsPerSegment,
		"count":       brief.SegmentCount,
	})
	if err != nil {
		return nil, fmt.Errorf("render planner prompt: %w", err)
	}
	return msgs, nil
}

// Plan 调用规划服务并整理结果：截断到请求数量，强制时长，补全标题
func (p *Planner) Plan(ctx context.Context, brief model.CreativeBrief) ([]model.SegmentPlan, error) {
	if strings.TrimSpace(brief.BasePrompt) == "" {
		return nil, &model.ValidationError{Field: "base_prompt", Reason: "must not be empty"}
	}
	if brief.SecondsPerSegment < 1 {
		return nil, &model.ValidationError{Field: "seconds_per_segment", Reason: "must be >= 1"}
	}
	if brief.SegmentCount < 1 || brief.SegmentCount > model.MaxSegments {
		return nil, &model.ValidationError{Field: "segment_count", Reason: fmt.Sprintf("must be between 1 and %d", model.MaxSegments)}
	}

	msgs, err := p.Messages(ctx, brief)
	if err != nil {
		return nil, err
	}
	plannerModel := brief.PlannerModel
	if plannerModel == "" {
		plannerModel = p.cfg.DefaultModel
	}

	raw, err := p.svc.PlanSegments(ctx, plannerModel, msgs)
	if err != nil {
		return nil, err
	}
	p.log.WithFields(logrus.Fields{
		"planner_model": plannerModel,
		"requested":     brief.SegmentCount,
		"returned":      len(raw),
	}).Info("planner replied")

	return p.normalize(brief, raw)
}

func (p *Planner) normalize(brief model.CreativeBrief, raw []model.RawSegment) ([]model.SegmentPlan, error) {
	if len(raw) > brief.SegmentCount {
		raw = raw[:brief.SegmentCount]
	}
	if len(raw) < brief.SegmentCount && !p.cfg.AllowShortPlan {
		return nil, &model.ValidationError{
			Field:  "segments",
			Reason: fmt.Sprintf("planner returned %d segments, %d requested", len(raw), brief.SegmentCount),
		}
	}
	if len(raw) == 0 {
		return nil, &model.MalformedResponse{Op: "plan", Reason: "planner returned no segments"}
	}

	plans := make([]model.SegmentPlan, 0, len(raw))
	for i, r := range raw {
		text := strings.TrimSpace(r.Prompt)
		if text == "" {
			return nil, &model.MalformedResponse{Op: "plan", Reason: fmt.Sprintf("segment %d has no prompt", i+1)}
		}
		title := strings.TrimSpace(r.Title)
		if title == "" {
			title = fmt.Sprintf("Segment %d", i+1)
		}
		plans = append(plans, model.SegmentPlan{
			Index:   i,
			Title:   title,
			Prompt:  text,
			Seconds: brief.SecondsPerSegment,
		})
	}
	return plans, nil
}
