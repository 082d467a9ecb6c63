package volc

import (
	"context"
	"fmt"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"spica/internal/model"
	"spica/internal/sora"
)

// ModelFactory 按接入点创建 chat model
type ModelFactory func(ctx context.Context, endpoint string) (einomodel.BaseChatModel, error)

// ArkPlanner 用方舟 chat model 规划分段，每个接入点编译一次 graph 后复用
type ArkPlanner struct {
	newModel ModelFactory

	mu     sync.Mutex
	graphs map[string]compose.Runnable[[]*schema.Message, *schema.Message]
}

// NewArkPlanner factory 为空时使用 ArkClient.ChatModel
func NewArkPlanner(client *ArkClient, factory ModelFactory) *ArkPlanner {
	if factory == nil {
		factory = client.ChatModel
	}
	return &ArkPlanner{
		newModel: factory,
		graphs:   make(map[string]compose.Runnable[[]*schema.Message, *schema.Message]),
	}
}

func (p *ArkPlanner) runnable(ctx context.Context, endpoint string) (compose.Runnable[[]*schema.Message, *schema.Message], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.graphs[endpoint]; ok {
		return r, nil
	}
	cm, err := p.newModel(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	graph := compose.NewGraph[[]*schema.Message, *schema.Message]()
	if err := graph.AddChatModelNode("planner", cm); err != nil {
		return nil, fmt.Errorf("add planner node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "planner"); err != nil {
		return nil, err
	}
	if err := graph.AddEdge("planner", compose.END); err != nil {
		return nil, err
	}
	r, err := graph.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile planner graph: %w", err)
	}
	p.graphs[endpoint] = r
	return r, nil
}

// PlanSegments 调用规划模型并从回复中解析分段
func (p *ArkPlanner) PlanSegments(ctx context.Context, endpoint string, messages []*schema.Message) ([]model.RawSegment, error) {
	if endpoint == "" {
		return nil, &model.ValidationError{Field: "planner_model", Reason: "is required"}
	}
	r, err := p.runnable(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	out, err := r.Invoke(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	if out == nil {
		return nil, &model.MalformedResponse{Op: "plan", Reason: "empty reply"}
	}
	return sora.DecodeSegments("plan", out.Content)
}
