package planner

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"spica/internal/model"
	"spica/internal/sora"
)

// SoraService 通过 chat completions 接口规划
type SoraService struct {
	Client *sora.Client
}

func (s SoraService) PlanSegments(ctx context.Context, modelName string, messages []*schema.Message) ([]model.RawSegment, error) {
	out := make([]sora.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, sora.Message{Role: string(m.Role), Content: m.Content})
	}
	return s.Client.PlanSegments(ctx, sora.PlanRequest{Model: modelName, Messages: out})
}

var _ PlanningService = SoraService{}
