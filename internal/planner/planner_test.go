package planner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"
	"go.uber.org/mock/gomock"

	"spica/internal/model"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func brief(count, seconds int) model.CreativeBrief {
	return model.CreativeBrief{
		BasePrompt:        "a paper boat drifting down a rainy street",
		SecondsPerSegment: seconds,
		SegmentCount:      count,
		Size:              model.Resolution{Width: 1280, Height: 720},
		Model:             "sora-2",
	}
}

func rawSegments(n int, seconds float64) []model.RawSegment {
	out := make([]model.RawSegment, n)
	for i := range out {
		out[i] = model.RawSegment{Title: fmt.Sprintf("Shot %d", i+1), Seconds: seconds, Prompt: fmt.Sprintf("prompt %d", i+1)}
	}
	return out
}

func TestPlanClampsAndForcesSeconds(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := NewMockPlanningService(ctrl)
	svc.EXPECT().PlanSegments(gomock.Any(), "gpt-4o", gomock.Any()).Return(rawSegments(5, 7), nil)

	p := New(svc, Config{}, quietLogger())
	plans, err := p.Plan(context.Background(), brief(3, 8))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plans) != 3 {
		t.Fatalf("got %d plans, want 3", len(plans))
	}
	for i, pl := range plans {
		if pl.Index != i || pl.Seconds != 8 {
			t.Errorf("plan %d = %+v", i, pl)
		}
		if pl.Prompt != fmt.Sprintf("prompt %d", i+1) {
			t.Errorf("plan %d kept wrong entry: %q", i, pl.Prompt)
		}
	}
}

func TestPlanUsesBriefPlannerModel(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := NewMockPlanningService(ctrl)
	svc.EXPECT().PlanSegments(gomock.Any(), "gpt-4.1", gomock.Any()).Return(rawSegments(1, 4), nil)

	b := brief(1, 4)
	b.PlannerModel = "gpt-4.1"
	if _, err := New(svc, Config{}, quietLogger()).Plan(context.Background(), b); err != nil {
		t.Fatalf("Plan: %v", err)
	}
}

func TestPlanShortOutputIsValidationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := NewMockPlanningService(ctrl)
	svc.EXPECT().PlanSegments(gomock.Any(), gomock.Any(), gomock.Any()).Return(rawSegments(2, 4), nil)

	_, err := New(svc, Config{}, quietLogger()).Plan(context.Background(), brief(3, 4))
	if !model.IsValidation(err) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestPlanShortOutputAllowed(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := NewMockPlanningService(ctrl)
	svc.EXPECT().PlanSegments(gomock.Any(), gomock.Any(), gomock.Any()).Return(rawSegments(2, 4), nil)

	plans, err := New(svc, Config{AllowShortPlan: true}, quietLogger()).Plan(context.Background(), brief(3, 4))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("got %d plans", len(plans))
	}
}

func TestPlanBlankPromptIsMalformed(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := NewMockPlanningService(ctrl)
	raw := rawSegments(2, 4)
	raw[1].Prompt = "   "
	svc.EXPECT().PlanSegments(gomock.Any(), gomock.Any(), gomock.Any()).Return(raw, nil)

	_, err := New(svc, Config{}, quietLogger()).Plan(context.Background(), brief(2, 4))
	var mr *model.MalformedResponse
	if !errors.As(err, &mr) {
		t.Fatalf("want MalformedResponse, got %v", err)
	}
}

func TestPlanBlankTitleDefaults(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := NewMockPlanningService(ctrl)
	raw := rawSegments(2, 4)
	raw[1].Title = ""
	svc.EXPECT().PlanSegments(gomock.Any(), gomock.Any(), gomock.Any()).Return(raw, nil)

	plans, err := New(svc, Config{}, quietLogger()).Plan(context.Background(), brief(2, 4))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plans[1].Title != "Segment 2" {
		t.Errorf("title = %q", plans[1].Title)
	}
}

func TestPlanPropagatesServiceError(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := NewMockPlanningService(ctrl)
	want := &model.ServiceError{Op: "plan", StatusCode: 500, Body: "boom"}
	svc.EXPECT().PlanSegments(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, want)

	_, err := New(svc, Config{}, quietLogger()).Plan(context.Background(), brief(2, 4))
	if !errors.Is(err, want) {
		t.Fatalf("want service error, got %v", err)
	}
}

func TestPlanRejectsBadBriefWithoutCalling(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := NewMockPlanningService(ctrl)

	p := New(svc, Config{}, quietLogger())
	for _, b := range []model.CreativeBrief{brief(0, 4), brief(21, 4), brief(2, 0)} {
		if _, err := p.Plan(context.Background(), b); !model.IsValidation(err) {
			t.Errorf("brief %+v: want ValidationError, got %v", b, err)
		}
	}
}

func TestMessagesRenderBriefValues(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := New(NewMockPlanningService(ctrl), Config{}, quietLogger())

	msgs, err := p.Messages(context.Background(), brief(3, 6))
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != schema.System || msgs[1].Role != schema.User {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, `"seconds": 6`) {
		t.Errorf("system message should pin seconds: %s", msgs[0].Content)
	}
	user := msgs[1].Content
	for _, want := range []string{"paper boat", "SEGMENT LENGTH (seconds): 6", "TOTAL SEGMENTS: 3", "exactly 3 segments"} {
		if !strings.Contains(user, want) {
			t.Errorf("user message missing %q:\n%s", want, user)
		}
	}
}
