package pipeline

import (
	"spica/internal/model"
)

// Observer 接收运行进度，每次收到的都是独立副本
type Observer interface {
	OnUpdate(ev model.RunEvent)
}

// SegmentObserver 可选扩展：分段完成时拿到产物
type SegmentObserver interface {
	Observer
	OnSegment(plan model.SegmentPlan, res model.SegmentResult)
}

// ObserverFunc 函数适配
type ObserverFunc func(ev model.RunEvent)

func (f ObserverFunc) OnUpdate(ev model.RunEvent) { f(ev) }

type nopObserver struct{}

func (nopObserver) OnUpdate(model.RunEvent) {}

// PipelineState 单次运行的可变状态，只由所属的 Orchestrator 修改
type PipelineState struct {
	RunID    string
	Stage    model.Stage
	Current  int
	Plans    []model.SegmentPlan
	Segments []model.SegmentProgress
	Results  []model.SegmentResult
	Final    []byte
	Err      error

	brief     model.CreativeBrief
	reference *model.ReferenceImage // 下一段提交时使用的参考图
	job       model.GenerationJob   // 当前分段的远端任务
}

func newState(runID string, brief model.CreativeBrief) *PipelineState {
	return &PipelineState{
		RunID:     runID,
		Stage:     model.StagePlanning,
		brief:     brief,
		reference: brief.InitialReference,
	}
}

func (s *PipelineState) setPlans(plans []model.SegmentPlan) {
	s.Plans = plans
	s.Segments = make([]model.SegmentProgress, len(plans))
	for i, p := range plans {
		s.Segments[i] = model.SegmentProgress{Index: i, Title: p.Title, Status: model.SegmentPending}
	}
	s.Results = make([]model.SegmentResult, 0, len(plans))
}

func (s *PipelineState) mark(i int, status model.SegmentStatus, progress float64) {
	if i < 0 || i >= len(s.Segments) {
		return
	}
	s.Segments[i].Status = status
	s.Segments[i].Progress = progress
}

// fail 进入终态 failed，正在生成的分段标记为失败，已完成的保持不变
func (s *PipelineState) fail(err error) {
	for i := range s.Segments {
		if s.Segments[i].Status == model.SegmentGenerating {
			s.Segments[i].Status = model.SegmentFailed
		}
	}
	s.Stage = model.StageFailed
	s.Err = err
}

func (s *PipelineState) terminal() bool {
	return s.Stage == model.StageDone || s.Stage == model.StageFailed
}

// Event 生成当前状态的快照
func (s *PipelineState) Event() model.RunEvent {
	ev := model.RunEvent{
		RunID:    s.RunID,
		Stage:    s.Stage,
		Current:  s.Current,
		Segments: append([]model.SegmentProgress(nil), s.Segments...),
		Done:     s.terminal(),
	}
	if ev.Segments == nil {
		ev.Segments = []model.SegmentProgress{}
	}
	if s.Err != nil {
		ev.Error = s.Err.Error()
	}
	return ev
}
