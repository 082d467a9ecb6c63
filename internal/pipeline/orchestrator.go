package pipeline

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"spica/internal/model"
)

// Planner 把 brief 规划为有序分段
type Planner interface {
	Plan(ctx context.Context, brief model.CreativeBrief) ([]model.SegmentPlan, error)
}

// JobService 远端视频任务接口
type JobService interface {
	JobPoller
	Submit(ctx context.Context, req model.SubmitRequest) (model.GenerationJob, error)
	Fetch(ctx context.Context, jobID, variant string) ([]byte, error)
}

// FrameExtractor 取尾帧
type FrameExtractor interface {
	ExtractFinalFrame(ctx context.Context, video []byte) ([]byte, error)
}

// Result 一次运行的产出。失败时 Segments 只包含已完成的分段
type Result struct {
	RunID    string
	Plans    []model.SegmentPlan
	Segments []model.SegmentResult
	Final    []byte // 最后一段的视频
}

// Orchestrator 按 planning → generating(i) → extracting(i) → … → assembling → done 推进一次运行
type Orchestrator struct {
	planner Planner
	jobs    JobService
	frames  FrameExtractor
	poller  *Poller
	log     logrus.FieldLogger
}

// New 创建编排器，poller 为空时使用默认的 2s × 600
func New(planner Planner, jobs JobService, frames FrameExtractor, poller *Poller, log logrus.FieldLogger) *Orchestrator {
	if poller == nil {
		poller = NewPoller(0, 0)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{planner: planner, jobs: jobs, frames: frames, poller: poller, log: log}
}

// Run 执行一次完整运行，所有错误都是致命的，返回的 error 为 *model.RunError 或 *model.ValidationError
func (o *Orchestrator) Run(ctx context.Context, runID string, brief model.CreativeBrief, obs Observer) (*Result, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	st := newState(runID, brief)
	log := o.log.WithField("run_id", runID)

	if err := brief.Validate(); err != nil {
		st.fail(err)
		obs.OnUpdate(st.Event())
		return o.result(st), err
	}
	obs.OnUpdate(st.Event())

	for !st.terminal() {
		if err := ctx.Err(); err != nil {
			o.abort(st, &model.CancelledError{Cause: err})
			break
		}
		var err error
		switch st.Stage {
		case model.StagePlanning:
			err = o.plan(ctx, st)
		case model.StageGenerating:
			err = o.generate(ctx, st, obs)
		case model.StageExtracting:
			err = o.extract(ctx, st, obs)
		case model.StageAssembling:
			o.assemble(st)
		}
		if err != nil {
			if ctx.Err() != nil && !model.IsCancelled(err) {
				err = &model.CancelledError{Cause: ctx.Err()}
			}
			o.abort(st, err)
		}
		obs.OnUpdate(st.Event())
	}

	if st.Err != nil {
		log.WithError(st.Err).WithField("segment", st.Current).Warn("run failed")
		return o.result(st), st.Err
	}
	log.WithField("segments", len(st.Results)).Info("run finished")
	return o.result(st), nil
}

// abort 把错误包装成带阶段和分段的 RunError 后进入 failed
func (o *Orchestrator) abort(st *PipelineState, err error) {
	var re *model.RunError
	if !errors.As(err, &re) {
		seg := -1
		if st.Stage == model.StageGenerating || st.Stage == model.StageExtracting {
			seg = st.Current
		}
		err = &model.RunError{Stage: st.Stage, Segment: seg, Err: err}
	}
	st.fail(err)
}

func (o *Orchestrator) plan(ctx context.Context, st *PipelineState) error {
	plans, err := o.planner.Plan(ctx, st.brief)
	if err != nil {
		return err
	}
	st.setPlans(plans)
	st.Current = 0
	st.Stage = model.StageGenerating
	return nil
}

// generate 提交、轮询并下载第 Current 段
func (o *Orchestrator) generate(ctx context.Context, st *PipelineState, obs Observer) error {
	i := st.Current
	plan := st.Plans[i]
	st.mark(i, model.SegmentGenerating, 0)
	obs.OnUpdate(st.Event())

	log := o.log.WithFields(logrus.Fields{"run_id": st.RunID, "segment": i})
	job, err := o.jobs.Submit(ctx, model.SubmitRequest{
		Prompt:    plan.Prompt,
		Size:      st.brief.Size.String(),
		Seconds:   plan.Seconds,
		Model:     st.brief.Model,
		Reference: st.reference,
	})
	if err != nil {
		return err
	}
	st.job = job
	log = log.WithField("job_id", job.ID)
	log.Info("segment submitted")

	job, err = o.poller.Wait(ctx, o.jobs, job, func(j model.GenerationJob) {
		st.job = j
		progress := 0.0
		switch j.Status {
		case model.JobInProgress:
			progress = j.Progress
		case model.JobCompleted:
			progress = 100
		}
		st.mark(i, model.SegmentGenerating, progress)
		obs.OnUpdate(st.Event())
	})
	st.job = job
	if err != nil {
		return err
	}

	video, err := o.jobs.Fetch(ctx, job.ID, "video")
	if err != nil {
		return err
	}
	res := model.SegmentResult{Index: i, JobID: job.ID, Video: video}
	if st.reference != nil {
		res.Reference = st.reference.Data
	}
	st.Results = append(st.Results, res)
	log.WithField("bytes", len(video)).Info("segment downloaded")

	if i < len(st.Plans)-1 {
		st.Stage = model.StageExtracting
		return nil
	}
	o.complete(st, obs)
	return nil
}

// extract 从刚完成的分段取尾帧，作为下一段的参考图
func (o *Orchestrator) extract(ctx context.Context, st *PipelineState, obs Observer) error {
	i := st.Current
	res := &st.Results[len(st.Results)-1]
	img, err := o.frames.ExtractFinalFrame(ctx, res.Video)
	if err != nil {
		return err
	}
	res.ContinuityFrame = img
	st.reference = &model.ReferenceImage{Data: img, ContentType: "image/jpeg"}
	o.log.WithFields(logrus.Fields{"run_id": st.RunID, "segment": i, "bytes": len(img)}).Debug("continuity frame ready")

	o.complete(st, obs)
	return nil
}

// complete 记录分段完成并推进到下一段或组装
func (o *Orchestrator) complete(st *PipelineState, obs Observer) {
	i := st.Current
	st.mark(i, model.SegmentCompleted, 100)
	if so, ok := obs.(SegmentObserver); ok {
		so.OnSegment(st.Plans[i], st.Results[len(st.Results)-1])
	}
	if i+1 < len(st.Plans) {
		st.Current = i + 1
		st.Stage = model.StageGenerating
		return
	}
	st.Stage = model.StageAssembling
}

// assemble 交付物即最后一段的视频，不做拼接
func (o *Orchestrator) assemble(st *PipelineState) {
	st.Final = st.Results[len(st.Results)-1].Video
	st.Stage = model.StageDone
}

func (o *Orchestrator) result(st *PipelineState) *Result {
	segs := st.Results
	if st.Err != nil {
		completed := 0
		for _, s := range st.Segments {
			if s.Status == model.SegmentCompleted {
				completed++
			}
		}
		if completed < len(segs) {
			segs = segs[:completed]
		}
	}
	return &Result{
		RunID:    st.RunID,
		Plans:    st.Plans,
		Segments: segs,
		Final:    st.Final,
	}
}
