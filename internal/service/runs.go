package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"spica/internal/model"
	"spica/internal/pipeline"
	"spica/internal/progress"
	"spica/internal/store"
)

var (
	ErrNotFound = errors.New("run not found")
	ErrNotReady = errors.New("artifact not ready")
)

// Runner 执行一次流水线运行，*pipeline.Orchestrator 满足该接口
type Runner interface {
	Run(ctx context.Context, runID string, brief model.CreativeBrief, obs pipeline.Observer) (*pipeline.Result, error)
}

// Defaults 请求未填写时使用的默认值
type Defaults struct {
	Model             string
	PlannerModel      string
	Size              model.Resolution
	SecondsPerSegment int
	SegmentCount      int
}

// Config 运行管理配置
type Config struct {
	MaxConcurrentRuns int64
	RunTTL            time.Duration
	Defaults          Defaults
}

// RunManager 管理并发执行的运行：启动、取消、快照、订阅、过期清理
type RunManager struct {
	runner Runner
	hub    *progress.Hub
	store  *store.Store
	sem    *semaphore.Weighted
	cfg    Config
	log    logrus.FieldLogger

	mu   sync.RWMutex
	runs map[string]*run
	wg   sync.WaitGroup
}

type run struct {
	id        string
	brief     model.CreativeBrief
	cancel    context.CancelFunc
	createdAt time.Time
	done      chan struct{}

	mu         sync.Mutex
	event      model.RunEvent
	manifest   store.Manifest
	finishedAt time.Time
	err        error
}

// NewRunManager 创建运行管理器
func NewRunManager(runner Runner, hub *progress.Hub, st *store.Store, cfg Config, log logrus.FieldLogger) *RunManager {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 4
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RunManager{
		runner: runner,
		hub:    hub,
		store:  st,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrentRuns),
		cfg:    cfg,
		log:    log,
		runs:   make(map[string]*run),
	}
}

// ApplyDefaults 用配置补全 brief 的空字段
func (m *RunManager) ApplyDefaults(b *model.CreativeBrief) {
	d := m.cfg.Defaults
	if b.Model == "" {
		b.Model = d.Model
	}
	if b.PlannerModel == "" {
		b.PlannerModel = d.PlannerModel
	}
	if b.Size.Width == 0 && b.Size.Height == 0 {
		b.Size = d.Size
	}
	if b.SecondsPerSegment == 0 {
		b.SecondsPerSegment = d.SecondsPerSegment
	}
	if b.SegmentCount == 0 {
		b.SegmentCount = d.SegmentCount
	}
}

// Start 同步校验 brief，然后在后台启动运行，返回运行ID
func (m *RunManager) Start(brief model.CreativeBrief) (string, error) {
	m.ApplyDefaults(&brief)
	if err := brief.Validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	r := &run{
		id:        id,
		brief:     brief,
		cancel:    cancel,
		createdAt: now,
		done:      make(chan struct{}),
		event:     model.RunEvent{RunID: id, Stage: model.StagePlanning, Segments: []model.SegmentProgress{}},
		manifest: store.Manifest{
			RunID:      id,
			BasePrompt: brief.BasePrompt,
			Model:      brief.Model,
			Size:       brief.Size.String(),
			Seconds:    brief.SecondsPerSegment,
			Count:      brief.SegmentCount,
			Stage:      model.StagePlanning,
			Segments:   []store.ManifestSegment{},
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}

	m.mu.Lock()
	m.runs[id] = r
	m.mu.Unlock()

	m.wg.Add(1)
	go m.execute(ctx, r)

	m.log.WithFields(logrus.Fields{
		"run_id":   id,
		"segments": brief.SegmentCount,
		"seconds":  brief.SecondsPerSegment,
		"model":    brief.Model,
	}).Info("run accepted")
	return id, nil
}

func (m *RunManager) execute(ctx context.Context, r *run) {
	defer m.wg.Done()
	defer close(r.done)
	defer r.cancel()
	log := m.log.WithField("run_id", r.id)

	obs := &runObserver{m: m, r: r}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		cerr := &model.RunError{Stage: model.StagePlanning, Segment: -1, Err: &model.CancelledError{Cause: err}}
		m.finish(r, model.RunEvent{RunID: r.id, Stage: model.StageFailed, Segments: []model.SegmentProgress{}, Done: true, Error: cerr.Error()}, cerr, nil)
		return
	}
	defer m.sem.Release(1)

	res, err := m.runner.Run(ctx, r.id, r.brief, obs)
	if err != nil {
		log.WithError(err).Warn("run ended with error")
	}
	final := obs.terminal
	if final == nil {
		ev := r.snapshot()
		ev.Done = true
		if err != nil {
			ev.Stage = model.StageFailed
			ev.Error = err.Error()
		}
		final = &ev
	}
	m.finish(r, *final, err, res)
}

// finish 先落盘交付物和 manifest，再发布终态事件，保证订阅者收到 done 时产物已可下载
func (m *RunManager) finish(r *run, ev model.RunEvent, runErr error, res *pipeline.Result) {
	log := m.log.WithField("run_id", r.id)
	r.mu.Lock()
	if runErr == nil && res != nil && len(res.Final) > 0 && m.store != nil {
		name, err := m.store.SaveFinal(r.id, res.Final)
		if err != nil {
			log.WithError(err).Error("save final video failed")
		} else {
			r.manifest.Final = name
		}
	}
	r.event = ev
	r.err = runErr
	r.finishedAt = time.Now()
	r.manifest.Stage = ev.Stage
	r.manifest.Error = ev.Error
	r.manifest.UpdatedAt = r.finishedAt
	manifest := r.manifest
	r.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveManifest(manifest); err != nil {
			log.WithError(err).Error("save manifest failed")
		}
	}
	if m.hub != nil {
		m.hub.Publish(r.id, ev)
	}
}

func (r *run) snapshot() model.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := r.event
	ev.Segments = append([]model.SegmentProgress(nil), r.event.Segments...)
	return ev
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// runObserver 把编排器的进度写入快照并转发到 hub；终态事件留给 finish 发布
type runObserver struct {
	m        *RunManager
	r        *run
	terminal *model.RunEvent
}

func (o *runObserver) OnUpdate(ev model.RunEvent) {
	if ev.Done {
		o.terminal = &ev
		return
	}
	o.r.mu.Lock()
	o.r.event = ev
	o.r.manifest.Stage = ev.Stage
	o.r.mu.Unlock()
	if o.m.hub != nil {
		o.m.hub.Publish(o.r.id, ev)
	}
}

func (o *runObserver) OnSegment(plan model.SegmentPlan, res model.SegmentResult) {
	if o.m.store == nil {
		return
	}
	log := o.m.log.WithFields(logrus.Fields{"run_id": o.r.id, "segment": res.Index, "job_id": res.JobID})
	ms, err := o.m.store.SaveSegment(o.r.id, res)
	if err != nil {
		log.WithError(err).Error("save segment failed")
		return
	}
	ms.Title = plan.Title
	ms.Prompt = plan.Prompt

	o.r.mu.Lock()
	o.r.manifest.Segments = append(o.r.manifest.Segments, ms)
	o.r.manifest.UpdatedAt = time.Now()
	manifest := o.r.manifest
	o.r.mu.Unlock()

	if err := o.m.store.SaveManifest(manifest); err != nil {
		log.WithError(err).Warn("save manifest failed")
	}
	log.Info("segment saved")
}

func (m *RunManager) get(id string) (*run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// Snapshot 返回运行的最新进度
func (m *RunManager) Snapshot(id string) (model.RunEvent, error) {
	r, err := m.get(id)
	if err != nil {
		return model.RunEvent{}, err
	}
	return r.snapshot(), nil
}

// Manifest 返回运行的产物清单
func (m *RunManager) Manifest(id string) (store.Manifest, error) {
	r, err := m.get(id)
	if err != nil {
		return store.Manifest{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.manifest
	out.Segments = append([]store.ManifestSegment(nil), r.manifest.Segments...)
	return out, nil
}

// Cancel 请求取消；已结束的运行不受影响
func (m *RunManager) Cancel(id string) error {
	r, err := m.get(id)
	if err != nil {
		return err
	}
	if !r.finished() {
		m.log.WithField("run_id", id).Info("cancel requested")
	}
	r.cancel()
	return nil
}

// Wait 阻塞直到运行结束或 ctx 结束
func (m *RunManager) Wait(ctx context.Context, id string) (model.RunEvent, error) {
	r, err := m.get(id)
	if err != nil {
		return model.RunEvent{}, err
	}
	select {
	case <-r.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return model.RunEvent{}, ctx.Err()
	}
}

// Subscribe 先订阅再取快照，避免漏掉两者之间的事件
func (m *RunManager) Subscribe(id string) (<-chan model.RunEvent, model.RunEvent, func(), error) {
	if _, err := m.get(id); err != nil {
		return nil, model.RunEvent{}, nil, err
	}
	if m.hub == nil {
		return nil, model.RunEvent{}, nil, errors.New("progress hub not configured")
	}
	ch, unsub := m.hub.Subscribe(id, 32)
	snap, err := m.Snapshot(id)
	if err != nil {
		unsub()
		return nil, model.RunEvent{}, nil, err
	}
	return ch, snap, unsub, nil
}

// FinalPath 交付视频的路径
func (m *RunManager) FinalPath(id string) (string, error) {
	man, err := m.Manifest(id)
	if err != nil {
		return "", err
	}
	if man.Final == "" {
		return "", ErrNotReady
	}
	return m.store.Path(id, man.Final)
}

// SegmentPath 第 index 段视频的路径
func (m *RunManager) SegmentPath(id string, index int) (string, error) {
	man, err := m.Manifest(id)
	if err != nil {
		return "", err
	}
	for _, s := range man.Segments {
		if s.Index == index {
			return m.store.Path(id, s.Video)
		}
	}
	if index < 0 || index >= man.Count {
		return "", ErrNotFound
	}
	return "", ErrNotReady
}

// Stats 当前运行概况
type Stats struct {
	Active   int   `json:"active"`
	Finished int   `json:"finished"`
	Limit    int64 `json:"max_concurrent_runs"`
}

func (m *RunManager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{Limit: m.cfg.MaxConcurrentRuns}
	for _, r := range m.runs {
		if r.finished() {
			s.Finished++
		} else {
			s.Active++
		}
	}
	return s
}

// StartCleanupLoop 定期清理结束超过 ttl 的运行及其产物
func (m *RunManager) StartCleanupLoop(ctx context.Context, interval time.Duration) {
	ttl := m.cfg.RunTTL
	if interval <= 0 || ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.cleanup(time.Now().Add(-ttl))
			}
		}
	}()
}

func (m *RunManager) cleanup(cutoff time.Time) int {
	var expired []string
	m.mu.Lock()
	for id, r := range m.runs {
		if !r.finished() {
			continue
		}
		r.mu.Lock()
		old := r.finishedAt.Before(cutoff)
		r.mu.Unlock()
		if old {
			expired = append(expired, id)
			delete(m.runs, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		if m.store != nil {
			if err := m.store.Remove(id); err != nil {
				m.log.WithError(err).WithField("run_id", id).Warn("remove run artifacts failed")
			}
		}
	}
	if len(expired) > 0 {
		m.log.WithField("count", len(expired)).Info("expired runs removed")
	}
	return len(expired)
}

// Shutdown 取消所有运行并等待它们退出
func (m *RunManager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, r := range m.runs {
		r.cancel()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
