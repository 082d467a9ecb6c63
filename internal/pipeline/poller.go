package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"spica/internal/model"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxAttempts  = 600
)

// JobPoller 单次查询任务状态
type JobPoller interface {
	Poll(ctx context.Context, jobID string) (model.GenerationJob, error)
}

// Poller 固定间隔、有上限的轮询
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	Sleep       func(ctx context.Context, d time.Duration) error // 可注入，测试时不真正等待
}

// NewPoller 创建默认参数的轮询器
func NewPoller(interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Poller{Interval: interval, MaxAttempts: maxAttempts, Sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Poller) policy() backoff.BackOff {
	if p.MaxAttempts <= 1 {
		return &backoff.StopBackOff{}
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(p.MaxAttempts-1))
	b.Reset()
	return b
}

// Wait 轮询直到任务进入终态。第一次查询立即发出；每次观测到的状态都经过 Advance 投影，
// onUpdate 收到投影后的任务。查询出错立即返回，不重试。
func (p *Poller) Wait(ctx context.Context, jobs JobPoller, job model.GenerationJob, onUpdate func(model.GenerationJob)) (model.GenerationJob, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	if onUpdate == nil {
		onUpdate = func(model.GenerationJob) {}
	}
	b := p.policy()

	current := job
	for attempt := 1; ; attempt++ {
		if done, err := settled(current); done {
			return current, err
		}
		if err := ctx.Err(); err != nil {
			return current, &model.CancelledError{Cause: err}
		}
		observed, err := jobs.Poll(ctx, current.ID)
		if err != nil {
			if ctx.Err() != nil {
				return current, &model.CancelledError{Cause: ctx.Err()}
			}
			return current, err
		}
		current = Advance(current, observed)
		onUpdate(current)
		if done, err := settled(current); done {
			return current, err
		}

		d := b.NextBackOff()
		if d == backoff.Stop {
			return current, &model.TimeoutError{JobID: current.ID, Attempts: attempt, Interval: p.Interval}
		}
		if err := sleep(ctx, d); err != nil {
			return current, &model.CancelledError{Cause: err}
		}
	}
}

func settled(job model.GenerationJob) (bool, error) {
	switch job.Status {
	case model.JobCompleted:
		return true, nil
	case model.JobFailed:
		return true, &model.JobFailedError{JobID: job.ID, Reason: job.Error}
	}
	return false, nil
}

// Advance 把新观测合并进当前状态：终态不再改变，状态不回退，进度不减小
func Advance(prev, next model.GenerationJob) model.GenerationJob {
	if prev.Status.Terminal() {
		return prev
	}
	if next.Status.Rank() < prev.Status.Rank() {
		return prev
	}
	out := next
	out.ID = prev.ID
	if out.Status == prev.Status && out.Progress < prev.Progress {
		out.Progress = prev.Progress
	}
	if out.Status == model.JobCompleted {
		out.Progress = 100
	}
	return out
}
