package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValidationError 输入不合法，在任何网络调用之前返回
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ServiceError 远端返回非2xx
type ServiceError struct {
	Op         string // plan / submit / poll / fetch
	StatusCode int
	Message    string // 从 {"error":{"message":...}} 中提取，可能为空
	Body       string
}

func (e *ServiceError) Error() string {
	detail := e.Message
	if detail == "" {
		detail = strings.TrimSpace(e.Body)
	}
	if detail == "" {
		return fmt.Sprintf("%s failed: http %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s failed: http %d: %s", e.Op, e.StatusCode, detail)
}

// MalformedResponse 成功状态码但响应无法解析
type MalformedResponse struct {
	Op     string
	Reason string
	Raw    string
}

func (e *MalformedResponse) Error() string {
	return fmt.Sprintf("%s: malformed response: %s", e.Op, e.Reason)
}

// ExtractionError 无法从视频中提取尾帧
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract final frame: %s: %v", e.Reason, e.Err)
	}
	return "extract final frame: " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// TimeoutError 轮询次数用尽
type TimeoutError struct {
	JobID    string
	Attempts int
	Interval time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %d polls (%s)", e.JobID, e.Attempts, time.Duration(e.Attempts)*e.Interval)
}

// JobFailedError 远端报告任务失败，Reason 原样保留
type JobFailedError struct {
	JobID  string
	Reason string
}

func (e *JobFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return e.Reason
}

// CancelledError 调用方主动放弃
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	if e.Cause != nil {
		return "run cancelled: " + e.Cause.Error()
	}
	return "run cancelled"
}

func (e *CancelledError) Unwrap() error { return e.Cause }

// RunError 运行级聚合错误，标明失败的阶段与分段
type RunError struct {
	Stage   Stage
	Segment int // -1 表示与分段无关
	Err     error
}

func (e *RunError) Error() string {
	if e.Segment < 0 {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed at segment %d: %v", e.Stage, e.Segment+1, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// IsValidation 判断错误链中是否有 ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsCancelled 判断错误链中是否有 CancelledError
func IsCancelled(err error) bool {
	var c *CancelledError
	return errors.As(err, &c)
}
