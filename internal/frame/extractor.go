package frame

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"spica/internal/model"
)

// DefaultTailOffset 距离片尾的取帧偏移
const DefaultTailOffset = 100 * time.Millisecond

// Runner 执行外部命令并返回标准输出
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner 基于 os/exec 的实现，ctx 取消时进程被杀掉
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 400 {
			msg = msg[len(msg)-400:]
		}
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Config 取帧配置
type Config struct {
	FFmpegPath  string
	FFprobePath string
	TailOffset  time.Duration
	TempDir     string // 为空时使用系统临时目录
}

// Probe ffprobe 结果
type Probe struct {
	Duration float64
	Width    int
	Height   int
}

// Extractor 从一段视频中取出最后一帧，作为下一段的参考图
type Extractor struct {
	cfg    Config
	runner Runner
	log    logrus.FieldLogger
}

// New 创建取帧器，runner 为空时使用 ExecRunner
func New(cfg Config, runner Runner, log logrus.FieldLogger) *Extractor {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.TailOffset <= 0 {
		cfg.TailOffset = DefaultTailOffset
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Extractor{cfg: cfg, runner: runner, log: log}
}

// ExtractFinalFrame 返回片尾附近一帧的 JPEG 字节
func (e *Extractor) ExtractFinalFrame(ctx context.Context, video []byte) ([]byte, error) {
	if len(video) == 0 {
		return nil, &model.ExtractionError{Reason: "video is empty"}
	}
	dir, err := os.MkdirTemp(e.cfg.TempDir, "spica-frame-*")
	if err != nil {
		return nil, &model.ExtractionError{Reason: "create temp dir", Err: err}
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.mp4")
	if err := os.WriteFile(in, video, 0o600); err != nil {
		return nil, &model.ExtractionError{Reason: "write video", Err: err}
	}

	probe, err := e.Probe(ctx, in)
	if err != nil {
		return nil, err
	}

	seek := probe.Duration - e.cfg.TailOffset.Seconds()
	if seek < 0 {
		seek = 0
	}
	out := filepath.Join(dir, "last.jpg")
	_, err = e.runner.Run(ctx, e.cfg.FFmpegPath,
		"-y",
		"-v", "error",
		"-ss", strconv.FormatFloat(seek, 'f', 3, 64),
		"-i", in,
		"-frames:v", "1",
		"-q:v", "2",
		out,
	)
	if err != nil {
		return nil, &model.ExtractionError{Reason: "ffmpeg", Err: err}
	}

	img, err := os.ReadFile(out)
	if err != nil {
		return nil, &model.ExtractionError{Reason: "read frame", Err: err}
	}
	if len(img) == 0 {
		return nil, &model.ExtractionError{Reason: "ffmpeg produced an empty frame"}
	}
	if mt := mimetype.Detect(img); !mt.Is("image/jpeg") {
		return nil, &model.ExtractionError{Reason: "frame is not a JPEG (" + mt.String() + ")"}
	}
	e.log.WithFields(logrus.Fields{
		"duration": probe.Duration,
		"seek":     seek,
		"width":    probe.Width,
		"height":   probe.Height,
		"bytes":    len(img),
	}).Debug("final frame extracted")
	return img, nil
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe 读取视频时长与首个视频流的尺寸
func (e *Extractor) Probe(ctx context.Context, path string) (Probe, error) {
	raw, err := e.runner.Run(ctx, e.cfg.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return Probe{}, &model.ExtractionError{Reason: "ffprobe", Err: err}
	}
	var po probeOutput
	if err := json.Unmarshal(raw, &po); err != nil {
		return Probe{}, &model.ExtractionError{Reason: "decode ffprobe output", Err: err}
	}
	if len(po.Streams) == 0 {
		return Probe{}, &model.ExtractionError{Reason: "no video stream"}
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(po.Format.Duration), 64)
	if err != nil {
		return Probe{}, &model.ExtractionError{Reason: "unreadable duration", Err: err}
	}
	p := Probe{Duration: d, Width: po.Streams[0].Width, Height: po.Streams[0].Height}
	if p.Duration <= 0 {
		return Probe{}, &model.ExtractionError{Reason: "video has zero duration"}
	}
	if p.Width <= 0 || p.Height <= 0 {
		return Probe{}, &model.ExtractionError{Reason: "video has no frame dimensions"}
	}
	return p, nil
}

// IsExtraction 判断是否为取帧错误
func IsExtraction(err error) bool {
	var ee *model.ExtractionError
	return errors.As(err, &ee)
}
