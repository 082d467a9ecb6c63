package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendSora = "sora"
	BackendArk  = "ark"
)

// Config 服务配置，对应 config.yaml
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Backend  string         `yaml:"backend"` // sora 或 ark
	Sora     SoraConfig     `yaml:"sora"`
	Ark      ArkConfig      `yaml:"ark"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	FFmpeg   FFmpegConfig   `yaml:"ffmpeg"`
	Storage  StorageConfig  `yaml:"storage"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"` // 为空时只写标准输出
}

type SoraConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type ArkConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// PipelineConfig 流水线默认值与轮询参数
type PipelineConfig struct {
	Model             string        `yaml:"model"`
	PlannerModel      string        `yaml:"planner_model"`
	Size              string        `yaml:"size"`
	SecondsPerSegment int           `yaml:"seconds_per_segment"`
	SegmentCount      int           `yaml:"segment_count"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxPollAttempts   int           `yaml:"max_poll_attempts"`
	AllowShortPlan    bool          `yaml:"allow_short_plan"`
	MaxConcurrentRuns int64         `yaml:"max_concurrent_runs"`
	RunTTL            time.Duration `yaml:"run_ttl"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

type FFmpegConfig struct {
	FFmpegPath  string        `yaml:"ffmpeg_path"`
	FFprobePath string        `yaml:"ffprobe_path"`
	TailOffset  time.Duration `yaml:"tail_offset"`
	TempDir     string        `yaml:"temp_dir"`
}

type StorageConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Log:     LogConfig{Level: "info"},
		Backend: BackendSora,
		Sora:    SoraConfig{BaseURL: "https://api.openai.com/v1", Timeout: 120 * time.Second},
		Ark:     ArkConfig{BaseURL: "https://ark.cn-beijing.volces.com/api/v3", Timeout: 120 * time.Second},
		Pipeline: PipelineConfig{
			Model:             "sora-2",
			PlannerModel:      "gpt-4o",
			Size:              "1280x720",
			SecondsPerSegment: 8,
			SegmentCount:      3,
			PollInterval:      2 * time.Second,
			MaxPollAttempts:   600,
			MaxConcurrentRuns: 4,
			RunTTL:            24 * time.Hour,
			CleanupInterval:   10 * time.Minute,
		},
		FFmpeg:  FFmpegConfig{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe", TailOffset: 100 * time.Millisecond},
		Storage: StorageConfig{OutputDir: "outputs"},
	}
}

// Load 读取 .env 与配置文件，path 不存在时使用默认值，最后应用环境变量覆盖
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Sora.APIKey, "OPENAI_API_KEY")
	set(&c.Sora.BaseURL, "OPENAI_BASE_URL")
	set(&c.Ark.APIKey, "ARK_API_KEY")
	set(&c.Backend, "SPICA_BACKEND")
	set(&c.Server.Addr, "SPICA_ADDR")
	set(&c.Storage.OutputDir, "SPICA_OUTPUT_DIR")
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend != BackendSora && c.Backend != BackendArk {
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Pipeline.PollInterval <= 0 {
		return errors.New("config: pipeline.poll_interval must be positive")
	}
	if c.Pipeline.MaxPollAttempts < 1 {
		return errors.New("config: pipeline.max_poll_attempts must be at least 1")
	}
	if c.Pipeline.MaxConcurrentRuns < 1 {
		return errors.New("config: pipeline.max_concurrent_runs must be at least 1")
	}
	if c.Storage.OutputDir == "" {
		return errors.New("config: storage.output_dir is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	return nil
}
