package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"spica/internal/api"
	"spica/internal/config"
	"spica/internal/frame"
	"spica/internal/model"
	"spica/internal/pipeline"
	"spica/internal/planner"
	"spica/internal/progress"
	"spica/internal/service"
	"spica/internal/sora"
	"spica/internal/store"
	"spica/internal/tools"
	"spica/internal/volc"
)

func main() {
	path := os.Getenv("SPICA_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}

	// 初始化日志
	log, closeLog, err := config.InitLogging(cfg.Log)
	if err != nil {
		logrus.Fatalf("初始化日志失败: %v", err)
	}
	defer closeLog()

	// 按配置选择规划与视频任务后端
	svc, jobs := buildBackend(cfg)
	pl := planner.New(svc, planner.Config{
		DefaultModel:   cfg.Pipeline.PlannerModel,
		AllowShortPlan: cfg.Pipeline.AllowShortPlan,
	}, log.WithField("component", "planner"))

	frames := frame.New(frame.Config{
		FFmpegPath:  cfg.FFmpeg.FFmpegPath,
		FFprobePath: cfg.FFmpeg.FFprobePath,
		TailOffset:  cfg.FFmpeg.TailOffset,
		TempDir:     cfg.FFmpeg.TempDir,
	}, nil, log.WithField("component", "frame"))

	poller := pipeline.NewPoller(cfg.Pipeline.PollInterval, cfg.Pipeline.MaxPollAttempts)
	orchestrator := pipeline.New(pl, jobs, frames, poller, log.WithField("component", "pipeline"))

	st, err := store.Open(cfg.Storage.OutputDir)
	if err != nil {
		log.Fatalf("打开输出目录失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := progress.NewHub()
	go hub.Run(ctx)

	size, err := model.ParseResolution(cfg.Pipeline.Size)
	if err != nil {
		log.Fatalf("pipeline.size: %v", err)
	}
	runs := service.NewRunManager(orchestrator, hub, st, service.Config{
		MaxConcurrentRuns: cfg.Pipeline.MaxConcurrentRuns,
		RunTTL:            cfg.Pipeline.RunTTL,
		Defaults: service.Defaults{
			Model:             cfg.Pipeline.Model,
			PlannerModel:      cfg.Pipeline.PlannerModel,
			Size:              size,
			SecondsPerSegment: cfg.Pipeline.SecondsPerSegment,
			SegmentCount:      cfg.Pipeline.SegmentCount,
		},
	}, log.WithField("component", "runs"))
	runs.StartCleanupLoop(ctx, cfg.Pipeline.CleanupInterval)

	// 初始化工具
	planTool := tools.NewPlanTool(pl, cfg.Pipeline.Model)

	// 初始化Gin路由
	router := gin.Default()
	api.NewServer(runs, planTool, api.Info{
		Name:    "spica",
		Backend: cfg.Backend,
		Defaults: map[string]any{
			"model":               cfg.Pipeline.Model,
			"planner_model":       cfg.Pipeline.PlannerModel,
			"size":                cfg.Pipeline.Size,
			"seconds_per_segment": cfg.Pipeline.SecondsPerSegment,
			"segment_count":       cfg.Pipeline.SegmentCount,
			"max_segments":        model.MaxSegments,
		},
		Routes: map[string]string{
			"create": "POST /pipeline/runs",
			"status": "GET /pipeline/runs/:id",
			"cancel": "DELETE /pipeline/runs/:id",
			"events": "GET /pipeline/runs/:id/events",
			"ws":     "GET /pipeline/runs/:id/ws",
			"video":  "GET /pipeline/runs/:id/video",
			"plan":   "POST /tools/plan-segments",
		},
	}, log.WithField("component", "api")).Register(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("服务器启动在 %s (backend=%s)", cfg.Server.Addr, cfg.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// 等待中断信号或服务器异常退出
		<-gctx.Done()
		log.Info("关闭服务器...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("服务器关闭失败")
		}
		return runs.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Errorf("服务器退出: %v", err)
		return
	}
	log.Info("服务器已关闭")
}

// buildBackend 按配置创建规划服务与视频任务服务
func buildBackend(cfg *config.Config) (planner.PlanningService, pipeline.JobService) {
	switch cfg.Backend {
	case config.BackendArk:
		arkClient := volc.NewArkClient(cfg.Ark.APIKey, cfg.Ark.BaseURL, cfg.Ark.Timeout)
		return volc.NewArkPlanner(arkClient, nil), volc.NewSeedanceJobs(arkClient, nil)
	default:
		client := sora.NewClient(cfg.Sora.BaseURL, cfg.Sora.APIKey, cfg.Sora.Timeout)
		return planner.SoraService{Client: client}, client
	}
}
