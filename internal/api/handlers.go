package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"spica/internal/model"
	"spica/internal/service"
	"spica/internal/store"
)

// Runs 运行管理能力，*service.RunManager 实现该接口
type Runs interface {
	Start(brief model.CreativeBrief) (string, error)
	Snapshot(id string) (model.RunEvent, error)
	Manifest(id string) (store.Manifest, error)
	Cancel(id string) error
	Subscribe(id string) (<-chan model.RunEvent, model.RunEvent, func(), error)
	FinalPath(id string) (string, error)
	SegmentPath(id string, index int) (string, error)
	Stats() service.Stats
}

// Info /pipeline/info 返回的静态信息
type Info struct {
	Name     string            `json:"name"`
	Backend  string            `json:"backend"`
	Defaults map[string]any    `json:"defaults"`
	Routes   map[string]string `json:"routes"`
}

// Server 持有 HTTP 层依赖
type Server struct {
	runs     Runs
	planTool einotool.InvokableTool
	info     Info
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

// NewServer 创建 HTTP 层
func NewServer(runs Runs, planTool einotool.InvokableTool, info Info, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		runs:     runs,
		planTool: planTool,
		info:     info,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Register 注册路由
func (s *Server) Register(router gin.IRouter) {
	router.GET("/healthz", handleHealth())
	router.GET("/pipeline/info", s.handleInfo())
	router.POST("/pipeline/runs", s.handleCreateRun())
	router.GET("/pipeline/runs/:id", s.handleGetRun())
	router.DELETE("/pipeline/runs/:id", s.handleCancelRun())
	router.GET("/pipeline/runs/:id/manifest", s.handleManifest())
	router.GET("/pipeline/runs/:id/events", s.handleEvents())
	router.GET("/pipeline/runs/:id/ws", s.handleWebsocket())
	router.GET("/pipeline/runs/:id/video", s.handleFinalVideo())
	router.GET("/pipeline/runs/:id/segments/:index/video", s.handleSegmentVideo())
	if s.planTool != nil {
		router.POST("/tools/plan-segments", s.handlePlanSegments())
	}
}

// createRunRequest 创建运行的请求体
type createRunRequest struct {
	BasePrompt          string `json:"base_prompt"`
	SecondsPerSegment   int    `json:"seconds_per_segment"`
	SegmentCount        int    `json:"segment_count"`
	Size                string `json:"size"`
	Model               string `json:"model"`
	PlannerModel        string `json:"planner_model"`
	FirstFrameReference string `json:"first_frame_reference"` // data URL，可选
}

func (r createRunRequest) brief() (model.CreativeBrief, error) {
	b := model.CreativeBrief{
		BasePrompt:        r.BasePrompt,
		SecondsPerSegment: r.SecondsPerSegment,
		SegmentCount:      r.SegmentCount,
		Model:             r.Model,
		PlannerModel:      r.PlannerModel,
	}
	if strings.TrimSpace(r.Size) != "" {
		size, err := model.ParseResolution(r.Size)
		if err != nil {
			return b, &model.ValidationError{Field: "size", Reason: err.Error()}
		}
		b.Size = size
	}
	if r.FirstFrameReference != "" {
		ref, err := DecodeDataURL(r.FirstFrameReference)
		if err != nil {
			return b, &model.ValidationError{Field: "first_frame_reference", Reason: err.Error()}
		}
		b.InitialReference = ref
	}
	return b, nil
}

// DecodeDataURL 解析 data:<type>;base64,<payload>
func DecodeDataURL(s string) (*model.ReferenceImage, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "data:")
	if !ok {
		return nil, errors.New("must be a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.New("data URL has no payload")
	}
	contentType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, errors.New("data URL must be base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("bad base64 payload: %w", err)
	}
	return &model.ReferenceImage{Data: data, ContentType: contentType}, nil
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// handleInfo 服务信息与运行概况
func (s *Server) handleInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"info":  s.info,
			"stats": s.runs.Stats(),
		})
	}
}

// handleCreateRun 校验请求并启动运行
func (s *Server) handleCreateRun() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		brief, err := req.brief()
		if err != nil {
			writeError(c, err)
			return
		}
		id, err := s.runs.Start(brief)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"run_id": id})
	}
}

func (s *Server) handleGetRun() gin.HandlerFunc {
	return func(c *gin.Context) {
		ev, err := s.runs.Snapshot(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ev)
	}
}

func (s *Server) handleCancelRun() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := s.runs.Cancel(id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"run_id": id, "status": "cancel requested"})
	}
}

func (s *Server) handleManifest() gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := s.runs.Manifest(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// handleEvents 以 SSE 推送运行进度，直到运行结束或连接断开
func (s *Server) handleEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		ch, snap, unsub, err := s.runs.Subscribe(id)
		if err != nil {
			writeError(c, err)
			return
		}
		defer unsub()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.String(http.StatusInternalServerError, "streaming unsupported")
			return
		}

		// 注释行作为握手，部分代理需要它保持连接
		fmt.Fprintf(c.Writer, ": connected\n\n")
		writeEvent := func(ev model.RunEvent) bool {
			b, err := json.Marshal(ev)
			if err != nil {
				s.log.WithError(err).WithField("run_id", id).Warn("marshal event failed")
				return false
			}
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", b); err != nil {
				return false
			}
			flusher.Flush()
			return !ev.Done
		}
		if !writeEvent(snap) {
			return
		}

		notify := c.Request.Context().Done()
		for {
			select {
			case <-notify:
				return
			case ev := <-ch:
				if !writeEvent(ev) {
					return
				}
			}
		}
	}
}

// handleWebsocket 通过 websocket 推送运行进度
func (s *Server) handleWebsocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		ch, snap, unsub, err := s.runs.Subscribe(id)
		if err != nil {
			writeError(c, err)
			return
		}
		defer unsub()

		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.log.WithError(err).WithField("run_id", id).Warn("websocket upgrade failed")
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		// 读循环只用于感知客户端断开
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		if err := conn.WriteJSON(snap); err != nil || snap.Done {
			closeWebsocket(conn)
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
				if ev.Done {
					closeWebsocket(conn)
					return
				}
			}
		}
	}
}

func closeWebsocket(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
}

// handleFinalVideo 下载交付视频
func (s *Server) handleFinalVideo() gin.HandlerFunc {
	return func(c *gin.Context) {
		path, err := s.runs.FinalPath(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Content-Type", "video/mp4")
		c.File(path)
	}
}

// handleSegmentVideo 下载单个分段视频，index 从0开始
func (s *Server) handleSegmentVideo() gin.HandlerFunc {
	return func(c *gin.Context) {
		index, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
			return
		}
		path, err := s.runs.SegmentPath(c.Param("id"), index)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Content-Type", "video/mp4")
		c.File(path)
	}
}

// handlePlanSegments 直接调用规划工具
func (s *Server) handlePlanSegments() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil || !json.Valid(body) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		result, err := s.planTool.InvokableRun(c.Request.Context(), string(body))
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", []byte(result))
	}
}

// writeError 把领域错误映射为 HTTP 状态码
func writeError(c *gin.Context, err error) {
	var (
		ve *model.ValidationError
		se *model.ServiceError
		mr *model.MalformedResponse
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve), errors.Is(err, store.ErrInvalidName):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound), errors.Is(err, os.ErrNotExist):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNotReady):
		status = http.StatusConflict
	case errors.As(err, &se), errors.As(err, &mr):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
