package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"spica/internal/model"
)

const (
	FinalName    = "final.mp4"
	ManifestName = "manifest.json"
)

// ErrInvalidName 运行ID或文件名包含路径成分
var ErrInvalidName = errors.New("invalid artifact name")

// Store 每次运行一个目录，存放分段视频、尾帧、最终视频和 manifest
type Store struct {
	root string
}

// Manifest 运行产物清单
type Manifest struct {
	RunID      string            `json:"run_id"`
	BasePrompt string            `json:"base_prompt"`
	Model      string            `json:"model"`
	Size       string            `json:"size"`
	Seconds    int               `json:"seconds_per_segment"`
	Count      int               `json:"segment_count"`
	Stage      model.Stage       `json:"stage"`
	Error      string            `json:"error,omitempty"`
	Segments   []ManifestSegment `json:"segments"`
	Final      string            `json:"final,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ManifestSegment 单个分段的产物
type ManifestSegment struct {
	Index           int    `json:"index"`
	Title           string `json:"title"`
	Prompt          string `json:"prompt"`
	JobID           string `json:"job_id"`
	Video           string `json:"video"`
	ContinuityFrame string `json:"continuity_frame,omitempty"`
}

// Open 打开（必要时创建）根目录
func Open(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("store root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root 根目录
func (s *Store) Root() string { return s.root }

func safeName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// RunDir 返回运行目录，不存在则创建
func (s *Store) RunDir(runID string) (string, error) {
	if err := safeName(runID); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	return dir, nil
}

// SegmentVideoName 第 index 段（0起）的视频文件名
func SegmentVideoName(index int) string {
	return fmt.Sprintf("segment_%02d.mp4", index+1)
}

// SegmentFrameName 第 index 段的尾帧文件名
func SegmentFrameName(index int) string {
	return fmt.Sprintf("segment_%02d_last_frame.jpg", index+1)
}

// SaveSegment 写入分段视频及尾帧（如有），返回相对文件名
func (s *Store) SaveSegment(runID string, res model.SegmentResult) (ManifestSegment, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return ManifestSegment{}, err
	}
	ms := ManifestSegment{Index: res.Index, JobID: res.JobID, Video: SegmentVideoName(res.Index)}
	if err := writeFile(filepath.Join(dir, ms.Video), res.Video); err != nil {
		return ManifestSegment{}, err
	}
	if len(res.ContinuityFrame) > 0 {
		ms.ContinuityFrame = SegmentFrameName(res.Index)
		if err := writeFile(filepath.Join(dir, ms.ContinuityFrame), res.ContinuityFrame); err != nil {
			return ManifestSegment{}, err
		}
	}
	return ms, nil
}

// SaveFinal 写入交付视频
func (s *Store) SaveFinal(runID string, video []byte) (string, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(dir, FinalName), video); err != nil {
		return "", err
	}
	return FinalName, nil
}

// SaveManifest 原子地写入 manifest.json
func (s *Store) SaveManifest(m Manifest) error {
	dir, err := s.RunDir(m.RunID)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, ManifestName), b)
}

// LoadManifest 读取 manifest.json
func (s *Store) LoadManifest(runID string) (Manifest, error) {
	p, err := s.Path(runID, ManifestName)
	if err != nil {
		return Manifest{}, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// Path 返回已存在产物的绝对路径，不存在时返回 os.ErrNotExist
func (s *Store) Path(runID, name string) (string, error) {
	if err := safeName(runID); err != nil {
		return "", err
	}
	if err := safeName(name); err != nil {
		return "", err
	}
	p := filepath.Join(s.root, runID, name)
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return p, nil
}

// Remove 删除整个运行目录
func (s *Store) Remove(runID string) error {
	if err := safeName(runID); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.root, runID))
}

func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
