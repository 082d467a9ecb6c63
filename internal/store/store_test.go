package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"spica/internal/model"
)

func TestSaveSegmentWritesFiles(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ms, err := s.SaveSegment("run1", model.SegmentResult{Index: 0, JobID: "video_1", Video: []byte("mp4"), ContinuityFrame: []byte("jpg")})
	if err != nil {
		t.Fatalf("SaveSegment: %v", err)
	}
	if ms.Video != "segment_01.mp4" || ms.ContinuityFrame != "segment_01_last_frame.jpg" || ms.JobID != "video_1" {
		t.Errorf("unexpected %+v", ms)
	}
	p, err := s.Path("run1", ms.Video)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if b, _ := os.ReadFile(p); string(b) != "mp4" {
		t.Errorf("video content = %q", b)
	}

	last, err := s.SaveSegment("run1", model.SegmentResult{Index: 2, JobID: "video_3", Video: []byte("mp4")})
	if err != nil {
		t.Fatalf("SaveSegment: %v", err)
	}
	if last.ContinuityFrame != "" {
		t.Errorf("last segment should have no frame file: %+v", last)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	s, _ := Open(t.TempDir())
	m := Manifest{RunID: "run2", BasePrompt: "x", Stage: model.StageDone, Final: FinalName,
		Segments: []ManifestSegment{{Index: 0, Title: "A", Video: "segment_01.mp4"}}}
	if err := s.SaveManifest(m); err != nil {
		t.Fatalf("SaveManifest: %v", err)
	}
	got, err := s.LoadManifest("run2")
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if got.Final != FinalName || len(got.Segments) != 1 || got.Segments[0].Title != "A" {
		t.Errorf("unexpected manifest %+v", got)
	}
	entries, _ := os.ReadDir(filepath.Join(s.Root(), "run2"))
	for _, e := range entries {
		if e.Name() != ManifestName {
			t.Errorf("stray file %s", e.Name())
		}
	}
}

func TestPathRejectsTraversal(t *testing.T) {
	s, _ := Open(t.TempDir())
	for _, c := range [][2]string{{"..", "x"}, {"run", "../manifest.json"}, {"a/b", "x"}, {"run", ""}} {
		if _, err := s.Path(c[0], c[1]); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Path(%q,%q) = %v, want ErrInvalidName", c[0], c[1], err)
		}
	}
}

func TestPathMissingFile(t *testing.T) {
	s, _ := Open(t.TempDir())
	if _, err := s.Path("run", FinalName); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("want ErrNotExist, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	s, _ := Open(t.TempDir())
	if _, err := s.SaveFinal("run", []byte("v")); err != nil {
		t.Fatalf("SaveFinal: %v", err)
	}
	if err := s.Remove("run"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "run")); !os.IsNotExist(err) {
		t.Errorf("run dir still exists")
	}
}
