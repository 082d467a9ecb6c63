package volc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	arkmodel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"

	"spica/internal/model"
)

type fakeTasks struct {
	created []arkmodel.CreateContentGenerationTaskRequest
	state   TaskState
	err     error
}

func (f *fakeTasks) Create(_ context.Context, req arkmodel.CreateContentGenerationTaskRequest) (string, error) {
	f.created = append(f.created, req)
	if f.err != nil {
		return "", f.err
	}
	return "cgt-1", nil
}

func (f *fakeTasks) Get(_ context.Context, id string) (TaskState, error) {
	if f.err != nil {
		return TaskState{}, f.err
	}
	st := f.state
	st.ID = id
	return st, nil
}

func TestMapTaskStatus(t *testing.T) {
	cases := map[string]model.JobStatus{
		"queued":    model.JobQueued,
		"running":   model.JobInProgress,
		"succeeded": model.JobCompleted,
		"failed":    model.JobFailed,
		"cancelled": model.JobFailed,
		"expired":   model.JobFailed,
	}
	for in, want := range cases {
		got, err := MapTaskStatus(in)
		if err != nil || got != want {
			t.Errorf("MapTaskStatus(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	var mr *model.MalformedResponse
	if _, err := MapTaskStatus("paused"); !errors.As(err, &mr) {
		t.Errorf("unknown status should be MalformedResponse, got %v", err)
	}
}

func TestTextCommand(t *testing.T) {
	got := TextCommand(" a fox ", 8, model.Resolution{Width: 1280, Height: 720})
	if got != "a fox --duration 8 --resolution 720p --ratio 16:9" {
		t.Errorf("TextCommand = %q", got)
	}
	if got := TextCommand("x", 0, model.Resolution{}); got != "x" {
		t.Errorf("TextCommand without size = %q", got)
	}
	if got := TextCommand("x", 4, model.Resolution{Width: 720, Height: 1280}); !strings.HasSuffix(got, "--resolution 720p --ratio 9:16") {
		t.Errorf("portrait = %q", got)
	}
}

func TestSubmitBuildsContent(t *testing.T) {
	ft := &fakeTasks{}
	jobs := NewSeedanceJobs(NewArkClient("k", "", time.Second), ft)
	job, err := jobs.Submit(context.Background(), model.SubmitRequest{
		Prompt: "fox", Size: "1280x720", Seconds: 5, Model: "doubao-seedance-1-0-pro-250528",
		Reference: &model.ReferenceImage{Data: []byte{1, 2, 3}, ContentType: "image/jpeg"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.ID != "cgt-1" || job.Status != model.JobQueued {
		t.Errorf("job = %+v", job)
	}
	req := ft.created[0]
	if req.Model != "doubao-seedance-1-0-pro-250528" || len(req.Content) != 2 {
		t.Fatalf("request = %+v", req)
	}
	if req.Content[0].Text == nil || *req.Content[0].Text != "fox --duration 5 --resolution 720p --ratio 16:9" {
		t.Errorf("text item = %v", req.Content[0].Text)
	}
	if req.Content[1].ImageURL == nil || req.Content[1].ImageURL.URL != "data:image/jpeg;base64,AQID" {
		t.Errorf("image item = %+v", req.Content[1].ImageURL)
	}
}

func TestSubmitWithoutReference(t *testing.T) {
	ft := &fakeTasks{}
	jobs := NewSeedanceJobs(NewArkClient("k", "", time.Second), ft)
	if _, err := jobs.Submit(context.Background(), model.SubmitRequest{Prompt: "fox", Model: "m"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(ft.created[0].Content) != 1 {
		t.Errorf("content = %d items, want text only", len(ft.created[0].Content))
	}
	if _, err := jobs.Submit(context.Background(), model.SubmitRequest{Prompt: "fox", Model: "m", Size: "big"}); !model.IsValidation(err) {
		t.Errorf("bad size = %v", err)
	}
}

func TestPollMapsFailure(t *testing.T) {
	ft := &fakeTasks{state: TaskState{Status: "expired"}}
	jobs := NewSeedanceJobs(NewArkClient("k", "", time.Second), ft)
	job, err := jobs.Poll(context.Background(), "cgt-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if job.Status != model.JobFailed || job.Error != "video task expired" {
		t.Errorf("job = %+v", job)
	}
}

func TestFetchDownloadsVideo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp4" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	ft := &fakeTasks{state: TaskState{Status: "succeeded", VideoURL: srv.URL + "/v.mp4"}}
	jobs := NewSeedanceJobs(NewArkClient("k", "", time.Second), ft)
	b, err := jobs.Fetch(context.Background(), "cgt-1", "video")
	if err != nil || string(b) != "mp4-bytes" {
		t.Fatalf("Fetch = %q, %v", b, err)
	}

	ft.state.VideoURL = srv.URL + "/missing.mp4"
	var se *model.ServiceError
	if _, err := jobs.Fetch(context.Background(), "cgt-1", ""); !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Errorf("Fetch 404 = %v", err)
	}

	ft.state.VideoURL = ""
	var mr *model.MalformedResponse
	if _, err := jobs.Fetch(context.Background(), "cgt-1", ""); !errors.As(err, &mr) {
		t.Errorf("missing url = %v", err)
	}
	if _, err := jobs.Fetch(context.Background(), "cgt-1", "thumbnail"); !model.IsValidation(err) {
		t.Errorf("unsupported variant = %v", err)
	}
}
