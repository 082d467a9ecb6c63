package progress

import (
	"context"
	"testing"
	"time"

	"spica/internal/model"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func recv(t *testing.T, ch <-chan model.RunEvent) model.RunEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return model.RunEvent{}
}

func TestHubFansOutPerTopic(t *testing.T) {
	h := startHub(t)
	a1, cancelA1 := h.Subscribe("run-a", 4)
	defer cancelA1()
	a2, cancelA2 := h.Subscribe("run-a", 4)
	defer cancelA2()
	b, cancelB := h.Subscribe("run-b", 4)
	defer cancelB()

	h.Publish("run-a", model.RunEvent{RunID: "run-a", Stage: model.StagePlanning})

	if ev := recv(t, a1); ev.RunID != "run-a" {
		t.Errorf("a1 got %+v", ev)
	}
	if ev := recv(t, a2); ev.RunID != "run-a" {
		t.Errorf("a2 got %+v", ev)
	}
	h.Publish("run-b", model.RunEvent{RunID: "run-b"})
	if ev := recv(t, b); ev.RunID != "run-b" {
		t.Errorf("b got %+v", ev)
	}
	select {
	case ev := <-a1:
		t.Errorf("a1 received foreign event %+v", ev)
	default:
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	h := startHub(t)
	ch, cancel := h.Subscribe("run", 4)
	cancel()
	h.Publish("run", model.RunEvent{RunID: "run"})

	// 再订阅一次作为屏障，确保上面的发布已被处理
	barrier, stop := h.Subscribe("run", 4)
	defer stop()
	h.Publish("run", model.RunEvent{RunID: "run", Done: true})
	recv(t, barrier)

	select {
	case ev := <-ch:
		t.Errorf("unsubscribed channel got %+v", ev)
	default:
	}
}

func TestHubSlowSubscriberStillGetsTerminalEvent(t *testing.T) {
	h := startHub(t)
	ch, cancel := h.Subscribe("run", 1)
	defer cancel()

	h.Publish("run", model.RunEvent{RunID: "run", Stage: model.StageGenerating})
	h.Publish("run", model.RunEvent{RunID: "run", Stage: model.StageGenerating, Current: 1})
	h.Publish("run", model.RunEvent{RunID: "run", Stage: model.StageDone, Done: true})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Done {
				return
			}
		case <-deadline:
			t.Fatal("terminal event was dropped")
		}
	}
}

func TestHubObserverPublishes(t *testing.T) {
	h := startHub(t)
	ch, cancel := h.Subscribe("run", 4)
	defer cancel()

	h.Observer("run").OnUpdate(model.RunEvent{RunID: "run", Stage: model.StageExtracting})
	if ev := recv(t, ch); ev.Stage != model.StageExtracting {
		t.Errorf("got %+v", ev)
	}
}

func TestHubStoppedDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	done := make(chan struct{})
	go func() {
		_, unsub := h.Subscribe("run", 1)
		h.Publish("run", model.RunEvent{})
		unsub()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub calls blocked after shutdown")
	}
}
