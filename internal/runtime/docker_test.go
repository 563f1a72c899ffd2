// ABOUTME: Unit tests for the Docker event adapter.
// ABOUTME: Covers message mapping and adapter exit on stream teardown.

package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/docker/docker/api/types/events"
)

func TestForwardAdaptsMessages(t *testing.T) {
	messages := make(chan events.Message, 2)
	out := make(chan Event)
	go forward(context.Background(), messages, out)

	messages <- events.Message{
		Type:   TypeContainer,
		Action: ActionCreate,
		Actor: events.Actor{
			ID:         "abc123",
			Attributes: map[string]string{"image": "nginx:latest"},
		},
	}

	select {
	case ev := <-out:
		if ev.Type != TypeContainer || ev.Action != ActionCreate || ev.ID != "abc123" || ev.Image != "nginx:latest" {
			t.Errorf("Unexpected adapted event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No event forwarded")
	}

	close(messages)
	select {
	case _, ok := <-out:
		if ok {
			t.Error("Output must close when the message stream closes")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Output not closed after message stream closed")
	}
}

func TestForwardExitsOnContextCancel(t *testing.T) {
	// The engine never closes its message channel on stream errors, so
	// cancellation must be a sufficient exit path on its own.
	messages := make(chan events.Message)
	out := make(chan Event)
	ctx, cancel := context.WithCancel(context.Background())
	go forward(ctx, messages, out)

	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Error("Expected closed output channel, got an event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Adapter did not exit after context cancellation")
	}
}

func TestForwardExitsWhileBlockedOnSend(t *testing.T) {
	messages := make(chan events.Message, 1)
	messages <- events.Message{Type: TypeContainer, Action: ActionCreate, Actor: events.Actor{ID: "abc"}}
	out := make(chan Event) // no reader: the send blocks
	ctx, cancel := context.WithCancel(context.Background())

	exited := make(chan struct{})
	go func() {
		forward(ctx, messages, out)
		close(exited)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("Adapter did not exit while blocked on a send")
	}
}

func TestAdaptEventImageFallback(t *testing.T) {
	ev := adaptEvent(events.Message{
		Type:   TypeImage,
		Action: ActionPull,
		Actor:  events.Actor{ID: "alpine:3.19"},
	})
	if ev.Image != "alpine:3.19" {
		t.Errorf("Image events must use the actor id as the image, got %q", ev.Image)
	}
}
