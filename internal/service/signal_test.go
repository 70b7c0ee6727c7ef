package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	spacehost "github.com/windholt/spacehost"
)

func commitMessage(t *testing.T, space, uri string) *redis.Message {
	t.Helper()
	raw, err := json.Marshal(spacehost.Event{Action: "create", URI: uri, Space: space})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return &redis.Message{Channel: CommitChannel, Payload: string(raw)}
}

func TestRealtimeFiltersBySpace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan *redis.Message, 4)
	input := make(chan []string)
	output := make(chan spacehost.Event)

	s := NewSignalService(nil)
	done := make(chan struct{})
	go func() {
		s.forward(ctx, ch, input, output)
		close(done)
	}()

	input <- []string{"photos"}
	ch <- commitMessage(t, "docs", "at://did:plc:alice/app.bsky.feed.post/3k1")
	ch <- commitMessage(t, "photos", "at://did:plc:alice/app.bsky.feed.post/3k2")

	select {
	case event := <-output:
		if event.Space != "photos" {
			t.Fatalf("filtered space leaked: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward did not stop on cancel")
	}
}

func TestRealtimeCancelWithPendingDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ch := make(chan *redis.Message, 1)
	input := make(chan []string)
	// Never read, so the delivery stays in flight when the context ends.
	output := make(chan spacehost.Event)

	s := NewSignalService(nil)
	done := make(chan struct{})
	go func() {
		s.forward(ctx, ch, input, output)
		close(done)
	}()

	ch <- commitMessage(t, "photos", "at://did:plc:alice/app.bsky.feed.post/3k1")
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward stuck delivering after cancel")
	}
}
