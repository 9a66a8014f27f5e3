//go:build integration

package hermes

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_PubSub(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	ctx := context.Background()
	logger := slog.Default()

	client, err := NewClient(ctx, natsURL, os.Getenv("NATS_TOKEN"), logger)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	received := make(chan TranscriptIntegrated, 1)

	err = client.Subscribe("scribe.test.>", func(subject string, data []byte) {
		var msg TranscriptIntegrated
		json.Unmarshal(data, &msg)
		received <- msg
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// Give subscription time to propagate
	time.Sleep(100 * time.Millisecond)

	err = client.Publish("scribe.test.integrated", TranscriptIntegrated{Title: "hello from integration test"})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Title != "hello from integration test" {
			t.Errorf("expected hello message, got %v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestIntegration_QueueGroupDeliversOnce(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	ctx := context.Background()
	logger := slog.Default()

	var deliveries atomic.Int32
	for i := 0; i < 2; i++ {
		worker, err := NewClient(ctx, natsURL, os.Getenv("NATS_TOKEN"), logger)
		if err != nil {
			t.Fatalf("failed to connect: %v", err)
		}
		defer worker.Close()
		err = worker.QueueSubscribe("scribe.test.jobs", "scribe-test-workers", func(string, []byte) {
			deliveries.Add(1)
		})
		if err != nil {
			t.Fatalf("queue subscribe failed: %v", err)
		}
	}

	publisher, err := NewClient(ctx, natsURL, os.Getenv("NATS_TOKEN"), logger)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer publisher.Close()

	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 10; i++ {
		if err := publisher.Publish("scribe.test.jobs", map[string]int{"n": i}); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	time.Sleep(500 * time.Millisecond)
	if got := deliveries.Load(); got != 10 {
		t.Errorf("expected each job delivered once (10), got %d", got)
	}
}
