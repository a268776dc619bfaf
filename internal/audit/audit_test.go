package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{ InMemoryStore }

func (f *failingStore) Append(context.Context, Event) error { return errors.New("disk full") }

func TestPublisherEmit(t *testing.T) {
	t.Run("logs and appends inline", func(t *testing.T) {
		var buf bytes.Buffer
		store := NewInMemoryStore()
		p := NewPublisher(store, slog.New(slog.NewJSONHandler(&buf, nil)))

		p.Emit(context.Background(), Event{Actor: "o1", Action: ActionReportReviewed, ReportID: "r1", Status: "Closed"})

		events, err := p.ListByReport(context.Background(), "r1")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.False(t, events[0].Timestamp.IsZero())

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "audit", line["log_type"])
		assert.Equal(t, ActionReportReviewed, line["msg"])
	})

	t.Run("store failure does not propagate", func(t *testing.T) {
		var buf bytes.Buffer
		p := NewPublisher(&failingStore{}, slog.New(slog.NewJSONHandler(&buf, nil)))
		p.Emit(context.Background(), Event{Action: ActionReportSubmitted})
		assert.Contains(t, buf.String(), "audit append failed")
	})
}

func TestWorkerDrainsQueue(t *testing.T) {
	store := NewInMemoryStore()
	queue := make(chan Event, 8)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	p := NewPublisher(store, logger, WithQueue(queue))
	w := NewWorker(store, queue, logger)

	for i := 0; i < 3; i++ {
		p.Emit(context.Background(), Event{Action: ActionRiskAssigned, ReportID: "r1"})
	}
	assert.Empty(t, store.All(), "queued events are not written inline")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	assert.Eventually(t, func() bool { return len(store.All()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestWorkerDrainsOnShutdown(t *testing.T) {
	store := NewInMemoryStore()
	queue := make(chan Event, 4)
	queue <- Event{Action: ActionReportSubmitted}
	queue <- Event{Action: ActionReportSubmitted}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, NewWorker(store, queue, slog.Default()).Run(ctx))
	assert.Len(t, store.All(), 2)
}
