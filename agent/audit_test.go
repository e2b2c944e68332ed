// Copyright 2025 AgentBridge
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryWriter records events, optionally failing every write.
type memoryWriter struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{} // when set, Write waits for it to close
}

func (w *memoryWriter) Write(ctx context.Context, event Event) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.events = append(w.events, event)
	return nil
}

func (w *memoryWriter) recorded() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Event, len(w.events))
	copy(out, w.events)
	return out
}

func fallbackLines(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())
	return events
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Condition not reached in time")
}

func TestQueuedSinkDeliversToWriter(t *testing.T) {
	writer := &memoryWriter{}
	sink, err := NewQueuedSink(writer, 16, 2, filepath.Join(t.TempDir(), "audit.fallback"))
	require.NoError(t, err)

	sink.Record(context.Background(), Event{
		Action:  ActionQueryExecute,
		AgentID: "agent-1",
		Status:  StatusSuccess,
		Details: map[string]interface{}{"connector": "postgres"},
	})

	waitFor(t, func() bool { return len(writer.recorded()) == 1 })
	require.NoError(t, sink.Shutdown(context.Background()))

	got := writer.recorded()[0]
	assert.NotEmpty(t, got.ID, "Record must stamp an event ID")
	assert.False(t, got.Timestamp.IsZero(), "Record must stamp a timestamp")
	assert.Equal(t, "agent-1", got.AgentID)
	assert.Equal(t, StatusSuccess, got.Status)
}

func TestQueuedSinkKeepsCallerStamps(t *testing.T) {
	writer := &memoryWriter{}
	sink, err := NewQueuedSink(writer, 16, 1, filepath.Join(t.TempDir(), "audit.fallback"))
	require.NoError(t, err)

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sink.Record(context.Background(), Event{ID: "fixed-id", Timestamp: ts, Action: ActionQueryExecute})

	waitFor(t, func() bool { return len(writer.recorded()) == 1 })
	require.NoError(t, sink.Shutdown(context.Background()))

	got := writer.recorded()[0]
	assert.Equal(t, "fixed-id", got.ID)
	assert.True(t, got.Timestamp.Equal(ts))
}

func TestQueuedSinkFallsBackOnWriterFailure(t *testing.T) {
	writer := &memoryWriter{err: errors.New("database down")}
	path := filepath.Join(t.TempDir(), "audit.fallback")
	sink, err := NewQueuedSink(writer, 16, 1, path)
	require.NoError(t, err)

	sink.Record(context.Background(), Event{Action: ActionQueryExecute, AgentID: "agent-1", Status: StatusError})

	waitFor(t, func() bool {
		stats := sink.Stats()
		return stats["failed"].(uint64) == 1
	})
	require.NoError(t, sink.Shutdown(context.Background()))

	events := fallbackLines(t, path)
	require.Len(t, events, 1)
	assert.Equal(t, "agent-1", events[0].AgentID)
}

func TestQueuedSinkFallsBackWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	writer := &memoryWriter{block: release}
	path := filepath.Join(t.TempDir(), "audit.fallback")
	sink, err := NewQueuedSink(writer, 1, 1, path)
	require.NoError(t, err)

	// First event occupies the worker, second fills the queue, third must
	// spill to the fallback file immediately.
	for i := 0; i < 3; i++ {
		sink.Record(context.Background(), Event{Action: ActionQueryExecute, AgentID: "agent-1"})
	}

	waitFor(t, func() bool { return len(fallbackLines(t, path)) >= 1 })
	close(release)
	require.NoError(t, sink.Shutdown(context.Background()))
}

func TestQueuedSinkStats(t *testing.T) {
	writer := &memoryWriter{}
	sink, err := NewQueuedSink(writer, 16, 1, filepath.Join(t.TempDir(), "audit.fallback"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		sink.Record(context.Background(), Event{Action: ActionQueryExecute})
	}
	waitFor(t, func() bool { return sink.Stats()["processed"].(uint64) == 5 })
	require.NoError(t, sink.Shutdown(context.Background()))

	stats := sink.Stats()
	assert.Equal(t, uint64(5), stats["queued"])
	assert.Equal(t, uint64(5), stats["processed"])
	assert.Equal(t, uint64(0), stats["failed"])
}

func TestQueuedSinkShutdownDrains(t *testing.T) {
	writer := &memoryWriter{}
	sink, err := NewQueuedSink(writer, 64, 2, filepath.Join(t.TempDir(), "audit.fallback"))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		sink.Record(context.Background(), Event{Action: ActionQueryExecute})
	}

	require.NoError(t, sink.Shutdown(context.Background()))
	assert.Len(t, writer.recorded(), 20, "Shutdown must wait for the queue to drain")
}

func TestLogSinkNeverPanics(t *testing.T) {
	var sink LogSink
	assert.NotPanics(t, func() {
		sink.Record(context.Background(), Event{
			ID:      "e-1",
			Action:  ActionQueryExecute,
			AgentID: "agent-1",
			Status:  StatusDenied,
			Details: map[string]interface{}{"missing": []string{"READ on orders"}},
		})
	})
}
