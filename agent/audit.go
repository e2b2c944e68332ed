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
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event is one audit record emitted by the gateway.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	AgentID   string                 `json:"agent_id"`
	Status    string                 `json:"status"`
	Details   map[string]interface{} `json:"details,omitempty"`
	retries   int
}

// Audit event actions and statuses recorded by the gateway.
const (
	ActionQueryExecute = "query_execute"

	StatusSuccess = "success"
	StatusDenied  = "denied"
	StatusError   = "error"
)

// AuditSink receives audit events. Record is fire-and-forget: a sink must
// never fail the operation being audited, so it has no error return.
// Implementations log their own failures.
type AuditSink interface {
	Record(ctx context.Context, event Event)
}

// EventWriter persists audit events for a QueuedSink.
type EventWriter interface {
	Write(ctx context.Context, event Event) error
}

// QueuedSink buffers audit events on a bounded channel and drains them
// with background workers. Events the writer keeps rejecting, and events
// arriving while the channel is full, go to an append-only fallback file
// so nothing is silently lost.
type QueuedSink struct {
	queue    chan Event
	writer   EventWriter
	workers  int
	wg       sync.WaitGroup
	fallback *os.File
	mu       sync.Mutex // serializes fallback writes

	queued    atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
}

// NewQueuedSink starts a queued sink with the given buffer size and
// worker count. The fallback file is opened append-only and created if
// missing.
func NewQueuedSink(writer EventWriter, queueSize, workers int, fallbackPath string) (*QueuedSink, error) {
	fallback, err := os.OpenFile(fallbackPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit fallback file: %w", err)
	}
	if workers < 1 {
		workers = 1
	}

	s := &QueuedSink{
		queue:    make(chan Event, queueSize),
		writer:   writer,
		workers:  workers,
		fallback: fallback,
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	log.Printf("[AUDIT] Queued sink started: %d workers, queue %d, fallback %s", workers, queueSize, fallbackPath)
	return s, nil
}

// Record stamps the event and enqueues it without blocking. When the
// queue is full the event goes straight to the fallback file.
func (s *QueuedSink) Record(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case s.queue <- event:
		s.queued.Add(1)
	default:
		s.mu.Lock()
		err := s.writeToFallback(event)
		s.mu.Unlock()
		if err != nil {
			log.Printf("[AUDIT] Queue full and fallback write failed: %v", err)
		}
	}
}

// worker drains the queue, retrying writer failures with backoff before
// spilling to the fallback file.
func (s *QueuedSink) worker(id int) {
	defer s.wg.Done()

	for event := range s.queue {
		var err error
		for retry := 0; retry < 3; retry++ {
			if err = s.writer.Write(context.Background(), event); err == nil {
				s.processed.Add(1)
				break
			}
			time.Sleep(time.Millisecond * time.Duration(100*(retry+1)))
			event.retries++
		}

		if err != nil {
			s.failed.Add(1)
			s.mu.Lock()
			if fbErr := s.writeToFallback(event); fbErr != nil {
				log.Printf("[AUDIT] Worker %d: fallback write failed: %v", id, fbErr)
			}
			s.mu.Unlock()
		}
	}
}

// writeToFallback appends the event as a JSON line. Callers hold s.mu.
func (s *QueuedSink) writeToFallback(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	if _, err := fmt.Fprintf(s.fallback, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write audit fallback: %w", err)
	}
	return s.fallback.Sync()
}

// Shutdown stops accepting events and waits for the workers to drain the
// queue. If the context expires first, the remaining events are spilled
// to the fallback file and ctx.Err() is returned.
func (s *QueuedSink) Shutdown(ctx context.Context) error {
	close(s.queue)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.fallback.Close()
		log.Printf("[AUDIT] Sink shutdown complete: processed=%d failed=%d",
			s.processed.Load(), s.failed.Load())
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		spilled := 0
		for event := range s.queue {
			if err := s.writeToFallback(event); err != nil {
				log.Printf("[AUDIT] Shutdown spill failed: %v", err)
			}
			spilled++
		}
		s.mu.Unlock()
		s.fallback.Close()
		log.Printf("[AUDIT] Shutdown timed out, spilled %d events to fallback", spilled)
		return ctx.Err()
	}
}

// Stats reports sink counters for diagnostics.
func (s *QueuedSink) Stats() map[string]interface{} {
	return map[string]interface{}{
		"queued":    s.queued.Load(),
		"processed": s.processed.Load(),
		"failed":    s.failed.Load(),
		"pending":   len(s.queue),
	}
}

// LogSink writes audit events to the structured log. It is the default
// sink when no durable writer is configured.
type LogSink struct{}

// Record logs the event. It never fails.
func (LogSink) Record(_ context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[AUDIT] Failed to marshal event %s: %v", event.ID, err)
		return
	}
	log.Printf("[AUDIT] %s", data)
}
