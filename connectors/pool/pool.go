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

package pool

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"agentbridge/core/connectors/base"
)

// Conn is one physical connection owned by the pool.
type Conn interface {
	// Ping verifies the connection is still usable (pre_ping).
	Ping(ctx context.Context) error
	// Close releases the underlying transport.
	Close() error
}

// Dialer opens a new physical connection. It must honor ctx for its
// connect-timeout bound.
type Dialer func(ctx context.Context) (Conn, error)

// Config sizes the pool. Values arrive pre-validated from the config layer;
// the pool itself does not re-validate bounds.
type Config struct {
	Driver        string // type tag, used in errors and logs
	MinSize       int
	MaxSize       int
	MaxOverflow   int
	BorrowTimeout time.Duration
	Recycle       time.Duration // max handle age, zero disables recycling
	PrePing       bool
}

// Handle is one borrowed slot. A handle belongs to exactly one logical
// session at a time; it is returned with Pool.Return, optionally marked
// broken after a fatal transport error so the physical connection is
// discarded instead of reused.
type Handle struct {
	conn      Conn
	createdAt time.Time
}

// Conn exposes the physical connection to the owning driver.
func (h *Handle) Conn() Conn { return h.conn }

// Age reports how long ago the physical connection was dialed.
func (h *Handle) Age() time.Duration { return time.Since(h.createdAt) }

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Open        int    // physical connections alive (idle + borrowed)
	Idle        int    // handles on the free list
	Borrowed    int    // handles currently out
	Waits       uint64 // borrows that had to wait for a slot
	Exhaustions uint64 // borrows that timed out
	Recycled    uint64 // handles replaced due to age
}

// Pool is a bounded free-list of physical connections. Capacity is
// MaxSize+MaxOverflow; borrow waits are bounded by BorrowTimeout and fail
// with *base.PoolExhaustedError, which is deliberately distinct from a
// connection failure. Borrow/return are serialized through a mutex plus a
// token channel so concurrent sessions never double-issue a handle.
type Pool struct {
	cfg  Config
	dial Dialer

	// tokens caps the number of simultaneously borrowed handles. One token
	// is held in the channel per outstanding borrow; Return releases it.
	tokens chan struct{}

	mu     sync.Mutex
	idle   []*Handle
	open   int
	closed bool

	waits       uint64
	exhaustions uint64
	recycled    uint64

	logger *log.Logger
}

// ErrClosed is returned by Borrow after Close.
var ErrClosed = errors.New("pool is closed")

// New constructs the pool and prewarms MinSize connections. A prewarm dial
// failure aborts construction: a pool that cannot reach the server should
// fail at build time, not on first borrow.
func New(ctx context.Context, cfg Config, dial Dialer) (*Pool, error) {
	capacity := cfg.MaxSize + cfg.MaxOverflow
	p := &Pool{
		cfg:    cfg,
		dial:   dial,
		tokens: make(chan struct{}, capacity),
		idle:   make([]*Handle, 0, capacity),
		logger: log.New(os.Stdout, "[POOL] ", log.LstdFlags),
	}

	for i := 0; i < cfg.MinSize; i++ {
		conn, err := dial(ctx)
		if err != nil {
			p.drain()
			return nil, err
		}
		p.idle = append(p.idle, &Handle{conn: conn, createdAt: time.Now()})
		p.open++
	}

	p.logger.Printf("Pool ready for %s: min=%d max=%d overflow=%d",
		cfg.Driver, cfg.MinSize, cfg.MaxSize, cfg.MaxOverflow)
	return p, nil
}

// Borrow acquires a handle, waiting up to BorrowTimeout for a free slot.
// An idle handle is reused (after recycle-age and pre_ping checks); when
// none is idle and capacity remains, a fresh connection is dialed.
func (p *Pool) Borrow(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()

	start := time.Now()
	select {
	case p.tokens <- struct{}{}:
	default:
		// Every slot busy: wait, bounded.
		atomic.AddUint64(&p.waits, 1)
		timer := time.NewTimer(p.cfg.BorrowTimeout)
		defer timer.Stop()
		select {
		case p.tokens <- struct{}{}:
		case <-timer.C:
			atomic.AddUint64(&p.exhaustions, 1)
			return nil, &base.PoolExhaustedError{
				Driver:  p.cfg.Driver,
				Waited:  time.Since(start),
				MaxSize: p.cfg.MaxSize + p.cfg.MaxOverflow,
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	h, err := p.takeIdle(ctx)
	if err != nil {
		<-p.tokens
		return nil, err
	}
	if h != nil {
		return h, nil
	}

	// No idle handle; dial a fresh one under the token we hold.
	conn, err := p.dial(ctx)
	if err != nil {
		<-p.tokens
		return nil, err
	}
	p.mu.Lock()
	p.open++
	p.mu.Unlock()
	return &Handle{conn: conn, createdAt: time.Now()}, nil
}

// takeIdle pops a reusable idle handle, replacing aged or dead connections
// in place. Returns (nil, nil) when the free list is empty.
func (p *Pool) takeIdle(ctx context.Context) (*Handle, error) {
	for {
		p.mu.Lock()
		if len(p.idle) == 0 {
			p.mu.Unlock()
			return nil, nil
		}
		h := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.mu.Unlock()

		if p.cfg.Recycle > 0 && h.Age() > p.cfg.Recycle {
			p.discard(h)
			atomic.AddUint64(&p.recycled, 1)
			conn, err := p.dial(ctx)
			if err != nil {
				return nil, err
			}
			p.mu.Lock()
			p.open++
			p.mu.Unlock()
			return &Handle{conn: conn, createdAt: time.Now()}, nil
		}

		if p.cfg.PrePing {
			if err := h.conn.Ping(ctx); err != nil {
				p.logger.Printf("Pre-ping failed, discarding stale handle: %v", err)
				p.discard(h)
				continue
			}
		}
		return h, nil
	}
}

// Return gives a handle back. Broken handles are closed instead of pooled.
// Return is an O(1) enqueue and never blocks.
func (p *Pool) Return(h *Handle, broken bool) {
	if h == nil {
		return
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if broken || closed {
		p.discard(h)
		<-p.tokens
		return
	}

	p.mu.Lock()
	p.idle = append(p.idle, h)
	p.mu.Unlock()
	<-p.tokens
}

// discard closes the physical connection and drops the open count.
func (p *Pool) discard(h *Handle) {
	_ = h.conn.Close()
	p.mu.Lock()
	p.open--
	p.mu.Unlock()
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Open:        p.open,
		Idle:        len(p.idle),
		Borrowed:    p.open - len(p.idle),
		Waits:       atomic.LoadUint64(&p.waits),
		Exhaustions: atomic.LoadUint64(&p.exhaustions),
		Recycled:    atomic.LoadUint64(&p.recycled),
	}
}

// Close marks the pool closed and drains the free list. Borrowed handles
// are closed as they are returned.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.drain()
}

func (p *Pool) drain() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.open -= len(idle)
	p.mu.Unlock()
	for _, h := range idle {
		_ = h.conn.Close()
	}
}
