// Copyright 2026 Zerobus Wrapper Authors. All Rights Reserved.
//
// Created: August 2026
//
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

// Package backoff tracks per-table cooldowns. Two write paths install
// entries: an explicit server-overload signal and a sliding-window
// failure-rate trigger. Reads perform a lazy sweep: expired entries are
// removed on the access that observes them. A cooldown on one table never
// affects another.
package backoff

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind distinguishes why a table is cooling down.
type Kind uint8

const (
	// ServerOverload is installed when the upstream signals its overload code.
	ServerOverload Kind = iota
	// HighFailureRate is installed by the sliding-window trigger.
	HighFailureRate
)

func (k Kind) String() string {
	if k == HighFailureRate {
		return "high_failure_rate"
	}
	return "server_overload"
}

// Entry is one active cooldown.
type Entry struct {
	Table     string
	Kind      Kind
	ExpiresAt time.Time
}

// CooldownStore persists cooldown entries. The default store is in-memory
// and process-wide; a Redis-backed store shares cooldowns across processes.
type CooldownStore interface {
	Put(ctx context.Context, e Entry) error
	Get(ctx context.Context, table string) (Entry, bool, error)
	Delete(ctx context.Context, table string) error
}

// Cooldown bounds: a triggered table backs off for a duration sampled
// uniformly from [CooldownMin, CooldownMax].
const (
	CooldownMin = 30 * time.Second
	CooldownMax = 45 * time.Second
)

// Failure-window parameters: once a table has observed WindowMinRows rows,
// a network-failure rate at or above FailureRateThreshold trips the
// cooldown and resets the window. Windows older than windowMaxAge reset on
// the next observation so ancient traffic cannot dilute the rate.
const (
	WindowMinRows        = 100
	FailureRateThreshold = 0.01
	windowMaxAge         = 10 * time.Minute
)

type window struct {
	rows            int
	networkFailures int
	startedAt       time.Time
}

// Registry is the process-wide table-to-cooldown mapping plus the
// per-table failure windows.
type Registry struct {
	store CooldownStore
	log   *zap.Logger

	mu      sync.Mutex
	windows map[string]*window

	rngMu sync.Mutex
	rng   *rand.Rand

	now func() time.Time
}

// Option customizes a Registry.
type Option func(*Registry)

// WithStore replaces the in-memory cooldown store.
func WithStore(s CooldownStore) Option {
	return func(r *Registry) { r.store = s }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry builds a registry with the in-memory store.
func NewRegistry(log *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:   NewMemoryStore(),
		log:     log,
		windows: make(map[string]*window),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check returns the active cooldown for table, if any. Expired entries are
// deleted on this access (lazy sweep). Store errors fail open: a broken
// shared store must not block ingestion.
func (r *Registry) Check(ctx context.Context, table string) (Entry, bool) {
	e, ok, err := r.store.Get(ctx, table)
	if err != nil {
		r.log.Warn("cooldown store read failed, proceeding without backoff",
			zap.String("table", table), zap.Error(err))
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}
	if !r.now().Before(e.ExpiresAt) {
		if err := r.store.Delete(ctx, table); err != nil {
			r.log.Warn("cooldown sweep failed", zap.String("table", table), zap.Error(err))
		}
		return Entry{}, false
	}
	return e, true
}

// TripServerOverload installs a server_overload cooldown for table with a
// randomized duration in [CooldownMin, CooldownMax].
func (r *Registry) TripServerOverload(ctx context.Context, table string) Entry {
	return r.trip(ctx, table, ServerOverload)
}

// ObserveBatch feeds the table's sliding window with one batch outcome:
// total rows and how many failed with a network-class error. When the
// window holds at least WindowMinRows rows and the failure rate reaches
// FailureRateThreshold, a high_failure_rate cooldown is installed and the
// window resets. Conversion, configuration, and authentication failures
// must not be counted by the caller.
func (r *Registry) ObserveBatch(ctx context.Context, table string, rows, networkFailures int) (Entry, bool) {
	if rows <= 0 {
		return Entry{}, false
	}

	r.mu.Lock()
	w := r.windows[table]
	now := r.now()
	if w == nil || now.Sub(w.startedAt) > windowMaxAge {
		w = &window{startedAt: now}
		r.windows[table] = w
	}
	w.rows += rows
	w.networkFailures += networkFailures

	tripped := false
	if w.rows >= WindowMinRows {
		rate := float64(w.networkFailures) / float64(w.rows)
		if rate >= FailureRateThreshold {
			tripped = true
		}
	}
	if tripped {
		delete(r.windows, table)
	}
	r.mu.Unlock()

	if !tripped {
		return Entry{}, false
	}
	return r.trip(ctx, table, HighFailureRate), true
}

// Window reports the table's current window counters, for tests and the
// demo binary's status output.
func (r *Registry) Window(table string) (rows, networkFailures int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w := r.windows[table]; w != nil {
		return w.rows, w.networkFailures
	}
	return 0, 0
}

func (r *Registry) trip(ctx context.Context, table string, kind Kind) Entry {
	e := Entry{
		Table:     table,
		Kind:      kind,
		ExpiresAt: r.now().Add(r.cooldown()),
	}
	if err := r.store.Put(ctx, e); err != nil {
		r.log.Warn("cooldown store write failed", zap.String("table", table), zap.Error(err))
	}
	r.log.Info("backoff engaged",
		zap.String("table", table),
		zap.String("kind", kind.String()),
		zap.Time("expires_at", e.ExpiresAt))
	return e
}

func (r *Registry) cooldown() time.Duration {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return CooldownMin + time.Duration(r.rng.Int63n(int64(CooldownMax-CooldownMin)+1))
}

// memoryStore is the default process-local cooldown store.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore returns an empty in-memory cooldown store.
func NewMemoryStore() CooldownStore {
	return &memoryStore{entries: make(map[string]Entry)}
}

func (m *memoryStore) Put(_ context.Context, e Entry) error {
	m.mu.Lock()
	m.entries[e.Table] = e
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Get(_ context.Context, table string) (Entry, bool, error) {
	m.mu.Lock()
	e, ok := m.entries[table]
	m.mu.Unlock()
	return e, ok, nil
}

func (m *memoryStore) Delete(_ context.Context, table string) error {
	m.mu.Lock()
	delete(m.entries, table)
	m.mu.Unlock()
	return nil
}
