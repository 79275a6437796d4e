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

// Package session owns the upstream SDK handle and one session slot per
// destination table. The handle is created lazily on first send. Each slot
// is an exclusive-lock-protected option: sessions are not safe for
// concurrent use, so the lock is held across the single-record ingest
// call, while a slow table never blocks sends to other tables.
package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/descriptorpb"

	"zerobus/internal/sdkclient"
	"zerobus/zerr"
)

// DefaultRecreateBudget bounds in-call session recreations after closure
// detection. The budget resets on every successful ingest.
const DefaultRecreateBudget = 3

// ErrSessionLost marks the point where a session died and the recreation
// budget ran out. The orchestrator stops the batch and fails the current
// and remaining rows when it sees this sentinel.
var ErrSessionLost = errors.New("session lost after exhausting recreation budget")

// Factory creates the process-wide SDK handle, lazily, on first send.
type Factory func(ctx context.Context) (sdkclient.SDK, error)

// TokenRefresher grants the manager one forced credential refresh when the
// upstream rejects authentication mid-session.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Manager holds the SDK handle and the per-table session slots.
type Manager struct {
	factory   Factory
	refresher TokenRefresher
	log       *zap.Logger
	budget    int

	sdkMu sync.Mutex
	sdk   sdkclient.SDK

	slots sync.Map // table name -> *slot
}

type slot struct {
	mu          sync.Mutex
	stream      sdkclient.Stream
	recreations int
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRecreateBudget overrides the in-call recreation budget.
func WithRecreateBudget(n int) Option {
	return func(m *Manager) { m.budget = n }
}

// WithTokenRefresher enables the single-refresh path on auth rejection.
func WithTokenRefresher(r TokenRefresher) Option {
	return func(m *Manager) { m.refresher = r }
}

// NewManager builds a manager around the given SDK factory.
func NewManager(factory Factory, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{factory: factory, log: log, budget: DefaultRecreateBudget}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) slot(table string) *slot {
	if s, ok := m.slots.Load(table); ok {
		return s.(*slot)
	}
	s, _ := m.slots.LoadOrStore(table, &slot{})
	return s.(*slot)
}

// ensureSDK lazily creates the shared handle. A factory failure is
// terminal for the call and surfaces with its own classification.
func (m *Manager) ensureSDK(ctx context.Context) (sdkclient.SDK, error) {
	m.sdkMu.Lock()
	defer m.sdkMu.Unlock()
	if m.sdk != nil {
		return m.sdk, nil
	}
	sdk, err := m.factory(ctx)
	if err != nil {
		return nil, err
	}
	m.sdk = sdk
	m.log.Debug("sdk handle initialized")
	return sdk, nil
}

// EnsureSession lazily creates the SDK handle and the table's session
// without sending anything. The orchestrator calls it once per batch so
// that handle and session creation failures surface as batch-level
// terminal errors rather than per-row ones.
func (m *Manager) EnsureSession(ctx context.Context, table string, desc *descriptorpb.DescriptorProto) error {
	s := m.slot(table)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return nil
	}
	sdk, err := m.ensureSDK(ctx)
	if err != nil {
		return err
	}
	stream, err := sdk.CreateStream(ctx, table, desc)
	if err != nil {
		return err
	}
	s.stream = stream
	return nil
}

// IngestRow sends one encoded record to the table's session, creating the
// SDK handle and the session as needed. On closure detection the session
// is dropped and recreated within the budget; on overload the session is
// dropped and the error returned still classifies as overload so the
// caller installs the cooldown. An auth rejection earns exactly one token
// refresh before the error propagates.
func (m *Manager) IngestRow(ctx context.Context, table string, desc *descriptorpb.DescriptorProto, payload []byte) error {
	s := m.slot(table)
	s.mu.Lock()
	defer s.mu.Unlock()

	refreshed := false
	for {
		if s.stream == nil {
			sdk, err := m.ensureSDK(ctx)
			if err != nil {
				return err
			}
			stream, err := sdk.CreateStream(ctx, table, desc)
			if err != nil {
				if sdkclient.IsServerOverload(err) {
					return err
				}
				if zerr.TokenExpired(err) && m.refresher != nil && !refreshed {
					refreshed = true
					if _, rerr := m.refresher.Refresh(ctx); rerr != nil {
						return rerr
					}
					continue
				}
				return err
			}
			s.stream = stream
		}

		err := s.stream.IngestRecord(ctx, payload)
		if err == nil {
			s.recreations = 0
			return nil
		}

		if sdkclient.IsServerOverload(err) {
			m.dropLocked(s, table, "server overload")
			return err
		}

		if zerr.TokenExpired(err) && m.refresher != nil && !refreshed {
			refreshed = true
			m.dropLocked(s, table, "auth rejected, refreshing token")
			if _, rerr := m.refresher.Refresh(ctx); rerr != nil {
				return rerr
			}
			continue
		}

		if sdkclient.IsStreamClosed(err) {
			m.dropLocked(s, table, "closure detected")
			if s.recreations >= m.budget {
				return zerr.Wrapf(zerr.Connection, "ingest record", errors.Join(ErrSessionLost, err),
					"table %s: session lost after %d recreations", table, s.recreations)
			}
			s.recreations++
			m.log.Info("recreating session",
				zap.String("table", table), zap.Int("attempt", s.recreations))
			continue
		}

		return err
	}
}

// dropLocked clears the slot's session. The slot lock is already held.
func (m *Manager) dropLocked(s *slot, table, reason string) {
	if s.stream == nil {
		return
	}
	if err := s.stream.Close(); err != nil {
		m.log.Warn("error closing session", zap.String("table", table), zap.Error(err))
	}
	s.stream = nil
	m.log.Debug("session dropped", zap.String("table", table), zap.String("reason", reason))
}

// Shutdown closes every live session and the SDK handle. Close failures
// are logged and swallowed; shutdown always completes.
func (m *Manager) Shutdown(ctx context.Context) {
	m.slots.Range(func(key, value any) bool {
		table := key.(string)
		s := value.(*slot)
		s.mu.Lock()
		if s.stream != nil {
			if err := s.stream.Close(); err != nil {
				m.log.Warn("error closing session during shutdown",
					zap.String("table", table), zap.Error(err))
			}
			s.stream = nil
		}
		s.mu.Unlock()
		m.slots.Delete(table)
		return true
	})

	m.sdkMu.Lock()
	if m.sdk != nil {
		if err := m.sdk.Close(); err != nil {
			m.log.Warn("error closing sdk during shutdown", zap.Error(err))
		}
		m.sdk = nil
	}
	m.sdkMu.Unlock()
}
