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

// Package retry runs a fallible operation with bounded exponential backoff
// and full jitter. Errors are classified through the shared taxonomy:
// Connection and Transmission retry, everything else is terminal on the
// spot. The caller may impose an external deadline via the context.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"zerobus/zerr"
)

// Config controls retry behaviour.
type Config struct {
	// MaxAttempts is the total attempt budget, including the first try.
	MaxAttempts uint32
	// BaseDelay seeds the exponential schedule.
	BaseDelay time.Duration
	// MaxDelay caps any single sleep.
	MaxDelay time.Duration
	// Jitter enables full jitter: each sleep is sampled uniformly from
	// [0, capped exponential delay]. Disabled only in tests.
	Jitter bool
	// NonRetryable marks additional errors terminal even when their kind
	// would normally retry, e.g. a server-overload signal that must
	// install a cooldown instead of hammering the service.
	NonRetryable func(error) bool
}

// Default mirrors the configuration defaults: 5 attempts, 100ms base,
// 30s ceiling.
func Default() Config {
	return Config{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 30 * time.Second, Jitter: true}
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Do runs fn up to MaxAttempts times, sleeping between attempts per the
// jittered exponential schedule. It returns the number of attempts made
// (1-indexed) together with fn's result. Non-retryable errors end the loop
// immediately; exhaustion wraps the last error as RetryExhausted citing
// the attempt count. The context cancels pending sleeps.
func (c Config) Do(ctx context.Context, op string, fn func(context.Context) error) (uint32, error) {
	attempts := c.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := uint32(0); attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err

		if !zerr.Retryable(err) {
			return attempt + 1, err
		}
		if c.NonRetryable != nil && c.NonRetryable(err) {
			return attempt + 1, err
		}
		if attempt == attempts-1 {
			break
		}
		if err := c.sleep(ctx, attempt); err != nil {
			return attempt + 1, zerr.Wrapf(zerr.Connection, op, err, "cancelled while backing off")
		}
	}

	return attempts, zerr.Wrapf(zerr.RetryExhausted, op, lastErr,
		"all %d retry attempts exhausted, last error: %v", attempts, lastErr)
}

func (c Config) sleep(ctx context.Context, attempt uint32) error {
	delay := c.delay(attempt)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// delay computes the sleep before attempt+2: min(MaxDelay, BaseDelay<<attempt),
// optionally replaced by a uniform sample from [0, that bound].
func (c Config) delay(attempt uint32) time.Duration {
	if attempt > 20 {
		attempt = 20 // avoid shift overflow; MaxDelay caps anyway
	}
	d := c.BaseDelay << attempt
	if d > c.MaxDelay || d < 0 {
		d = c.MaxDelay
	}
	if !c.Jitter || d <= 0 {
		return d
	}
	rngMu.Lock()
	defer rngMu.Unlock()
	return time.Duration(rng.Int63n(int64(d) + 1))
}
