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

package backoff

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCooldowner abstracts the minimal Redis surface the shared cooldown
// store needs. Implementations may wrap github.com/redis/go-redis/v9 or
// any equivalent client.
type RedisCooldowner interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns ("", false, nil) when the key does not exist.
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, key string) error
}

// RedisCooldownKey is the key layout, public for interoperability with
// other components watching the same keyspace.
func RedisCooldownKey(table string) string { return fmt.Sprintf("zerobus:cooldown:%s", table) }

// RedisStore shares cooldown entries across processes. The entry's TTL is
// delegated to Redis, so expiry holds even if no process sweeps.
type RedisStore struct {
	client RedisCooldowner
	now    func() time.Time
}

// NewRedisStore wraps a RedisCooldowner as a CooldownStore.
func NewRedisStore(client RedisCooldowner) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Put(ctx context.Context, e Entry) error {
	ttl := e.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	value := fmt.Sprintf("%s|%d", e.Kind, e.ExpiresAt.UnixNano())
	return s.client.Set(ctx, RedisCooldownKey(e.Table), value, ttl)
}

func (s *RedisStore) Get(ctx context.Context, table string) (Entry, bool, error) {
	raw, ok, err := s.client.Get(ctx, RedisCooldownKey(table))
	if err != nil || !ok {
		return Entry{}, false, err
	}
	kindName, nanos, found := strings.Cut(raw, "|")
	if !found {
		return Entry{}, false, fmt.Errorf("malformed cooldown value %q for table %s", raw, table)
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("malformed cooldown deadline %q for table %s", nanos, table)
	}
	kind := ServerOverload
	if kindName == HighFailureRate.String() {
		kind = HighFailureRate
	}
	return Entry{Table: table, Kind: kind, ExpiresAt: time.Unix(0, n)}, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, table string) error {
	return s.client.Del(ctx, RedisCooldownKey(table))
}

// GoRedisCooldowner adapts a real go-redis client to RedisCooldowner.
type GoRedisCooldowner struct {
	c *redis.Client
}

// NewGoRedisCooldowner connects to addr with default client options.
func NewGoRedisCooldowner(addr string) *GoRedisCooldowner {
	return &GoRedisCooldowner{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedisCooldowner) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return g.c.Set(ctx, key, value, ttl).Err()
}

func (g *GoRedisCooldowner) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := g.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (g *GoRedisCooldowner) Del(ctx context.Context, key string) error {
	return g.c.Del(ctx, key).Err()
}

// LoggingCooldowner is a dependency-free stand-in that logs operations and
// keeps entries in memory. It lets the demo exercise the shared-store code
// path without a Redis instance.
type LoggingCooldowner struct {
	log *zap.Logger

	entries map[string]loggedEntry
}

type loggedEntry struct {
	value   string
	expires time.Time
}

// NewLoggingCooldowner builds the logging stand-in.
func NewLoggingCooldowner(log *zap.Logger) *LoggingCooldowner {
	return &LoggingCooldowner{log: log, entries: make(map[string]loggedEntry)}
}

func (l *LoggingCooldowner) Set(_ context.Context, key, value string, ttl time.Duration) error {
	l.log.Info("cooldown SET", zap.String("key", key), zap.String("value", value), zap.Duration("ttl", ttl))
	l.entries[key] = loggedEntry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

func (l *LoggingCooldowner) Get(_ context.Context, key string) (string, bool, error) {
	e, ok := l.entries[key]
	if !ok || time.Now().After(e.expires) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (l *LoggingCooldowner) Del(_ context.Context, key string) error {
	l.log.Info("cooldown DEL", zap.String("key", key))
	delete(l.entries, key)
	return nil
}
