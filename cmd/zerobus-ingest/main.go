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

// Package main is a runnable demonstration of the ingestion wrapper.
//
// It builds a small record batch, submits it through the wrapper, and
// prints the per-row outcome. By default it runs in writer-disabled mode
// with debug capture on, so you can inspect the produced Arrow and
// protobuf artefacts without any upstream service:
//
//	go run ./cmd/zerobus-ingest -debug-dir ./debug-out
//
// Point it at a real endpoint by dropping -writer-disabled and supplying
// credentials through the ZEROBUS_* environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"zerobus"
	"zerobus/internal/backoff"
)

func main() {
	var (
		endpoint       = flag.String("endpoint", "https://localhost:8443", "ingest service endpoint")
		table          = flag.String("table", "demo_events", "destination table name")
		rows           = flag.Int("rows", 10, "rows in the demo batch")
		batches        = flag.Int("batches", 1, "number of batches to send")
		writerDisabled = flag.Bool("writer-disabled", true, "bypass the network, exercising encoding and debug capture only")
		debugDir       = flag.String("debug-dir", "./debug-out", "debug capture directory")
		cooldownStore  = flag.String("cooldown-store", "memory", "cooldown store: memory | redis | logging")
		redisAddr      = flag.String("redis-addr", "", "redis address for -cooldown-store=redis")
		metricsAddr    = flag.String("metrics-addr", "", "serve Prometheus /metrics on this address (empty to disable)")
	)
	flag.Parse()

	cfg := zerobus.NewConfig(*endpoint, *table).WithDebugOutput(*debugDir)
	if *writerDisabled {
		cfg = cfg.WithWriterDisabled()
	} else {
		cfg.UnityCatalogURL = os.Getenv("UNITY_CATALOG_URL")
		cfg = cfg.WithCredentials(os.Getenv("ZEROBUS_CLIENT_ID"), os.Getenv("ZEROBUS_CLIENT_SECRET"))
	}
	cfg = cfg.WithObservability(zerobus.ObservabilityConfig{
		LogLevel:    "debug",
		MetricsAddr: *metricsAddr,
	})

	opts := []zerobus.Option{}
	switch *cooldownStore {
	case "", "memory":
		// default in-process store
	case "redis":
		if *redisAddr == "" {
			log.Fatal("-cooldown-store=redis requires -redis-addr")
		}
		opts = append(opts, zerobus.WithCooldownStore(
			backoff.NewRedisStore(backoff.NewGoRedisCooldowner(*redisAddr))))
	case "logging":
		logger, _ := zap.NewDevelopment()
		opts = append(opts, zerobus.WithCooldownStore(
			backoff.NewRedisStore(backoff.NewLoggingCooldowner(logger))))
	default:
		log.Fatalf("unknown cooldown store: %s", *cooldownStore)
	}

	w, err := zerobus.New(cfg, opts...)
	if err != nil {
		log.Fatalf("initialize wrapper: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for i := 0; i < *batches; i++ {
		rec := demoBatch(*rows, i)
		res, err := w.SendBatch(ctx, rec)
		rec.Release()
		if err != nil {
			log.Fatalf("send batch: %v", err)
		}
		printResult(i, res)
		if ctx.Err() != nil {
			break
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	fmt.Println("done")
}

func demoBatch(rows, batch int) arrow.Record {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64},
		{Name: "active", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)
	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()
	for i := 0; i < rows; i++ {
		b.Field(0).(*array.Int64Builder).Append(int64(batch*rows + i))
		b.Field(1).(*array.StringBuilder).Append(fmt.Sprintf("user_%d", i))
		b.Field(2).(*array.Float64Builder).Append(float64(i) * 1.5)
		b.Field(3).(*array.BooleanBuilder).Append(i%2 == 0)
	}
	return b.NewRecord()
}

func printResult(batch int, res *zerobus.TransmissionResult) {
	stats := res.ErrorStatistics()
	fmt.Printf("batch %d: success=%v total=%d ok=%d failed=%d attempts=%d latency=%dms bytes=%d\n",
		batch, res.Success, stats.Total, stats.OKCount, stats.FailCount, res.Attempts, res.LatencyMS, res.BytesIn)
	if res.Err != nil {
		fmt.Printf("  terminal error: %v\n", res.Err)
	}
	for kind, rows := range res.GroupErrorsByType() {
		fmt.Printf("  %s: rows %v\n", kind, rows)
	}
}
