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

// Package zerobus wraps the upstream append-only log service for Arrow
// record batches. Each batch is transcoded row by row into protobuf wire
// bytes and forwarded over a per-table ingest session, with per-row
// failure isolation, adaptive backoff, bounded retries, and an immutable
// outcome record per batch.
package zerobus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/protobuf/types/descriptorpb"

	"zerobus/internal/auth"
	"zerobus/internal/backoff"
	"zerobus/internal/config"
	"zerobus/internal/debugcap"
	"zerobus/internal/descriptor"
	"zerobus/internal/encode"
	"zerobus/internal/retry"
	"zerobus/internal/sdkclient"
	"zerobus/internal/session"
	"zerobus/internal/telemetry"
	"zerobus/zerr"
)

// Config re-exports the configuration record.
type Config = config.Config

// ObservabilityConfig re-exports the telemetry sink options.
type ObservabilityConfig = config.ObservabilityConfig

// NewConfig builds a configuration with defaults applied.
func NewConfig(endpoint, tableName string) Config {
	return config.New(endpoint, tableName)
}

// LoadConfigFile reads a JSON configuration file.
func LoadConfigFile(path string) (Config, error) { return config.LoadFile(path) }

// ConfigFromEnv builds a configuration from environment variables.
func ConfigFromEnv() (Config, error) { return config.FromEnv() }

// Wrapper is the batch orchestrator. It is safe for concurrent use; each
// SendBatch call borrows its batch for the duration of the submission and
// shares the per-table session, backoff, and failure-window state.
type Wrapper struct {
	cfg   Config
	log   *zap.Logger
	retry retry.Config

	sessions *session.Manager
	registry *backoff.Registry
	tel      *telemetry.Telemetry
	debug    *debugcap.Writer
	tokens   *auth.TokenSource

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option customizes a Wrapper.
type Option func(*wrapperDeps)

type wrapperDeps struct {
	logger        *zap.Logger
	sdkFactory    session.Factory
	cooldownStore backoff.CooldownStore
	registry      *backoff.Registry
}

// WithLogger replaces the logger built from the observability config.
func WithLogger(log *zap.Logger) Option {
	return func(d *wrapperDeps) { d.logger = log }
}

// WithSDKFactory replaces the gRPC transport, used by tests and by
// embedders that bring their own SDK handle.
func WithSDKFactory(f session.Factory) Option {
	return func(d *wrapperDeps) { d.sdkFactory = f }
}

// WithCooldownStore shares the backoff registry across processes, e.g.
// through backoff.NewRedisStore.
func WithCooldownStore(s backoff.CooldownStore) Option {
	return func(d *wrapperDeps) { d.cooldownStore = s }
}

// WithBackoffRegistry shares one registry between wrappers targeting
// different tables, keeping the backoff state process-wide. Cooldowns stay
// keyed per table, so one table's cooldown never affects another.
func WithBackoffRegistry(r *backoff.Registry) Option {
	return func(d *wrapperDeps) { d.registry = r }
}

// New validates cfg and assembles the wrapper. The SDK handle itself is
// created lazily on the first send.
func New(cfg Config, opts ...Option) (*Wrapper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var deps wrapperDeps
	for _, opt := range opts {
		opt(&deps)
	}

	log := deps.logger
	if log == nil {
		log = buildLogger(cfg)
	}

	w := &Wrapper{
		cfg: cfg,
		log: log,
		retry: retry.Config{
			MaxAttempts:  cfg.RetryMaxAttempts,
			BaseDelay:    time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.RetryMaxDelayMS) * time.Millisecond,
			Jitter:       true,
			NonRetryable: nonRetryableSend,
		},
		tel: telemetry.New(cfg.ObservabilityEnabled, cfg.Observability.MetricsAddr, log),
	}

	if deps.registry != nil {
		w.registry = deps.registry
	} else {
		var registryOpts []backoff.Option
		if deps.cooldownStore != nil {
			registryOpts = append(registryOpts, backoff.WithStore(deps.cooldownStore))
		}
		w.registry = backoff.NewRegistry(log, registryOpts...)
	}

	var sessionOpts []session.Option
	if !cfg.WriterDisabled {
		w.tokens = auth.NewTokenSource(cfg.UnityCatalogURL, cfg.ClientID, cfg.ClientSecret)
		sessionOpts = append(sessionOpts, session.WithTokenRefresher(w.tokens))
	}
	factory := deps.sdkFactory
	if factory == nil {
		factory = func(context.Context) (sdkclient.SDK, error) {
			return sdkclient.Dial(cfg.Endpoint, w.tokens, log)
		}
	}
	w.sessions = session.NewManager(factory, log, sessionOpts...)

	if cfg.DebugEnabled {
		dw, err := debugcap.New(debugcap.Config{
			Dir:              cfg.DebugOutputDir,
			Table:            cfg.TableName,
			FlushInterval:    time.Duration(cfg.DebugFlushIntervalSecs) * time.Second,
			MaxFileSize:      cfg.DebugMaxFileSize,
			MaxFilesRetained: cfg.DebugMaxFilesRetained,
			ArrowEnabled:     cfg.DebugArrowEnabled,
			ProtoEnabled:     cfg.DebugProtobufEnabled,
		}, log)
		if err != nil {
			return nil, err
		}
		w.debug = dw
		log.Info("debug capture enabled", zap.String("dir", cfg.DebugOutputDir))
	}

	log.Info("wrapper initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("table", cfg.TableName),
		zap.Bool("writer_disabled", cfg.WriterDisabled))
	return w, nil
}

// nonRetryableSend keeps the retry engine away from errors that demand a
// different reaction than another attempt.
func nonRetryableSend(err error) bool {
	return sdkclient.IsServerOverload(err) || errors.Is(err, session.ErrSessionLost)
}

func buildLogger(cfg Config) *zap.Logger {
	if !cfg.ObservabilityEnabled {
		return zap.NewNop()
	}
	level := zapcore.InfoLevel
	switch cfg.Observability.LogLevel {
	case "trace", "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	log, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// SendBatch submits one record batch, deriving the protobuf descriptor
// from the batch schema.
func (w *Wrapper) SendBatch(ctx context.Context, rec arrow.Record) (*TransmissionResult, error) {
	desc, err := descriptor.FromArrowSchema(rec.Schema(), descriptor.DefaultMessageName)
	if err != nil {
		return w.terminal(rec, err, 1, time.Now()), nil
	}
	return w.SendBatchWithDescriptor(ctx, rec, desc)
}

// SendBatchWithDescriptor submits one record batch against an explicit
// descriptor. The returned result is always non-nil; batch-level failures
// are reported through its Err field, so the error return is reserved for
// misuse (nil batch).
func (w *Wrapper) SendBatchWithDescriptor(ctx context.Context, rec arrow.Record, desc *descriptorpb.DescriptorProto) (*TransmissionResult, error) {
	if rec == nil {
		return nil, zerr.New(zerr.Configuration, "send batch", "record batch is nil")
	}
	start := time.Now()
	table := w.cfg.TableName
	endSpan := w.tel.StartSpan(table)
	defer endSpan()

	// 1. Backoff gate: a cooling-down table fails fast without touching
	// the SDK.
	if entry, active := w.registry.Check(ctx, table); active {
		err := zerr.New(zerr.Connection, "send batch",
			"table %s is cooling down (%s) until %s", table, entry.Kind, entry.ExpiresAt.Format(time.RFC3339))
		res := w.terminal(rec, err, 1, start)
		w.tel.RecordBatchSent(false, res.BytesIn, time.Since(start))
		return res, nil
	}

	if err := descriptor.Validate(desc); err != nil {
		return w.terminal(rec, err, 1, start), nil
	}

	// 2. Debug capture before any network activity, so downstream
	// failures still leave artefacts. Capture failures never fail the send.
	if w.debug != nil {
		if err := w.debug.WriteArrow(rec); err != nil {
			w.log.Warn("arrow debug capture failed", zap.Error(err))
		}
		if err := w.debug.WriteDescriptor(desc); err != nil {
			w.log.Warn("descriptor debug capture failed", zap.Error(err))
		}
	}

	// 3. Encode the whole batch; conversion failures stay per-row.
	encoded := encode.Batch(rec, desc)
	if w.debug != nil {
		for _, er := range encoded.Rows {
			if err := w.debug.WriteProto(er.Bytes); err != nil {
				w.log.Warn("protobuf debug capture failed", zap.Error(err))
				break
			}
		}
	}

	failed := make([]RowError, 0, len(encoded.Failed))
	for _, fr := range encoded.Failed {
		failed = append(failed, RowError{Row: fr.Row, Err: fr.Err})
	}

	// 4. Writer-disabled mode: success over the encoded rows with no
	// network and no failure-window update.
	if w.cfg.WriterDisabled {
		okRows := make([]int, 0, len(encoded.Rows))
		for _, er := range encoded.Rows {
			okRows = append(okRows, er.Row)
		}
		res := w.finish(rec, okRows, failed, 1, start, nil)
		w.emit(res, start)
		return res, nil
	}

	// Nothing survived encoding: report without touching the SDK, but
	// still feed the window (conversion failures count zero network
	// failures, keeping the denominator honest).
	if len(encoded.Rows) == 0 {
		res := w.finish(rec, nil, failed, 1, start, nil)
		w.registry.ObserveBatch(ctx, table, res.Total, 0)
		w.emit(res, start)
		return res, nil
	}

	// 5. Acquire the session up-front so handle and session creation
	// failures are batch-level.
	attempts, err := w.retry.Do(ctx, "create stream", func(ctx context.Context) error {
		return w.sessions.EnsureSession(ctx, table, desc)
	})
	if err != nil {
		if sdkclient.IsServerOverload(err) {
			w.tripOverload(ctx, table)
		}
		res := w.terminal(rec, err, attempts, start)
		w.emit(res, start)
		return res, nil
	}

	okRows, rowFailures, maxAttempts := w.sendRows(ctx, table, desc, encoded.Rows)
	if maxAttempts > attempts {
		attempts = maxAttempts
	}
	failed = append(failed, rowFailures...)

	res := w.finish(rec, okRows, failed, attempts, start, nil)

	// 7. Feed the failure-rate window with network-class failures only,
	// then emit observability events.
	network := 0
	for _, fr := range res.FailedRows {
		if zerr.NetworkClass(fr.Err) {
			network++
		}
	}
	if _, tripped := w.registry.ObserveBatch(ctx, table, res.Total, network); tripped {
		w.tel.RecordBackoff(backoff.HighFailureRate.String())
	}
	w.emit(res, start)
	return res, nil
}

// sendRows ingests encoded rows in ascending row order, retrying each row
// through the retry engine. Overload or session loss stops the loop and
// fails the current and remaining rows.
func (w *Wrapper) sendRows(ctx context.Context, table string, desc *descriptorpb.DescriptorProto, rows []encode.EncodedRow) (okRows []int, failed []RowError, maxAttempts uint32) {
	okRows = make([]int, 0, len(rows))
	maxAttempts = 1

	for i, er := range rows {
		attempts, err := w.retry.Do(ctx, "ingest record", func(ctx context.Context) error {
			return w.sessions.IngestRow(ctx, table, desc, er.Bytes)
		})
		if attempts > maxAttempts {
			maxAttempts = attempts
		}
		if err == nil {
			okRows = append(okRows, er.Row)
			continue
		}

		if sdkclient.IsServerOverload(err) {
			w.tripOverload(ctx, table)
			for _, rest := range rows[i:] {
				failed = append(failed, RowError{Row: rest.Row, Err: zerr.Wrapf(zerr.Connection, "ingest record", err,
					"table %s: server overload, cooldown installed", table)})
			}
			return okRows, failed, maxAttempts
		}
		if errors.Is(err, session.ErrSessionLost) {
			for _, rest := range rows[i:] {
				failed = append(failed, RowError{Row: rest.Row, Err: zerr.Wrapf(zerr.Connection, "ingest record", err,
					"table %s: session lost mid-batch", table)})
			}
			return okRows, failed, maxAttempts
		}
		if zerr.KindOf(err) == zerr.TokenRefresh {
			// The single refresh attempt failed; there is no point in
			// pushing further rows through the same dead credential.
			for _, rest := range rows[i:] {
				failed = append(failed, RowError{Row: rest.Row, Err: err})
			}
			return okRows, failed, maxAttempts
		}

		// Isolated row failure: collect and continue with the next row.
		failed = append(failed, RowError{Row: er.Row, Err: err})
	}
	return okRows, failed, maxAttempts
}

func (w *Wrapper) tripOverload(ctx context.Context, table string) {
	w.registry.TripServerOverload(ctx, table)
	w.tel.RecordBackoff(backoff.ServerOverload.String())
}

// terminal builds a batch-level failure result with empty row sets.
func (w *Wrapper) terminal(rec arrow.Record, err error, attempts uint32, start time.Time) *TransmissionResult {
	w.log.Error("batch failed", zap.String("table", w.cfg.TableName), zap.Error(err))
	return &TransmissionResult{
		Success:   false,
		Err:       err,
		Attempts:  attempts,
		LatencyMS: uint64(time.Since(start).Milliseconds()),
		BytesIn:   batchSizeBytes(rec),
		Total:     int(rec.NumRows()),
	}
}

// finish merges the row partitions into the outcome record.
func (w *Wrapper) finish(rec arrow.Record, okRows []int, failed []RowError, attempts uint32, start time.Time, err error) *TransmissionResult {
	res := &TransmissionResult{
		Success:        err == nil,
		Err:            err,
		Attempts:       attempts,
		LatencyMS:      uint64(time.Since(start).Milliseconds()),
		BytesIn:        batchSizeBytes(rec),
		SuccessfulRows: okRows,
		FailedRows:     failed,
		Total:          int(rec.NumRows()),
		OKCount:        len(okRows),
		FailCount:      len(failed),
	}
	return res
}

// emit publishes the outcome to the telemetry sink.
func (w *Wrapper) emit(res *TransmissionResult, start time.Time) {
	w.tel.RecordBatchSent(res.Success, res.BytesIn, time.Since(start))
	byKind := make(map[string]int)
	for _, fr := range res.FailedRows {
		byKind[zerr.KindOf(fr.Err).String()]++
	}
	w.tel.RecordRows(res.OKCount, byKind)
}

// Flush drains the debug writers and the telemetry sink. It completes
// before Shutdown returns.
func (w *Wrapper) Flush(ctx context.Context) error {
	if w.debug != nil {
		if err := w.debug.Flush(); err != nil {
			return err
		}
	}
	return w.tel.Flush()
}

// Shutdown flushes the debug and telemetry sinks, closes every live
// session, closes the debug writer, and flushes telemetry once more. It is
// idempotent: a second call returns the first call's result without
// repeating the work.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() {
		w.log.Info("shutting down wrapper", zap.String("table", w.cfg.TableName))
		if err := w.Flush(ctx); err != nil {
			w.log.Warn("flush during shutdown failed", zap.Error(err))
		}
		w.sessions.Shutdown(ctx)
		if w.debug != nil {
			if err := w.debug.Close(); err != nil {
				w.log.Warn("debug writer close failed", zap.Error(err))
			}
		}
		w.shutdownErr = w.tel.Flush()
	})
	return w.shutdownErr
}

// batchSizeBytes sums the in-memory buffer sizes of every column,
// including nested children.
func batchSizeBytes(rec arrow.Record) int {
	total := 0
	var walk func(d arrow.ArrayData)
	walk = func(d arrow.ArrayData) {
		for _, b := range d.Buffers() {
			if b != nil {
				total += b.Len()
			}
		}
		for _, child := range d.Children() {
			walk(child)
		}
	}
	for i := 0; i < int(rec.NumCols()); i++ {
		walk(rec.Column(i).Data())
	}
	return total
}
