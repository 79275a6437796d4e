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

// Package debugcap captures what the wrapper saw and what it sent: raw
// record batches as Arrow IPC stream files and per-row wire bytes as a
// newline-separated dump, plus the serialized descriptor, all rotated and
// retained per configuration. Capture happens before any network activity
// so downstream failures still leave inspection artefacts.
package debugcap

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"zerobus/zerr"
)

// RotationRecordCount closes the active file once it holds this many
// records, regardless of size.
const RotationRecordCount = 1000

// Config parameterizes a Writer.
type Config struct {
	// Dir is the debug output root; files land under Dir/zerobus/.
	Dir string
	// Table names the destination table; sanitized into filenames.
	Table string
	// FlushInterval drives the periodic background flush.
	FlushInterval time.Duration
	// MaxFileSize rotates the active file beyond this many bytes; 0 disables.
	MaxFileSize int64
	// MaxFilesRetained deletes the oldest rotated files beyond this count;
	// the active file is not counted. 0 retains everything.
	MaxFilesRetained int
	// ArrowEnabled and ProtoEnabled gate the individual formats.
	ArrowEnabled bool
	ProtoEnabled bool
}

// SanitizeTable replaces the path-hostile characters in a table name.
func SanitizeTable(table string) string {
	return strings.NewReplacer(".", "_", "/", "_").Replace(table)
}

// fileSink is one rotating output file. Its lock is held for exactly one
// write or one flush, never across multiple writes.
type fileSink struct {
	mu       sync.Mutex
	basePath string
	path     string
	f        *os.File
	bw       *bufio.Writer
	records  int
	size     int64
}

// Writer owns the three per-table capture outputs.
type Writer struct {
	cfg       Config
	sanitized string
	log       *zap.Logger
	now       func() time.Time

	arrowSink fileSink
	arrowIPC  *ipc.Writer
	protoSink fileSink

	descOnce sync.Once
	descErr  error

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates the output directories and starts the background flush loop.
func New(cfg Config, log *zap.Logger) (*Writer, error) {
	const op = "init debug writer"
	sanitized := SanitizeTable(cfg.Table)

	arrowDir := filepath.Join(cfg.Dir, "zerobus", "arrow")
	protoDir := filepath.Join(cfg.Dir, "zerobus", "proto")
	descDir := filepath.Join(cfg.Dir, "zerobus", "descriptors")
	for _, dir := range []string{arrowDir, protoDir, descDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, zerr.Wrapf(zerr.Configuration, op, err, "create directory %s", dir)
		}
	}

	w := &Writer{
		cfg:       cfg,
		sanitized: sanitized,
		log:       log,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
	w.arrowSink.basePath = filepath.Join(arrowDir, sanitized+".arrows")
	w.arrowSink.path = w.arrowSink.basePath
	w.protoSink.basePath = filepath.Join(protoDir, sanitized+".proto")
	w.protoSink.path = w.protoSink.basePath

	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	w.wg.Add(1)
	go w.flushLoop(interval)
	return w, nil
}

// WriteArrow appends one record batch to the IPC stream file.
func (w *Writer) WriteArrow(rec arrow.Record) error {
	if !w.cfg.ArrowEnabled {
		return nil
	}
	const op = "write arrow debug file"

	w.arrowSink.mu.Lock()
	defer w.arrowSink.mu.Unlock()

	if w.needsRotation(&w.arrowSink) {
		if err := w.rotateArrowLocked(); err != nil {
			return err
		}
	}
	if w.arrowSink.f == nil {
		f, err := os.Create(w.arrowSink.path)
		if err != nil {
			return zerr.Wrapf(zerr.Configuration, op, err, "path %s", w.arrowSink.path)
		}
		w.arrowSink.f = f
		w.arrowSink.bw = bufio.NewWriter(f)
		w.arrowIPC = ipc.NewWriter(w.arrowSink.bw, ipc.WithSchema(rec.Schema()))
		w.log.Debug("created arrow debug file", zap.String("path", w.arrowSink.path))
	}
	if err := w.arrowIPC.Write(rec); err != nil {
		return zerr.Wrapf(zerr.Conversion, op, err, "path %s", w.arrowSink.path)
	}
	w.arrowSink.records += int(rec.NumRows())
	w.arrowSink.size = w.fileSize(&w.arrowSink)
	return nil
}

// WriteProto appends one row's wire bytes followed by a newline separator.
// The dump is for inspection only, not a parseable stream.
func (w *Writer) WriteProto(rowBytes []byte) error {
	if !w.cfg.ProtoEnabled {
		return nil
	}
	const op = "write protobuf debug file"

	w.protoSink.mu.Lock()
	defer w.protoSink.mu.Unlock()

	if w.needsRotation(&w.protoSink) {
		if err := w.rotateProtoLocked(); err != nil {
			return err
		}
	}
	if w.protoSink.f == nil {
		f, err := os.Create(w.protoSink.path)
		if err != nil {
			return zerr.Wrapf(zerr.Configuration, op, err, "path %s", w.protoSink.path)
		}
		w.protoSink.f = f
		w.protoSink.bw = bufio.NewWriter(f)
		w.log.Debug("created protobuf debug file", zap.String("path", w.protoSink.path))
	}
	n, err := w.protoSink.bw.Write(rowBytes)
	if err != nil {
		return zerr.Wrapf(zerr.Configuration, op, err, "path %s", w.protoSink.path)
	}
	if err := w.protoSink.bw.WriteByte('\n'); err != nil {
		return zerr.Wrapf(zerr.Configuration, op, err, "path %s", w.protoSink.path)
	}
	w.protoSink.records++
	w.protoSink.size += int64(n) + 1
	return nil
}

// WriteDescriptor serializes the descriptor once per table.
func (w *Writer) WriteDescriptor(desc *descriptorpb.DescriptorProto) error {
	w.descOnce.Do(func() {
		const op = "write descriptor debug file"
		raw, err := proto.Marshal(desc)
		if err != nil {
			w.descErr = zerr.Wrap(zerr.Conversion, op, err)
			return
		}
		path := filepath.Join(w.cfg.Dir, "zerobus", "descriptors", w.sanitized+".pb")
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			w.descErr = zerr.Wrapf(zerr.Configuration, op, err, "path %s", path)
			return
		}
		w.log.Debug("wrote descriptor debug file", zap.String("path", path))
	})
	return w.descErr
}

func (w *Writer) needsRotation(s *fileSink) bool {
	if s.f == nil {
		return false
	}
	if s.records >= RotationRecordCount {
		return true
	}
	return w.cfg.MaxFileSize > 0 && s.size > w.cfg.MaxFileSize
}

// rotatedPath suffixes the base filename with the rotation timestamp.
func (w *Writer) rotatedPath(basePath string) string {
	ext := filepath.Ext(basePath)
	stem := strings.TrimSuffix(basePath, ext)
	return fmt.Sprintf("%s_%s%s", stem, w.now().Format("20060102_150405"), ext)
}

func (w *Writer) rotateArrowLocked() error {
	if w.arrowIPC != nil {
		if err := w.arrowIPC.Close(); err != nil {
			w.log.Warn("error closing arrow ipc stream", zap.Error(err))
		}
		w.arrowIPC = nil
	}
	return w.rotateSinkLocked(&w.arrowSink)
}

func (w *Writer) rotateProtoLocked() error {
	return w.rotateSinkLocked(&w.protoSink)
}

func (w *Writer) rotateSinkLocked(s *fileSink) error {
	if s.bw != nil {
		if err := s.bw.Flush(); err != nil {
			w.log.Warn("error flushing before rotation", zap.Error(err))
		}
	}
	if s.f != nil {
		if err := s.f.Close(); err != nil {
			w.log.Warn("error closing before rotation", zap.Error(err))
		}
	}
	s.f = nil
	s.bw = nil
	s.records = 0
	s.size = 0
	s.path = w.rotatedPath(s.basePath)
	w.log.Debug("rotated debug file", zap.String("next", s.path))
	w.enforceRetentionLocked(s)
	return nil
}

// enforceRetentionLocked deletes the oldest rotated files beyond the
// retention limit. The file about to become active is exempt.
func (w *Writer) enforceRetentionLocked(s *fileSink) {
	if w.cfg.MaxFilesRetained <= 0 {
		return
	}
	ext := filepath.Ext(s.basePath)
	stem := strings.TrimSuffix(s.basePath, ext)
	matches, err := filepath.Glob(stem + "*" + ext)
	if err != nil {
		return
	}
	type aged struct {
		path string
		mod  time.Time
	}
	var candidates []aged
	for _, m := range matches {
		if m == s.path {
			continue
		}
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		candidates = append(candidates, aged{path: m, mod: info.ModTime()})
	}
	if len(candidates) <= w.cfg.MaxFilesRetained {
		return
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mod.Before(candidates[j].mod) })
	for _, c := range candidates[:len(candidates)-w.cfg.MaxFilesRetained] {
		if err := os.Remove(c.path); err != nil {
			w.log.Warn("error removing rotated debug file", zap.String("path", c.path), zap.Error(err))
			continue
		}
		w.log.Debug("removed rotated debug file beyond retention", zap.String("path", c.path))
	}
}

func (w *Writer) flushLoop(interval time.Duration) {
	defer w.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.Flush(); err != nil {
				w.log.Warn("periodic debug flush failed", zap.Error(err))
			}
		case <-w.stopChan:
			return
		}
	}
}

// Flush pushes buffered bytes to disk. Each sink's lock is taken for just
// its own flush.
func (w *Writer) Flush() error {
	var firstErr error

	w.arrowSink.mu.Lock()
	if w.arrowSink.bw != nil {
		if err := w.arrowSink.bw.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.arrowSink.mu.Unlock()

	w.protoSink.mu.Lock()
	if w.protoSink.bw != nil {
		if err := w.protoSink.bw.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.protoSink.mu.Unlock()

	if firstErr != nil {
		return zerr.Wrap(zerr.Configuration, "flush debug files", firstErr)
	}
	return nil
}

// Close stops the flush loop, finalizes the IPC stream, and closes both
// files. Safe to call multiple times.
func (w *Writer) Close() error {
	var firstErr error
	w.closeOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()

		w.arrowSink.mu.Lock()
		if w.arrowIPC != nil {
			if err := w.arrowIPC.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			w.arrowIPC = nil
		}
		if w.arrowSink.bw != nil {
			if err := w.arrowSink.bw.Flush(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if w.arrowSink.f != nil {
			if err := w.arrowSink.f.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			w.arrowSink.f = nil
		}
		w.arrowSink.mu.Unlock()

		w.protoSink.mu.Lock()
		if w.protoSink.bw != nil {
			if err := w.protoSink.bw.Flush(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if w.protoSink.f != nil {
			if err := w.protoSink.f.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			w.protoSink.f = nil
		}
		w.protoSink.mu.Unlock()
	})
	if firstErr != nil {
		return zerr.Wrap(zerr.Configuration, "close debug writer", firstErr)
	}
	return nil
}

// fileSize reports the active file's on-disk size after buffered bytes are
// accounted for; used for the size-based rotation check.
func (w *Writer) fileSize(s *fileSink) int64 {
	var size int64
	if s.f != nil {
		if info, err := s.f.Stat(); err == nil {
			size = info.Size()
		}
	}
	if s.bw != nil {
		size += int64(s.bw.Buffered())
	}
	return size
}
