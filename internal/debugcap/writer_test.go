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

package debugcap

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

func newTestWriter(t *testing.T, cfg Config) *Writer {
	t.Helper()
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Hour // keep the loop quiet during tests
	}
	w, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func smallBatch(t *testing.T, rows int) arrow.Record {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()
	for i := 0; i < rows; i++ {
		b.Field(0).(*array.Int64Builder).Append(int64(i))
	}
	return b.NewRecord()
}

func TestSanitizeTable(t *testing.T) {
	if got := SanitizeTable("catalog.schema/table"); got != "catalog_schema_table" {
		t.Errorf("SanitizeTable = %q", got)
	}
}

func TestWriteArrowProducesReadableIPCStream(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, Config{Dir: dir, Table: "my.table", ArrowEnabled: true, ProtoEnabled: true})

	rec := smallBatch(t, 3)
	defer rec.Release()
	if err := w.WriteArrow(rec); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "zerobus", "arrow", "my_table.arrows")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("arrow debug file missing: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("arrow debug file is empty")
	}

	r, err := ipc.NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ipc.NewReader: %v", err)
	}
	defer r.Release()
	if !r.Next() {
		t.Fatal("stream holds no batches")
	}
	if got := r.Record().NumRows(); got != 3 {
		t.Errorf("decoded rows = %d, want 3", got)
	}
}

func TestWriteProtoNewlineSeparated(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, Config{Dir: dir, Table: "events", ArrowEnabled: true, ProtoEnabled: true})

	if err := w.WriteProto([]byte{0x08, 0x01}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteProto([]byte{0x08, 0x02}); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "zerobus", "proto", "events.proto"))
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x08, 0x01, '\n', 0x08, 0x02, '\n'}
	if !bytes.Equal(raw, want) {
		t.Errorf("proto dump = %x, want %x", raw, want)
	}
}

func TestWriteDescriptorOnce(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, Config{Dir: dir, Table: "events", ArrowEnabled: true, ProtoEnabled: true})

	desc := &descriptorpb.DescriptorProto{
		Name: proto.String("Event"),
		Field: []*descriptorpb.FieldDescriptorProto{{
			Name:   proto.String("id"),
			Number: proto.Int32(1),
			Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:   descriptorpb.FieldDescriptorProto_TYPE_INT64.Enum(),
		}},
	}
	if err := w.WriteDescriptor(desc); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "zerobus", "descriptors", "events.pb")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var parsed descriptorpb.DescriptorProto
	if err := proto.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("descriptor file does not parse: %v", err)
	}
	if parsed.GetName() != "Event" || len(parsed.GetField()) != 1 {
		t.Errorf("parsed descriptor = %v", &parsed)
	}

	// A second call is a no-op, not a rewrite.
	info1, _ := os.Stat(path)
	if err := w.WriteDescriptor(desc); err != nil {
		t.Fatal(err)
	}
	info2, _ := os.Stat(path)
	if !info1.ModTime().Equal(info2.ModTime()) {
		t.Error("descriptor file rewritten on second call")
	}
}

func TestRotationAtRecordCount(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, Config{Dir: dir, Table: "events", ArrowEnabled: true, ProtoEnabled: true})
	clock := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	big := smallBatch(t, RotationRecordCount)
	defer big.Release()
	if err := w.WriteArrow(big); err != nil {
		t.Fatal(err)
	}
	// The next write finds the active file at the record ceiling and
	// rotates first.
	more := smallBatch(t, 5)
	defer more.Release()
	if err := w.WriteArrow(more); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	base := filepath.Join(dir, "zerobus", "arrow", "events.arrows")
	rotated := filepath.Join(dir, "zerobus", "arrow", "events_20260801_103000.arrows")
	if _, err := os.Stat(base); err != nil {
		t.Errorf("base file missing: %v", err)
	}
	if _, err := os.Stat(rotated); err != nil {
		t.Errorf("rotated active file missing: %v", err)
	}
}

func TestRotationBySize(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, Config{Dir: dir, Table: "events", ProtoEnabled: true, MaxFileSize: 8})
	clock := time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	payload := []byte("0123456789") // 11 bytes with separator, over the cap
	if err := w.WriteProto(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteProto(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	base := filepath.Join(dir, "zerobus", "proto", "events.proto")
	rotated := filepath.Join(dir, "zerobus", "proto", "events_20260801_110000.proto")
	if _, err := os.Stat(base); err != nil {
		t.Errorf("base file missing: %v", err)
	}
	if _, err := os.Stat(rotated); err != nil {
		t.Errorf("size-rotated file missing: %v", err)
	}
}

func TestRetentionDeletesOldestRotated(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, Config{Dir: dir, Table: "events", ProtoEnabled: true, MaxFileSize: 4, MaxFilesRetained: 1})
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	// Each write overflows the size cap, forcing a rotation on the next.
	for i := 0; i < 4; i++ {
		if err := w.WriteProto([]byte("xxxxxxxx")); err != nil {
			t.Fatal(err)
		}
		clock = clock.Add(time.Second) // distinct rotation timestamps
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "zerobus", "proto", "events*.proto"))
	if err != nil {
		t.Fatal(err)
	}
	// Retained: the active file plus at most one rotated file.
	if len(matches) > 2 {
		t.Errorf("retention kept %d files: %v", len(matches), matches)
	}
}

func TestFormatGates(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, Config{Dir: dir, Table: "events", ArrowEnabled: false, ProtoEnabled: false})

	rec := smallBatch(t, 1)
	defer rec.Release()
	if err := w.WriteArrow(rec); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteProto([]byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "zerobus", "arrow", "events.arrows")); !os.IsNotExist(err) {
		t.Error("disabled arrow format still wrote a file")
	}
	if _, err := os.Stat(filepath.Join(dir, "zerobus", "proto", "events.proto")); !os.IsNotExist(err) {
		t.Error("disabled proto format still wrote a file")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	w := newTestWriter(t, Config{Dir: t.TempDir(), Table: "events", ProtoEnabled: true})
	if err := w.WriteProto([]byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}
