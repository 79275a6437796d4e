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

package zerobus

import (
	"reflect"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"zerobus/zerr"
)

func sampleResult() *TransmissionResult {
	return &TransmissionResult{
		Success:  true,
		Attempts: 1,
		Total:    5,
		OKCount:  3,
		FailCount: 2,
		SuccessfulRows: []int{0, 2, 4},
		FailedRows: []RowError{
			{Row: 3, Err: zerr.New(zerr.Connection, "ingest record", "reset")},
			{Row: 1, Err: zerr.New(zerr.Conversion, "encode row", "mismatch")},
		},
	}
}

func threeRowBatch(t *testing.T) arrow.Record {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)
	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues([]int64{1, 2, 3}, nil)
	b.Field(1).(*array.StringBuilder).AppendValues([]string{"Alice", "Bob", "Charlie"}, nil)
	return b.NewRecord()
}

func TestRowIndexHelpers(t *testing.T) {
	res := sampleResult()
	if got := res.FailedRowIndices(); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Errorf("FailedRowIndices = %v", got)
	}
	if got := res.SuccessfulRowIndices(); !reflect.DeepEqual(got, []int{0, 2, 4}) {
		t.Errorf("SuccessfulRowIndices = %v", got)
	}
}

func TestGroupErrorsByType(t *testing.T) {
	grouped := sampleResult().GroupErrorsByType()
	if !reflect.DeepEqual(grouped["Connection"], []int{3}) {
		t.Errorf("Connection rows = %v", grouped["Connection"])
	}
	if !reflect.DeepEqual(grouped["Conversion"], []int{1}) {
		t.Errorf("Conversion rows = %v", grouped["Conversion"])
	}
}

func TestErrorStatistics(t *testing.T) {
	stats := sampleResult().ErrorStatistics()
	if stats.Total != 5 || stats.OKCount != 3 || stats.FailCount != 2 {
		t.Errorf("totals = %+v", stats)
	}
	if stats.SuccessRate != 0.6 || stats.FailureRate != 0.4 {
		t.Errorf("rates = %v/%v", stats.SuccessRate, stats.FailureRate)
	}
	if stats.ByKind["Connection"] != 1 || stats.ByKind["Conversion"] != 1 {
		t.Errorf("by kind = %v", stats.ByKind)
	}
}

func TestFailedRowIndicesBy(t *testing.T) {
	res := sampleResult()
	got := res.FailedRowIndicesBy(func(err error) bool {
		return zerr.KindOf(err) == zerr.Conversion
	})
	if !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("predicate rows = %v", got)
	}
	if got := res.FailedRowIndicesBy(func(error) bool { return false }); len(got) != 0 {
		t.Errorf("empty predicate rows = %v", got)
	}
}

func TestPartialSuccessPredicates(t *testing.T) {
	res := sampleResult()
	if !res.IsPartialSuccess() || !res.HasFailedRows() || !res.HasSuccessfulRows() {
		t.Error("mixed result predicates wrong")
	}

	allOK := &TransmissionResult{Success: true, Total: 2, OKCount: 2, SuccessfulRows: []int{0, 1}}
	if allOK.IsPartialSuccess() || allOK.HasFailedRows() || !allOK.HasSuccessfulRows() {
		t.Error("all-ok predicates wrong")
	}

	allBad := &TransmissionResult{Success: true, Total: 2, FailCount: 2,
		FailedRows: []RowError{{Row: 0, Err: zerr.New(zerr.Conversion, "encode row", "x")},
			{Row: 1, Err: zerr.New(zerr.Conversion, "encode row", "x")}}}
	if allBad.IsPartialSuccess() || !allBad.HasFailedRows() || allBad.HasSuccessfulRows() {
		t.Error("all-failed predicates wrong")
	}
}

func TestExtractBatches(t *testing.T) {
	rec := threeRowBatch(t)
	defer rec.Release()

	res := &TransmissionResult{
		Success:        true,
		Total:          3,
		OKCount:        2,
		FailCount:      1,
		SuccessfulRows: []int{2, 0},
		FailedRows:     []RowError{{Row: 1, Err: zerr.New(zerr.Connection, "ingest record", "reset")}},
	}

	okBatch, ok := res.ExtractSuccessfulBatch(rec)
	if !ok {
		t.Fatal("successful batch missing")
	}
	defer okBatch.Release()
	if okBatch.NumRows() != 2 {
		t.Fatalf("successful rows = %d", okBatch.NumRows())
	}
	if !okBatch.Schema().Equal(rec.Schema()) {
		t.Error("schema not preserved")
	}
	// Ascending row order: rows 0 and 2 -> ids 1 and 3.
	ids := okBatch.Column(0).(*array.Int64)
	if ids.Value(0) != 1 || ids.Value(1) != 3 {
		t.Errorf("extracted ids = %d, %d", ids.Value(0), ids.Value(1))
	}
	names := okBatch.Column(1).(*array.String)
	if names.Value(0) != "Alice" || names.Value(1) != "Charlie" {
		t.Errorf("extracted names = %q, %q", names.Value(0), names.Value(1))
	}

	quarantine, ok := res.ExtractFailedBatch(rec)
	if !ok {
		t.Fatal("failed batch missing")
	}
	defer quarantine.Release()
	if quarantine.NumRows() != 1 {
		t.Fatalf("failed rows = %d", quarantine.NumRows())
	}
	if quarantine.Column(0).(*array.Int64).Value(0) != 2 {
		t.Error("quarantine holds the wrong row")
	}
}

func TestExtractEmptyReturnsNone(t *testing.T) {
	rec := threeRowBatch(t)
	defer rec.Release()

	res := &TransmissionResult{Success: true, Total: 3, OKCount: 3, SuccessfulRows: []int{0, 1, 2}}
	if _, ok := res.ExtractFailedBatch(rec); ok {
		t.Error("empty failed set must return no batch")
	}
	if _, ok := res.ExtractSuccessfulBatch(rec); !ok {
		t.Error("non-empty successful set must return a batch")
	}
}

func TestInvariantTerminalResultHasEmptyRowSets(t *testing.T) {
	res := &TransmissionResult{
		Success: false,
		Err:     zerr.New(zerr.Connection, "send batch", "cooling down"),
		Total:   10,
	}
	if res.OKCount != 0 || res.FailCount != 0 {
		t.Error("terminal results carry zero counts")
	}
	if res.HasFailedRows() || res.HasSuccessfulRows() || res.IsPartialSuccess() {
		t.Error("terminal results have no row partitions")
	}
	if _, ok := res.ExtractFailedBatch(nil); ok {
		t.Error("terminal results extract nothing")
	}
}
