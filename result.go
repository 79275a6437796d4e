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
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"zerobus/zerr"
)

// RowError pairs a row index with the error that kept it out of the table.
type RowError struct {
	Row int
	Err error
}

// TransmissionResult is the immutable per-batch outcome record. Either the
// row partitions cover every input row (Total = OKCount + FailCount), or a
// batch-level terminal error is set and both partitions are empty.
type TransmissionResult struct {
	// Success is true when no batch-level terminal error occurred. A
	// partial success (some rows failed) still reports true here.
	Success bool
	// Err is the batch-level terminal error, nil otherwise.
	Err error
	// Attempts is the maximum attempt count across rows (1 when the batch
	// never reached the retry engine).
	Attempts uint32
	// LatencyMS is the end-to-end send latency.
	LatencyMS uint64
	// BytesIn is the in-memory size of the input batch.
	BytesIn int

	// FailedRows and SuccessfulRows partition the row index space.
	FailedRows     []RowError
	SuccessfulRows []int

	Total     int
	OKCount   int
	FailCount int
}

// FailedRowIndices returns the failed row indices in ascending order.
func (r *TransmissionResult) FailedRowIndices() []int {
	out := make([]int, 0, len(r.FailedRows))
	for _, fr := range r.FailedRows {
		out = append(out, fr.Row)
	}
	sort.Ints(out)
	return out
}

// SuccessfulRowIndices returns the accepted row indices in ascending order.
func (r *TransmissionResult) SuccessfulRowIndices() []int {
	out := make([]int, len(r.SuccessfulRows))
	copy(out, r.SuccessfulRows)
	sort.Ints(out)
	return out
}

// GroupErrorsByType buckets failed rows by error kind name.
func (r *TransmissionResult) GroupErrorsByType() map[string][]int {
	out := make(map[string][]int)
	for _, fr := range r.FailedRows {
		kind := zerr.KindOf(fr.Err).String()
		out[kind] = append(out[kind], fr.Row)
	}
	for _, rows := range out {
		sort.Ints(rows)
	}
	return out
}

// Statistics summarizes a result numerically.
type Statistics struct {
	Total       int
	OKCount     int
	FailCount   int
	SuccessRate float64
	FailureRate float64
	ByKind      map[string]int
}

// ErrorStatistics computes totals, rates, and per-kind counts.
func (r *TransmissionResult) ErrorStatistics() Statistics {
	s := Statistics{
		Total:     r.Total,
		OKCount:   r.OKCount,
		FailCount: r.FailCount,
		ByKind:    make(map[string]int),
	}
	if r.Total > 0 {
		s.SuccessRate = float64(r.OKCount) / float64(r.Total)
		s.FailureRate = float64(r.FailCount) / float64(r.Total)
	}
	for _, fr := range r.FailedRows {
		s.ByKind[zerr.KindOf(fr.Err).String()]++
	}
	return s
}

// FailedRowIndicesBy returns the failed rows whose error satisfies pred,
// in ascending order.
func (r *TransmissionResult) FailedRowIndicesBy(pred func(error) bool) []int {
	var out []int
	for _, fr := range r.FailedRows {
		if pred(fr.Err) {
			out = append(out, fr.Row)
		}
	}
	sort.Ints(out)
	return out
}

// IsPartialSuccess reports whether the batch split: some rows accepted,
// some failed.
func (r *TransmissionResult) IsPartialSuccess() bool {
	return r.OKCount > 0 && r.FailCount > 0
}

// HasFailedRows reports whether any row failed.
func (r *TransmissionResult) HasFailedRows() bool { return r.FailCount > 0 }

// HasSuccessfulRows reports whether any row was accepted.
func (r *TransmissionResult) HasSuccessfulRows() bool { return r.OKCount > 0 }

// ExtractFailedBatch builds a new record holding exactly the failed rows
// of the original batch, in ascending row order with the schema preserved.
// Returns (nil, false) when no rows failed. The caller owns the returned
// record and must Release it.
func (r *TransmissionResult) ExtractFailedBatch(original arrow.Record) (arrow.Record, bool) {
	return takeRows(original, r.FailedRowIndices())
}

// ExtractSuccessfulBatch is the accepted-rows counterpart of
// ExtractFailedBatch.
func (r *TransmissionResult) ExtractSuccessfulBatch(original arrow.Record) (arrow.Record, bool) {
	return takeRows(original, r.SuccessfulRowIndices())
}

// takeRows gathers the given rows of rec into a fresh record. Row
// selection works per column by concatenating single-row slices, which
// keeps the helper total over every supported column type.
func takeRows(rec arrow.Record, indices []int) (arrow.Record, bool) {
	if len(indices) == 0 {
		return nil, false
	}
	mem := memory.NewGoAllocator()
	cols := make([]arrow.Array, 0, rec.NumCols())
	release := func() {
		for _, c := range cols {
			c.Release()
		}
	}
	for i := 0; i < int(rec.NumCols()); i++ {
		col := rec.Column(i)
		slices := make([]arrow.Array, 0, len(indices))
		for _, row := range indices {
			slices = append(slices, array.NewSlice(col, int64(row), int64(row)+1))
		}
		joined, err := array.Concatenate(slices, mem)
		for _, s := range slices {
			s.Release()
		}
		if err != nil {
			release()
			return nil, false
		}
		cols = append(cols, joined)
	}
	out := array.NewRecord(rec.Schema(), cols, int64(len(indices)))
	release()
	return out, true
}
