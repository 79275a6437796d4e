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
	"bytes"
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"zerobus/zerr"
)

// The Arrow IPC stream format is the byte-level bridge between languages:
// a foreign caller serializes its native tabular object to IPC bytes, and
// this surface turns them back into record batches for submission. Error
// kinds map one-to-one onto the foreign exception taxonomy.

// RecordToIPC serializes one record batch as an Arrow IPC stream.
func RecordToIPC(rec arrow.Record) ([]byte, error) {
	const op = "serialize ipc stream"
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(rec.Schema()))
	if err := w.Write(rec); err != nil {
		return nil, zerr.Wrap(zerr.Conversion, op, err)
	}
	if err := w.Close(); err != nil {
		return nil, zerr.Wrap(zerr.Conversion, op, err)
	}
	return buf.Bytes(), nil
}

// RecordsFromIPC parses every record batch out of an Arrow IPC stream.
// The caller owns the returned records and must Release them.
func RecordsFromIPC(raw []byte) ([]arrow.Record, error) {
	const op = "parse ipc stream"
	r, err := ipc.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, zerr.Wrap(zerr.Conversion, op, err)
	}
	defer r.Release()

	var records []arrow.Record
	for r.Next() {
		rec := r.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := r.Err(); err != nil {
		for _, rec := range records {
			rec.Release()
		}
		return nil, zerr.Wrap(zerr.Conversion, op, err)
	}
	if len(records) == 0 {
		return nil, zerr.New(zerr.Conversion, op, "ipc stream holds no record batches")
	}
	return records, nil
}

// SendIPC submits every record batch found in an Arrow IPC stream and
// returns one result per batch, in stream order.
func (w *Wrapper) SendIPC(ctx context.Context, raw []byte) ([]*TransmissionResult, error) {
	records, err := RecordsFromIPC(raw)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()

	results := make([]*TransmissionResult, 0, len(records))
	for _, rec := range records {
		res, err := w.SendBatch(ctx, rec)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
