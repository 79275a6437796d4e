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

// Package encode transcodes Arrow record batches to protobuf wire bytes,
// one message per row, driven by a validated descriptor. Failures are
// isolated per row: the encoder is total over the row set and returns two
// disjoint partitions whose index union covers every input row.
package encode

import (
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"google.golang.org/protobuf/types/descriptorpb"

	"zerobus/internal/descriptor"
	"zerobus/internal/wire"
	"zerobus/zerr"
)

// MaxRecordBytes is the wire-record ceiling: 4 MiB minus fixed framing
// overhead. Rows whose encoded form exceeds it are rejected per row.
const MaxRecordBytes = 4194285

// EncodedRow is one successfully transcoded row.
type EncodedRow struct {
	Row   int
	Bytes []byte
}

// RowError is one per-row failure.
type RowError struct {
	Row int
	Err error
}

// Result partitions a batch into encoded rows and per-row failures.
// len(Rows) + len(Failed) always equals the input row count.
type Result struct {
	Rows   []EncodedRow
	Failed []RowError
}

// plannedColumn pairs a batch column with the descriptor field it feeds.
// Columns without a matching descriptor field are not planned (silently
// ignored); descriptor fields without a column are omitted per row.
type plannedColumn struct {
	col   arrow.Array
	field *descriptorpb.FieldDescriptorProto
}

// Batch encodes every row of rec against desc. The name-to-field index is
// built once per batch. One row's failure never aborts its neighbours.
func Batch(rec arrow.Record, desc *descriptorpb.DescriptorProto) *Result {
	fieldByName := make(map[string]*descriptorpb.FieldDescriptorProto, len(desc.GetField()))
	for _, f := range desc.GetField() {
		fieldByName[f.GetName()] = f
	}

	plan := make([]plannedColumn, 0, rec.NumCols())
	for i := 0; i < int(rec.NumCols()); i++ {
		if f, ok := fieldByName[rec.ColumnName(i)]; ok {
			plan = append(plan, plannedColumn{col: rec.Column(i), field: f})
		}
	}

	numRows := int(rec.NumRows())
	res := &Result{Rows: make([]EncodedRow, 0, numRows)}
	for row := 0; row < numRows; row++ {
		buf, err := encodeRow(plan, desc, row)
		if err != nil {
			res.Failed = append(res.Failed, RowError{Row: row, Err: err})
			continue
		}
		if len(buf) > MaxRecordBytes {
			res.Failed = append(res.Failed, RowError{Row: row, Err: zerr.New(zerr.Conversion, "encode row",
				"row %d encodes to %d bytes, exceeding the wire record limit of %d bytes", row, len(buf), MaxRecordBytes)})
			continue
		}
		res.Rows = append(res.Rows, EncodedRow{Row: row, Bytes: buf})
	}
	return res
}

func encodeRow(plan []plannedColumn, desc *descriptorpb.DescriptorProto, row int) ([]byte, error) {
	var buf []byte
	for _, pc := range plan {
		var err error
		buf, err = encodeField(buf, pc.field, desc, pc.col, row)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// encodeField appends one field occurrence (or several, for repeated
// fields) for the given row. Null rows are skipped: protobuf absence is
// the default value.
func encodeField(buf []byte, fd *descriptorpb.FieldDescriptorProto, parent *descriptorpb.DescriptorProto, col arrow.Array, row int) ([]byte, error) {
	if col.IsNull(row) {
		return buf, nil
	}

	if fd.GetLabel() == descriptorpb.FieldDescriptorProto_LABEL_REPEATED {
		return encodeRepeated(buf, fd, parent, col, row)
	}
	if fd.GetType() == descriptorpb.FieldDescriptorProto_TYPE_MESSAGE {
		return encodeMessage(buf, fd, parent, col, row)
	}
	return encodeScalar(buf, fd, col, row)
}

// encodeRepeated emits one tag+value pair per non-null list element
// (non-packed encoding). Nulls inside the list are skipped.
func encodeRepeated(buf []byte, fd *descriptorpb.FieldDescriptorProto, parent *descriptorpb.DescriptorProto, col arrow.Array, row int) ([]byte, error) {
	var (
		values     arrow.Array
		start, end int64
	)
	switch list := col.(type) {
	case *array.List:
		values = list.ListValues()
		start, end = list.ValueOffsets(row)
	case *array.LargeList:
		values = list.ListValues()
		start, end = list.ValueOffsets(row)
	default:
		return nil, zerr.New(zerr.Conversion, "encode row",
			"field %q is repeated but column is %s, expected a list", fd.GetName(), col.DataType())
	}

	for i := start; i < end; i++ {
		if values.IsNull(int(i)) {
			continue
		}
		var err error
		if fd.GetType() == descriptorpb.FieldDescriptorProto_TYPE_MESSAGE {
			buf, err = encodeMessage(buf, fd, parent, values, int(i))
		} else {
			buf, err = encodeScalar(buf, fd, values, int(i))
		}
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// encodeMessage recurses into a struct column and wraps the inner bytes in
// length-delimited framing.
func encodeMessage(buf []byte, fd *descriptorpb.FieldDescriptorProto, parent *descriptorpb.DescriptorProto, col arrow.Array, row int) ([]byte, error) {
	nested := descriptor.Nested(parent, fd)
	if nested == nil {
		return nil, zerr.New(zerr.Conversion, "encode row",
			"field %q references message %q which the descriptor does not define", fd.GetName(), fd.GetTypeName())
	}
	st, ok := col.(*array.Struct)
	if !ok {
		return nil, zerr.New(zerr.Conversion, "encode row",
			"field %q is a message but column is %s, expected a struct", fd.GetName(), col.DataType())
	}
	structType, ok := st.DataType().(*arrow.StructType)
	if !ok {
		return nil, zerr.New(zerr.Conversion, "encode row",
			"field %q: struct column carries unexpected type %s", fd.GetName(), st.DataType())
	}

	var inner []byte
	for _, nf := range nested.GetField() {
		idx, ok := structType.FieldIdx(nf.GetName())
		if !ok {
			continue // descriptor field absent from the struct: omitted
		}
		var err error
		inner, err = encodeField(inner, nf, nested, st.Field(idx), row)
		if err != nil {
			return nil, err
		}
	}

	buf = wire.AppendTag(buf, fd.GetNumber(), wire.TypeLengthDelimited)
	return wire.AppendLengthDelimited(buf, inner), nil
}

// encodeScalar dispatches on the descriptor's declared protobuf type and
// expects the Arrow column to carry a compatible physical type. Any
// mismatch is a per-row Conversion failure.
func encodeScalar(buf []byte, fd *descriptorpb.FieldDescriptorProto, col arrow.Array, row int) ([]byte, error) {
	num := fd.GetNumber()
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:
		a, ok := col.(*array.Float64)
		if !ok {
			return nil, mismatch(fd, "float64", col)
		}
		buf = wire.AppendTag(buf, num, wire.TypeFixed64)
		return wire.AppendFixed64(buf, math.Float64bits(a.Value(row))), nil

	case descriptorpb.FieldDescriptorProto_TYPE_FLOAT:
		a, ok := col.(*array.Float32)
		if !ok {
			return nil, mismatch(fd, "float32", col)
		}
		buf = wire.AppendTag(buf, num, wire.TypeFixed32)
		return wire.AppendFixed32(buf, math.Float32bits(a.Value(row))), nil

	case descriptorpb.FieldDescriptorProto_TYPE_INT64:
		v, ok := int64Value(col, row)
		if !ok {
			return nil, mismatch(fd, "int64", col)
		}
		buf = wire.AppendTag(buf, num, wire.TypeVarint)
		return wire.AppendVarint(buf, uint64(v)), nil

	case descriptorpb.FieldDescriptorProto_TYPE_UINT64:
		a, ok := col.(*array.Uint64)
		if !ok {
			return nil, mismatch(fd, "uint64", col)
		}
		buf = wire.AppendTag(buf, num, wire.TypeVarint)
		return wire.AppendVarint(buf, a.Value(row)), nil

	case descriptorpb.FieldDescriptorProto_TYPE_INT32:
		v, ok := int32Value(col, row)
		if !ok {
			return nil, mismatch(fd, "int32", col)
		}
		buf = wire.AppendTag(buf, num, wire.TypeVarint)
		// Negative int32 values sign-extend to ten varint bytes, matching
		// standard protobuf int32 semantics.
		return wire.AppendVarint(buf, uint64(int64(v))), nil

	case descriptorpb.FieldDescriptorProto_TYPE_UINT32:
		v, ok := uint32Value(col, row)
		if !ok {
			return nil, mismatch(fd, "uint32", col)
		}
		buf = wire.AppendTag(buf, num, wire.TypeVarint)
		return wire.AppendVarint(buf, uint64(v)), nil

	case descriptorpb.FieldDescriptorProto_TYPE_SINT32:
		v, ok := int32Value(col, row)
		if !ok {
			return nil, mismatch(fd, "int32", col)
		}
		buf = wire.AppendTag(buf, num, wire.TypeVarint)
		return wire.AppendVarint(buf, uint64(wire.Zigzag32(v))), nil

	case descriptorpb.FieldDescriptorProto_TYPE_SINT64:
		v, ok := int64Value(col, row)
		if !ok {
			return nil, mismatch(fd, "int64", col)
		}
		buf = wire.AppendTag(buf, num, wire.TypeVarint)
		return wire.AppendVarint(buf, wire.Zigzag64(v)), nil

	case descriptorpb.FieldDescriptorProto_TYPE_BOOL:
		a, ok := col.(*array.Boolean)
		if !ok {
			return nil, mismatch(fd, "boolean", col)
		}
		buf = wire.AppendTag(buf, num, wire.TypeVarint)
		var v uint64
		if a.Value(row) {
			v = 1
		}
		return wire.AppendVarint(buf, v), nil

	case descriptorpb.FieldDescriptorProto_TYPE_STRING:
		var s string
		switch a := col.(type) {
		case *array.String:
			s = a.Value(row)
		case *array.LargeString:
			s = a.Value(row)
		default:
			return nil, mismatch(fd, "utf8", col)
		}
		buf = wire.AppendTag(buf, num, wire.TypeLengthDelimited)
		return wire.AppendLengthDelimitedString(buf, s), nil

	case descriptorpb.FieldDescriptorProto_TYPE_BYTES:
		var b []byte
		switch a := col.(type) {
		case *array.Binary:
			b = a.Value(row)
		case *array.LargeBinary:
			b = a.Value(row)
		default:
			return nil, mismatch(fd, "binary", col)
		}
		buf = wire.AppendTag(buf, num, wire.TypeLengthDelimited)
		return wire.AppendLengthDelimited(buf, b), nil

	default:
		return nil, zerr.New(zerr.Conversion, "encode row",
			"field %q declares unsupported protobuf type %s", fd.GetName(), fd.GetType())
	}
}

// int64Value reads int64-backed columns: plain int64 plus the temporal
// types the descriptor generator maps onto int64.
func int64Value(col arrow.Array, row int) (int64, bool) {
	switch a := col.(type) {
	case *array.Int64:
		return a.Value(row), true
	case *array.Timestamp:
		return int64(a.Value(row)), true
	case *array.Date64:
		return int64(a.Value(row)), true
	case *array.Time64:
		return int64(a.Value(row)), true
	case *array.Duration:
		return int64(a.Value(row)), true
	default:
		return 0, false
	}
}

// int32Value reads int32-backed columns, widening the narrower signed
// widths the generator maps onto int32.
func int32Value(col arrow.Array, row int) (int32, bool) {
	switch a := col.(type) {
	case *array.Int32:
		return a.Value(row), true
	case *array.Int16:
		return int32(a.Value(row)), true
	case *array.Int8:
		return int32(a.Value(row)), true
	case *array.Date32:
		return int32(a.Value(row)), true
	case *array.Time32:
		return int32(a.Value(row)), true
	default:
		return 0, false
	}
}

func uint32Value(col arrow.Array, row int) (uint32, bool) {
	switch a := col.(type) {
	case *array.Uint32:
		return a.Value(row), true
	case *array.Uint16:
		return uint32(a.Value(row)), true
	case *array.Uint8:
		return uint32(a.Value(row)), true
	default:
		return 0, false
	}
}

func mismatch(fd *descriptorpb.FieldDescriptorProto, want string, col arrow.Array) error {
	return zerr.New(zerr.Conversion, "encode row",
		"field %q declares %s but column is %s, expected %s",
		fd.GetName(), fd.GetType(), col.DataType(), want)
}
