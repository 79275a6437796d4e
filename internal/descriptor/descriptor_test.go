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

package descriptor

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"zerobus/zerr"
)

func simpleField(name string, number int32) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   descriptorpb.FieldDescriptorProto_TYPE_INT64.Enum(),
	}
}

func TestValidateAcceptsWellFormed(t *testing.T) {
	desc := &descriptorpb.DescriptorProto{
		Name:  proto.String("Event"),
		Field: []*descriptorpb.FieldDescriptorProto{simpleField("id", 1), simpleField("value", 536870911)},
	}
	if err := Validate(desc); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsNil(t *testing.T) {
	if err := Validate(nil); zerr.KindOf(err) != zerr.Configuration {
		t.Fatalf("Validate(nil) kind = %v, want Configuration", zerr.KindOf(err))
	}
}

func TestValidateFieldNumberBounds(t *testing.T) {
	for _, n := range []int32{0, -5, 536870912} {
		desc := &descriptorpb.DescriptorProto{
			Name:  proto.String("Event"),
			Field: []*descriptorpb.FieldDescriptorProto{simpleField("id", n)},
		}
		err := Validate(desc)
		if err == nil {
			t.Fatalf("Validate accepted field number %d", n)
		}
		if !errors.Is(err, &zerr.Error{Kind: zerr.Configuration}) {
			t.Errorf("field number %d: kind = %v, want Configuration", n, zerr.KindOf(err))
		}
	}
}

func TestValidateIdentifiers(t *testing.T) {
	bad := []string{"with-dash", "has space", "naïve", "läufer", ""}
	for _, name := range bad {
		desc := &descriptorpb.DescriptorProto{
			Name:  proto.String("Event"),
			Field: []*descriptorpb.FieldDescriptorProto{simpleField(name, 1)},
		}
		if Validate(desc) == nil {
			t.Errorf("Validate accepted field name %q", name)
		}
	}
	desc := &descriptorpb.DescriptorProto{Name: proto.String("bad.name")}
	if Validate(desc) == nil {
		t.Error("Validate accepted message name with dot")
	}
}

func TestValidateFieldCountCeiling(t *testing.T) {
	desc := &descriptorpb.DescriptorProto{Name: proto.String("Wide")}
	for i := 0; i < MaxFields+1; i++ {
		desc.Field = append(desc.Field, simpleField(fmt.Sprintf("f%d", i), int32(i+1)))
	}
	err := Validate(desc)
	if err == nil {
		t.Fatal("Validate accepted a message with 1001 fields")
	}
	if !strings.Contains(err.Error(), "1001") {
		t.Errorf("error %q does not cite the field count", err)
	}
}

func TestValidateDepthCeiling(t *testing.T) {
	// Build a chain of depth 11; every nesting level must be visited.
	leaf := &descriptorpb.DescriptorProto{Name: proto.String("Level11")}
	node := leaf
	for i := MaxDepth; i >= 1; i-- {
		node = &descriptorpb.DescriptorProto{
			Name:       proto.String(fmt.Sprintf("Level%d", i)),
			NestedType: []*descriptorpb.DescriptorProto{node},
		}
	}
	err := Validate(node)
	if err == nil {
		t.Fatal("Validate accepted nesting depth 11")
	}
	if zerr.KindOf(err) != zerr.Configuration {
		t.Errorf("kind = %v, want Configuration", zerr.KindOf(err))
	}

	// Depth exactly 10 passes.
	ok := &descriptorpb.DescriptorProto{Name: proto.String("Level10")}
	for i := MaxDepth - 1; i >= 1; i-- {
		ok = &descriptorpb.DescriptorProto{
			Name:       proto.String(fmt.Sprintf("Level%d", i)),
			NestedType: []*descriptorpb.DescriptorProto{ok},
		}
	}
	if err := Validate(ok); err != nil {
		t.Fatalf("Validate rejected depth 10: %v", err)
	}
}

func TestValidateChecksEveryBranch(t *testing.T) {
	// The hostile message hides in a sibling branch, not the first one.
	desc := &descriptorpb.DescriptorProto{
		Name: proto.String("Root"),
		NestedType: []*descriptorpb.DescriptorProto{
			{Name: proto.String("Fine")},
			{Name: proto.String("Bad"), Field: []*descriptorpb.FieldDescriptorProto{simpleField("x", 0)}},
		},
	}
	if Validate(desc) == nil {
		t.Fatal("Validate missed an invalid sibling branch")
	}
}

func TestNestedResolution(t *testing.T) {
	inner := &descriptorpb.DescriptorProto{Name: proto.String("point_message")}
	parent := &descriptorpb.DescriptorProto{
		Name:       proto.String("Root"),
		NestedType: []*descriptorpb.DescriptorProto{inner},
	}
	field := &descriptorpb.FieldDescriptorProto{
		Name:     proto.String("point"),
		TypeName: proto.String(".Root.point_message"),
	}
	if got := Nested(parent, field); got != inner {
		t.Error("dotted type name did not resolve to the nested message")
	}
	field.TypeName = proto.String("point_message")
	if got := Nested(parent, field); got != inner {
		t.Error("bare type name did not resolve to the nested message")
	}
	field.TypeName = proto.String("absent")
	if Nested(parent, field) != nil {
		t.Error("unknown type name must resolve to nil")
	}
}

func TestFromArrowSchemaScalars(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64},
		{Name: "active", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "payload", Type: arrow.BinaryTypes.Binary},
		{Name: "small", Type: arrow.PrimitiveTypes.Int32},
		{Name: "count", Type: arrow.PrimitiveTypes.Uint64},
	}, nil)

	desc, err := FromArrowSchema(schema, "")
	if err != nil {
		t.Fatalf("FromArrowSchema: %v", err)
	}
	if desc.GetName() != DefaultMessageName {
		t.Errorf("message name = %q", desc.GetName())
	}
	wantTypes := []descriptorpb.FieldDescriptorProto_Type{
		descriptorpb.FieldDescriptorProto_TYPE_INT64,
		descriptorpb.FieldDescriptorProto_TYPE_STRING,
		descriptorpb.FieldDescriptorProto_TYPE_DOUBLE,
		descriptorpb.FieldDescriptorProto_TYPE_BOOL,
		descriptorpb.FieldDescriptorProto_TYPE_BYTES,
		descriptorpb.FieldDescriptorProto_TYPE_INT32,
		descriptorpb.FieldDescriptorProto_TYPE_UINT64,
	}
	if len(desc.GetField()) != len(wantTypes) {
		t.Fatalf("field count = %d, want %d", len(desc.GetField()), len(wantTypes))
	}
	for i, f := range desc.GetField() {
		if f.GetType() != wantTypes[i] {
			t.Errorf("field %d type = %v, want %v", i, f.GetType(), wantTypes[i])
		}
		if f.GetNumber() != int32(i+1) {
			t.Errorf("field %d number = %d, want %d", i, f.GetNumber(), i+1)
		}
	}
}

func TestFromArrowSchemaListAndStruct(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "tags", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
		{Name: "point", Type: arrow.StructOf(
			arrow.Field{Name: "x", Type: arrow.PrimitiveTypes.Float64},
			arrow.Field{Name: "y", Type: arrow.PrimitiveTypes.Float64},
		)},
	}, nil)

	desc, err := FromArrowSchema(schema, "Event")
	if err != nil {
		t.Fatalf("FromArrowSchema: %v", err)
	}
	tags := desc.GetField()[0]
	if tags.GetLabel() != descriptorpb.FieldDescriptorProto_LABEL_REPEATED {
		t.Error("list column must map to a repeated field")
	}
	if tags.GetType() != descriptorpb.FieldDescriptorProto_TYPE_INT64 {
		t.Errorf("list element type = %v", tags.GetType())
	}

	point := desc.GetField()[1]
	if point.GetType() != descriptorpb.FieldDescriptorProto_TYPE_MESSAGE {
		t.Fatal("struct column must map to a message field")
	}
	nested := Nested(desc, point)
	if nested == nil {
		t.Fatal("nested message definition missing")
	}
	if len(nested.GetField()) != 2 {
		t.Errorf("nested field count = %d, want 2", len(nested.GetField()))
	}
}

func TestFromArrowSchemaTemporal(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "ts", Type: arrow.FixedWidthTypes.Timestamp_us},
		{Name: "day", Type: arrow.FixedWidthTypes.Date32},
	}, nil)
	desc, err := FromArrowSchema(schema, "Event")
	if err != nil {
		t.Fatalf("FromArrowSchema: %v", err)
	}
	if desc.GetField()[0].GetType() != descriptorpb.FieldDescriptorProto_TYPE_INT64 {
		t.Error("timestamp must map to int64")
	}
	if desc.GetField()[1].GetType() != descriptorpb.FieldDescriptorProto_TYPE_INT32 {
		t.Error("date32 must map to int32")
	}
}

func TestFromArrowSchemaUnsupported(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "m", Type: arrow.MapOf(arrow.BinaryTypes.String, arrow.PrimitiveTypes.Int64)},
	}, nil)
	_, err := FromArrowSchema(schema, "Event")
	if err == nil {
		t.Fatal("map columns are not generatable and must be rejected")
	}
	if zerr.KindOf(err) != zerr.Conversion {
		t.Errorf("kind = %v, want Conversion", zerr.KindOf(err))
	}
}
