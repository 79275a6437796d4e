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
	"github.com/apache/arrow-go/v18/arrow"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"zerobus/zerr"
)

// DefaultMessageName names generated root messages.
const DefaultMessageName = "ZerobusMessage"

// FromArrowSchema derives a protobuf descriptor from an Arrow schema.
// Field numbers are assigned in schema order starting at 1. List columns
// become repeated fields of the element mapping; struct columns become
// nested messages referenced by name.
func FromArrowSchema(schema *arrow.Schema, messageName string) (*descriptorpb.DescriptorProto, error) {
	if messageName == "" {
		messageName = DefaultMessageName
	}
	msg, err := messageFromFields(messageName, schema.Fields())
	if err != nil {
		return nil, err
	}
	if err := Validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func messageFromFields(name string, fields []arrow.Field) (*descriptorpb.DescriptorProto, error) {
	msg := &descriptorpb.DescriptorProto{Name: proto.String(name)}
	number := int32(1)
	for _, field := range fields {
		fd, nested, err := fieldFromArrow(field, number)
		if err != nil {
			return nil, err
		}
		msg.Field = append(msg.Field, fd)
		if nested != nil {
			msg.NestedType = append(msg.NestedType, nested)
		}
		number++
	}
	return msg, nil
}

// fieldFromArrow maps one Arrow field to a field descriptor, returning a
// nested message definition when the mapping requires one.
func fieldFromArrow(field arrow.Field, number int32) (*descriptorpb.FieldDescriptorProto, *descriptorpb.DescriptorProto, error) {
	const op = "generate descriptor"

	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	dt := field.Type

	if list, ok := dt.(*arrow.ListType); ok {
		label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
		dt = list.Elem()
	} else if list, ok := dt.(*arrow.LargeListType); ok {
		label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
		dt = list.Elem()
	}

	fd := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(field.Name),
		Number: proto.Int32(number),
		Label:  label.Enum(),
	}

	if st, ok := dt.(*arrow.StructType); ok {
		nestedName := field.Name + "_message"
		nested, err := messageFromFields(nestedName, st.Fields())
		if err != nil {
			return nil, nil, err
		}
		fd.Type = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
		fd.TypeName = proto.String(nestedName)
		return fd, nested, nil
	}

	pt, err := scalarType(dt)
	if err != nil {
		return nil, nil, zerr.Wrapf(zerr.Conversion, op, err, "field %q", field.Name)
	}
	fd.Type = pt.Enum()
	return fd, nil, nil
}

func scalarType(dt arrow.DataType) (descriptorpb.FieldDescriptorProto_Type, error) {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32:
		return descriptorpb.FieldDescriptorProto_TYPE_INT32, nil
	case arrow.INT64:
		return descriptorpb.FieldDescriptorProto_TYPE_INT64, nil
	case arrow.UINT8, arrow.UINT16, arrow.UINT32:
		return descriptorpb.FieldDescriptorProto_TYPE_UINT32, nil
	case arrow.UINT64:
		return descriptorpb.FieldDescriptorProto_TYPE_UINT64, nil
	case arrow.FLOAT32:
		return descriptorpb.FieldDescriptorProto_TYPE_FLOAT, nil
	case arrow.FLOAT64:
		return descriptorpb.FieldDescriptorProto_TYPE_DOUBLE, nil
	case arrow.BOOL:
		return descriptorpb.FieldDescriptorProto_TYPE_BOOL, nil
	case arrow.STRING, arrow.LARGE_STRING:
		return descriptorpb.FieldDescriptorProto_TYPE_STRING, nil
	case arrow.BINARY, arrow.LARGE_BINARY:
		return descriptorpb.FieldDescriptorProto_TYPE_BYTES, nil
	case arrow.TIMESTAMP, arrow.DATE64, arrow.TIME64, arrow.DURATION:
		return descriptorpb.FieldDescriptorProto_TYPE_INT64, nil
	case arrow.DATE32, arrow.TIME32:
		return descriptorpb.FieldDescriptorProto_TYPE_INT32, nil
	default:
		return 0, zerr.New(zerr.Conversion, "generate descriptor", "unsupported Arrow type %s", dt)
	}
}
