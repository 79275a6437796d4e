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

// Package descriptor validates protobuf message descriptors before the
// encoder or the upstream service ever sees them, and derives a descriptor
// from an Arrow schema when the caller does not supply one.
package descriptor

import (
	"regexp"

	"google.golang.org/protobuf/types/descriptorpb"

	"zerobus/zerr"
)

const (
	// MaxDepth bounds descriptor nesting at any branch.
	MaxDepth = 10
	// MaxFields bounds the field count of a single message.
	MaxFields = 1000
	// MaxFieldNumber is the protobuf field-number ceiling.
	MaxFieldNumber = 536870911
	// MinFieldNumber is the protobuf field-number floor.
	MinFieldNumber = 1
)

var identRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Validate rejects malformed or hostile descriptors: nesting deeper than
// MaxDepth at any branch, messages with more than MaxFields fields, field
// numbers outside [MinFieldNumber, MaxFieldNumber], and identifiers outside
// [A-Za-z0-9_] at message or field level. Validation is recursive pre-order
// over every nested message, not just the root.
func Validate(desc *descriptorpb.DescriptorProto) error {
	if desc == nil {
		return zerr.New(zerr.Configuration, "validate descriptor", "descriptor is nil")
	}
	return validateMessage(desc, 1)
}

func validateMessage(msg *descriptorpb.DescriptorProto, depth int) error {
	const op = "validate descriptor"
	if depth > MaxDepth {
		return zerr.New(zerr.Configuration, op,
			"message %q exceeds maximum nesting depth %d", msg.GetName(), MaxDepth)
	}
	if !identRe.MatchString(msg.GetName()) {
		return zerr.New(zerr.Configuration, op,
			"message name %q is not a valid identifier", msg.GetName())
	}
	if len(msg.GetField()) > MaxFields {
		return zerr.New(zerr.Configuration, op,
			"message %q has %d fields, maximum is %d", msg.GetName(), len(msg.GetField()), MaxFields)
	}
	for _, f := range msg.GetField() {
		if !identRe.MatchString(f.GetName()) {
			return zerr.New(zerr.Configuration, op,
				"field name %q in message %q is not a valid identifier", f.GetName(), msg.GetName())
		}
		if n := f.GetNumber(); n < MinFieldNumber || n > MaxFieldNumber {
			return zerr.New(zerr.Configuration, op,
				"field %q in message %q has number %d outside [%d, %d]",
				f.GetName(), msg.GetName(), n, MinFieldNumber, MaxFieldNumber)
		}
	}
	for _, nested := range msg.GetNestedType() {
		if err := validateMessage(nested, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Nested resolves a TYPE_MESSAGE field's target among the parent's nested
// message definitions. Type names are matched on the final path segment, so
// both bare names and dotted references resolve. Returns nil when the field
// does not reference a nested message the parent defines.
func Nested(parent *descriptorpb.DescriptorProto, field *descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	name := field.GetTypeName()
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			name = name[i+1:]
			break
		}
	}
	for _, nested := range parent.GetNestedType() {
		if nested.GetName() == name {
			return nested
		}
	}
	return nil
}
