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

// Package sdkclient defines the capability contract of the upstream
// record-ingest service (create SDK, create stream, ingest record, close)
// and classifies its failures. The wrapper core depends only on the
// interfaces here; the gRPC-backed implementation lives alongside so the
// session manager can stay transport-agnostic.
package sdkclient

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/descriptorpb"
)

// OverloadCode is the server-assigned numeric code signalling overload.
// An error carrying it must never be retried like a normal transient
// failure; the session is torn down and a cooldown installed instead.
const OverloadCode = 6006

// SDK is one process-wide handle onto the ingest service.
type SDK interface {
	// CreateStream opens a record-ingest session for one destination
	// table, supplying the descriptor so the server validates schema
	// compatibility up-front.
	CreateStream(ctx context.Context, table string, desc *descriptorpb.DescriptorProto) (Stream, error)
	// Close releases the handle and any underlying connection.
	Close() error
}

// Stream is a stateful session scoped to one destination table. Streams
// are not safe for concurrent use; the session manager serializes access.
type Stream interface {
	// IngestRecord transmits one wire record.
	IngestRecord(ctx context.Context, payload []byte) error
	// Close ends the session gracefully.
	Close() error
}

// OverloadError marks an upstream overload signal. The transport wraps
// the raw error in this type when it can attribute the numeric code
// structurally, which is preferred over message matching.
type OverloadError struct {
	Err error
}

func (e *OverloadError) Error() string {
	return "server overload (code " + strconv.Itoa(OverloadCode) + "): " + e.Err.Error()
}

func (e *OverloadError) Unwrap() error { return e.Err }

// IsServerOverload reports whether err carries the overload sentinel,
// either as a typed OverloadError or, failing that, as the documented
// numeric code inside a gRPC status or error message.
func IsServerOverload(err error) bool {
	if err == nil {
		return false
	}
	var oe *OverloadError
	if errors.As(err, &oe) {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() != codes.OK {
		if strings.Contains(s.Message(), strconv.Itoa(OverloadCode)) {
			return true
		}
	}
	return strings.Contains(err.Error(), strconv.Itoa(OverloadCode))
}

// IsStreamClosed reports whether err indicates the session or its channel
// is gone and a fresh session is required.
func IsStreamClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.Aborted, codes.Canceled:
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "stream closed") ||
		strings.Contains(msg, "closed channel") ||
		strings.Contains(msg, "EOF")
}

// IsAuthRejected reports whether err indicates the upstream rejected the
// caller's credential, entitling the session manager to one token refresh.
func IsAuthRejected(err error) bool {
	if err == nil {
		return false
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			return true
		}
	}
	return false
}
