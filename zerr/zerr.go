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

// Package zerr defines the closed error taxonomy shared by every component
// of the wrapper. All failures surfaced to callers carry one of the Kind
// values below, the operation that failed, and an optional wrapped cause.
//
// Classification predicates (Retryable, TokenExpired, NetworkClass) are the
// single source of truth consulted by the retry engine and the failure-rate
// window; components never match on message text.
package zerr

import (
	"errors"
	"fmt"
)

// Kind identifies a failure category. The set is closed: new categories
// require revisiting every classification table in the wrapper.
type Kind uint8

const (
	// KindUnknown is the zero value; it is never produced by the wrapper.
	KindUnknown Kind = iota
	// Configuration covers invalid or missing configuration and rejected
	// descriptors. Never retryable.
	Configuration
	// Authentication covers credential failures from the upstream service.
	// Not retryable directly, but triggers a single token refresh.
	Authentication
	// Connection covers network connectivity and session failures. Retryable.
	Connection
	// Conversion covers per-row Arrow-to-protobuf encoding failures.
	// Never retryable; isolated to the offending row.
	Conversion
	// Transmission covers transient data transmission failures. Retryable.
	Transmission
	// RetryExhausted wraps the last error after all retry attempts failed.
	RetryExhausted
	// TokenRefresh covers a failed token refresh attempt. Terminal.
	TokenRefresh
)

// String returns the canonical kind name used in metrics labels and
// error statistics maps.
func (k Kind) String() string {
	switch k {
	case Configuration:
		return "Configuration"
	case Authentication:
		return "Authentication"
	case Connection:
		return "Connection"
	case Conversion:
		return "Conversion"
	case Transmission:
		return "Transmission"
	case RetryExhausted:
		return "RetryExhausted"
	case TokenRefresh:
		return "TokenRefresh"
	default:
		return "Unknown"
	}
}

// Error is the wrapper's structured error. Op names the operation that
// failed, Msg carries the human-readable detail, and Err optionally wraps
// the underlying cause for errors.Is/As traversal.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Error implements the error interface. Secrets are never formatted here;
// callers are responsible for passing already-redacted detail.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s error: %s: %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

// Unwrap returns the wrapped cause for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so callers can compare against a
// bare &Error{Kind: Connection}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error with the given kind, operation, and message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an error with the given kind and operation wrapping cause.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Wrapf creates an error wrapping cause with an additional message.
func Wrapf(kind Kind, op string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindUnknown when err carries no taxonomy kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether err is transient and worth retrying.
// Only Connection and Transmission qualify.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Connection, Transmission:
		return true
	default:
		return false
	}
}

// TokenExpired reports whether err indicates an expired or rejected
// credential, which entitles the caller to exactly one refresh attempt.
func TokenExpired(err error) bool {
	return KindOf(err) == Authentication
}

// NetworkClass reports whether err counts toward the per-table failure-rate
// window. Connection and Transmission count directly; a RetryExhausted error
// counts when the exhausted attempt was itself network-class. Conversion,
// Configuration, and Authentication never count.
func NetworkClass(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case Connection, Transmission:
		return true
	case RetryExhausted:
		return NetworkClass(e.Err)
	default:
		return false
	}
}
