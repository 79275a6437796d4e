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

// Package config defines the wrapper configuration record, its validation
// rules, the secret-wrapping credential container, and loaders for JSON
// files and environment variables.
package config

import (
	"encoding/json"
	"regexp"
	"strings"

	"zerobus/zerr"
)

// Secret wraps a credential string. It never appears in log or debug
// formatting; the value is exposed only through Reveal.
type Secret struct {
	value string
}

// NewSecret wraps v.
func NewSecret(v string) Secret { return Secret{value: v} }

// Reveal returns the wrapped value. This is the only accessor.
func (s Secret) Reveal() string { return s.value }

// Empty reports whether no value is set.
func (s Secret) Empty() bool { return s.value == "" }

// String implements fmt.Stringer with a fixed redaction.
func (s Secret) String() string { return "[REDACTED]" }

// GoString keeps %#v output redacted as well.
func (s Secret) GoString() string { return "config.Secret{value: \"[REDACTED]\"}" }

// MarshalJSON always emits the redaction; secrets never round-trip out.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal("[REDACTED]") }

// UnmarshalJSON accepts a plain string from configuration files.
func (s *Secret) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	s.value = v
	return nil
}

// ObservabilityConfig configures the telemetry sink.
type ObservabilityConfig struct {
	// Endpoint of a remote collector, optional.
	Endpoint string
	// OutputDir for file-based export, optional.
	OutputDir string
	// WriteIntervalSecs between exports; minimum 1, default 5.
	WriteIntervalSecs uint64
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string
	// MetricsAddr optionally serves Prometheus /metrics standalone.
	MetricsAddr string
}

// Config is the complete wrapper configuration. Construct via New and the
// With* setters, or through LoadFile/FromEnv, then Validate before use.
type Config struct {
	// Endpoint is the ingest service URL; must start with http:// or https://.
	Endpoint string
	// TableName is the destination table; [A-Za-z0-9_]+ only.
	TableName string
	// UnityCatalogURL issues OAuth tokens. Required unless WriterDisabled.
	UnityCatalogURL string
	// ClientID and ClientSecret are the OAuth2 client credentials.
	ClientID     Secret
	ClientSecret Secret

	ObservabilityEnabled bool
	Observability        ObservabilityConfig

	DebugEnabled           bool
	DebugOutputDir         string
	DebugFlushIntervalSecs uint64
	// DebugMaxFileSize in bytes before rotation; 0 means unset.
	DebugMaxFileSize int64
	// DebugMaxFilesRetained caps rotated files per format; 0 means unlimited.
	DebugMaxFilesRetained int
	DebugArrowEnabled     bool
	DebugProtobufEnabled  bool

	RetryMaxAttempts uint32
	RetryBaseDelayMS uint64
	RetryMaxDelayMS  uint64

	// WriterDisabled bypasses the network entirely; requires DebugEnabled
	// and drops the credentials requirement.
	WriterDisabled bool
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// New returns a configuration with the defaults applied: 5 retry attempts,
// 100ms base delay, 30s delay ceiling, 5s flush and write intervals, both
// debug formats enabled (the master DebugEnabled switch still gates them).
func New(endpoint, tableName string) Config {
	return Config{
		Endpoint:               endpoint,
		TableName:              tableName,
		DebugFlushIntervalSecs: 5,
		DebugArrowEnabled:      true,
		DebugProtobufEnabled:   true,
		RetryMaxAttempts:       5,
		RetryBaseDelayMS:       100,
		RetryMaxDelayMS:        30000,
		Observability: ObservabilityConfig{
			WriteIntervalSecs: 5,
			LogLevel:          "info",
		},
	}
}

// WithCredentials sets the OAuth2 client credentials.
func (c Config) WithCredentials(clientID, clientSecret string) Config {
	c.ClientID = NewSecret(clientID)
	c.ClientSecret = NewSecret(clientSecret)
	return c
}

// WithUnityCatalog sets the token issuer URL.
func (c Config) WithUnityCatalog(url string) Config {
	c.UnityCatalogURL = url
	return c
}

// WithObservability enables telemetry with the given sink configuration.
func (c Config) WithObservability(obs ObservabilityConfig) Config {
	c.ObservabilityEnabled = true
	if obs.WriteIntervalSecs == 0 {
		obs.WriteIntervalSecs = 5
	}
	if obs.LogLevel == "" {
		obs.LogLevel = "info"
	}
	c.Observability = obs
	return c
}

// WithDebugOutput enables debug capture into dir.
func (c Config) WithDebugOutput(dir string) Config {
	c.DebugEnabled = true
	c.DebugOutputDir = dir
	return c
}

// WithRetry overrides the retry schedule.
func (c Config) WithRetry(maxAttempts uint32, baseDelayMS, maxDelayMS uint64) Config {
	c.RetryMaxAttempts = maxAttempts
	c.RetryBaseDelayMS = baseDelayMS
	c.RetryMaxDelayMS = maxDelayMS
	return c
}

// WithWriterDisabled puts the wrapper in the bypass-the-network test mode.
func (c Config) WithWriterDisabled() Config {
	c.WriterDisabled = true
	return c
}

var logLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}

// Validate checks every recognized option and names the offending one in
// the error. All failures carry the Configuration kind.
func (c Config) Validate() error {
	const op = "validate config"

	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		return zerr.New(zerr.Configuration, op, "endpoint is required")
	}
	if !strings.HasPrefix(endpoint, "https://") && !strings.HasPrefix(endpoint, "http://") {
		return zerr.New(zerr.Configuration, op,
			"endpoint must start with 'https://' or 'http://', got: %q", c.Endpoint)
	}
	if c.TableName == "" {
		return zerr.New(zerr.Configuration, op, "table_name is required")
	}
	if !tableNameRe.MatchString(c.TableName) {
		return zerr.New(zerr.Configuration, op,
			"table_name must match [A-Za-z0-9_]+, got: %q", c.TableName)
	}

	if c.WriterDisabled {
		if !c.DebugEnabled {
			return zerr.New(zerr.Configuration, op,
				"writer_disabled requires debug_enabled to be true")
		}
	} else {
		if c.UnityCatalogURL == "" {
			return zerr.New(zerr.Configuration, op, "unity_catalog_url is required")
		}
		if c.ClientID.Empty() {
			return zerr.New(zerr.Configuration, op, "client_id is required")
		}
		if c.ClientSecret.Empty() {
			return zerr.New(zerr.Configuration, op, "client_secret is required")
		}
	}

	if c.DebugEnabled {
		if c.DebugOutputDir == "" {
			return zerr.New(zerr.Configuration, op,
				"debug_output_dir is required when debug_enabled is true")
		}
		if c.DebugFlushIntervalSecs < 1 {
			return zerr.New(zerr.Configuration, op,
				"debug_flush_interval_secs must be >= 1, got: %d", c.DebugFlushIntervalSecs)
		}
		if c.DebugMaxFileSize < 0 {
			return zerr.New(zerr.Configuration, op,
				"debug_max_file_size must not be negative, got: %d", c.DebugMaxFileSize)
		}
		if c.DebugMaxFilesRetained < 0 {
			return zerr.New(zerr.Configuration, op,
				"debug_max_files_retained must not be negative, got: %d", c.DebugMaxFilesRetained)
		}
	}

	if c.ObservabilityEnabled {
		if c.Observability.WriteIntervalSecs < 1 {
			return zerr.New(zerr.Configuration, op,
				"observability_config.write_interval_secs must be >= 1, got: %d", c.Observability.WriteIntervalSecs)
		}
		if c.Observability.LogLevel != "" && !logLevels[c.Observability.LogLevel] {
			return zerr.New(zerr.Configuration, op,
				"observability_config.log_level must be one of trace, debug, info, warn, error, got: %q", c.Observability.LogLevel)
		}
	}

	if c.RetryMaxAttempts < 1 {
		return zerr.New(zerr.Configuration, op,
			"retry_max_attempts must be >= 1, got: %d", c.RetryMaxAttempts)
	}
	if c.RetryMaxDelayMS < c.RetryBaseDelayMS {
		return zerr.New(zerr.Configuration, op,
			"retry_max_delay_ms (%d) must be >= retry_base_delay_ms (%d)", c.RetryMaxDelayMS, c.RetryBaseDelayMS)
	}

	return nil
}
