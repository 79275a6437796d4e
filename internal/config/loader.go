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

package config

import (
	"encoding/json"
	"os"
	"strconv"

	"zerobus/zerr"
)

// fileConfig is the JSON shape of a configuration file. Optional booleans
// that default to true are pointers so absence is distinguishable.
type fileConfig struct {
	Endpoint        string `json:"endpoint"`
	TableName       string `json:"table_name"`
	UnityCatalogURL string `json:"unity_catalog_url"`
	ClientID        Secret `json:"client_id"`
	ClientSecret    Secret `json:"client_secret"`

	ObservabilityEnabled bool `json:"observability_enabled"`
	ObservabilityConfig  *struct {
		Endpoint          string `json:"endpoint"`
		OutputDir         string `json:"output_dir"`
		WriteIntervalSecs uint64 `json:"write_interval_secs"`
		LogLevel          string `json:"log_level"`
		MetricsAddr       string `json:"metrics_addr"`
	} `json:"observability_config"`

	DebugEnabled           bool    `json:"debug_enabled"`
	DebugOutputDir         string  `json:"debug_output_dir"`
	DebugFlushIntervalSecs *uint64 `json:"debug_flush_interval_secs"`
	DebugMaxFileSize       int64   `json:"debug_max_file_size"`
	DebugMaxFilesRetained  int     `json:"debug_max_files_retained"`
	DebugArrowEnabled      *bool   `json:"debug_arrow_enabled"`
	DebugProtobufEnabled   *bool   `json:"debug_protobuf_enabled"`

	RetryMaxAttempts *uint32 `json:"retry_max_attempts"`
	RetryBaseDelayMS *uint64 `json:"retry_base_delay_ms"`
	RetryMaxDelayMS  *uint64 `json:"retry_max_delay_ms"`

	WriterDisabled bool `json:"writer_disabled"`
}

// LoadFile reads a JSON configuration file. Missing optional fields keep
// their defaults; the result is validated before being returned.
func LoadFile(path string) (Config, error) {
	const op = "load config file"
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, zerr.Wrapf(zerr.Configuration, op, err, "path %q", path)
	}
	var fc fileConfig
	if err := json.Unmarshal(raw, &fc); err != nil {
		return Config{}, zerr.Wrapf(zerr.Configuration, op, err, "path %q", path)
	}

	cfg := New(fc.Endpoint, fc.TableName)
	cfg.UnityCatalogURL = fc.UnityCatalogURL
	cfg.ClientID = fc.ClientID
	cfg.ClientSecret = fc.ClientSecret
	cfg.ObservabilityEnabled = fc.ObservabilityEnabled
	if fc.ObservabilityConfig != nil {
		cfg.Observability.Endpoint = fc.ObservabilityConfig.Endpoint
		cfg.Observability.OutputDir = fc.ObservabilityConfig.OutputDir
		if fc.ObservabilityConfig.WriteIntervalSecs != 0 {
			cfg.Observability.WriteIntervalSecs = fc.ObservabilityConfig.WriteIntervalSecs
		}
		if fc.ObservabilityConfig.LogLevel != "" {
			cfg.Observability.LogLevel = fc.ObservabilityConfig.LogLevel
		}
		cfg.Observability.MetricsAddr = fc.ObservabilityConfig.MetricsAddr
	}
	cfg.DebugEnabled = fc.DebugEnabled
	cfg.DebugOutputDir = fc.DebugOutputDir
	if fc.DebugFlushIntervalSecs != nil {
		cfg.DebugFlushIntervalSecs = *fc.DebugFlushIntervalSecs
	}
	cfg.DebugMaxFileSize = fc.DebugMaxFileSize
	cfg.DebugMaxFilesRetained = fc.DebugMaxFilesRetained
	if fc.DebugArrowEnabled != nil {
		cfg.DebugArrowEnabled = *fc.DebugArrowEnabled
	}
	if fc.DebugProtobufEnabled != nil {
		cfg.DebugProtobufEnabled = *fc.DebugProtobufEnabled
	}
	if fc.RetryMaxAttempts != nil {
		cfg.RetryMaxAttempts = *fc.RetryMaxAttempts
	}
	if fc.RetryBaseDelayMS != nil {
		cfg.RetryBaseDelayMS = *fc.RetryBaseDelayMS
	}
	if fc.RetryMaxDelayMS != nil {
		cfg.RetryMaxDelayMS = *fc.RetryMaxDelayMS
	}
	cfg.WriterDisabled = fc.WriterDisabled

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from environment variables with the same
// semantics as the file loader. Recognized variables: ZEROBUS_ENDPOINT,
// ZEROBUS_TABLE_NAME, ZEROBUS_CLIENT_ID, ZEROBUS_CLIENT_SECRET,
// ZEROBUS_WRITER_DISABLED, UNITY_CATALOG_URL, OTLP_*, DEBUG_*, RETRY_*.
func FromEnv() (Config, error) {
	const op = "load config from environment"

	endpoint := os.Getenv("ZEROBUS_ENDPOINT")
	if endpoint == "" {
		return Config{}, zerr.New(zerr.Configuration, op,
			"ZEROBUS_ENDPOINT environment variable is required")
	}
	tableName := os.Getenv("ZEROBUS_TABLE_NAME")
	if tableName == "" {
		return Config{}, zerr.New(zerr.Configuration, op,
			"ZEROBUS_TABLE_NAME environment variable is required")
	}

	cfg := New(endpoint, tableName)
	cfg.UnityCatalogURL = os.Getenv("UNITY_CATALOG_URL")
	cfg.ClientID = NewSecret(os.Getenv("ZEROBUS_CLIENT_ID"))
	cfg.ClientSecret = NewSecret(os.Getenv("ZEROBUS_CLIENT_SECRET"))
	cfg.WriterDisabled = envBool("ZEROBUS_WRITER_DISABLED")

	if envBool("OTLP_ENABLED") {
		cfg.ObservabilityEnabled = true
		cfg.Observability.Endpoint = os.Getenv("OTLP_ENDPOINT")
		cfg.Observability.OutputDir = os.Getenv("OTLP_OUTPUT_DIR")
		if v, ok := envUint("OTLP_WRITE_INTERVAL_SECS"); ok {
			cfg.Observability.WriteIntervalSecs = v
		}
		if v := os.Getenv("OTLP_LOG_LEVEL"); v != "" {
			cfg.Observability.LogLevel = v
		}
		cfg.Observability.MetricsAddr = os.Getenv("OTLP_METRICS_ADDR")
	}

	if envBool("DEBUG_ENABLED") {
		cfg.DebugEnabled = true
		cfg.DebugOutputDir = os.Getenv("DEBUG_OUTPUT_DIR")
		if v, ok := envUint("DEBUG_FLUSH_INTERVAL_SECS"); ok {
			cfg.DebugFlushIntervalSecs = v
		}
		if v, ok := envUint("DEBUG_MAX_FILE_SIZE"); ok {
			cfg.DebugMaxFileSize = int64(v)
		}
		if v, ok := envUint("DEBUG_MAX_FILES_RETAINED"); ok {
			cfg.DebugMaxFilesRetained = int(v)
		}
		if v := os.Getenv("DEBUG_ARROW_ENABLED"); v != "" {
			cfg.DebugArrowEnabled = v == "true"
		}
		if v := os.Getenv("DEBUG_PROTOBUF_ENABLED"); v != "" {
			cfg.DebugProtobufEnabled = v == "true"
		}
	}

	if v, ok := envUint("RETRY_MAX_ATTEMPTS"); ok {
		cfg.RetryMaxAttempts = uint32(v)
	}
	if v, ok := envUint("RETRY_BASE_DELAY_MS"); ok {
		cfg.RetryBaseDelayMS = v
	}
	if v, ok := envUint("RETRY_MAX_DELAY_MS"); ok {
		cfg.RetryMaxDelayMS = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envBool(name string) bool {
	return os.Getenv(name) == "true"
}

func envUint(name string) (uint64, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
