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
	"os"
	"path/filepath"
	"testing"

	"zerobus/zerr"
)

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"endpoint": "https://workspace.example.com",
		"table_name": "events",
		"unity_catalog_url": "https://uc.example.com",
		"client_id": "cid",
		"client_secret": "csecret",
		"debug_enabled": true,
		"debug_output_dir": "/tmp/dbg",
		"debug_arrow_enabled": false,
		"retry_max_attempts": 7,
		"observability_enabled": true,
		"observability_config": {"log_level": "debug", "write_interval_secs": 9}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.TableName != "events" || cfg.Endpoint != "https://workspace.example.com" {
		t.Errorf("identity fields wrong: %q %q", cfg.TableName, cfg.Endpoint)
	}
	if cfg.ClientID.Reveal() != "cid" || cfg.ClientSecret.Reveal() != "csecret" {
		t.Error("credentials not loaded")
	}
	if cfg.DebugArrowEnabled {
		t.Error("explicit false for debug_arrow_enabled ignored")
	}
	if !cfg.DebugProtobufEnabled {
		t.Error("absent debug_protobuf_enabled must keep its true default")
	}
	if cfg.RetryMaxAttempts != 7 {
		t.Errorf("retry_max_attempts = %d, want 7", cfg.RetryMaxAttempts)
	}
	if cfg.RetryBaseDelayMS != 100 {
		t.Errorf("absent retry_base_delay_ms must default to 100, got %d", cfg.RetryBaseDelayMS)
	}
	if cfg.Observability.LogLevel != "debug" || cfg.Observability.WriteIntervalSecs != 9 {
		t.Errorf("observability = %+v", cfg.Observability)
	}
}

func TestLoadFileInvalid(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.json")); zerr.KindOf(err) != zerr.Configuration {
		t.Errorf("missing file kind = %v, want Configuration", zerr.KindOf(err))
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"endpoint": "ftp://x", "table_name": "t"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("invalid endpoint must fail validation at load time")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("ZEROBUS_ENDPOINT", "https://workspace.example.com")
	t.Setenv("ZEROBUS_TABLE_NAME", "metrics_raw")
	t.Setenv("ZEROBUS_CLIENT_ID", "cid")
	t.Setenv("ZEROBUS_CLIENT_SECRET", "csecret")
	t.Setenv("UNITY_CATALOG_URL", "https://uc.example.com")
	t.Setenv("RETRY_MAX_ATTEMPTS", "3")
	t.Setenv("RETRY_BASE_DELAY_MS", "50")
	t.Setenv("RETRY_MAX_DELAY_MS", "1000")
	t.Setenv("DEBUG_ENABLED", "true")
	t.Setenv("DEBUG_OUTPUT_DIR", "/tmp/dbg")
	t.Setenv("DEBUG_MAX_FILE_SIZE", "1048576")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.TableName != "metrics_raw" {
		t.Errorf("table = %q", cfg.TableName)
	}
	if cfg.RetryMaxAttempts != 3 || cfg.RetryBaseDelayMS != 50 || cfg.RetryMaxDelayMS != 1000 {
		t.Errorf("retry = %d/%d/%d", cfg.RetryMaxAttempts, cfg.RetryBaseDelayMS, cfg.RetryMaxDelayMS)
	}
	if !cfg.DebugEnabled || cfg.DebugOutputDir != "/tmp/dbg" || cfg.DebugMaxFileSize != 1048576 {
		t.Errorf("debug = %v %q %d", cfg.DebugEnabled, cfg.DebugOutputDir, cfg.DebugMaxFileSize)
	}
}

func TestFromEnvMissingRequired(t *testing.T) {
	t.Setenv("ZEROBUS_ENDPOINT", "")
	t.Setenv("ZEROBUS_TABLE_NAME", "")
	_, err := FromEnv()
	if err == nil {
		t.Fatal("FromEnv must fail without ZEROBUS_ENDPOINT")
	}
	if zerr.KindOf(err) != zerr.Configuration {
		t.Errorf("kind = %v", zerr.KindOf(err))
	}
}
