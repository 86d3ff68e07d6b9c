package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `{"upstream":{"rpcUrl":"http://localhost:9545"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != DefaultHost || cfg.Port != DefaultPort {
		t.Errorf("listen defaults not applied: %s:%d", cfg.Host, cfg.Port)
	}
	if cfg.Batch.MaxItems != DefaultBatchMaxItems || cfg.Batch.MaxLatency != DefaultBatchMaxLatency {
		t.Errorf("batch defaults not applied: %+v", cfg.Batch)
	}
	if cfg.Upstream.Transport != TransportHTTP {
		t.Errorf("transport = %s, want http", cfg.Upstream.Transport)
	}
}

func TestLoad_NegativeBatchValues(t *testing.T) {
	path := writeConfig(t, `{"upstream":{"rpcUrl":"x"},"batch":{"maxItems":-1}}`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for negative maxItems")
	}
	path = writeConfig(t, `{"upstream":{"rpcUrl":"x"},"batch":{"maxLatency":-5}}`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for negative maxLatency")
	}
}

func TestLoad_WSTransportRequiresURL(t *testing.T) {
	path := writeConfig(t, `{"upstream":{"transport":"ws","rpcUrl":"http://localhost:9545"}}`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for ws transport without wsUrl")
	}
}

func TestLoad_UnknownTransport(t *testing.T) {
	path := writeConfig(t, `{"upstream":{"transport":"carrier-pigeon","rpcUrl":"x"}}`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown transport")
	}
}

func TestLoad_CacheNeedsMethods(t *testing.T) {
	path := writeConfig(t, `{"upstream":{"rpcUrl":"x"},"cache":{"enabled":true}}`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for cache without methods")
	}
}
