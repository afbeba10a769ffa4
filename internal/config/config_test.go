package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SESSION_BACKEND", "")
	t.Setenv("FILEFORTRESS_API_URL", "")
	t.Setenv("FILEFORTRESS_TIMEOUT", "")
	t.Setenv("FILEFORTRESS_TIMEOUT_MS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.SessionBackend != BackendFile {
		t.Fatalf("expected file backend, got %s", cfg.SessionBackend)
	}
	if cfg.SessionFile == "" {
		t.Fatalf("expected default session file")
	}
	if cfg.SessionNamespace != "127.0.0.1:3000" {
		t.Fatalf("expected namespace from api host, got %s", cfg.SessionNamespace)
	}
	if cfg.ProxyAddress() != ":3000" {
		t.Fatalf("unexpected proxy address %s", cfg.ProxyAddress())
	}
}

func TestLoadTimeoutMillis(t *testing.T) {
	t.Setenv("SESSION_BACKEND", BackendMemory)
	t.Setenv("FILEFORTRESS_TIMEOUT_MS", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RequestTimeout != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", cfg.RequestTimeout)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"timeout":        {"SESSION_BACKEND": BackendMemory, "FILEFORTRESS_TIMEOUT_MS": "soon"},
		"backend":        {"SESSION_BACKEND": "cookie"},
		"redis url":      {"SESSION_BACKEND": BackendRedis, "REDIS_URL": ""},
		"database url":   {"SESSION_BACKEND": BackendPostgres, "DATABASE_URL": ""},
		"api url":        {"SESSION_BACKEND": BackendMemory, "FILEFORTRESS_API_URL": "not a url"},
		"idempotencyTTL": {"SESSION_BACKEND": BackendMemory, "IDEMPOTENCY_TTL_SECONDS": "x"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
