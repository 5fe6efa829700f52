package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// 環境変数を書き換えるため、このファイルのテストは並列実行しない。

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("envファイルの作成に失敗: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load()でエラーが発生: %v", err)
	}

	if cfg.Port != "8086" {
		t.Errorf("Port: got %q, want 8086", cfg.Port)
	}
	if cfg.DBPath != "/data/notification.db" {
		t.Errorf("DBPath: got %q", cfg.DBPath)
	}
	if cfg.SessionBuffer != 64 {
		t.Errorf("SessionBuffer: got %d, want 64", cfg.SessionBuffer)
	}
	if cfg.PushTimeout != 10*time.Second {
		t.Errorf("PushTimeout: got %s, want 10s", cfg.PushTimeout)
	}
	if cfg.TokenSuppressTTL != 24*time.Hour {
		t.Errorf("TokenSuppressTTL: got %s, want 24h", cfg.TokenSuppressTTL)
	}
	if cfg.AssignPushMaxAttempts != 3 {
		t.Errorf("AssignPushMaxAttempts: got %d, want 3", cfg.AssignPushMaxAttempts)
	}
	if cfg.AssignPushInitialBackoff != 500*time.Millisecond {
		t.Errorf("AssignPushInitialBackoff: got %s", cfg.AssignPushInitialBackoff)
	}
	if cfg.ConsumerWorkers != 4 || cfg.ConsumerPrefetch != 32 {
		t.Errorf("ConsumerWorkers / ConsumerPrefetch: got %d / %d, want 4 / 32", cfg.ConsumerWorkers, cfg.ConsumerPrefetch)
	}
	if cfg.ConsumerMaxAttempts != 5 {
		t.Errorf("ConsumerMaxAttempts: got %d, want 5", cfg.ConsumerMaxAttempts)
	}
	if cfg.EventQueue != "console.events" || cfg.EventDLQ != "console.events.dlq" {
		t.Errorf("キュー名: got %q / %q", cfg.EventQueue, cfg.EventDLQ)
	}
	if cfg.DevTokenEnabled {
		t.Error("DevTokenEnabled は既定で無効であるべき")
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Errorf("CORSAllowedOrigins: got %v, want empty", cfg.CORSAllowedOrigins)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("SESSION_BUFFER", "8")
	t.Setenv("PUSH_TIMEOUT", "3s")
	t.Setenv("DEV_TOKEN_ENABLED", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.example, http://b.example,")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load()でエラーが発生: %v", err)
	}

	if cfg.Port != "9999" {
		t.Errorf("Port: got %q, want 9999", cfg.Port)
	}
	if cfg.SessionBuffer != 8 {
		t.Errorf("SessionBuffer: got %d, want 8", cfg.SessionBuffer)
	}
	if cfg.PushTimeout != 3*time.Second {
		t.Errorf("PushTimeout: got %s, want 3s", cfg.PushTimeout)
	}
	if !cfg.DevTokenEnabled {
		t.Error("DevTokenEnabled が有効になっていない")
	}
	want := []string{"http://a.example", "http://b.example"}
	if len(cfg.CORSAllowedOrigins) != len(want) {
		t.Fatalf("CORSAllowedOrigins: got %v, want %v", cfg.CORSAllowedOrigins, want)
	}
	for i := range want {
		if cfg.CORSAllowedOrigins[i] != want[i] {
			t.Errorf("CORSAllowedOrigins[%d]: got %q, want %q", i, cfg.CORSAllowedOrigins[i], want[i])
		}
	}
}

func TestLoad_EnvFile(t *testing.T) {
	t.Run(".envの値が既定値を上書きすること", func(t *testing.T) {
		p := writeEnvFile(t, "EVENT_QUEUE=file.events\nCONSUMER_WORKERS=2\n")

		cfg, err := Load(p)
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if cfg.EventQueue != "file.events" {
			t.Errorf("EventQueue: got %q, want file.events", cfg.EventQueue)
		}
		if cfg.ConsumerWorkers != 2 {
			t.Errorf("ConsumerWorkers: got %d, want 2", cfg.ConsumerWorkers)
		}
	})

	t.Run("環境変数は.envより優先されること", func(t *testing.T) {
		t.Setenv("EVENT_QUEUE", "env.events")
		p := writeEnvFile(t, "EVENT_QUEUE=file.events\n")

		cfg, err := Load(p)
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if cfg.EventQueue != "env.events" {
			t.Errorf("EventQueue: got %q, want env.events", cfg.EventQueue)
		}
	})
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "SESSION_BUFFERが0", key: "SESSION_BUFFER", val: "0"},
		{name: "ASSIGN_PUSH_MAX_ATTEMPTSが0", key: "ASSIGN_PUSH_MAX_ATTEMPTS", val: "0"},
		{name: "CONSUMER_WORKERSが負", key: "CONSUMER_WORKERS", val: "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
				t.Errorf("%s=%s でエラーが返らない", tt.key, tt.val)
			}
		})
	}
}

func TestLoad_ConsumerMaxAttempts(t *testing.T) {
	t.Setenv("CONSUMER_MAX_ATTEMPTS", "2")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load()でエラーが発生: %v", err)
	}
	if cfg.ConsumerMaxAttempts != 2 {
		t.Errorf("ConsumerMaxAttempts: got %d, want 2", cfg.ConsumerMaxAttempts)
	}

	t.Setenv("CONSUMER_MAX_ATTEMPTS", "0")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("CONSUMER_MAX_ATTEMPTS=0 でエラーが返るべきだが、nilが返った")
	}
}
