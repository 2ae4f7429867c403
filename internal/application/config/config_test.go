// ABOUTME: Tests for YAML configuration parsing
// ABOUTME: Verifies config structure, defaults, environment overrides, and validation
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harper/audiorelay/internal/domain/backoff"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	yamlContent := `
listen:
  host: 127.0.0.1
  port: 9000

logging:
  level: debug
  json: true

streams:
  - id: studio
    codec: zstd
    audio:
      sample_rate: 44100
      channels: 1
      frame_ms: 10
    capture:
      type: file
      path: /tmp/take.f32
      pace: true
    buffering:
      ring_ms: 250
      client_queue_frames: 32
    accept_uplink: true

client:
  url: ws://relay.local:9000/studio/ws
  retry:
    max_attempts: 3
    base_delay_ms: 500
`

	cfg, err := Load(writeConfig(t, yamlContent))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", cfg.Listen.Host)
	}
	if cfg.Listen.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Listen.Port)
	}
	if !cfg.Logging.JSON || cfg.Logging.Level != "debug" {
		t.Errorf("unexpected logging config %+v", cfg.Logging)
	}

	if len(cfg.Streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(cfg.Streams))
	}
	st := cfg.Streams[0]
	if st.ID != "studio" || st.Codec != "zstd" || !st.AcceptUplink {
		t.Errorf("unexpected stream %+v", st)
	}
	if st.Audio.FrameDuration() != 10*time.Millisecond {
		t.Errorf("expected 10ms frames, got %v", st.Audio.FrameDuration())
	}
	if st.Buffering.InboxSize != 256 {
		t.Errorf("expected default inbox size, got %d", st.Buffering.InboxSize)
	}

	p := cfg.Client.Retry.Policy(true)
	if p.MaxAttempts != 3 || p.BaseDelay != 500*time.Millisecond || p.MaxDelay != 30*time.Second {
		t.Errorf("unexpected client policy %+v", p)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
	if err := cfg.ValidateClient(); err != nil {
		t.Errorf("ValidateClient failed: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen.Port != 8080 || cfg.Listen.Host != "0.0.0.0" {
		t.Errorf("unexpected listen defaults %+v", cfg.Listen)
	}
	if cfg.Client.Output != "speaker" {
		t.Errorf("expected speaker output, got %q", cfg.Client.Output)
	}

	want := backoff.DefaultClientPolicy()
	if got := cfg.Client.Retry.Policy(true); got != want {
		t.Errorf("expected client policy %+v, got %+v", want, got)
	}
	accept := cfg.Listen.AcceptRetry.Policy(false)
	if accept.Bounded() {
		t.Error("accept policy must be unbounded")
	}
	if accept.BaseDelay != backoff.DefaultAcceptPolicy().BaseDelay {
		t.Errorf("unexpected accept base delay %v", accept.BaseDelay)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUDIORELAY_LISTEN_PORT", "7070")
	t.Setenv("AUDIORELAY_LOG_LEVEL", "warn")
	t.Setenv("AUDIORELAY_CLIENT_URL", "ws://env.example/x/ws")
	t.Setenv("AUDIORELAY_CLIENT_RETRY_MAX_ATTEMPTS", "9")

	cfg, err := Load(writeConfig(t, "listen:\n  port: 9000\nclient:\n  url: ws://file.example/x/ws\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen.Port != 7070 {
		t.Errorf("env should override port, got %d", cfg.Listen.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected warn, got %q", cfg.Logging.Level)
	}
	if cfg.Client.URL != "ws://env.example/x/ws" {
		t.Errorf("expected env url, got %q", cfg.Client.URL)
	}
	if cfg.Client.Retry.MaxAttempts != 9 {
		t.Errorf("expected 9 attempts, got %d", cfg.Client.Retry.MaxAttempts)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := &Config{
		Streams: []StreamConfig{
			{ID: "a", Codec: "opus"},
			{ID: "a", Capture: CaptureConfig{Type: "file"}},
			{},
		},
	}
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{
		"streams[0].codec",
		"supported: pcm, zstd, bg4lz4",
		`streams[1].id "a" is duplicated`,
		"streams[1].capture.path is required",
		"streams[2].id is required",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

func TestValidateClient(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	if err := cfg.ValidateClient(); err == nil || !strings.Contains(err.Error(), "client.url is required") {
		t.Errorf("expected missing url error, got %v", err)
	}

	cfg.Client.URL = "ws://localhost:8080/main/ws"
	cfg.Client.Output = "headphones"
	if err := cfg.ValidateClient(); err == nil || !strings.Contains(err.Error(), "client.output") {
		t.Errorf("expected output error, got %v", err)
	}
}

func TestRetryConfig_Uncapped(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
client:
  url: ws://localhost:8080/main/ws
  retry:
    max_attempts: 3
    base_delay_ms: 500
    uncapped: true
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.ValidateClient(); err != nil {
		t.Fatalf("ValidateClient failed: %v", err)
	}

	p := cfg.Client.Retry.Policy(true)
	if p.Capped() {
		t.Errorf("uncapped retry produced a cap of %v", p.MaxDelay)
	}
	want := backoff.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
	if p != want {
		t.Errorf("expected %+v, got %+v", want, p)
	}
}

func TestRetryConfig_ZeroMaxDelayKeepsDefaultCap(t *testing.T) {
	cfg, err := Load(writeConfig(t, "client:\n  retry:\n    max_delay_ms: 0\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.Client.Retry.Policy(true).MaxDelay; got != backoff.DefaultClientPolicy().MaxDelay {
		t.Errorf("expected default cap, got %v", got)
	}
}

func TestRetryConfig_UncappedFromEnv(t *testing.T) {
	t.Setenv("AUDIORELAY_CLIENT_RETRY_UNCAPPED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Client.Retry.Policy(true).Capped() {
		t.Error("env should turn the cap off")
	}
}

func TestRetryConfig_NegativeDelayRejected(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Client.URL = "ws://localhost:8080/main/ws"
	cfg.Client.Retry.MaxDelayMs = -1

	err := cfg.ValidateClient()
	if err == nil || !strings.Contains(err.Error(), "client.retry delays must not be negative") {
		t.Errorf("expected negative delay error, got %v", err)
	}
}
