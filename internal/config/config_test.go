package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestDefaultInterceptor(t *testing.T) {
	cfg := Default()

	if cfg.Interceptor.Executable != "valvoice-mitm.exe" {
		t.Errorf("Executable = %q", cfg.Interceptor.Executable)
	}
	if cfg.Interceptor.ValidationWindow != 3*time.Second {
		t.Errorf("ValidationWindow = %s, want 3s", cfg.Interceptor.ValidationWindow)
	}
	if cfg.Interceptor.ValidationPoll != 100*time.Millisecond {
		t.Errorf("ValidationPoll = %s, want 100ms", cfg.Interceptor.ValidationPoll)
	}
	if cfg.Filter.GracePeriod != time.Minute {
		t.Errorf("GracePeriod = %s, want 1m", cfg.Filter.GracePeriod)
	}
	if cfg.Filter.DuplicateCacheSize != 100 {
		t.Errorf("DuplicateCacheSize = %d, want 100", cfg.Filter.DuplicateCacheSize)
	}
}

func TestIsFatalCode(t *testing.T) {
	cfg := Default()

	tests := []struct {
		code int
		want bool
	}{
		{409, true},
		{404, true},
		{500, true},
		{0, false},
		{503, false},
	}

	for _, tt := range tests {
		if got := cfg.IsFatalCode(tt.code); got != tt.want {
			t.Errorf("IsFatalCode(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
interceptor:
  executable: interceptor.bin
  validation_window: 1s
  fatal_codes:
    418: teapot
filter:
  grace_period: 30s
narration:
  sources: PARTY+ALL
  whispers: true
  ignored_users: [abc, def]
server:
  port: 9000
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Interceptor.Executable != "interceptor.bin" {
		t.Errorf("Executable = %q", cfg.Interceptor.Executable)
	}
	if cfg.Interceptor.ValidationWindow != time.Second {
		t.Errorf("ValidationWindow = %s", cfg.Interceptor.ValidationWindow)
	}
	// Defaults that the file does not mention survive.
	if cfg.Interceptor.ValidationPoll != 100*time.Millisecond {
		t.Errorf("ValidationPoll = %s", cfg.Interceptor.ValidationPoll)
	}
	if !cfg.IsFatalCode(418) || !cfg.IsFatalCode(409) {
		t.Errorf("FatalCodes = %v, want defaults plus 418", cfg.Interceptor.FatalCodes)
	}
	if cfg.Filter.GracePeriod != 30*time.Second {
		t.Errorf("GracePeriod = %s", cfg.Filter.GracePeriod)
	}
	if cfg.Narration.Sources != "PARTY+ALL" || !cfg.Narration.Whispers {
		t.Errorf("Narration = %+v", cfg.Narration)
	}
	if len(cfg.Narration.IgnoredUsers) != 2 {
		t.Errorf("IgnoredUsers = %v", cfg.Narration.IgnoredUsers)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != Default().Server.Port {
		t.Errorf("Port = %d, want default", cfg.Server.Port)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "filter:\n  duplicate_cache_size: 0\nlog:\n  format: xml\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VALVOICE_SERVER_PORT", "9100")
	t.Setenv("VALVOICE_FILTER_GRACE_PERIOD", "5s")
	t.Setenv("VALVOICE_NARRATION_IGNORED_USERS", "x,y,z")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Filter.GracePeriod != 5*time.Second {
		t.Errorf("GracePeriod = %s, want 5s", cfg.Filter.GracePeriod)
	}
	if len(cfg.Narration.IgnoredUsers) != 3 {
		t.Errorf("IgnoredUsers = %v", cfg.Narration.IgnoredUsers)
	}
}

func TestGenerateToken(t *testing.T) {
	tok, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}
	if len(tok) != 32 {
		t.Errorf("token length = %d, want 32", len(tok))
	}

	tok2, _ := GenerateToken()
	if tok == tok2 {
		t.Error("two generated tokens should not be identical")
	}
}

func TestDiffNoChanges(t *testing.T) {
	if changes := Diff(Default(), Default()); len(changes) != 0 {
		t.Errorf("Diff of identical configs = %v, want empty", changes)
	}
}

func TestDiffDetectsChanges(t *testing.T) {
	old := Default()
	new := Default()
	new.Narration.Sources = "ALL"
	new.Narration.ClutchMode = true
	new.Narration.IgnoredUsers = []string{"abc"}

	changes := Diff(old, new)
	want := []string{
		"narration.sources: SELF+PARTY+TEAM → ALL",
		"narration.ignored_users: [] → [abc]",
		"narration.clutch_mode: false → true",
	}
	if len(changes) != len(want) {
		t.Fatalf("Diff = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change[%d] = %q, want %q", i, changes[i], want[i])
		}
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("narration:\n  sources: PARTY\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zaptest.NewLogger(t), func(c *Config) { got <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("narration:\n  sources: TEAM\n  clutch_mode: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-got:
		if cfg.Narration.Sources != "TEAM" || !cfg.Narration.ClutchMode {
			t.Errorf("reloaded narration = %+v", cfg.Narration)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded within 3s")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() = %v", err)
	}
}
