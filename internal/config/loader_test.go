package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "inferd.yaml", `
addr: ":9090"
models_dir: /srv/models
default_model: tiny-q4
sessions: 2
max_outstanding: 16
backend_bin: llama-server
backend_args: ["--ctx-size", "4096"]
log_level: debug
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.ModelsDir != "/srv/models" || cfg.DefaultModel != "tiny-q4" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Sessions != 2 || cfg.MaxOutstanding != 16 {
		t.Fatalf("scheduling fields: %+v", cfg)
	}
	if len(cfg.BackendArgs) != 2 || cfg.BackendArgs[0] != "--ctx-size" {
		t.Fatalf("backend args: %v", cfg.BackendArgs)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %s", cfg.LogLevel)
	}
}

func TestLoadJSON(t *testing.T) {
	p := writeFile(t, "inferd.json", `{"addr": ":7070", "max_loaded_models": 3, "request_timeout_sec": 60}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.MaxLoadedModels != 3 || cfg.RequestTimeoutSec != 60 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	p := writeFile(t, "inferd.toml", "addr = \":6060\"\nsessions = 4\nload_timeout_sec = 30\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":6060" || cfg.Sessions != 4 || cfg.LoadTimeoutSec != 30 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("empty path must error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file must error")
	}
	p := writeFile(t, "cfg.ini", "addr=:8080")
	if _, err := Load(p); err == nil {
		t.Fatal("unsupported extension must error")
	}
	bad := writeFile(t, "bad.yaml", "addr: [")
	if _, err := Load(bad); err == nil {
		t.Fatal("malformed yaml must error")
	}
}
