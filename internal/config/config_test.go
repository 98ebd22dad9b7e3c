package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CRAWJUD_API_URL", "")
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != DefaultAPIURL {
		t.Errorf("api_url = %q, want %q", cfg.APIURL, DefaultAPIURL)
	}
	if cfg.Upload.ChunkSize != DefaultChunkSize {
		t.Errorf("chunk_size = %d, want %d", cfg.Upload.ChunkSize, DefaultChunkSize)
	}
	if cfg.Upload.Throttle != 20*time.Millisecond {
		t.Errorf("throttle = %v", cfg.Upload.Throttle)
	}
	if cfg.DataStorePath() != filepath.Join(dir, "dataStore.ec") {
		t.Errorf("data store path = %q", cfg.DataStorePath())
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	yml := `
api_url: https://api.example.com
logging:
  level: debug
upload:
  chunk_size: 4096
  max_retries: 2
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yml), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CRAWJUD_API_URL", "https://override.example.com")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "https://override.example.com" {
		t.Errorf("api_url = %q", cfg.APIURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if cfg.Upload.ChunkSize != 4096 || cfg.Upload.MaxRetries != 2 {
		t.Errorf("upload = %+v", cfg.Upload)
	}
	if cfg.Upload.Grace != DefaultGrace {
		t.Errorf("grace = %v, want default", cfg.Upload.Grace)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
		want string
	}{
		{"bad url", func(c *Config) { c.APIURL = "not a url" }, "api_url"},
		{"bad transport", func(c *Config) { c.Upload.Transport = "ftp" }, "upload.transport"},
		{"minio without bucket", func(c *Config) { c.Upload.Transport = "minio"; c.MinIO.Endpoint = "s3" }, "minio.bucket"},
		{"bad backend", func(c *Config) { c.Store.Backend = "plain" }, "store.backend"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mod(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tc.want)
			}
		})
	}
}

func TestSaveRoundtrip(t *testing.T) {
	t.Setenv("CRAWJUD_API_URL", "")
	cfg := Default()
	cfg.Dir = t.TempDir()
	cfg.APIURL = "https://crawjud.example.com"
	if err := Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(filepath.Join(cfg.Dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %o, want 0600", info.Mode().Perm())
	}
	got, err := Load(cfg.Dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.APIURL != cfg.APIURL {
		t.Errorf("api_url = %q, want %q", got.APIURL, cfg.APIURL)
	}
}

func TestUserConfigDirEnv(t *testing.T) {
	t.Setenv("CRAWJUD_HOME", "/tmp/crawjud-test")
	dir, err := GetUserConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	if dir != "/tmp/crawjud-test" {
		t.Errorf("dir = %q", dir)
	}
}

func TestNotifyEventsDefaultWhenTopicSet(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CRAWJUD_NTFY_TOPIC", "crawjud-robos")
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Notify.NtfyTopic != "crawjud-robos" || cfg.Notify.Events != "finished,stopped" {
		t.Errorf("notify = %+v", cfg.Notify)
	}
}
