package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
database:
  path: /tmp/access.db
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Camera.Type != "usb" {
		t.Errorf("expected default camera type usb, got %q", cfg.Camera.Type)
	}
	if cfg.Face.EmbeddingDim != 512 {
		t.Errorf("expected default embedding dim 512, got %d", cfg.Face.EmbeddingDim)
	}
	if cfg.Access.MaxAttemptsPerMinute != 30 {
		t.Errorf("expected default max attempts per minute 30, got %d", cfg.Access.MaxAttemptsPerMinute)
	}
	if cfg.BLE.ServiceUUID == "" {
		t.Error("expected default BLE service UUID to be populated")
	}
}

func TestLoadRejectsMissingDatabasePath(t *testing.T) {
	path := writeTempConfig(t, `
camera:
  type: usb
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing database.path")
	}
}

func TestLoadRejectsBadCameraType(t *testing.T) {
	path := writeTempConfig(t, `
database:
  path: /tmp/access.db
camera:
  type: carrier-pigeon
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid camera.type")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	path := writeTempConfig(t, `
database:
  path: /tmp/access.db
access:
  granted_lockout_sec: 20
face:
  similarity_threshold: 0.8
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Access.GrantedLockoutSec != 20 {
		t.Errorf("expected granted_lockout_sec 20, got %v", cfg.Access.GrantedLockoutSec)
	}
	if cfg.Face.SimilarityThreshold != 0.8 {
		t.Errorf("expected similarity_threshold 0.8, got %v", cfg.Face.SimilarityThreshold)
	}
}
