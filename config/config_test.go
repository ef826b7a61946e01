package config

import (
	"path/filepath"
	"testing"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("MEMOSHARE_DATA_DIR", tempDir)

	firstCfg, firstPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.DeviceID == "" {
		t.Fatalf("expected non-empty device ID")
	}
	if firstCfg.PortMode != PortModeAutomatic {
		t.Fatalf("expected default port mode %q, got %q", PortModeAutomatic, firstCfg.PortMode)
	}
	if firstCfg.SharePort != 0 {
		t.Fatalf("expected automatic mode share port 0, got %d", firstCfg.SharePort)
	}
	if firstCfg.AttachmentsDir != filepath.Join(tempDir, "attachments") {
		t.Fatalf("unexpected attachments dir %q", firstCfg.AttachmentsDir)
	}
	if firstCfg.RequireAuth {
		t.Fatalf("expected auth disabled by default")
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}

	secondCfg, secondPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}

	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.DeviceID != firstCfg.DeviceID {
		t.Fatalf("expected stable device ID, got %q then %q", firstCfg.DeviceID, secondCfg.DeviceID)
	}
	if secondCfg.AttachmentsDir != firstCfg.AttachmentsDir {
		t.Fatalf("expected stable attachments dir, got %q then %q", firstCfg.AttachmentsDir, secondCfg.AttachmentsDir)
	}
	if secondCfg.PortMode != firstCfg.PortMode {
		t.Fatalf("expected stable port mode, got %q then %q", firstCfg.PortMode, secondCfg.PortMode)
	}
}

func TestLoadOrCreateNormalizesLegacyPortModeFromExistingPort(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("MEMOSHARE_DATA_DIR", tempDir)

	cfgPath := filepath.Join(tempDir, "config.json")
	if err := EnsureDataDirectories(tempDir); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}

	legacy := &DeviceConfig{
		DeviceID:   "legacy-device",
		DeviceName: "Legacy",
		SharePort:  53260,
	}
	if err := Save(cfgPath, legacy); err != nil {
		t.Fatalf("Save legacy config failed: %v", err)
	}

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.PortMode != PortModeFixed {
		t.Fatalf("expected legacy config to normalize to fixed mode, got %q", cfg.PortMode)
	}
	if cfg.SharePort != 53260 {
		t.Fatalf("expected legacy fixed share port to be retained, got %d", cfg.SharePort)
	}
	if cfg.AttachmentsDir == "" || cfg.OutboxDir == "" {
		t.Fatalf("expected directories to be filled in")
	}
}

func TestLoadOrCreateDisablesAuthWithoutPairingCode(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("MEMOSHARE_DATA_DIR", tempDir)

	cfgPath := filepath.Join(tempDir, "config.json")
	if err := EnsureDataDirectories(tempDir); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}

	broken := &DeviceConfig{
		DeviceID:    "device-1",
		DeviceName:  "Device",
		RequireAuth: true,
	}
	if err := Save(cfgPath, broken); err != nil {
		t.Fatalf("Save config failed: %v", err)
	}

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.RequireAuth {
		t.Fatalf("expected require_auth to be cleared without a pairing code")
	}
}
