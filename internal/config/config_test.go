package config

import (
	"os"
	"path/filepath"
	"testing"
)

// resetAfter restores relevant env vars and the package-level viper
// instance after a test that mutates global config state.
func resetAfter(t *testing.T) {
	t.Helper()
	savedV := v
	savedHome := os.Getenv("HOME")
	savedAgent, hadAgent := os.LookupEnv("TDB_AGENT")
	savedDataDir, hadDataDir := os.LookupEnv("TDB_DATA_DIR")
	t.Cleanup(func() {
		v = savedV
		_ = os.Setenv("HOME", savedHome)
		if hadAgent {
			_ = os.Setenv("TDB_AGENT", savedAgent)
		} else {
			_ = os.Unsetenv("TDB_AGENT")
		}
		if hadDataDir {
			_ = os.Setenv("TDB_DATA_DIR", savedDataDir)
		} else {
			_ = os.Unsetenv("TDB_DATA_DIR")
		}
	})
}

func TestInitializeSetsDefaults(t *testing.T) {
	resetAfter(t)
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if GetString("log-level") != "info" {
		t.Fatalf("expected default log-level=info, got %q", GetString("log-level"))
	}
	if GetBool("log-to-file") {
		t.Fatal("expected default log-to-file=false")
	}
	if GetInt64("scan.max-file-bytes") != 8<<20 {
		t.Fatalf("expected default scan.max-file-bytes=8MiB, got %d", GetInt64("scan.max-file-bytes"))
	}
}

func TestEnvironmentOverridesDefault(t *testing.T) {
	resetAfter(t)
	home := t.TempDir()
	dataDir := filepath.Join(home, "custom-data")
	if err := os.Setenv("TDB_DATA_DIR", dataDir); err != nil {
		t.Fatalf("setenv: %v", err)
	}
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if GetString("data-dir") != dataDir {
		t.Fatalf("expected env override %q, got %q", dataDir, GetString("data-dir"))
	}
}

func TestSetOverrideWinsOverEnvironment(t *testing.T) {
	resetAfter(t)
	if err := os.Setenv("TDB_DATA_DIR", "/from-env"); err != nil {
		t.Fatalf("setenv: %v", err)
	}
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	SetOverride("data-dir", "/from-flag")
	if GetString("data-dir") != "/from-flag" {
		t.Fatalf("expected SetOverride to win, got %q", GetString("data-dir"))
	}
}

func TestDataDirAndStorePathAndBackupDirAreCreated(t *testing.T) {
	resetAfter(t)
	base := t.TempDir()
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	SetOverride("data-dir", base)

	dataDir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	if info, statErr := os.Stat(dataDir); statErr != nil || !info.IsDir() {
		t.Fatalf("expected DataDir to create %s, stat err=%v", dataDir, statErr)
	}

	storePath, err := StorePath()
	if err != nil {
		t.Fatalf("StorePath: %v", err)
	}
	if filepath.Dir(storePath) != dataDir || filepath.Base(storePath) != "templedb.sqlite" {
		t.Fatalf("unexpected store path %s relative to data dir %s", storePath, dataDir)
	}

	backupDir, err := BackupDir()
	if err != nil {
		t.Fatalf("BackupDir: %v", err)
	}
	if info, statErr := os.Stat(backupDir); statErr != nil || !info.IsDir() {
		t.Fatalf("expected BackupDir to create %s, stat err=%v", backupDir, statErr)
	}
}

func TestAgentIdentityPrefersExplicitAgentEnv(t *testing.T) {
	resetAfter(t)
	if err := os.Setenv("TDB_AGENT", "robo-agent"); err != nil {
		t.Fatalf("setenv: %v", err)
	}
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	name, email := AgentIdentity()
	if name != "robo-agent" || email != "robo-agent" {
		t.Fatalf("expected (robo-agent, robo-agent), got (%s, %s)", name, email)
	}
}

func TestGettersReturnZeroValuesBeforeInitialize(t *testing.T) {
	resetAfter(t)
	v = nil
	if GetString("data-dir") != "" {
		t.Fatal("expected empty string before Initialize")
	}
	if GetBool("log-to-file") {
		t.Fatal("expected false before Initialize")
	}
	if GetInt64("scan.max-file-bytes") != 0 {
		t.Fatal("expected 0 before Initialize")
	}
}
