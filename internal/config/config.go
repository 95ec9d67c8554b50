// Package config resolves TempleDB's runtime configuration: the data
// directory, log level, log-to-file toggle, and the opaque agent
// identifier folded into commit authorship. It follows the teacher's
// cascade style (config file < environment < flag) built on
// github.com/spf13/viper, generalized from the BD_ prefix to TDB_.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper singleton. Call once at process startup,
// before any command runs.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// 1. Walk up from CWD looking for .templedb/config.yaml, so commands
	//    work from any subdirectory of a project checkout.
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".templedb", "config.yaml")
			if _, statErr := os.Stat(configPath); statErr == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// 2. User config directory.
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "templedb", "config.yaml")
			if _, statErr := os.Stat(configPath); statErr == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("TDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("data-dir", defaultDataDir())
	v.SetDefault("log-level", "info")
	v.SetDefault("log-to-file", false)
	v.SetDefault("agent", "")
	v.SetDefault("scan.max-file-bytes", int64(8<<20)) // 8 MiB, spec.md §4.G default
	v.SetDefault("scan.patterns-file", "")             // empty = use the embedded default

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// defaultDataDir returns the OS-appropriate base directory spec.md §6
// describes: <base>/templedb/.
func defaultDataDir() string {
	base, err := os.UserHomeDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, ".local", "share")
}

// DataDir returns <base>/templedb, creating it if absent.
func DataDir() (string, error) {
	dir := filepath.Join(GetString("data-dir"), "templedb")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

// StorePath returns the path to the main SQLite file.
func StorePath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "templedb.sqlite"), nil
}

// BackupDir returns <data-dir>/backups, creating it if absent.
func BackupDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	backups := filepath.Join(dir, "backups")
	if err := os.MkdirAll(backups, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	return backups, nil
}

// SetOverride pins key above both the config file and the environment —
// the top of the cascade this package's doc comment promises, used by
// cmd/tdb to apply an explicit CLI flag (e.g. --data-dir) once Initialize
// has already loaded the file/env layers underneath it.
func SetOverride(key string, value any) {
	if v == nil {
		return
	}
	v.Set(key, value)
}

// GetString, GetBool, GetInt64 expose the subset of viper's API this
// package's callers need, guarding against Initialize not having run.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

func GetInt64(key string) int64 {
	if v == nil {
		return 0
	}
	return v.GetInt64(key)
}

// AgentIdentity resolves the opaque agent identifier folded into commit
// authorship: TDB_AGENT env var / config, falling back to `git config
// user.name`/`user.email`, and finally to the OS user.
func AgentIdentity() (name, email string) {
	if a := GetString("agent"); a != "" {
		return a, a
	}
	if n, err := exec.Command("git", "config", "user.name").Output(); err == nil {
		name = strings.TrimSpace(string(n))
	}
	if e, err := exec.Command("git", "config", "user.email").Output(); err == nil {
		email = strings.TrimSpace(string(e))
	}
	if name != "" {
		if email == "" {
			email = name
		}
		return name, email
	}
	if u := os.Getenv("USER"); u != "" {
		return u, u
	}
	return "unknown", "unknown"
}
