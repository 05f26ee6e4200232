package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestParseEnvLine(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		key   string
		value string
		ok    bool
	}{
		{"plain", "SERVER_PORT=8080", "SERVER_PORT", "8080", true},
		{"export prefix", "export REDIS_HOST=localhost", "REDIS_HOST", "localhost", true},
		{"double quoted", `NATS_URL="nats://localhost:4222"`, "NATS_URL", "nats://localhost:4222", true},
		{"single quoted", "MYSQL_PASSWORD='s3cret'", "MYSQL_PASSWORD", "s3cret", true},
		{"surrounding space", "  LOG_LEVEL = debug ", "LOG_LEVEL", "debug", true},
		{"empty value", "INFLUXDB_TOKEN=", "INFLUXDB_TOKEN", "", true},
		{"comment", "# SERVER_PORT=9090", "", "", false},
		{"blank", "   ", "", "", false},
		{"no equals", "not a pair", "", "", false},
		{"missing key", "=value", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, value, ok := parseEnvLine(tt.line)
			if key != tt.key || value != tt.value || ok != tt.ok {
				t.Errorf("parseEnvLine(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.line, key, value, ok, tt.key, tt.value, tt.ok)
			}
		})
	}
}

func TestApplyEnvFileKeepsRealEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	contents := "DOTENV_FRESH=from-file\nDOTENV_TAKEN=from-file\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("DOTENV_FRESH", "")
	t.Setenv("DOTENV_TAKEN", "from-env")

	if err := applyEnvFile(path); err != nil {
		t.Fatalf("applyEnvFile: %v", err)
	}
	if got := os.Getenv("DOTENV_FRESH"); got != "from-file" {
		t.Errorf("DOTENV_FRESH = %q, want the file value", got)
	}
	if got := os.Getenv("DOTENV_TAKEN"); got != "from-env" {
		t.Errorf("DOTENV_TAKEN = %q, want the pre-set value kept", got)
	}
}

func TestLoadDotEnvReportsMissingFile(t *testing.T) {
	// Nested deep enough that the parent-directory candidates stay inside
	// the temp tree.
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(cwd)

	if err := LoadDotEnv(); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("LoadDotEnv = %v, want fs.ErrNotExist", err)
	}

	t.Setenv("DOTENV_FOUND", "")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DOTENV_FOUND=yes\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := LoadDotEnv(); err != nil {
		t.Errorf("LoadDotEnv with a file present = %v", err)
	}
	if got := os.Getenv("DOTENV_FOUND"); got != "yes" {
		t.Errorf("DOTENV_FOUND = %q, want applied", got)
	}
}
