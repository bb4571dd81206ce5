package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nexport AUTH_TOKEN=abc123\nCT0=\"quoted\"\n\nmalformed line\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	env := LoadEnvFile(path)
	if env["AUTH_TOKEN"] != "abc123" {
		t.Errorf("AUTH_TOKEN = %q", env["AUTH_TOKEN"])
	}
	if env["CT0"] != "quoted" {
		t.Errorf("CT0 = %q, want quotes stripped", env["CT0"])
	}
	if len(env) != 2 {
		t.Errorf("env = %v, want comments and malformed lines skipped", env)
	}
}

func TestLoadEnvFileMissing(t *testing.T) {
	env := LoadEnvFile(filepath.Join(t.TempDir(), "nope"))
	if len(env) != 0 {
		t.Errorf("env = %v, want empty for missing file", env)
	}
}

func TestSecretPrefersEnvironment(t *testing.T) {
	t.Setenv("TWAG_TEST_SECRET", "from-env")
	if got := Secret("TWAG_TEST_SECRET"); got != "from-env" {
		t.Errorf("Secret = %q, want environment value", got)
	}
}
