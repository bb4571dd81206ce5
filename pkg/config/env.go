package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// LoadEnvFile parses a .env file into a key-value map. Blank lines and
// comments are skipped; "export KEY=value" and quoted values are handled.
// A missing file yields an empty map.
func LoadEnvFile(path string) map[string]string {
	env := map[string]string{}
	f, err := os.Open(path)
	if err != nil {
		return env
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, _ := strings.Cut(line, "=")
		value = strings.Trim(value, `"'`)
		env[strings.TrimSpace(key)] = value
	}
	return env
}

// HomeEnv loads ~/.env, the conventional place for bird and API credentials.
func HomeEnv() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil {
		return map[string]string{}
	}
	return LoadEnvFile(filepath.Join(home, ".env"))
}

// Secret returns a credential from the environment, falling back to ~/.env.
// Returns "" when the credential is not set anywhere.
func Secret(name string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return HomeEnv()[name]
}
