package fetcher

import (
	"os"
	"strings"

	"github.com/clifton/twag/pkg/config"
)

// authEnv returns the process environment enriched with ~/.env entries,
// for passing auth tokens to the bird subprocess.
func authEnv() ([]string, map[string]string) {
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		merged[key] = value
	}
	for key, value := range config.HomeEnv() {
		merged[key] = value
	}

	env := make([]string, 0, len(merged))
	for key, value := range merged {
		env = append(env, key+"="+value)
	}
	return env, merged
}
