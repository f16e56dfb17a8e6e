// Package envcreds loads adapter and reflector credentials from the process
// environment. It never defines or parses a configuration file; absence of a
// credential simply disables the dependent adapter or the learning
// subsystem gracefully (callers check IsSet before wiring a backend).
package envcreds

import (
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

var loadOnce sync.Once

// LoadDotEnv best-effort loads a .env file from the current directory into
// the process environment. Missing files are not an error.
func LoadDotEnv() {
	loadOnce.Do(func() {
		_ = godotenv.Load()
	})
}

// Credentials holds the environment-sourced values the orchestrator cares
// about. Empty fields mean "not configured".
type Credentials struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GeminiAPIKey    string
	ReflectorModel  string
	RedisAddr       string
}

// Load reads known environment variables into a Credentials value.
func Load() Credentials {
	LoadDotEnv()
	return Credentials{
		AnthropicAPIKey: strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		OpenAIAPIKey:    strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		GeminiAPIKey:    strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		ReflectorModel:  strings.TrimSpace(os.Getenv("RALPH_REFLECTOR_MODEL")),
		RedisAddr:       strings.TrimSpace(os.Getenv("RALPH_REDIS_ADDR")),
	}
}

// IsSet reports whether v is a non-empty credential value.
func IsSet(v string) bool { return strings.TrimSpace(v) != "" }
