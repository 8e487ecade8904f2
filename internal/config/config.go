package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/kiliankoe/promptdash/internal/round"
)

type Config struct {
	Port          string `env:"PORT"           envDefault:"8080"`
	DatabaseURL   string `env:"DATABASE_URL"`
	GMUser        string `env:"GM_USER"`
	GMPass        string `env:"GM_PASS"`
	SingleSession bool   `env:"SINGLE_SESSION" envDefault:"true"`

	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	ImageModel    string `env:"IMAGE_MODEL"     envDefault:"dall-e-3"`
	ImageSize     string `env:"IMAGE_SIZE"      envDefault:"1024x1024"`

	// Prompt inspiration.
	AIProvider   string `env:"AI_PROVIDER"   envDefault:"openai"`
	SuggestModel string `env:"SUGGEST_MODEL" envDefault:"gpt-4o-mini"`
	OllamaHost   string `env:"OLLAMA_HOST"   envDefault:"http://localhost:11434"`
	SystemPrompt string `env:"SYSTEM_PROMPT"`

	ExportEnabled bool   `env:"EXPORT_ENABLED" envDefault:"false"`
	ExportFile    string `env:"EXPORT_FILE"    envDefault:"promptdash_results.txt"`

	MinPlayers       int           `env:"MIN_PLAYERS"       envDefault:"3"`
	MaxPlayers       int           `env:"MAX_PLAYERS"       envDefault:"8"`
	PromptDuration   time.Duration `env:"PROMPT_DURATION"   envDefault:"60s"`
	GuessingDuration time.Duration `env:"GUESSING_DURATION" envDefault:"90s"`
	VotingDuration   time.Duration `env:"VOTING_DURATION"   envDefault:"45s"`
	TotalRounds      int           `env:"TOTAL_ROUNDS"      envDefault:"5"`
	MaxPromptLength  int           `env:"MAX_PROMPT_LENGTH" envDefault:"280"`

	OTelEndpoint    string   `env:"OTEL_ENDPOINT"`
	OriginAllowlist []string `env:"ORIGIN_ALLOWLIST" envSeparator:","`
}

func FromEnv() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	c.OriginAllowlist = trimCSV(c.OriginAllowlist)
	c.AIProvider = strings.ToLower(strings.TrimSpace(c.AIProvider))
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	switch {
	case c.MinPlayers < 2:
		return fmt.Errorf("MIN_PLAYERS must be at least 2, got %d", c.MinPlayers)
	case c.MaxPlayers < c.MinPlayers:
		return fmt.Errorf("MAX_PLAYERS (%d) must not be below MIN_PLAYERS (%d)", c.MaxPlayers, c.MinPlayers)
	case c.PromptDuration <= 0 || c.GuessingDuration <= 0 || c.VotingDuration <= 0:
		return fmt.Errorf("phase durations must be positive")
	case c.TotalRounds < 1:
		return fmt.Errorf("TOTAL_ROUNDS must be at least 1, got %d", c.TotalRounds)
	case c.AIProvider != "openai" && c.AIProvider != "ollama":
		return fmt.Errorf("AI_PROVIDER must be openai or ollama, got %q", c.AIProvider)
	}
	return nil
}

// Rules returns the settings the round engine enforces.
func (c Config) Rules() round.Config {
	return round.Config{
		MinPlayers:       c.MinPlayers,
		MaxPlayers:       c.MaxPlayers,
		PromptDuration:   c.PromptDuration,
		GuessingDuration: c.GuessingDuration,
		VotingDuration:   c.VotingDuration,
		TotalRounds:      c.TotalRounds,
		MaxPromptLength:  c.MaxPromptLength,
	}
}

// Storage names the configured backend: "memory", "postgres" or "sqlite".
func (c Config) Storage() string {
	switch {
	case strings.TrimSpace(c.DatabaseURL) == "":
		return "memory"
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return "postgres"
	default:
		return "sqlite"
	}
}

func trimCSV(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
