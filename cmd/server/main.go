package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/promptdash/internal/ai"
	"github.com/kiliankoe/promptdash/internal/ai/ollama"
	"github.com/kiliankoe/promptdash/internal/ai/openai"
	"github.com/kiliankoe/promptdash/internal/bus"
	"github.com/kiliankoe/promptdash/internal/config"
	"github.com/kiliankoe/promptdash/internal/export"
	"github.com/kiliankoe/promptdash/internal/feed"
	"github.com/kiliankoe/promptdash/internal/lobby"
	"github.com/kiliankoe/promptdash/internal/round"
	"github.com/kiliankoe/promptdash/internal/scheduler"
	"github.com/kiliankoe/promptdash/internal/store/memory"
	"github.com/kiliankoe/promptdash/internal/store/sqlstore"
	"github.com/kiliankoe/promptdash/internal/telemetry"
	"github.com/kiliankoe/promptdash/internal/ws"
	staticserver "github.com/kiliankoe/promptdash/static"
)

const version = "v0.3.0-dev"

type storage interface {
	round.Gateway
	round.GameGateway
}

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`promptdash - Real-time image prompt party game

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)

Environment Variables (also read from .env):
  PORT                Port to listen on (default: 8080)
  DATABASE_URL        Empty for in-memory, postgres://... or a SQLite file path
  OPENAI_API_KEY      OpenAI API key (required for image generation)
  OPENAI_BASE_URL     Custom OpenAI API base URL (optional)
  IMAGE_MODEL         Image model (default: dall-e-3)
  IMAGE_SIZE          Image size (default: 1024x1024)
  AI_PROVIDER         Prompt suggestions: "openai" or "ollama" (default: openai)
  SUGGEST_MODEL       Model for prompt suggestions (default: gpt-4o-mini)
  OLLAMA_HOST         Ollama host URL (default: http://localhost:11434)
  SYSTEM_PROMPT       System prompt for suggestions (optional)
  GM_USER, GM_PASS    Basic auth for the GM API
  SINGLE_SESSION      Allow only one active session (default: true)
  EXPORT_ENABLED      Export round results to file (default: false)
  EXPORT_FILE         Path to export results (default: promptdash_results.txt)
  MIN_PLAYERS, MAX_PLAYERS, TOTAL_ROUNDS, MAX_PROMPT_LENGTH
  PROMPT_DURATION, GUESSING_DURATION, VOTING_DURATION (e.g. 60s)
  OTEL_ENDPOINT       OTLP/HTTP trace endpoint (optional)
  ORIGIN_ALLOWLIST    Comma separated origins for browsers (optional)

Examples:
  %s                  Start server with default settings
  %s --port 3000      Start server on port 3000
`, os.Args[0], os.Args[0], os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("promptdash %s\n", version)
		return
	}

	// zerolog setup (human-friendly console)
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not read .env")
	}
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if *portFlag != "" {
		cfg.Port = *portFlag
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, "promptdash", cfg.OTelEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing setup failed")
	}
	defer shutdownTracing(ctx)

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("storage", cfg.Storage()).Msg("storage setup failed")
	}
	defer closeStore()

	images := openai.New(cfg.OpenAIKey, cfg.OpenAIBaseURL)
	images.ImageModel = cfg.ImageModel
	images.ImageSize = cfg.ImageSize
	if cfg.OpenAIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY is not set, image generation will fail and rounds will time out")
	}

	events := bus.New()
	timers := scheduler.New(nil)
	defer timers.Stop()
	engine := round.New(round.Deps{
		Rounds:    st,
		Games:     st,
		Bus:       events,
		Scheduler: timers,
		Images:    images,
		Config:    cfg.Rules(),
	})
	timers.SetDispatch(func(ctx context.Context, roundID string, phase round.Phase, at time.Time) error {
		cmd, err := round.NewPhaseTimeout(engine.Config(), roundID, phase)
		if err != nil {
			return err
		}
		_, err = engine.Execute(ctx, cmd, at)
		return err
	})

	rm := lobby.NewManager(st, cfg.Rules(), lobby.WithSingleSession(cfg.SingleSession))
	sock := ws.New(rm, engine,
		ws.WithSuggester(newSuggester(cfg, images)),
		ws.WithAllowedOrigins(cfg.OriginAllowlist),
	)
	hub := feed.NewHub(cfg.OriginAllowlist)
	events.Subscribe("socket.io", sock)
	events.Subscribe("feed", hub)
	if cfg.ExportEnabled {
		events.Subscribe("export", export.New(cfg.ExportFile, st, st, export.WithNames(playerNames(rm))))
		log.Info().Str("file", cfg.ExportFile).Msg("exporting round results")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	io := sock.Mount(r)
	defer io.Close()
	registerAPI(r, cfg, rm, engine)
	r.GET("/feed/:roundId", hub.Handler())
	r.NoRoute(gin.WrapH(staticserver.Handler()))

	log.Info().Str("port", cfg.Port).Str("storage", cfg.Storage()).Msg("listening")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func openStore(ctx context.Context, cfg config.Config) (storage, func() error, error) {
	if cfg.Storage() == "memory" {
		return memory.New(), func() error { return nil }, nil
	}
	s, err := sqlstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

// newSuggester picks the text provider for prompt suggestions. It returns
// nil when the provider cannot work, which disables suggestions.
func newSuggester(cfg config.Config, oa *openai.Client) *ai.Suggester {
	var p ai.Provider
	switch cfg.AIProvider {
	case "ollama":
		p = ollama.New(cfg.OllamaHost)
	default:
		if cfg.OpenAIKey == "" {
			return nil
		}
		p = oa
	}
	return ai.NewSuggester(p, cfg.SuggestModel, cfg.SystemPrompt, cfg.MaxPromptLength)
}

func playerNames(rm *lobby.Manager) export.NameFunc {
	return func(gameID, playerID string) string {
		sess, err := rm.SessionByGame(gameID)
		if err != nil {
			return playerID
		}
		return sess.PlayerName(playerID)
	}
}
