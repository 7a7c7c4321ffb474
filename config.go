// voxmail/config.go

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"

	"voxmail/internal/dispatch"
	"voxmail/internal/summarize"
)

// Config is the env-driven configuration of the service.
type Config struct {
	Host     string
	Port     int
	DataPath string

	// Mail provider.
	MailAPIKey  string
	MailGrantID string
	MailBase    string

	// Models.
	OpenAIAPIKey   string
	EmbeddingModel string
	TextModel      string
	PriorityModel  string

	// Vector store.
	VectorAPIKey        string
	VectorIndexHost     string
	VectorDenseIndex    string
	VectorSparseIndex   string
	VectorSparseHost    string
	SparseEmbedBase     string
	SparseEmbedModel    string

	// Queue + dedupe.
	QueueConnection string
	QueueName       string
	RedisAddr       string

	// Webhooks and ingestion pacing.
	WebhookSecret       string
	DeltaDefaultMonths  int
	DeltaMax            int
	DeltaTimerSchedule  string
	DeltaTimerOnStartup bool

	// Summarizer behavior.
	Priority summarize.Config

	// Realtime voice.
	RealtimeModel string
	RealtimeVoice string

	// Agents.
	SpecialistsPath string
}

func loadConfig() (*Config, error) {
	// Load .env if present; env vars may already be set.
	_ = godotenv.Load()

	cfg := &Config{
		Host:     envOr("HOST", "0.0.0.0"),
		Port:     intFromEnv("PORT", 8080),
		DataPath: envOr("DATA_DIR", "./data"),

		MailAPIKey:  strings.TrimSpace(os.Getenv("MAIL_API_KEY")),
		MailGrantID: strings.TrimSpace(os.Getenv("MAIL_GRANT_ID")),
		MailBase:    envOr("MAIL_BASE", "https://api.us.nylas.com"),

		OpenAIAPIKey:   strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		EmbeddingModel: envOr("EMBEDDING_MODEL", "text-embedding-3-small"),
		TextModel:      envOr("TEXT_MODEL", "gpt-4o-mini"),
		PriorityModel:  envOr("PRIORITY_MODEL", "gpt-4o-mini"),

		VectorAPIKey:      strings.TrimSpace(os.Getenv("VECTOR_API_KEY")),
		VectorIndexHost:   strings.TrimSpace(os.Getenv("VECTOR_INDEX_HOST")),
		VectorDenseIndex:  strings.TrimSpace(os.Getenv("VECTOR_DENSE_INDEX_NAME")),
		VectorSparseIndex: strings.TrimSpace(os.Getenv("VECTOR_SPARSE_INDEX_NAME")),
		VectorSparseHost:  strings.TrimSpace(os.Getenv("VECTOR_SPARSE_INDEX_HOST")),
		SparseEmbedBase:   strings.TrimSpace(os.Getenv("SPARSE_EMBED_BASE")),
		SparseEmbedModel:  envOr("SPARSE_EMBED_MODEL", "pinecone-sparse-english-v0"),

		QueueConnection: envOr("QUEUE_CONNECTION", "memory"),
		QueueName:       envOr("QUEUE_NAME", "voxmail.ingest"),
		RedisAddr:       strings.TrimSpace(os.Getenv("REDIS_ADDR")),

		WebhookSecret:       strings.TrimSpace(os.Getenv("WEBHOOK_SECRET")),
		DeltaDefaultMonths:  intFromEnv("DELTA_DEFAULT_MONTHS", dispatch.DefaultMonths),
		DeltaMax:            intFromEnv("DELTA_MAX", dispatch.MaxJobSize),
		DeltaTimerSchedule:  envOr("DELTA_TIMER_SCHEDULE", dispatch.DefaultSchedule),
		DeltaTimerOnStartup: os.Getenv("DELTA_TIMER_RUN_ON_STARTUP") == "1",

		Priority: summarize.Config{
			Model:         envOr("PRIORITY_MODEL", "gpt-4o-mini"),
			MapChunk:      intFromEnv("PRIORITY_MAP_CHUNK", 8),
			BodyChars:     intFromEnv("PRIORITY_BODY_CHARS", 600),
			MaxCandidates: intFromEnv("PRIORITY_MAX_CANDIDATES", 24),
			HintSenders:   csvFromEnv("PRIORITY_HINT_SENDERS"),
			HintDomains:   csvFromEnv("PRIORITY_HINT_DOMAINS"),
			HintKeywords:  csvFromEnv("PRIORITY_HINT_KEYWORDS"),
		},

		RealtimeModel: envOr("REALTIME_MODEL", "gpt-4o-realtime-preview"),
		RealtimeVoice: envOr("REALTIME_VOICE", "alloy"),

		SpecialistsPath: envOr("SPECIALISTS_CONFIG", "specialists.yaml"),
	}

	if cfg.DeltaMax > dispatch.MaxJobSize {
		cfg.DeltaMax = dispatch.MaxJobSize
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required (set in .env or environment)")
	}
	if cfg.VectorIndexHost == "" {
		return nil, fmt.Errorf("VECTOR_INDEX_HOST is required")
	}

	pterm.Success.Println("Configuration loaded successfully.")
	return cfg, nil
}

// sparseHost resolves the sparse index host: an explicit override wins; when
// both index names are set the sparse host is derived from the dense host by
// swapping the index name embedded in it.
func (c *Config) sparseHost() string {
	if c.VectorSparseHost != "" {
		return c.VectorSparseHost
	}
	if c.VectorSparseIndex == "" || c.VectorDenseIndex == "" {
		return ""
	}
	if strings.Contains(c.VectorIndexHost, c.VectorDenseIndex) {
		return strings.Replace(c.VectorIndexHost, c.VectorDenseIndex, c.VectorSparseIndex, 1)
	}
	return ""
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intFromEnv(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func csvFromEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
