// voxmail worker — standalone queue consumer. The API process enqueues jobs;
// any number of these workers drain them, with per-tenant serialization
// provided by the queue's grant-keyed partitioning.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"voxmail/internal/embedding"
	"voxmail/internal/ingest"
	"voxmail/internal/logging"
	"voxmail/internal/mail"
	"voxmail/internal/queue"
	"voxmail/internal/store"
	"voxmail/internal/summarize"
	"voxmail/internal/vecstore"
)

func env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	connection := env("QUEUE_CONNECTION", "")
	if connection == "" || connection == "memory" {
		logging.Log.Fatal("cmd/worker needs a broker QUEUE_CONNECTION; the memory queue runs inside the API process")
	}

	st, err := store.New(env("DATA_DIR", "./data"))
	if err != nil {
		logging.Log.WithError(err).Fatal("open store")
	}

	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		logging.Log.Fatal("OPENAI_API_KEY is required")
	}

	denseHost := strings.TrimSpace(os.Getenv("VECTOR_INDEX_HOST"))
	if denseHost == "" {
		logging.Log.Fatal("VECTOR_INDEX_HOST is required")
	}
	sparseHost := strings.TrimSpace(os.Getenv("VECTOR_SPARSE_INDEX_HOST"))

	mapChunk, _ := strconv.Atoi(env("PRIORITY_MAP_CHUNK", "8"))
	invoker := summarize.NewOpenAIInvoker(apiKey)
	engine := summarize.NewEngine(invoker, summarize.Config{
		Model:    env("PRIORITY_MODEL", "gpt-4o-mini"),
		MapChunk: mapChunk,
	})

	q := queue.NewKafkaQueue(connection, env("QUEUE_NAME", "voxmail.ingest"))
	defer q.Close()

	worker := &ingest.Worker{
		Mail:        mail.New(env("MAIL_BASE", "https://api.us.nylas.com"), os.Getenv("MAIL_API_KEY"), nil),
		Dense:       embedding.NewDenseEmbedder(apiKey, env("EMBEDDING_MODEL", "text-embedding-3-small")),
		Vectors:     vecstore.New(denseHost, sparseHost, os.Getenv("VECTOR_API_KEY"), nil),
		Store:       st,
		Rollups:     engine,
		DeadLetters: q,
	}
	if base := strings.TrimSpace(os.Getenv("SPARSE_EMBED_BASE")); base != "" && sparseHost != "" {
		worker.Sparse = embedding.NewSparseEmbedder(base, os.Getenv("VECTOR_API_KEY"), env("SPARSE_EMBED_MODEL", "pinecone-sparse-english-v0"), nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Log.WithField("queue", connection).Info("worker consuming")
	if err := q.Consume(ctx, func(ctx context.Context, job queue.Job) error {
		return worker.Run(ctx, job)
	}); err != nil && ctx.Err() == nil {
		logging.Log.WithError(err).Fatal("consumer stopped")
	}
}
