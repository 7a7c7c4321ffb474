// voxmail/main.go

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pterm/pterm"

	"voxmail/internal/agentrt"
	"voxmail/internal/bridge"
	"voxmail/internal/dispatch"
	"voxmail/internal/embedding"
	"voxmail/internal/ingest"
	"voxmail/internal/logging"
	"voxmail/internal/mail"
	"voxmail/internal/queue"
	"voxmail/internal/retrieval"
	"voxmail/internal/store"
	"voxmail/internal/summarize"
	"voxmail/internal/tools"
	"voxmail/internal/vecstore"
	"voxmail/internal/voice"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		pterm.Error.Printf("configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := buildApp(ctx, cfg)
	if err != nil {
		logging.Log.WithError(err).Fatal("startup failed")
	}
	defer cleanup()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	registerRoutes(e, app)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logging.Log.WithError(err).Fatal("http server")
		}
	}()
	logging.Log.WithField("addr", addr).Info("voxmail listening")

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logging.Log.WithError(err).Warn("http shutdown")
	}
}

// buildApp wires every component from config. The returned cleanup stops
// background pieces.
func buildApp(ctx context.Context, cfg *Config) (*App, func(), error) {
	st, err := store.New(cfg.DataPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	mailClient := mail.New(cfg.MailBase, cfg.MailAPIKey, nil)
	dense := embedding.NewDenseEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)

	var sparse *embedding.SparseEmbedder
	if cfg.SparseEmbedBase != "" && cfg.sparseHost() != "" {
		sparse = embedding.NewSparseEmbedder(cfg.SparseEmbedBase, cfg.VectorAPIKey, cfg.SparseEmbedModel, nil)
	}

	vectors := vecstore.New(cfg.VectorIndexHost, cfg.sparseHost(), cfg.VectorAPIKey, nil)

	invoker := summarize.NewOpenAIInvoker(cfg.OpenAIAPIKey)
	engine := summarize.NewEngine(invoker, cfg.Priority)

	svc := &retrieval.Service{
		Vectors:     vectors,
		Dense:       dense,
		Completions: invoker,
		Model:       cfg.TextModel,
	}
	if sparse != nil {
		svc.Sparse = sparse
	}

	var publisher queue.Publisher
	var deadLetters queue.DeadLetterer
	var cleanups []func()

	var memQ *queue.MemoryQueue
	switch cfg.QueueConnection {
	case "", "memory":
		memQ = queue.NewMemoryQueue(256)
		publisher = memQ
		deadLetters = memQ
	default:
		kq := queue.NewKafkaQueue(cfg.QueueConnection, cfg.QueueName)
		publisher = kq
		deadLetters = kq
		cleanups = append(cleanups, func() { _ = kq.Close() })
	}

	var dedupe dispatch.DedupeStore
	if cfg.RedisAddr != "" {
		rd, err := dispatch.NewRedisDedupeStore(cfg.RedisAddr)
		if err != nil {
			logging.Log.WithError(err).Warn("redis unavailable, using in-memory dedupe")
		} else {
			dedupe = rd
			cleanups = append(cleanups, func() { _ = rd.Close() })
		}
	}

	dispatcher := dispatch.New(st, publisher, dedupe)
	dispatcher.DeltaMax = cfg.DeltaMax
	dispatcher.BackfillMonths = cfg.DeltaDefaultMonths

	worker := &ingest.Worker{
		Mail:        mailClient,
		Dense:       dense,
		Vectors:     vectors,
		Store:       st,
		Rollups:     engine,
		DeadLetters: deadLetters,
	}
	if sparse != nil {
		worker.Sparse = sparse
	}

	// Single-node installs run the worker in-process off the memory queue;
	// with a broker, cmd/worker consumes instead.
	if memQ != nil {
		go func() {
			_ = memQ.Consume(ctx, func(ctx context.Context, job queue.Job) error {
				return worker.Run(ctx, job)
			})
		}()
	}

	timer, err := dispatch.StartTimer(ctx, dispatcher, cfg.DeltaTimerSchedule, cfg.DeltaTimerOnStartup)
	if err != nil {
		return nil, nil, err
	}
	cleanups = append(cleanups, timer.Stop)

	bundle := &tools.Bundle{
		GrantID:   cfg.MailGrantID,
		Retrieval: svc,
		Mail:      mailClient,
		Sync:      dispatcher,
		Triage:    engine,
	}
	runtime := agentrt.NewRuntime(agentrt.LoadSpecialists(cfg.SpecialistsPath))
	runner := agentrt.NewOpenAIRunner(cfg.OpenAIAPIKey)
	narrator := voice.NewLayer(voice.ModeSerialize)
	br := bridge.New(runtime, narrator, bundle, runner, agentrt.Options{Model: cfg.TextModel})
	cleanups = append(cleanups, narrator.Disconnect)

	app := &App{
		Config:     cfg,
		Store:      st,
		Mail:       mailClient,
		Vectors:    vectors,
		Retrieval:  svc,
		Dispatcher: dispatcher,
		Summarizer: engine,
		Queue:      publisher,
		Worker:     worker,
		Bridge:     br,
	}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return app, cleanup, nil
}
