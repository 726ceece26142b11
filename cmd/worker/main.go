// Command worker runs the burst processing pool: it claims scheduled tickets
// from the dispatch queue, drains burst buffers, persists transcripts,
// generates replies, and publishes results for the API front-ends to deliver.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/averlon/go-convo-backend/internal/buffer"
	"github.com/averlon/go-convo-backend/internal/config"
	"github.com/averlon/go-convo-backend/internal/delivery"
	"github.com/averlon/go-convo-backend/internal/kv"
	"github.com/averlon/go-convo-backend/internal/observability"
	"github.com/averlon/go-convo-backend/internal/processor"
	"github.com/averlon/go-convo-backend/internal/queue"
	"github.com/averlon/go-convo-backend/internal/repo"
	"github.com/averlon/go-convo-backend/internal/respond"
	"github.com/averlon/go-convo-backend/internal/search"
	"github.com/averlon/go-convo-backend/internal/services"
	"github.com/averlon/go-convo-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()
	sysutil.SetupLogging(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shCtx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	store, err := kv.Open(ctx, kv.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis connect failed")
	}
	defer func() { _ = store.Close() }()

	bursts := buffer.NewStore(store, cfg.Buffer.Window, cfg.Buffer.TTLSlack, log.Logger)
	transcripts := services.NewTranscriptService(db, cfg.Replier.HistorySize)
	pub := delivery.NewPublisher(store.Redis())

	q := queue.NewRedisQueue(store.Redis(), cfg.Queue.LeaseTTL)
	proc := processor.New(bursts, q, transcripts, newReplier(cfg), pub, log.Logger)

	w := &queue.Worker{
		Source:       q,
		Handle:       proc.Process,
		Concurrency:  cfg.Queue.Concurrency,
		JobTimeout:   cfg.Queue.JobTimeout,
		PollInterval: cfg.Queue.PollInterval,
		Log:          log.Logger,
	}

	// Metrics endpoint on a side port; the worker serves no public API.
	go serveMetrics(ctx)

	log.Info().
		Int("concurrency", cfg.Queue.Concurrency).
		Str("version", version).
		Msg("worker started")
	w.Run(ctx)
	log.Info().Msg("worker stopped")
}

// newReplier selects the reply backend: OpenAI when an API key is configured
// (grounded on the local corpus when one is present), otherwise retrieval
// over the corpus alone so the whole stack runs offline.
func newReplier(cfg config.Config) respond.Replier {
	ix, err := search.LoadMarkdown(cfg.DataPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.DataPath).Msg("corpus unavailable")
		ix = nil
	}

	if cfg.Replier.OpenAIKey != "" {
		log.Info().Str("model", cfg.Replier.OpenAIModel).Msg("using OpenAI replier")
		return respond.NewOpenAIReplier(cfg.Replier.OpenAIKey, cfg.Replier.OpenAIModel, cfg.Replier.HistorySize).
			WithGrounding(ix)
	}

	log.Info().Str("path", cfg.DataPath).Msg("using retrieval replier")
	return respond.NewCorpusReplier(ix, cfg.Threshold)
}

func serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              ":9091",
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warn().Err(err).Msg("metrics listener stopped")
	}
}
