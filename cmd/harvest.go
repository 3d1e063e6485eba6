package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harvestkit/facultydir/internal/api"
	"github.com/harvestkit/facultydir/internal/clock/system"
	"github.com/harvestkit/facultydir/internal/config"
	"github.com/harvestkit/facultydir/internal/enrich"
	"github.com/harvestkit/facultydir/internal/harvest"
	"github.com/harvestkit/facultydir/internal/logging"
	"github.com/harvestkit/facultydir/internal/orchestrator"
	"github.com/harvestkit/facultydir/internal/progress"
	memorypublisher "github.com/harvestkit/facultydir/internal/publisher/memory"
	gcppublisher "github.com/harvestkit/facultydir/internal/publisher/pubsub"
	"github.com/harvestkit/facultydir/internal/search"
	"github.com/harvestkit/facultydir/internal/sink"
	"github.com/harvestkit/facultydir/internal/store"
	"github.com/harvestkit/facultydir/internal/telemetry"
)

func newHarvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest",
		Short: "Run a harvest to completion, resuming any prior checkpoint",
		RunE:  runHarvestCommand,
	}
}

func runHarvestCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.InitTracerProvider(ctx, "facultydir")
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if terr := tp.Shutdown(shutdownCtx); terr != nil {
			logger.Warn("tracer shutdown failed", zap.Error(terr))
		}
	}()

	query := harvest.SanitizeQuery(harvest.Query{
		Keyword:     cfg.Run.Keyword,
		Department:  cfg.Run.Department,
		Institution: cfg.Run.Institution,
	})

	kv, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer closeQuietly(kv, logger, "store")

	out, err := buildSink(ctx, cfg, query)
	if err != nil {
		return fmt.Errorf("init sink: %w", err)
	}
	defer closeQuietly(out, logger, "sink")

	clk := system.New()
	tracker := progress.NewTracker(kv, clk, cfg.Run.CheckpointInterval, logger.Named("progress"))

	searcher := search.New(search.Config{
		BaseURL:      cfg.Search.BaseURL,
		UserAgent:    cfg.Search.UserAgent,
		Timeout:      cfg.SearchTimeout(),
		RequestDelay: cfg.RequestDelay(),
	}, nil, logger.Named("search"))

	enricher := enrich.NewChromeFetcher(enrich.Config{
		UserAgent:   cfg.Enrich.UserAgent,
		NavTimeout:  time.Duration(cfg.Enrich.NavTimeoutSec) * time.Second,
		MaxParallel: cfg.Enrich.MaxParallel,
		MaxLeases:   cfg.Enrich.MaxLeases,
	}, logger.Named("enrich"))
	defer func() {
		if cerr := enricher.Close(context.Background()); cerr != nil {
			logger.Warn("enricher close failed", zap.Error(cerr))
		}
	}()

	var recognizer harvest.Recognizer = enrich.NoopRecognizer{}
	if cfg.OCR.Endpoint != "" {
		recognizer = enrich.NewHTTPRecognizer(
			cfg.OCR.Endpoint,
			time.Duration(cfg.OCR.TimeoutSeconds)*time.Second,
			logger.Named("ocr"),
		)
	}

	publisher, pubClose, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	defer pubClose()

	orch := orchestrator.New(
		searcher,
		enricher,
		recognizer,
		out,
		kv,
		tracker,
		publisher,
		clk,
		orchestrator.Config{
			Query:       query,
			MaxItems:    cfg.Run.MaxItems,
			BatchSize:   cfg.Run.BatchSize,
			Concurrency: cfg.Run.Concurrency,
			RetryBudget: cfg.Run.RetryBudget,
			Topic:       cfg.PubSub.TopicName,
		},
		logger.Named("orchestrator"),
	)

	apiServer := api.NewServer(tracker, runStateAdapter{orch}, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("ops server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logger.Error("ops server shutdown error", zap.Error(serr))
		}
	}()

	report, err := orch.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("harvest interrupted; checkpoint retained",
				zap.Int("complete", report.Complete),
				zap.Int("partial", report.Partial))
			return nil
		}
		return fmt.Errorf("harvest: %w", err)
	}

	logger.Info("harvest finished",
		zap.String("run_id", report.RunID),
		zap.Int("complete", report.Complete),
		zap.Int("partial", report.Partial),
		zap.Int("skipped", report.Skipped),
		zap.Bool("resumed", report.Resumed),
	)
	return nil
}

// runStateAdapter exposes the orchestrator state as a plain string for
// the ops API.
type runStateAdapter struct {
	orch *orchestrator.Orchestrator
}

func (a runStateAdapter) State() string {
	return string(a.orch.State())
}

func buildStore(ctx context.Context, cfg config.Config) (harvest.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "file":
		return store.NewFile(cfg.Store.File.Dir)
	case "redis":
		return store.NewRedis(ctx, store.RedisOptions{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func buildSink(ctx context.Context, cfg config.Config, query harvest.Query) (harvest.Sink, error) {
	switch cfg.Sink.Backend {
	case "memory":
		return sink.NewMemory(), nil
	case "jsonl":
		return sink.NewJSONL(cfg.Sink.Path)
	case "postgres":
		return sink.NewPostgres(ctx, cfg.Sink.DSN, runKey(query))
	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.Sink.Backend)
	}
}

// runKey derives a stable identifier from the query so resumed runs keep
// deduplicating against the rows the interrupted run already wrote.
func runKey(query harvest.Query) string {
	sum := sha256.Sum256([]byte(query.Key()))
	return hex.EncodeToString(sum[:8])
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (harvest.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return memorypublisher.New(), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	pub := client.Publisher(cfg.PubSub.TopicName)
	cleanup := func() {
		pub.Stop()
		if cerr := client.Close(); cerr != nil {
			logger.Warn("pubsub client close failed", zap.Error(cerr))
		}
	}
	return gcppublisher.New(pub), cleanup, nil
}

func closeQuietly(v any, logger *zap.Logger, name string) {
	switch c := v.(type) {
	case io.Closer:
		if err := c.Close(); err != nil {
			logger.Warn("close failed", zap.String("component", name), zap.Error(err))
		}
	case interface{ Close() }:
		c.Close()
	}
}
