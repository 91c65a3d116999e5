package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"shipwatch/internal/changelog"
	"shipwatch/internal/config"
	"shipwatch/internal/dispatch"
	"shipwatch/internal/httpapi"
	"shipwatch/internal/manifest"
	"shipwatch/internal/metrics"
	"shipwatch/internal/pipeline"
	"shipwatch/internal/push"
	"shipwatch/internal/registry"
	"shipwatch/internal/snapshot"
	"shipwatch/internal/state"
)

const manifestKey = "golden-manifest-latest"

func usage() {
	fmt.Fprintf(os.Stderr, `usage: shipwatch <command> [flags]

commands:
  serve                                     run the HTTP API
  upload -file <path>                       reconcile one snapshot file
  subscribe -destination <d> -target <t>    set the notification target for a destination
  history                                   print the upload history
  manifest [-source file|kafka]             print the latest published manifest
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := newLogger(cfg)

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "serve":
		err = serve(cfg, logger)
	case "upload":
		err = upload(cfg, logger, args)
	case "subscribe":
		err = subscribe(cfg, logger, args)
	case "history":
		err = history(cfg)
	case "manifest":
		err = showManifest(cfg, args)
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("shipwatch failed")
	}
}

// app holds the wired components and their cleanup.
type app struct {
	pipeline *pipeline.Pipeline
	store    state.Store
	metrics  *metrics.Registry
	history  *changelog.FileWriter
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func build(cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{metrics: metrics.NewRegistry()}

	// Upload history: file always, Kafka when configured.
	fw, err := changelog.NewFileWriter(filepath.Dir(cfg.Store.HistoryPath), filepath.Base(cfg.Store.HistoryPath))
	if err != nil {
		return nil, fmt.Errorf("init history: %w", err)
	}
	a.history = fw
	var hist changelog.Writer = fw
	maniFS := manifest.NewFilesystemManifest(cfg.DataDir)
	var mani manifest.Publisher = maniFS
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		hist = changelog.NewMultiWriter(fw, changelog.NewKafkaWriter(brokers, cfg.Kafka.TopicHistory))
		mani = manifest.MultiPublisher(maniFS, manifest.NewKafkaManifest(cfg.Kafka.Bootstrap, cfg.Kafka.TopicManifest, manifestKey))
	}

	switch cfg.Store.Backend {
	case "pebble":
		ps, err := state.NewPebbleStore(cfg.Store.Path, hist)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ps.Close)
		a.store = ps
	case "memory":
		a.store = state.NewInMemoryStore()
	default:
		a.store = state.NewFileStore(cfg.Store.Path, hist)
	}

	reg, err := openRegistry(cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	transport, err := openTransport(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	transport = push.RateLimited(transport, cfg.Push.RPS, cfg.Push.Burst)

	d := dispatch.New(reg, transport, dispatch.Options{
		Workers:           cfg.DispatchWorkers,
		Timeout:           cfg.DispatchTimeout,
		NotifyOnFirstSeen: cfg.NotifyOnFirstSeen,
	}, logger, a.metrics)

	a.pipeline = pipeline.New(pipeline.Config{
		Schema:        cfg.KeySchema,
		Mode:          cfg.MergeMode,
		RetentionDays: cfg.RetentionDays,
		Location:      cfg.Location,
	}, a.store, reg, d, logger, pipeline.WithPublisher(mani), pipeline.WithMetrics(a.metrics))

	logger.Info().
		Str("key_schema", cfg.KeySchema.Version).
		Str("merge_mode", string(cfg.MergeMode)).
		Int("retention_days", cfg.RetentionDays).
		Bool("notify_first_seen", cfg.NotifyOnFirstSeen).
		Str("store", cfg.Store.Backend).
		Str("registry", cfg.Registry.Backend).
		Str("push", cfg.Push.Backend).
		Msg("engine ready")
	return a, nil
}

func openRegistry(cfg config.Config, a *app) (registry.Registry, error) {
	switch cfg.Registry.Backend {
	case "memory":
		return registry.NewMemoryRegistry(), nil
	case "sql":
		db, err := registry.OpenSQL(cfg.Registry.DSN)
		if err != nil {
			return nil, fmt.Errorf("open registry db: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		return registry.NewSQLRegistry(db)
	case "redis":
		opt, err := redis.ParseURL(cfg.Registry.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opt)
		a.closers = append(a.closers, client.Close)
		return registry.NewRedisRegistry(client, cfg.Registry.RedisKey), nil
	default:
		return registry.OpenFileRegistry(cfg.Registry.Path)
	}
}

func openTransport(cfg config.Config, logger zerolog.Logger) (push.Transport, error) {
	switch cfg.Push.Backend {
	case "sns":
		return push.NewSNSTransport(cfg.Push.AWSRegion)
	case "webhook":
		return push.NewWebhookTransport(cfg.Push.WebhookURL, cfg.Push.WebhookAPIKey), nil
	default:
		return push.LogTransport{Logger: logger}, nil
	}
}

func serve(cfg config.Config, logger zerolog.Logger) error {
	a, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(httpapi.Deps{
		Engine:         a.pipeline,
		History:        func() ([]changelog.Entry, error) { return changelog.ReadFile(a.history.Path()) },
		Metrics:        a.metrics.Handler(),
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func upload(cfg config.Config, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	file := fs.String("file", "", "snapshot file (.csv or .json)")
	_ = fs.Parse(args)
	if *file == "" {
		return errors.New("-file is required")
	}
	body, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	contentType := ""
	switch filepath.Ext(*file) {
	case ".csv":
		contentType = "text/csv"
	case ".json":
		contentType = "application/json"
	}
	rows, err := snapshot.Read(contentType, body)
	if err != nil {
		return err
	}

	a, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	rep, err := a.pipeline.Upload(context.Background(), rows)
	if err != nil {
		return err
	}
	return printJSON(rep)
}

func subscribe(cfg config.Config, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("subscribe", flag.ExitOnError)
	dest := fs.String("destination", "", "destination id, e.g. 1234-NORTE")
	target := fs.String("target", "", "push target for the transport (device id, endpoint ARN, tag)")
	_ = fs.Parse(args)

	a, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.pipeline.Subscribe(context.Background(), *dest, *target)
}

func history(cfg config.Config) error {
	entries, err := changelog.ReadFile(cfg.Store.HistoryPath)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []changelog.Entry{}
	}
	return printJSON(entries)
}

func showManifest(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("manifest", flag.ExitOnError)
	source := fs.String("source", "file", "manifest source: file|kafka")
	_ = fs.Parse(args)

	var r manifest.Reader = manifest.NewFilesystemManifest(cfg.DataDir)
	if *source == "kafka" {
		if cfg.Kafka.Bootstrap == "" {
			return errors.New("KAFKA_BOOTSTRAP is not set")
		}
		r = manifest.NewKafkaReader(cfg.Kafka.Bootstrap, cfg.Kafka.TopicManifest, manifestKey)
	}
	m, err := r.ReadLatest()
	if err != nil {
		return err
	}
	return printJSON(m)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
