package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"segment-transcoder/internal/catalog"
	"segment-transcoder/internal/ffmpeg"
	"segment-transcoder/internal/ingest"
	"segment-transcoder/internal/orchestrator"
	"segment-transcoder/internal/platform/config"
	"segment-transcoder/internal/platform/database"
	"segment-transcoder/internal/platform/logger"
	"segment-transcoder/internal/platform/metrics"
	"segment-transcoder/internal/storage"
	"segment-transcoder/internal/thumbnail"
	"segment-transcoder/internal/transcode"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	ffmpegPath := config.GetEnv("FFMPEG_PATH", "ffmpeg")
	ffprobePath := config.GetEnv("FFPROBE_PATH", "ffprobe")
	maxConcurrent := config.GetEnvInt("MAX_CONCURRENT_TRANSCODES", transcode.DefaultMaxConcurrent)
	maxWait := config.GetEnvDuration("TRANSCODE_MAX_WAIT", transcode.DefaultMaxWait)
	timeout := config.GetEnvDuration("TRANSCODE_TIMEOUT", transcode.DefaultTimeout)
	scratchDir := config.GetEnv("SCRATCH_DIR", os.TempDir())
	dbDriver := config.GetEnv("DATABASE_DRIVER", "memory")
	dbDSN := config.GetEnv("DATABASE_DSN", "")
	blobDir := config.GetEnv("BLOB_DIR", "data")
	baseURL := strings.TrimRight(config.GetEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/")
	signingKey := config.GetEnv("TOKEN_SIGNING_KEY", "")
	tokenTTL := config.GetEnvDuration("TOKEN_TTL", storage.DefaultTokenTTL)
	refreshSchedule := config.GetEnv("TOKEN_REFRESH_SCHEDULE", storage.DefaultRefreshSchedule)
	rateLimit := config.GetEnvInt("RATE_LIMIT_PER_MINUTE", 600)

	log := logger.New(logLevel, logFormat)

	if signingKey == "" {
		log.Error("TOKEN_SIGNING_KEY is required")
		os.Exit(1)
	}

	repo, closeRepo, err := openCatalog(dbDriver, dbDSN, logLevel, log)
	if err != nil {
		log.Error("catalog setup failed", "error", err)
		os.Exit(1)
	}
	defer closeRepo()

	issuer, err := storage.NewIssuer([]byte(signingKey), tokenTTL)
	if err != nil {
		log.Error("token issuer setup failed", "error", err)
		os.Exit(1)
	}
	videos, err := storage.NewBlobStore(filepath.Join(blobDir, "videos"), baseURL+"/blobs")
	if err != nil {
		log.Error("blob store setup failed", "error", err)
		os.Exit(1)
	}
	thumbs, err := storage.NewBlobStore(filepath.Join(blobDir, "thumbnails"), baseURL+"/thumbnails")
	if err != nil {
		log.Error("thumbnail store setup failed", "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	resolver := storage.NewResolver(repo, issuer, log)
	refresher, err := storage.NewRefresher(repo, resolver, refreshSchedule, met)
	if err != nil {
		log.Error("token refresher setup failed", "error", err)
		os.Exit(1)
	}
	refresher.WithLogger(log)

	executor := transcode.NewExecutor(
		transcode.NewFFmpegEngine(ffmpegPath),
		resolver,
		transcode.Config{
			MaxConcurrent: maxConcurrent,
			MaxWait:       maxWait,
			Timeout:       timeout,
			ScratchDir:    scratchDir,
		},
		log,
		met,
	)
	generator := thumbnail.NewGenerator(thumbnail.NewFFmpegGrabber(ffmpegPath), thumbs, repo, log)
	ingester := ingest.NewService(repo, videos, issuer, ffmpeg.NewProber(ffprobePath), generator, log, met)

	svc := orchestrator.NewService(repo, executor, ingester, log)
	h := orchestrator.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met, "/metrics"))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			if n, err := svc.VideoCount(r.Context()); err == nil {
				met.SetCatalogVideos(n)
			}
		}).ServeHTTP(w, r)
	})
	r.With(orchestrator.RateLimit(rateLimit)).Post("/segments", h.CreateSegment)
	r.Route("/videos", func(r chi.Router) {
		r.Post("/", h.RegisterVideo)
		r.Get("/{video_id}", h.GetVideo)
	})
	r.Route("/thumbnails", func(r chi.Router) {
		r.Get("/", h.ListThumbnails)
		storage.NewHandler(thumbs, nil, log).Routes(r)
	})
	r.Route("/blobs", storage.NewHandler(videos, issuer, log).Routes)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := refresher.Start(ctx); err != nil {
		log.Error("token refresher start failed", "error", err)
		os.Exit(1)
	}

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"database_driver", dbDriver,
		"max_concurrent_transcodes", maxConcurrent,
		"transcode_max_wait", maxWait,
		"transcode_timeout", timeout,
		"log_level", logLevel,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	refresher.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// openCatalog returns the repository for driver and a function releasing it.
func openCatalog(driver, dsn, logLevel string, log *slog.Logger) (catalog.Repository, func(), error) {
	if driver == "" || driver == "memory" {
		return catalog.NewInMemoryRepository(), func() {}, nil
	}

	gormLevel := "warn"
	if logLevel == "debug" {
		gormLevel = "info"
	}
	db, err := database.Open(database.Config{Driver: driver, DSN: dsn, LogLevel: gormLevel}, log)
	if err != nil {
		return nil, nil, err
	}
	repo, err := catalog.NewGormRepository(context.Background(), db)
	if err != nil {
		_ = database.Close(db)
		return nil, nil, err
	}
	return repo, func() {
		if err := database.Close(db); err != nil {
			log.Error("closing database", "error", err)
		}
	}, nil
}
