package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yourusername/easypdf/internal/account"
	"github.com/yourusername/easypdf/internal/auth"
	"github.com/yourusername/easypdf/internal/config"
	"github.com/yourusername/easypdf/internal/download"
	"github.com/yourusername/easypdf/internal/jobs"
	"github.com/yourusername/easypdf/internal/ocr"
	"github.com/yourusername/easypdf/internal/ocr/tesseract"
	"github.com/yourusername/easypdf/internal/pdf"
	"github.com/yourusername/easypdf/internal/ratelimit"
	"github.com/yourusername/easypdf/internal/repository"
	"github.com/yourusername/easypdf/internal/storage"
	"github.com/yourusername/easypdf/internal/upload"
)

const jobEventTTL = 30 * time.Minute

// app はルーティングに必要な組み立て済みの部品です。
type app struct {
	auth     *auth.Manager
	upload   *upload.Handler
	download *download.Handler
	jobs     *jobs.Handler
	account  *account.Handler

	limiter      ratelimit.Limiter
	uploadRule   ratelimit.Rule
	downloadRule ratelimit.Rule
	dispatcher   jobs.Dispatcher

	log     *slog.Logger
	closers []func() error
}

// newApp は依存関係を組み立てます。REDIS_URL があれば共有ストアを使い、なければプロセス内実装を使います。
func newApp(ctx context.Context, cfg *config.Config, db *gorm.DB, files *storage.FileStore, logger *slog.Logger) (*app, error) {
	a := &app{
		log:          logger,
		uploadRule:   ratelimit.Rule{Limit: cfg.UploadRateLimit, Window: cfg.UploadRateWindow},
		downloadRule: ratelimit.Rule{Limit: cfg.DownloadRateLimit, Window: cfg.DownloadRateWindow},
	}

	users := repository.NewUserRepository(db, logger)
	fileRepo := repository.NewFileRepository(db, logger)
	jobRepo := repository.NewJobRepository(db, logger)
	history := repository.NewHistoryRepository(db, logger)
	subs := repository.NewSubscriptionRepository(db, logger)
	entitlements := auth.NewSubscriptionEntitlements(subs)

	var notifier jobs.Notifier
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)

		a.limiter = ratelimit.NewRedisLimiter(rdb)
		notifier = jobs.NewRedisNotifier(rdb, jobEventTTL, logger)
		queue, err := jobs.NewQueueDispatcher(cfg.RedisURL, cfg.WorkerConcurrency, logger)
		if err != nil {
			return nil, err
		}
		a.dispatcher = queue
		logger.Info("using redis backed limiter, notifier and job queue")
	} else {
		a.limiter = ratelimit.NewMemoryLimiter()
		notifier = jobs.NewMemoryNotifier()
		a.dispatcher = jobs.NewInlineDispatcher(logger)
		logger.Info("REDIS_URL not set; using in-process limiter, notifier and job runner")
	}

	tokens, err := download.NewTokenIssuer(cfg.EncryptionKey, cfg.DownloadTokenTTL)
	if err != nil {
		return nil, err
	}
	if cfg.EncryptionKey == "" {
		logger.Warn("ENCRYPTION_KEY not set; download tokens and encrypted uploads will not survive a restart")
	}

	if cfg.EncryptUploads {
		cipher, err := storage.NewCipher(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		files.UseCipher(cipher)
	}

	var mirror jobs.Mirror
	if cfg.GCSBucket != "" {
		gcsMirror, err := storage.NewGCSMirror(ctx, cfg.GCSBucket, cfg.GCSPrefix, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gcsMirror.Close)
		mirror = gcsMirror
	}

	engine := tesseract.New(&ocr.Rasterizer{Pdftoppm: cfg.PdftoppmPath, Logger: logger}, logger)
	adapter := pdf.NewAdapter(files, engine, pdf.Config{
		GhostscriptPath: cfg.GhostscriptPath,
		OCRLanguage:     cfg.TesseractLang,
	}, logger)

	orch := jobs.NewOrchestrator(jobs.Deps{
		Jobs:             jobRepo,
		Files:            fileRepo,
		History:          history,
		Processor:        adapter,
		Entitlements:     entitlements,
		Notifier:         notifier,
		Dispatcher:       a.dispatcher,
		Links:            tokens,
		Paths:            files,
		Sources:          files,
		Mirror:           mirror,
		Logger:           logger,
		Timeout:          cfg.JobTimeout,
		BatchConcurrency: cfg.BatchConcurrency,
	})
	if err := a.dispatcher.Start(orch); err != nil {
		return nil, err
	}

	a.auth = auth.NewManager(users, logger)
	a.upload = upload.NewHandler(files, fileRepo, upload.Config{
		MaxFileSize:      cfg.MaxFileSize,
		AllowedMIMETypes: cfg.AllowedMIMETypes,
	}, logger)
	a.download = download.NewHandler(files, tokens, logger)
	a.jobs = jobs.NewHandler(orch)
	a.account = account.NewHandler(users, fileRepo, history, subs, entitlements, logger)
	return a, nil
}

// close は外部接続を閉じます。
func (a *app) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("failed to close resources", "error", err)
	}
}
