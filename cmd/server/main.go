package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"voice-auth/internal/audio"
	"voice-auth/internal/config"
	"voice-auth/internal/features"
	apphttp "voice-auth/internal/http"
	"voice-auth/internal/repository"
	"voice-auth/internal/repository/filestore"
	"voice-auth/internal/repository/sqlite"
	"voice-auth/internal/service"
	"voice-auth/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Fatalf("parse log level: %v", err)
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profiles, closeStore, err := buildProfileStore(cfg)
	if err != nil {
		logger.Fatalf("open profile store: %v", err)
	}
	defer closeStore()

	if err := profiles.Init(ctx); err != nil {
		logger.Fatalf("init profile repository: %v", err)
	}

	decoder, err := audio.NewDecoder(
		cfg.Decoder.Backend,
		audio.NewFFmpegDecoder(cfg.Decoder.FFmpegPath, cfg.DecoderTimeout()),
		logger,
	)
	if err != nil {
		logger.Fatalf("setup decoder: %v", err)
	}

	if err := os.MkdirAll(cfg.Features.ScratchDir, 0o700); err != nil {
		logger.Fatalf("create scratch dir: %v", err)
	}
	extractorCfg := features.DefaultConfig()
	extractorCfg.SampleRate = cfg.Features.SampleRate
	extractorCfg.MinDuration = cfg.MinDuration()
	extractorCfg.ScratchDir = cfg.Features.ScratchDir
	extractorCfg.AllowSynthetic = cfg.Features.AllowSynthetic
	if extractorCfg.AllowSynthetic {
		logger.Warn("synthetic feature fallback is enabled")
	}
	extractor := features.NewExtractor(extractorCfg, decoder, logger)

	archive, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	voiceService := service.NewVoiceAuthService(profiles, extractor, service.Options{
		Threshold:         cfg.Auth.SimilarityThreshold,
		DefaultPassphrase: cfg.Auth.DefaultPassphrase,
		Archive:           archive,
		Logger:            logger,
	})

	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(voiceService, apphttp.Options{
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Debug:          cfg.Server.Debug,
		Tokens:         apphttp.NewTokenIssuer(cfg.Auth.TokenSecret, cfg.TokenTTL()),
		Archive:        archive,
		Logger:         logger,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s (threshold %.2f, store %s)", cfg.Server.Addr, cfg.Auth.SimilarityThreshold, cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func buildProfileStore(cfg config.Config) (repository.ProfileRepository, func(), error) {
	switch cfg.Database.Driver {
	case "file":
		return filestore.New(cfg.Database.ProfileDir), func() {}, nil
	default:
		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.NewProfileRepository(db), func() { _ = db.Close() }, nil
	}
}

// buildStorage returns a nil archive when no bucket is configured.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Archive, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("storage bucket not set, recordings will not be archived")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("archiving recordings to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Archive(client, cfg.Storage.Bucket, cfg.Storage.KeyPrefix)
}
