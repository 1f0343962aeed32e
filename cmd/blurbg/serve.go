package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/menta2k/blur-background/internal/config"
	"github.com/menta2k/blur-background/internal/handler"
	"github.com/menta2k/blur-background/internal/logger"
	"github.com/menta2k/blur-background/internal/service"
	"github.com/menta2k/blur-background/pkg/cache"
	"github.com/menta2k/blur-background/pkg/chat"
	"github.com/menta2k/blur-background/pkg/client"
	"github.com/menta2k/blur-background/pkg/compositor"
	"github.com/menta2k/blur-background/pkg/imageio"
	"github.com/menta2k/blur-background/pkg/llamacpp"
	"github.com/menta2k/blur-background/pkg/ollama"
	"github.com/menta2k/blur-background/pkg/saliency"
	"github.com/menta2k/blur-background/pkg/segmentation"
	"github.com/menta2k/blur-background/pkg/storage"
	"github.com/menta2k/blur-background/pkg/types"
	"github.com/menta2k/blur-background/pkg/validation"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, envFile)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file (defaults and environment when empty)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before the config")
	return cmd
}

func runServe(configPath, envFile string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Server.Mode, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync(log)

	log.Info("starting blur-background server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	ctx := context.Background()

	store, err := newObjectStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	results := newResultCache(ctx, cfg, log)
	if results != nil {
		defer results.Close()
	}

	validator := validation.NewWithConfig(validation.Config{
		MaxSize:      cfg.Upload.MaxSize,
		AllowedTypes: cfg.Upload.AllowedTypes,
		MinDimension: cfg.Upload.MinDimension,
		MaxDimension: cfg.Upload.MaxDimension,
	})

	segmenter := newSegmenter(cfg, log)
	blurService := service.NewBlurService(validator, store, segmenter, results, cfg.Upload.KeyPrefix, log)

	fetcher := imageio.NewFetcher()
	fetcher.SetMaxBytes(cfg.Render.MaxDownload)
	allowedHosts := renderHosts(cfg, store)
	log.Info("composite sources restricted", zap.Strings("allowed_hosts", allowedHosts))
	renderService := service.NewRenderService(service.RenderConfig{
		MaxConcurrent: cfg.Render.MaxConcurrent,
		QueueTimeout:  cfg.Render.QueueTimeout,
		MaxDimension:  cfg.Upload.MaxDimension,
		AllowedHosts:  allowedHosts,
		Defaults: compositor.Options{
			BlurRadius:   cfg.Render.BlurRadius,
			Feather:      cfg.Render.Feather,
			FeatherSigma: cfg.Render.FeatherSigma,
			BlurMethod:   compositor.BlurGaussian,
		},
		Encode: types.EncodeOptions{
			Format:  cfg.Render.Format,
			Quality: cfg.Render.Quality,
		},
	}, fetcher, log)

	handlers := handler.Handlers{
		Blur:   handler.NewBlurHandler(blurService, cfg.Upload.MaxSize, log),
		Render: handler.NewRenderHandler(renderService, log),
	}
	if assistant, err := newAssistant(cfg); err != nil {
		log.Warn("chat backend disabled", zap.String("backend", cfg.Chat.Backend), zap.Error(err))
	} else if assistant.Enabled() {
		handlers.Chat = handler.NewChatHandler(service.NewChatService(assistant, cfg.Chat.Timeout, log), log)
		log.Info("chat backend enabled", zap.String("backend", cfg.Chat.Backend), zap.String("model", cfg.Chat.Model))
	}
	if cfg.Storage.Backend == "memory" {
		handlers.Object = handler.NewObjectHandler(store, log)
	}

	router := handler.SetupRouter(cfg, log, handler.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}, handlers)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited gracefully")
	return nil
}

func newObjectStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "memory":
		base := cfg.Storage.PublicURL
		if base == "" {
			base = fmt.Sprintf("http://localhost:%d/objects", cfg.Server.Port)
		}
		log.Info("using in-memory object store", zap.String("public_url", base))
		return storage.NewMemoryStore(base), nil
	default:
		s, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:        cfg.Storage.Endpoint,
			Region:          cfg.Storage.Region,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			Bucket:          cfg.Storage.Bucket,
			PublicBaseURL:   cfg.Storage.PublicURL,
			UseSSL:          cfg.Storage.UseSSL,
		})
		if errors.Is(err, storage.ErrNotConfigured) {
			return nil, fmt.Errorf("storage.backend s3 needs an endpoint and credentials (R2_ENDPOINT, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY), or set storage.backend to memory: %w", err)
		}
		if err != nil {
			return nil, err
		}
		if cfg.Storage.CreateBucket {
			if err := s.EnsureBucket(ctx); err != nil {
				return nil, err
			}
		}
		log.Info("using object store", zap.String("endpoint", cfg.Storage.Endpoint), zap.String("bucket", s.Bucket()))
		return s, nil
	}
}

// replicateDeliveryHosts serve model outputs
var replicateDeliveryHosts = []string{"replicate.delivery", "*.replicate.delivery"}

// renderHosts returns render.allowed_hosts, or the hosts the blur endpoint
// itself hands out: the storage public host and Replicate's delivery hosts
func renderHosts(cfg *config.Config, store storage.ObjectStore) []string {
	if len(cfg.Render.AllowedHosts) > 0 {
		return cfg.Render.AllowedHosts
	}
	hosts := append([]string{}, replicateDeliveryHosts...)
	if h := imageio.HostOf(store.PublicURL("x")); h != "" {
		hosts = append(hosts, h)
	}
	return hosts
}

// newResultCache returns nil when caching is off or redis is unreachable
func newResultCache(ctx context.Context, cfg *config.Config, log *zap.Logger) *cache.ResultCache {
	switch cfg.Cache.Backend {
	case "redis":
		store := cache.NewRedisStore(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := store.Ping(ctx); err != nil {
			log.Warn("redis connection failed, cache disabled", zap.Error(err))
			store.Close()
			return nil
		}
		log.Info("redis connected successfully", zap.String("addr", cfg.Redis.Addr))
		return cache.NewResultCache(store, cfg.Cache.TTL)
	case "memory":
		log.Info("using in-memory result cache", zap.Duration("ttl", cfg.Cache.TTL))
		return cache.NewResultCache(cache.NewMemoryStore(), cfg.Cache.TTL)
	default:
		log.Info("result cache disabled")
		return nil
	}
}

// newSegmenter never fails: a missing token is reported on each request
func newSegmenter(cfg *config.Config, log *zap.Logger) segmentation.Segmenter {
	if cfg.Segmentation.Backend == "saliency" {
		log.Info("using local saliency segmenter")
		return segmentation.NewLocalSegmenter(saliency.New())
	}

	rc, err := segmentation.NewReplicateClient(segmentation.ReplicateConfig{
		BaseURL:      cfg.Segmentation.ReplicateURL,
		Token:        cfg.Segmentation.Token,
		Version:      cfg.Segmentation.ModelVersion,
		PollInterval: cfg.Segmentation.PollInterval,
		MaxWait:      cfg.Segmentation.MaxWait,
		Timeout:      cfg.Segmentation.Timeout,
	})
	if err != nil {
		log.Warn("segmentation model unavailable", zap.Error(err))
		return segmentation.Unavailable{Err: err}
	}
	log.Info("using replicate segmenter", zap.String("version", cfg.Segmentation.ModelVersion))
	return rc
}

func newAssistant(cfg *config.Config) (*chat.Assistant, error) {
	var backend client.ChatClient
	switch cfg.Chat.Backend {
	case "ollama":
		c, err := ollama.NewClient(cfg.Chat.URL)
		if err != nil {
			return nil, err
		}
		backend = c
	case "openai":
		url := cfg.Chat.URL
		if url == "" {
			url = "https://api.openai.com"
		}
		c, err := llamacpp.NewClient(url, cfg.Chat.APIKey)
		if err != nil {
			return nil, err
		}
		backend = c
	}
	return chat.NewAssistant(backend, cfg.Chat.Model), nil
}
