// Command heliorand runs the solar-imagery entropy service: it fetches
// full-disk solar frames, conditions their sensor noise into validated
// entropy blocks, and serves them over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheEntropyCollective/heliorand/pkg/api"
	"github.com/TheEntropyCollective/heliorand/pkg/archive"
	"github.com/TheEntropyCollective/heliorand/pkg/core/blocks"
	"github.com/TheEntropyCollective/heliorand/pkg/core/condition"
	"github.com/TheEntropyCollective/heliorand/pkg/core/extract"
	"github.com/TheEntropyCollective/heliorand/pkg/core/quality"
	"github.com/TheEntropyCollective/heliorand/pkg/infrastructure/config"
	"github.com/TheEntropyCollective/heliorand/pkg/infrastructure/logging"
	"github.com/TheEntropyCollective/heliorand/pkg/infrastructure/workers"
	"github.com/TheEntropyCollective/heliorand/pkg/ingest"
	"github.com/TheEntropyCollective/heliorand/pkg/pipeline"
	"github.com/TheEntropyCollective/heliorand/pkg/pool"
	"github.com/TheEntropyCollective/heliorand/pkg/pool/store"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		addr        = flag.String("addr", "", "HTTP listen address (overrides config)")
		memoryStore = flag.Bool("memory-store", false, "Use the in-process store instead of Redis")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level, err := logging.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	format, err := logging.ParseLogFormat(cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Invalid log format: %v", err)
	}
	logging.InitGlobalLogger(&logging.Config{Level: level, Format: format, Output: os.Stdout})
	logger := logging.GetGlobalLogger().WithComponent("main")

	// Pool store: Redis in production, in-process for standalone runs.
	var poolStore store.Store
	if *memoryStore {
		poolStore = store.NewMemoryStore()
		logger.Info("using in-process pool store", nil)
	} else {
		poolStore = store.NewRedisStore(store.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			UseTLS:   cfg.Redis.UseTLS,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := poolStore.Ping(pingCtx); err != nil {
			// Degraded start: requests fail with 503 until Redis returns.
			logger.Error("redis unreachable at startup", map[string]interface{}{
				"addr":  cfg.Redis.Addr,
				"error": err.Error(),
			})
		} else {
			logger.Info("connected to redis", map[string]interface{}{
				"addr": cfg.Redis.Addr,
			})
		}
		cancel()
	}
	defer poolStore.Close()

	entropyPool := pool.New(poolStore, time.Duration(cfg.Entropy.TTLSeconds)*time.Second, nil)

	var archiver archive.Archiver
	if cfg.Archive.Enabled {
		fsArchive, err := archive.NewFilesystemArchive(cfg.Archive.Dir)
		if err != nil {
			log.Fatalf("Failed to initialize archive: %v", err)
		}
		archiver = fsArchive
		logger.Info("frame archival enabled", map[string]interface{}{
			"dir": cfg.Archive.Dir,
		})
	}

	workerPool := workers.NewPool(0)

	source, err := buildFrameSource(cfg, archiver, workerPool)
	if err != nil {
		log.Fatalf("Failed to initialize frame source: %v", err)
	}

	blockSize := cfg.Entropy.BlockSize
	if blockSize <= 0 {
		blockSize = blocks.DefaultBlockSize
	}

	pipe, err := pipeline.New(pipeline.Options{
		Pool:           entropyPool,
		Source:         source,
		Extractor:      extract.New(cfg.Entropy.CutoffRatio, cfg.Entropy.SampleWindows),
		Conditioner:    condition.New(blockSize),
		Validator:      quality.New(cfg.Entropy.MinShannon, cfg.Entropy.MinQuality),
		Workers:        workerPool,
		LowWaterMark:   cfg.Entropy.LowWaterMark,
		FetchInterval:  time.Duration(cfg.Ingest.FetchInterval) * time.Second,
		RefillInterval: time.Duration(cfg.Entropy.RefillInterval) * time.Second,
		DrainSources:   cfg.Entropy.DrainSources,
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go pipe.RunFetchLoop(ctx)
	go pipe.RunRefillLoop(ctx)

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	apiServer := api.NewServer(entropyPool, cfg.Server.APIPrefix, cfg.Server.MaxBytesPerRequest, nil)
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", map[string]interface{}{
			"addr": listenAddr,
		})
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", nil)
	case err := <-serverErr:
		logger.Error("http server failed", map[string]interface{}{
			"error": err.Error(),
		})
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	logger.Info("shutdown complete", nil)
}

// buildFrameSource picks the frame source: a drop-directory watcher when
// configured, otherwise the SDO HTTP fetcher.
func buildFrameSource(cfg *config.Config, archiver archive.Archiver, workerPool *workers.Pool) (ingest.FrameSource, error) {
	if cfg.Ingest.WatchDir != "" {
		return ingest.NewDirectorySource(cfg.Ingest.WatchDir, nil)
	}
	return ingest.NewSDOSource(ingest.SDOOptions{
		BaseURL:         cfg.Ingest.SDOBaseURL,
		Images:          cfg.Ingest.SDOImages,
		CacheDir:        cfg.Ingest.CacheDir,
		MaxStoredFrames: cfg.Ingest.MaxStoredFrames,
		FetchTimeout:    time.Duration(cfg.Ingest.FetchTimeout) * time.Second,
		Archiver:        archiver,
		Workers:         workerPool,
	})
}
