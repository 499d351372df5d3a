package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"transcription-scheduler/internal/api"
	"transcription-scheduler/internal/cache"
	"transcription-scheduler/internal/config"
	"transcription-scheduler/internal/history"
	"transcription-scheduler/internal/resource"
	"transcription-scheduler/internal/scheduler"
	"transcription-scheduler/internal/transcribe"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	var resultCache cache.Cache
	switch cfg.CacheBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		resultCache = cache.NewRedis(client, int64(cfg.CacheCapacity), cfg.CacheTTL)
	default:
		resultCache = cache.NewMemory(cfg.CacheCapacity, cfg.CacheTTL)
	}

	var recorder *history.Recorder
	if cfg.HistoryDSN != "" {
		var err error
		recorder, err = history.New(ctx, cfg.HistoryDSN)
		if err != nil {
			log.Fatalf("connect history db: %v", err)
		}
	}

	transcriber := &transcribe.ExecTranscriber{
		Command:   cfg.TranscribeCommand,
		ModelPath: cfg.TranscribeModel,
	}

	// For the exec-based transcriber "loading" verifies the binary and model
	// are present; the real memory cost lives in each spawned process.
	hooks := resource.Hooks{
		Load: func(context.Context) (any, error) {
			path, err := exec.LookPath(cfg.TranscribeCommand)
			if err != nil {
				return nil, fmt.Errorf("transcribe command: %w", err)
			}
			if _, err := os.Stat(cfg.TranscribeModel); err != nil {
				return nil, fmt.Errorf("transcribe model: %w", err)
			}
			log.Printf("transcription backend ready: %s", path)
			return path, nil
		},
		Unload: func(any) error {
			log.Printf("transcription backend released")
			return nil
		},
	}

	sched := scheduler.New(cfg, resultCache, hooks, transcriber, recorder)
	sched.Start()

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: api.New(sched).Router(),
	}
	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	if err := sched.Shutdown(shutdownCtx, true); err != nil {
		log.Printf("scheduler shutdown: %v", err)
	}
}
