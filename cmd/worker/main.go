package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/studiocore/authoring/internal/config"
	"github.com/studiocore/authoring/internal/contentstore"
	"github.com/studiocore/authoring/internal/database"
	"github.com/studiocore/authoring/internal/keys"
	"github.com/studiocore/authoring/internal/pkg/events"
	redisc "github.com/studiocore/authoring/internal/pkg/redis"
	"github.com/studiocore/authoring/internal/pkg/taskqueue"
	"github.com/studiocore/authoring/internal/transcripts"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Task types the worker consumes.
const (
	taskDownloadYouTube = "transcripts.download_youtube"
	taskDeleteSubs      = "transcripts.delete"
)

type downloadPayload struct {
	CourseKey string `json:"course_key"`
	YouTubeID string `json:"youtube_id"`
	Language  string `json:"language"`
}

type deletePayload struct {
	CourseKey string   `json:"course_key"`
	SubsIDs   []string `json:"subs_ids"`
	Language  string   `json:"language"`
}

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	var logger *zap.Logger
	if cfg.IsDev() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := database.Connect(cfg, true)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}

	rc, err := redisc.Connect(cfg.RedisURL)
	if err != nil {
		logger.Fatal("connect redis", zap.Error(err))
	}
	defer rc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := newContentStore(ctx, cfg, db)
	if err != nil {
		logger.Fatal("init content store", zap.Error(err))
	}
	fetcher, err := transcripts.NewYouTubeFetcher(cfg.YouTube, logger)
	if err != nil {
		logger.Fatal("init youtube fetcher", zap.Error(err))
	}
	bus := events.NewRedisBus(rc, logger)

	worker := taskqueue.NewWorker(taskqueue.NewService(rc), logger)
	worker.Register(taskDownloadYouTube, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p downloadPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		course, err := keys.ParseCourseKey(p.CourseKey)
		if err != nil {
			return nil, err
		}
		filename, err := transcripts.DownloadYouTubeSubs(ctx, fetcher, store, course, p.YouTubeID, p.Language)
		if err != nil {
			return nil, err
		}
		bus.Publish(ctx, events.TranscriptsDownloaded, map[string]interface{}{
			"course_key": p.CourseKey,
			"youtube_id": p.YouTubeID,
			"filename":   filename,
		})
		return map[string]string{"filename": filename}, nil
	})
	worker.Register(taskDeleteSubs, func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var p deletePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		course, err := keys.ParseCourseKey(p.CourseKey)
		if err != nil {
			return nil, err
		}
		return nil, transcripts.RemoveSubsFromStore(ctx, store, course, p.SubsIDs, p.Language)
	})

	go worker.Run(ctx)
	logger.Info("worker started", zap.String("env", cfg.Env))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker...")
	cancel()
	logger.Info("worker exited")
}

func newContentStore(ctx context.Context, cfg *config.AppConfig, db *gorm.DB) (contentstore.Store, error) {
	if cfg.Storage.Backend == "s3" {
		return contentstore.NewS3Store(ctx, cfg.Storage.S3)
	}
	return contentstore.NewDatabaseStore(db), nil
}
