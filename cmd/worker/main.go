package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/power-plant/powerplant/internal/acquire"
	"github.com/power-plant/powerplant/internal/config"
	"github.com/power-plant/powerplant/internal/database"
	"github.com/power-plant/powerplant/internal/ffmpeg"
	"github.com/power-plant/powerplant/internal/jobs"
	"github.com/power-plant/powerplant/internal/product"
	"github.com/power-plant/powerplant/internal/run"
	"github.com/power-plant/powerplant/internal/storage"
	"github.com/power-plant/powerplant/pkg/logger"
)

var log = logger.Get("Worker")

// The worker is the one-shot binary executed inside job containers. It
// performs a single acquisition run and exits; the job backend interprets
// a nonzero exit status as a failed run.
//
// Usage:
//
//	/worker download <record-id>
//	/worker compression <record-id> <media-url>
func main() {
	if err := execute(os.Args[1:]); err != nil {
		log.Emit(logger.FATAL, "Acquisition run failed: %s\n", err.Error())
		os.Exit(1)
	}

	log.Emit(logger.SUCCESS, "Acquisition run complete\n")
}

func execute(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: worker <%s|%s> <record-id> [media-url]", jobs.Download, jobs.Compression)
	}

	kind, rawID := jobs.Kind(args[0]), args[1]
	recordID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("record id %q is not a valid UUID: %w", rawID, err)
	}

	_ = godotenv.Load()

	cfg := config.PowerPlantConfig{}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}

	db := database.New()
	if err := db.Connect(cfg.Database); err != nil {
		return err
	}

	ctx := context.Background()
	objects, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialise object storage: %w", err)
	}

	pipeline := acquire.NewPipeline(
		cfg.Acquire,
		product.NewStore(db.GetSqlxDb()),
		objects,
		acquire.NewAria2Downloader(run.NewRunner(), cfg.Acquire.DownloadTimeout()),
		ffmpeg.NewTranscoder(&cfg.Ffmpeg),
		&cfg.Ffmpeg,
	)

	switch kind {
	case jobs.Download:
		return pipeline.RunDownload(ctx, recordID)
	case jobs.Compression:
		if len(args) < 3 {
			return fmt.Errorf("compression runs require a media url argument")
		}
		return pipeline.RunCompression(ctx, recordID, args[2])
	default:
		return fmt.Errorf("unknown run kind %q", kind)
	}
}
