package acquire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/power-plant/powerplant/internal/ffmpeg"
	"github.com/power-plant/powerplant/internal/product"
	"github.com/power-plant/powerplant/internal/scan"
	"github.com/power-plant/powerplant/pkg/logger"
	"golang.org/x/sync/errgroup"
)

var log = logger.Get("Acquire")

// Failure taxonomy for an acquisition run. Every failure is wrapped with
// one of these sentinels so the worker entry point can classify outcomes.
var (
	ErrPreconditionFailed = errors.New("acquisition precondition failed")
	ErrDownloadFailed     = errors.New("download failed")
	ErrUploadFailed       = errors.New("upload failed")
	ErrRecordWrite        = errors.New("record write failed")
)

type (
	Config struct {
		// Files below this size are excluded from upload; torrent payloads
		// commonly bundle subtitles, nfo files and samples alongside the
		// actual media.
		MinFileSizeMB int `yaml:"min_file_size_mb" env:"MIN_FILE_SIZE_MB" env-default:"500"`

		DownloadTimeoutMinutes int `yaml:"download_timeout_minutes" env:"DOWNLOAD_TIMEOUT_MINUTES" env-default:"30"`

		// TranscodeEnabled normalizes every surviving file before upload
		// during download runs. Skippable per deployment when storage
		// cost/quality tradeoffs favor raw upload. Compression runs always
		// transcode - that is their purpose.
		TranscodeEnabled bool `yaml:"transcode_enabled" env:"TRANSCODE_ENABLED" env-default:"false"`

		// ScratchRoot is the parent under which each run creates its own
		// uniquely-named staging directory. Empty means the OS temp dir.
		ScratchRoot string `yaml:"scratch_root" env:"SCRATCH_ROOT"`

		// RecordWriteRetryDelay is the backoff before retrying a failed
		// final record write. Zero selects the default. Not configurable
		// from the environment; tests shorten it.
		RecordWriteRetryDelay time.Duration
	}

	recordStore interface {
		GetByID(ctx context.Context, id uuid.UUID) (*product.Product, error)
		ClaimProcessing(ctx context.Context, id uuid.UUID) error
		SetProcessing(ctx context.Context, id uuid.UUID, processing bool) error
		ReplaceMedia(ctx context.Context, id uuid.UUID, urls []string) error
	}

	objectStore interface {
		Upload(ctx context.Context, localPath string, key string, metadata map[string]string) (string, error)
		List(ctx context.Context, prefix string) ([]string, error)
		PublicURL(key string) string
		ObjectKey(code string, index int, extension string) string
		CodePrefix(code string) string
	}

	downloader interface {
		Download(ctx context.Context, targetURL string, destDir string) error
	}

	transcoder interface {
		Transcode(ctx context.Context, inputPath string, outputPath string) error
	}

	prober interface {
		Probe(path string) *ffmpeg.MediaInfo
	}

	// Pipeline is the acquisition state machine: download -> filter ->
	// (optional) transcode -> upload -> finalize, with guaranteed release
	// of the record's processing flag on every exit path. One Pipeline
	// instance runs one record at a time; concurrency across records is
	// achieved by independent worker processes, not threads.
	Pipeline struct {
		config     Config
		records    recordStore
		objects    objectStore
		downloader downloader
		transcoder transcoder
		prober     prober
	}
)

func (config *Config) MinFileSizeBytes() int64 {
	return int64(config.MinFileSizeMB) * 1024 * 1024
}

func (config *Config) DownloadTimeout() time.Duration {
	return time.Duration(config.DownloadTimeoutMinutes) * time.Minute
}

func (config *Config) recordWriteRetryDelay() time.Duration {
	if config.RecordWriteRetryDelay > 0 {
		return config.RecordWriteRetryDelay
	}

	return time.Second * 3
}

func NewPipeline(config Config, records recordStore, objects objectStore, dl downloader, tc transcoder, pb prober) *Pipeline {
	return &Pipeline{
		config:     config,
		records:    records,
		objects:    objects,
		downloader: dl,
		transcoder: tc,
		prober:     pb,
	}
}

// RunDownload executes a full acquisition run against the record's stored
// download URL: fetch into a fresh scratch directory, keep files above the
// size threshold, optionally normalize them, upload in parallel under
// deterministic keys, and replace the record's media URLs with the result.
//
// The record's processing flag is claimed atomically before any external
// I/O and is lowered on every terminal path, success or failure.
func (pipeline *Pipeline) RunDownload(ctx context.Context, id uuid.UUID) error {
	record, err := pipeline.records.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPreconditionFailed, err.Error())
	}
	if !record.HasDownloadSource() {
		return fmt.Errorf("%w: product %s has no download url", ErrPreconditionFailed, record.Code)
	}

	return pipeline.runAcquisition(ctx, record, *record.DownloadURL, pipeline.config.TranscodeEnabled, false)
}

// RunCompression executes a compression run: download the target URL (one
// of the record's existing media artifacts), transcode it to the fixed
// profile, upload the result alongside the record's other objects, and
// rebuild the media URL list from the storage listing.
func (pipeline *Pipeline) RunCompression(ctx context.Context, id uuid.UUID, targetURL string) error {
	if targetURL == "" {
		return fmt.Errorf("%w: no compression target url provided", ErrPreconditionFailed)
	}

	record, err := pipeline.records.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPreconditionFailed, err.Error())
	}

	return pipeline.runAcquisition(ctx, record, targetURL, true, true)
}

func (pipeline *Pipeline) runAcquisition(ctx context.Context, record *product.Product, sourceURL string, transcode bool, rebuildFromListing bool) error {
	if err := pipeline.records.ClaimProcessing(ctx, record.ID); err != nil {
		if errors.Is(err, product.ErrAlreadyProcessing) {
			return fmt.Errorf("%w: %s", ErrPreconditionFailed, err.Error())
		}

		return fmt.Errorf("%w: %s", ErrRecordWrite, err.Error())
	}

	finalized := false
	defer func() {
		if finalized {
			return
		}

		// Guaranteed release: no run may leave the record stuck in
		// processing, regardless of which step failed.
		if err := pipeline.writeWithRetry(func() error {
			return pipeline.records.SetProcessing(context.Background(), record.ID, false)
		}); err != nil {
			log.Emit(logger.FATAL, "Failed to release processing flag for %s: %s\n", record.Code, err.Error())
		}
	}()

	scratchDir, err := os.MkdirTemp(pipeline.config.ScratchRoot, fmt.Sprintf("acquire-%s-", record.Code))
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	log.Emit(logger.INFO, "Acquisition run for %s: downloading %s into %s\n", record.Code, sourceURL, scratchDir)
	if err := pipeline.downloader.Download(ctx, sourceURL, scratchDir); err != nil {
		return fmt.Errorf("%w: %s", ErrDownloadFailed, err.Error())
	}

	candidates, err := pipeline.discoverCandidates(scratchDir, rebuildFromListing)
	if err != nil {
		return err
	}

	if transcode {
		candidates = pipeline.transcodeCandidates(ctx, candidates)
	}

	urls, failedUploads := pipeline.uploadCandidates(ctx, record.Code, candidates)

	if rebuildFromListing {
		// Compression runs add objects next to the record's existing
		// artifacts, so the authoritative URL set is the storage listing
		// rather than this run's uploads.
		listed, err := pipeline.objects.List(ctx, pipeline.objects.CodePrefix(record.Code))
		if err != nil {
			return fmt.Errorf("%w: failed to list uploaded objects: %s", ErrUploadFailed, err.Error())
		}

		sort.Strings(listed)
		urls = make([]string, 0, len(listed))
		for _, key := range listed {
			urls = append(urls, pipeline.objects.PublicURL(key))
		}
	}

	// Finalize even when some uploads failed - partial success is
	// recorded, not discarded. ReplaceMedia lowers the processing flag
	// and recomputes the downloaded flag in the same write.
	if err := pipeline.writeWithRetry(func() error {
		return pipeline.records.ReplaceMedia(ctx, record.ID, urls)
	}); err != nil {
		return err
	}
	finalized = true

	if failedUploads > 0 {
		return fmt.Errorf("%w: %d of %d files failed to upload", ErrUploadFailed, failedUploads, len(candidates))
	}

	log.Emit(logger.SUCCESS, "Acquisition run for %s complete: %d media url(s)\n", record.Code, len(urls))
	return nil
}

func (pipeline *Pipeline) discoverCandidates(scratchDir string, skipSizeFilter bool) ([]string, error) {
	files, err := scan.ListFiles(scratchDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDownloadFailed, err.Error())
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: downloader produced no files", ErrDownloadFailed)
	}

	if skipSizeFilter {
		// Compression targets were explicitly chosen by the operator;
		// the incidental-file filter does not apply.
		return files, nil
	}

	candidates := scan.FilterBySize(files, pipeline.config.MinFileSizeBytes())
	log.Emit(logger.INFO, "Discovered %d file(s), %d at or above the %dMB threshold\n", len(files), len(candidates), pipeline.config.MinFileSizeMB)
	return candidates, nil
}

// transcodeCandidates normalizes each candidate sequentially, replacing it
// with the transcoded output. A file that fails to transcode is skipped
// rather than aborting the run, preserving the partial progress of the
// remaining files.
func (pipeline *Pipeline) transcodeCandidates(ctx context.Context, candidates []string) []string {
	transcoded := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		extension := filepath.Ext(candidate)
		outputPath := strings.TrimSuffix(candidate, extension) + ".compressed.mp4"

		if err := pipeline.transcoder.Transcode(ctx, candidate, outputPath); err != nil {
			log.Emit(logger.ERROR, "Transcode of %s failed, skipping file: %s\n", candidate, err.Error())
			continue
		}

		transcoded = append(transcoded, outputPath)
	}

	return transcoded
}

// uploadCandidates uploads each candidate concurrently under its
// deterministic key. The returned URL list preserves index correspondence
// with the candidates (1->first, 2->second...) even when uploads complete
// out of order, since the list is consumed positionally downstream.
func (pipeline *Pipeline) uploadCandidates(ctx context.Context, code string, candidates []string) ([]string, int) {
	results := make([]string, len(candidates))

	wg := errgroup.Group{}
	for index, candidate := range candidates {
		index, candidate := index, candidate
		wg.Go(func() error {
			metadata := pipeline.prober.Probe(candidate).AsObjectMetadata()
			key := pipeline.objects.ObjectKey(code, index+1, filepath.Ext(candidate))

			url, err := pipeline.objects.Upload(ctx, candidate, key, metadata)
			if err != nil {
				// Sibling uploads target distinct keys and proceed
				// independently; this one's failure is recorded by its
				// empty slot in the results.
				log.Emit(logger.ERROR, "Upload of %s failed: %s\n", candidate, err.Error())
				return nil
			}

			results[index] = url
			return nil
		})
	}
	_ = wg.Wait()

	urls := make([]string, 0, len(results))
	for _, url := range results {
		if url != "" {
			urls = append(urls, url)
		}
	}

	return urls, len(candidates) - len(urls)
}

func (pipeline *Pipeline) writeWithRetry(write func() error) error {
	err := write()
	if err == nil {
		return nil
	}

	// A failed record write is the most severe failure mode: it can leave
	// the processing flag raised with no visible result. Back off and try
	// once more before surfacing as fatal.
	log.Emit(logger.WARNING, "Record write failed, retrying in %s: %s\n", pipeline.config.recordWriteRetryDelay(), err.Error())
	time.Sleep(pipeline.config.recordWriteRetryDelay())

	if err := write(); err != nil {
		return fmt.Errorf("%w: %s", ErrRecordWrite, err.Error())
	}

	return nil
}
