package acquire

import (
	"context"
	"time"

	"github.com/power-plant/powerplant/internal/run"
)

// Aria2Downloader fetches torrent/magnet/direct-link references using the
// aria2c binary. Upload is throttled to a trickle and idle swarms are
// abandoned after the stop timeout, since seed availability gives
// torrent-style acquisition an unbounded tail latency.
type Aria2Downloader struct {
	runner  *run.Runner
	timeout time.Duration
}

func NewAria2Downloader(runner *run.Runner, timeout time.Duration) *Aria2Downloader {
	return &Aria2Downloader{runner: runner, timeout: timeout}
}

func (downloader *Aria2Downloader) Download(ctx context.Context, targetURL string, destDir string) error {
	return downloader.runner.Run(ctx, run.Command{
		Program: "aria2c",
		Args: []string{
			"-d", destDir,
			"--seed-time=0",
			"--max-overall-upload-limit=1K",
			"--bt-stop-timeout=300",
			"--lowest-speed-limit=500K",
			targetURL,
		},
		Timeout: downloader.timeout,
	})
}
