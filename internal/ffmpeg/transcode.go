package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"

	"github.com/floostack/transcoder/ffmpeg"
	"github.com/power-plant/powerplant/pkg/logger"
)

// The normalization profile applied to every transcoded file: a single
// codec at a fixed resolution, bitrate and frame rate so storage cost and
// playback behaviour are predictable.
var (
	targetResolution   = "856x480"
	targetVideoBitRate = "1200k"
	targetFrameRate    = 30
	targetVideoCodec   = "libx264"
	overwriteOutput    = true
)

type Config struct {
	FfmpegBinPath  string `yaml:"ffmpeg_binary" env:"FFMPEG_BIN_PATH"`
	FfprobeBinPath string `yaml:"ffprobe_binary" env:"FFPROBE_BIN_PATH"`
}

type Transcoder struct {
	config *Config
}

func NewTranscoder(config *Config) *Transcoder {
	return &Transcoder{config: config}
}

// Transcode runs ffmpeg over the input file, producing the fixed-profile
// output. It blocks until the transcode completes, fails, or the context
// is cancelled. Progress updates from ffmpeg are forwarded to the logger.
func (t *Transcoder) Transcode(ctx context.Context, inputPath string, outputPath string) error {
	transcoderInstance := ffmpeg.
		New(&ffmpeg.Config{
			ProgressEnabled: true,
			FfmpegBinPath:   t.config.FfmpegBinPath,
			FfprobeBinPath:  t.config.FfprobeBinPath,
		}).
		Input(inputPath).
		Output(outputPath).
		WithContext(&ctx)

	progressChannel, err := transcoderInstance.Start(ffmpeg.Options{
		Resolution:   &targetResolution,
		VideoBitRate: &targetVideoBitRate,
		FrameRate:    &targetFrameRate,
		VideoCodec:   &targetVideoCodec,
		Overwrite:    &overwriteOutput,
	})
	if err != nil {
		return parseFfmpegError(err)
	}

	for {
		prog, ok := <-progressChannel
		if !ok {
			log.Emit(logger.SUCCESS, "Transcode of %s complete\n", inputPath)
			return nil
		}

		log.Emit(logger.DEBUG, "Transcoding %s: %.2f%% (%s)\n", inputPath, prog.GetProgress(), prog.GetSpeed())
	}
}

func parseFfmpegError(err error) error {
	// Try and pick out some relevant information from the HUGE
	// output log from ffmpeg. The error we get contains lots of information
	// about how the binary was compiled... this is useless info, we just
	// want the 'message' JSON that is encoded inside.
	messageMatcher := regexp.MustCompile(`(?s)message: ({.*})`)
	groups := messageMatcher.FindStringSubmatch(err.Error())
	if len(groups) == 0 {
		return err
	}

	// ffmpeg error is returned as a JSON encoded string. Unmarshal so we can extract the
	// error string..
	var out map[string]interface{}
	jsonErr := json.Unmarshal([]byte(groups[1]), &out)
	if jsonErr != nil {
		// We failed to extract the info.. just use the entire string as our error
		return errors.New(groups[1])
	}

	if exception, ok := out["error"].(map[string]interface{}); ok {
		if str, ok := exception["string"].(string); ok {
			return errors.New(str)
		}
	}

	return err
}
