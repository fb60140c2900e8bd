package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/floostack/transcoder/ffmpeg"
	"github.com/power-plant/powerplant/pkg/logger"
)

var log = logger.Get("FFmpeg")

// MediaInfo holds the technical metadata extracted from a media file.
// It is attached to uploaded objects as string metadata and surfaced
// for UI display.
type MediaInfo struct {
	Codec     string
	Width     int
	Height    int
	FrameRate float64
	Duration  float64
	BitRate   string
}

// Probe inspects the file at the given path using ffprobe and returns its
// technical metadata. Probing is strictly best-effort: on ANY failure
// (corrupt file, missing prober binary, unsupported format) the error is
// logged and nil is returned. Callers must treat nil as "unknown" - never
// as a failure of the surrounding operation.
func (config *Config) Probe(path string) *MediaInfo {
	transcoder := ffmpeg.New(&ffmpeg.Config{
		FfmpegBinPath:  config.FfmpegBinPath,
		FfprobeBinPath: config.FfprobeBinPath,
	}).Input(path)

	metadata, err := transcoder.GetMetadata()
	if err != nil {
		log.Emit(logger.WARNING, "Failed to probe %s (metadata will be absent): %s\n", path, err.Error())
		return nil
	}

	streams := metadata.GetStreams()
	if len(streams) == 0 {
		log.Emit(logger.WARNING, "No streams found while probing %s (metadata will be absent)\n", path)
		return nil
	}

	stream := streams[0]
	duration, _ := strconv.ParseFloat(stream.GetDuration(), 64)

	return &MediaInfo{
		Codec:     stream.GetCodecName(),
		Width:     stream.GetWidth(),
		Height:    stream.GetHeight(),
		FrameRate: parseFrameRateFraction(stream.GetAvgFrameRate()),
		Duration:  duration,
		BitRate:   stream.GetBitRate(),
	}
}

// AsObjectMetadata flattens the media info to the string key/value form
// used for object storage metadata.
func (info *MediaInfo) AsObjectMetadata() map[string]string {
	if info == nil {
		return nil
	}

	return map[string]string{
		"codec":     info.Codec,
		"width":     strconv.Itoa(info.Width),
		"height":    strconv.Itoa(info.Height),
		"framerate": strconv.FormatFloat(info.FrameRate, 'f', -1, 64),
		"duration":  strconv.FormatFloat(info.Duration, 'f', -1, 64),
		"bitrate":   info.BitRate,
	}
}

// parseFrameRateFraction converts ffprobe's fractional frame rate
// representation (e.g. "30000/1001") to a float. Zero is returned for
// malformed input.
func parseFrameRateFraction(fraction string) float64 {
	parts := strings.SplitN(fraction, "/", 2)
	if len(parts) != 2 {
		value, _ := strconv.ParseFloat(fraction, 64)
		return value
	}

	numerator, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	denominator, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || denominator == 0 {
		return 0
	}

	return numerator / denominator
}

func (info *MediaInfo) String() string {
	if info == nil {
		return "{media info unknown}"
	}

	return fmt.Sprintf("{%s %dx%d @ %.2ffps, %.1fs}", info.Codec, info.Width, info.Height, info.FrameRate, info.Duration)
}
