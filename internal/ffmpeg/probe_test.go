package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Probe_IsBestEffort(t *testing.T) {
	t.Parallel()
	config := &Config{}

	info := config.Probe("/this/path/does/not/exist.mkv")
	assert.Nil(t, info)
	assert.Nil(t, info.AsObjectMetadata())
	assert.Equal(t, "{media info unknown}", info.String())
}

func Test_AsObjectMetadata_FlattensToStrings(t *testing.T) {
	t.Parallel()
	info := &MediaInfo{
		Codec:     "h264",
		Width:     856,
		Height:    480,
		FrameRate: 29.97,
		Duration:  7200.5,
		BitRate:   "1200000",
	}

	metadata := info.AsObjectMetadata()
	assert.Equal(t, "h264", metadata["codec"])
	assert.Equal(t, "856", metadata["width"])
	assert.Equal(t, "480", metadata["height"])
	assert.Equal(t, "29.97", metadata["framerate"])
	assert.Equal(t, "7200.5", metadata["duration"])
	assert.Equal(t, "1200000", metadata["bitrate"])
}

func Test_ParseFrameRateFraction(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 29.97, parseFrameRateFraction("30000/1001"), 0.001)
	assert.Equal(t, float64(30), parseFrameRateFraction("30/1"))
	assert.Equal(t, float64(25), parseFrameRateFraction("25"))
	assert.Equal(t, float64(0), parseFrameRateFraction("garbage/0"))
	assert.Equal(t, float64(0), parseFrameRateFraction("a/b"))
}
