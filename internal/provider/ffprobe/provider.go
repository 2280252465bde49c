package ffprobe

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/vansante/go-ffprobe.v2"
)

// probeFunc defines the function signature used to execute ffprobe.
type probeFunc func(ctx context.Context, path string, extraOpts ...string) (*ffprobe.ProbeData, error)

// MediaInfo is the technical metadata the planner and the conversion queue
// need from a file. Content beyond container metadata is never read.
type MediaInfo struct {
	Duration   time.Duration
	Size       int64
	BitRate    int64
	FormatName string
	VideoCodec string
	AudioCodec string
	Width      int
	Height     int
}

// Prober runs ffprobe against local files.
type Prober struct {
	probe   probeFunc
	timeout time.Duration
}

// New creates a prober using the ffprobe binary on PATH.
func New() *Prober {
	return &Prober{
		probe:   ffprobe.ProbeURL,
		timeout: 30 * time.Second,
	}
}

// Probe returns technical metadata for path.
func (p *Prober) Probe(ctx context.Context, path string) (MediaInfo, error) {
	if path == "" {
		return MediaInfo{}, fmt.Errorf("ffprobe requires a non-empty file path")
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	data, err := p.probe(ctx, path)
	if err != nil {
		return MediaInfo{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return buildInfo(data), nil
}

func buildInfo(data *ffprobe.ProbeData) MediaInfo {
	var info MediaInfo
	if data == nil {
		return info
	}

	if data.Format != nil {
		info.Duration = data.Format.Duration()
		info.FormatName = data.Format.FormatName
		info.Size, _ = strconv.ParseInt(data.Format.Size, 10, 64)
		info.BitRate, _ = strconv.ParseInt(data.Format.BitRate, 10, 64)
	}

	if videoStream := data.FirstVideoStream(); videoStream != nil {
		info.VideoCodec = pickCodecName(videoStream)
		info.Width = videoStream.Width
		info.Height = videoStream.Height
		// Prefer the stream bitrate; container bitrate includes audio
		if br, err := strconv.ParseInt(videoStream.BitRate, 10, 64); err == nil && br > 0 {
			info.BitRate = br
		}
	}

	if audioStream := data.FirstAudioStream(); audioStream != nil {
		info.AudioCodec = pickCodecName(audioStream)
	}

	return info
}

// IsMP4 reports whether the container is MP4. ffprobe reports the mov family
// as a comma separated list such as "mov,mp4,m4a,3gp,3g2,mj2".
func (m MediaInfo) IsMP4() bool {
	for _, name := range strings.Split(m.FormatName, ",") {
		if strings.TrimSpace(name) == "mp4" {
			return true
		}
	}
	return false
}

// IsConversionTarget reports whether the file already is MP4 with H.264 video
// and AAC audio.
func (m MediaInfo) IsConversionTarget() bool {
	return m.IsMP4() && strings.EqualFold(m.VideoCodec, "h264") && strings.EqualFold(m.AudioCodec, "aac")
}

func pickCodecName(stream *ffprobe.Stream) string {
	if stream == nil {
		return ""
	}
	if stream.CodecName != "" {
		return stream.CodecName
	}
	return stream.CodecLongName
}
