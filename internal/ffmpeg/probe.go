package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"time"

	"github.com/keagan/framesampler/pkg/util"
)

// VideoInfo contains metadata about a video file
type VideoInfo struct {
	FilePath   string
	Duration   time.Duration
	Width      int
	Height     int
	FPS        float64
	VideoCodec string

	// Rotation is the display rotation in degrees, normalized to [0, 360).
	// Width and Height are already swapped for 90 and 270 so they describe
	// the frames ffmpeg emits after autorotation.
	Rotation int

	// FrameCount is the length the container reports. It is not guaranteed to
	// match the number of frames that actually decode.
	FrameCount int
	// FrameCountEstimated is set when FrameCount was derived from duration and fps.
	FrameCountEstimated bool
}

// FrameSize is the byte length of one rgb24 frame
func (v *VideoInfo) FrameSize() int {
	return v.Width * v.Height * 3
}

// ProbeVideo extracts metadata from a video file
func (e *Executor) ProbeVideo(ctx context.Context, filePath string) (*VideoInfo, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path is required")
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "v:0",
		filePath,
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	info, err := parseProbeOutput(filePath, output)
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("file", filePath).
		Int("width", info.Width).
		Int("height", info.Height).
		Int("rotation", info.Rotation).
		Float64("fps", info.FPS).
		Int("frames", info.FrameCount).
		Bool("estimated", info.FrameCountEstimated).
		Msg("video probed")

	return info, nil
}

func parseProbeOutput(filePath string, output []byte) (*VideoInfo, error) {
	var probe probeResult
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &VideoInfo{
		FilePath: filePath,
	}

	// Parse duration
	if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = time.Duration(dur * float64(time.Second))
	}

	found := false
	for _, stream := range probe.Streams {
		if stream.CodecType != "video" {
			continue
		}
		found = true
		info.Width = stream.Width
		info.Height = stream.Height
		info.VideoCodec = stream.CodecName

		info.Rotation = streamRotation(stream.Tags.Rotate, stream.SideDataList)
		if info.Rotation%180 == 90 {
			info.Width, info.Height = info.Height, info.Width
		}

		// avg_frame_rate is the real cadence for most files, r_frame_rate the fallback
		info.FPS = util.ParseFrameRate(stream.AvgFrameRate)
		if info.FPS == 0 {
			info.FPS = util.ParseFrameRate(stream.RFrameRate)
		}

		if n, err := strconv.Atoi(stream.NbFrames); err == nil && n > 0 {
			info.FrameCount = n
		}
		if dur, err := strconv.ParseFloat(stream.Duration, 64); err == nil && info.Duration == 0 {
			info.Duration = time.Duration(dur * float64(time.Second))
		}
		break
	}

	if !found {
		return nil, fmt.Errorf("no video stream in %s", filePath)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d in %s", info.Width, info.Height, filePath)
	}

	if info.FrameCount == 0 && info.FPS > 0 && info.Duration > 0 {
		info.FrameCount = int(math.Round(info.Duration.Seconds() * info.FPS))
		info.FrameCountEstimated = true
	}

	return info, nil
}

// streamRotation reads the display matrix side data, falling back to the
// rotate tag older muxers write.
func streamRotation(tag string, sideData []probeSideData) int {
	deg := 0
	if r, err := strconv.Atoi(tag); err == nil {
		deg = r
	}
	for _, sd := range sideData {
		if sd.Rotation != nil {
			deg = int(math.Round(*sd.Rotation))
			break
		}
	}
	return ((deg % 360) + 360) % 360
}

type probeSideData struct {
	Rotation *float64 `json:"rotation"`
}

// probeResult matches ffprobe JSON output structure
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
		Tags         struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []probeSideData `json:"side_data_list"`
	} `json:"streams"`
}
