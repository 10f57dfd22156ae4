package util

import (
	"strconv"
	"strings"
)

// ParseFrameRate parses frame rate from ffprobe format (e.g., "30/1")
func ParseFrameRate(s string) float64 {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

// FormatSeconds renders seconds the way ffmpeg's -ss option accepts them
func FormatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 6, 64)
}

// FrameSeekTime returns the input seek position that makes frame index the first
// frame ffmpeg emits, assuming a constant frame rate.
// Seeking half a frame early keeps rounding from skipping onto index+1.
func FrameSeekTime(index int, fps float64) float64 {
	if index <= 0 || fps <= 0 {
		return 0
	}
	return (float64(index) - 0.5) / fps
}
