package ffmpeg

import (
	"fmt"
	"image"
)

// RGBFromRaw copies one packed rgb24 frame into a new RGBA image.
func RGBFromRaw(buf []byte, width, height int) (*image.RGBA, error) {
	if want := width * height * 3; len(buf) < want {
		return nil, fmt.Errorf("short frame buffer: have %d bytes, want %d", len(buf), want)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	pix := img.Pix
	for src, dst := 0, 0; dst < len(pix); src, dst = src+3, dst+4 {
		pix[dst] = buf[src]
		pix[dst+1] = buf[src+1]
		pix[dst+2] = buf[src+2]
		pix[dst+3] = 0xff
	}
	return img, nil
}
