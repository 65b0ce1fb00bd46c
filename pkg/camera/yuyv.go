package camera

import (
	"image"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// yuyvToRGBA converts a packed YUYV 4:2:2 frame.
func yuyvToRGBA(frame []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, errors.Errorf("invalid YUYV frame size %dx%d", width, height)
	}
	if len(frame) < width*height*2 {
		return nil, errors.Errorf("short YUYV frame: %d bytes for %dx%d", len(frame), width, height)
	}

	rect := image.Rect(0, 0, width, height)
	ycbcr := image.NewYCbCr(rect, image.YCbCrSubsampleRatio422)
	for y := 0; y < height; y++ {
		src := frame[y*width*2 : (y+1)*width*2]
		yRow := ycbcr.Y[y*ycbcr.YStride:]
		cRow := y * ycbcr.CStride
		for x := 0; x < width/2; x++ {
			yRow[2*x] = src[4*x]
			ycbcr.Cb[cRow+x] = src[4*x+1]
			yRow[2*x+1] = src[4*x+2]
			ycbcr.Cr[cRow+x] = src[4*x+3]
		}
	}

	rgba := image.NewRGBA(rect)
	draw.Draw(rgba, rect, ycbcr, image.Point{}, draw.Src)
	return rgba, nil
}
