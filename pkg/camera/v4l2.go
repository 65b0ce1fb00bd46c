package camera

import (
	"image"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
)

const (
	// pixFmtYUYV is the V4L2 fourcc 'YUYV'.
	pixFmtYUYV webcam.PixelFormat = 0x56595559
	// frameTimeout is the WaitForFrame timeout in seconds.
	frameTimeout = 1
)

type v4l2Device struct {
	cam    *webcam.Webcam
	width  int
	height int
	buf    []byte
}

// OpenV4L2 opens a V4L2 device and starts streaming YUYV frames.
func OpenV4L2(path string, width, height int) (Device, error) {
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can not open device %s", path)
	}

	format, w, h, err := cam.SetImageFormat(pixFmtYUYV, uint32(width), uint32(height))
	if err != nil {
		_ = cam.Close()
		return nil, errors.Wrap(err, "can not set image format")
	}
	if format != pixFmtYUYV {
		_ = cam.Close()
		return nil, errors.Errorf("device %s does not support YUYV", path)
	}

	if err := cam.StartStreaming(); err != nil {
		_ = cam.Close()
		return nil, errors.Wrap(err, "can not start streaming")
	}

	return &v4l2Device{cam: cam, width: int(w), height: int(h)}, nil
}

func (d *v4l2Device) Read() (*image.RGBA, error) {
	err := d.cam.WaitForFrame(frameTimeout)
	switch err.(type) {
	case nil:
	case *webcam.Timeout:
		return nil, errors.Wrap(ErrNoFrame, "frame wait timed out")
	default:
		return nil, errors.Wrap(err, "frame wait failed")
	}

	frame, err := d.cam.ReadFrame()
	if err != nil {
		return nil, errors.Wrap(err, "read frame failed")
	}
	if len(frame) == 0 {
		return nil, ErrNoFrame
	}

	// The mmap buffer is handed back to the driver by ReadFrame.
	d.buf = append(d.buf[:0], frame...)
	return yuyvToRGBA(d.buf, d.width, d.height)
}

func (d *v4l2Device) Close() error {
	return d.cam.Close()
}
