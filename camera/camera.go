// Package camera selects the camera backend from the environment and encodes frames for transport.
package camera

import (
	"context"
	"image"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"

	"go.viam.com/rdk/rimage"
	rutils "go.viam.com/rdk/utils"
)

// Backend names a frame source implementation.
type Backend string

const (
	BackendZMQ       Backend = "zmq_camera"
	BackendOpenCVGst Backend = "opencv_gst_camera"
)

// Settings is read from the process environment.
type Settings struct {
	DefaultCamera string `env:"JETBOT_DEFAULT_CAMERA" envDefault:"opencv_gst_camera"`
}

// LoadSettings parses Settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, errors.Wrap(err, "failed to parse camera environment")
	}
	return s, nil
}

// Backend returns the zmq backend only when asked for by name; anything else falls back to gstreamer.
func (s Settings) Backend() Backend {
	if Backend(s.DefaultCamera) == BackendZMQ {
		return BackendZMQ
	}
	return BackendOpenCVGst
}

// DefaultBackend resolves the backend from the current environment.
func DefaultBackend() (Backend, error) {
	s, err := LoadSettings()
	if err != nil {
		return "", err
	}
	return s.Backend(), nil
}

// EncodeJPEG compresses a frame to JPEG bytes.
func EncodeJPEG(ctx context.Context, frame image.Image) ([]byte, error) {
	if frame == nil {
		return nil, errors.New("no frame to encode")
	}
	return rimage.EncodeImage(ctx, frame, rutils.MimeTypeJPEG)
}
