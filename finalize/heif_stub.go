//go:build noheif

package finalize

import (
	"errors"
	"image"
	"io"
)

// Without libheif, ParseFormat rejects HEIC and HEIF before any work is done.
const (
	heifEnabled        = false
	defaultHEIFQuality = 50
)

var errHEIFUnavailable = errors.New("heif encoder not built in, rebuild without -tags noheif")

func encodeHEIF(_ io.Writer, _ image.Image, _ int) error {
	return errHEIFUnavailable
}
