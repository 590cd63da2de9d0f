//go:build !noheif

package finalize

import (
	"fmt"
	"image"
	"io"
	"os"

	"github.com/strukturag/libheif/go/heif"
)

const (
	heifEnabled        = true
	defaultHEIFQuality = 50
)

// encodeHEIF goes through a scratch file because libheif only writes to paths.
func encodeHEIF(w io.Writer, img image.Image, quality int) error {
	ctx, err := heif.EncodeFromImage(img, heif.CompressionHEVC, quality, heif.LosslessModeDisabled, heif.LoggingLevelNone)
	if err != nil {
		return fmt.Errorf("heif encode: %w", err)
	}

	tmp, err := os.CreateTemp("", "heif-*.heic")
	if err != nil {
		return fmt.Errorf("heif scratch file: %w", err)
	}
	name := tmp.Name()
	_ = tmp.Close()
	defer func() {
		_ = os.Remove(name)
	}()

	if err := ctx.WriteToFile(name); err != nil {
		return fmt.Errorf("heif write: %w", err)
	}

	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	_, err = io.Copy(w, f)
	return err
}
