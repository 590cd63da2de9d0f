package util

import (
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/disintegration/imaging"
	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DecodeImage 解码图片，按 EXIF 方向自动旋转
func DecodeImage(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// OpenImage 打开本地图片
func OpenImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	return DecodeImage(file)
}

// Trace 记录耗时，用法: defer util.Trace("remove background")()
func Trace(msg string) func() {
	start := time.Now()
	slog.Debug("trace start", "msg", msg)
	return func() {
		slog.Debug("trace end", "msg", msg, "elapsed", time.Since(start))
	}
}
