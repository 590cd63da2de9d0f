package finalize

import (
	"image"
	"image/png"
	"io"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

type encodeFunc func(w io.Writer, img image.Image) error

// codec pairs the tuned encoder of a format with its plain fallback. A nil
// plain means no second encoder exists for the format.
type codec struct {
	preferred encodeFunc
	plain     encodeFunc
}

const (
	// chai2010/webp exposes only Lossless, Quality and Exact; libwebp's
	// method (effort 6) cannot be set and stays at the binding's default.
	webpQuality = 90
	jpegQuality = 95
	heifQuality = 90
)

var codecs = map[Format]codec{
	FormatWEBP: {
		preferred: func(w io.Writer, img image.Image) error {
			return webp.Encode(w, img, &webp.Options{Quality: webpQuality})
		},
		plain: func(w io.Writer, img image.Image) error {
			return webp.Encode(w, img, nil)
		},
	},
	// Go's JPEG encoder always writes optimized Huffman tables.
	FormatJPEG: {
		preferred: func(w io.Writer, img image.Image) error {
			return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
		},
		plain: func(w io.Writer, img image.Image) error {
			return imaging.Encode(w, img, imaging.JPEG)
		},
	},
	FormatPNG: {
		preferred: func(w io.Writer, img image.Image) error {
			return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
		},
		plain: png.Encode,
	},
	FormatHEIF: {
		preferred: func(w io.Writer, img image.Image) error {
			return encodeHEIF(w, img, heifQuality)
		},
		plain: func(w io.Writer, img image.Image) error {
			return encodeHEIF(w, img, defaultHEIFQuality)
		},
	},
	// imaging writes deflate compressed TIFF
	FormatTIFF: {
		preferred: func(w io.Writer, img image.Image) error {
			return imaging.Encode(w, img, imaging.TIFF)
		},
		plain: func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, nil)
		},
	},
	FormatBMP: {
		preferred: bmp.Encode,
		plain: func(w io.Writer, img image.Image) error {
			return imaging.Encode(w, img, imaging.BMP)
		},
	},
	FormatAVIF: {
		preferred: func(w io.Writer, img image.Image) error {
			return avif.Encode(w, img)
		},
	},
}
