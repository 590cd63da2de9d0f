package finalize

import (
	"strings"
)

// Format is the normalized name of an output encoding.
type Format string

const (
	FormatPNG  Format = "PNG"
	FormatJPEG Format = "JPEG"
	FormatTIFF Format = "TIFF"
	FormatAVIF Format = "AVIF"
	FormatWEBP Format = "WEBP"
	FormatBMP  Format = "BMP"
	FormatHEIF Format = "HEIF"
)

// SupportedFormats lists the tokens a user may pick, aliases included, in
// the order they are offered. HEIC and HEIF are absent from noheif builds.
var SupportedFormats = supported([]string{"PNG", "JPEG", "JPG", "TIFF", "AVIF", "WEBP", "BMP", "HEIC", "HEIF"})

var formats = map[string]Format{
	"PNG":  FormatPNG,
	"JPEG": FormatJPEG,
	"JPG":  FormatJPEG,
	"TIFF": FormatTIFF,
	"AVIF": FormatAVIF,
	"WEBP": FormatWEBP,
	"BMP":  FormatBMP,
	// the encoder keys off HEIF, the file keeps its .heic name
	"HEIC": FormatHEIF,
	"HEIF": FormatHEIF,
}

// ParseFormat normalizes a user supplied token (case-insensitive, trimmed).
func ParseFormat(token string) (Format, error) {
	f, ok := formats[strings.ToUpper(strings.TrimSpace(token))]
	if !ok || !encodable(f) {
		return "", newUnsupportedFormatError(token)
	}
	return f, nil
}

// encodable is false only for HEIF in a build without libheif.
func encodable(f Format) bool {
	return f != FormatHEIF || heifEnabled
}

func supported(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if encodable(formats[token]) {
			out = append(out, token)
		}
	}
	return out
}

// Opaque reports whether the format cannot store an alpha channel.
func (f Format) Opaque() bool {
	return f == FormatJPEG || f == FormatBMP
}

func (f Format) String() string {
	return string(f)
}

// extension is the lowercase requested token, not the normalized format.
func extension(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}
