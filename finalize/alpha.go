package finalize

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// hasAlpha reports whether any pixel is not fully opaque.
func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

// flattenForFormat composites img over an opaque white canvas when f cannot
// carry alpha. The caller's image is never modified; opaque images and
// alpha-capable formats are returned as is.
func flattenForFormat(img image.Image, f Format) image.Image {
	if !f.Opaque() || !hasAlpha(img) {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
