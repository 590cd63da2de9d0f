package rembg

import "fmt"

const (
	// BaseModelGFLOPs approximates one u2net pass on its 320x320 input.
	BaseModelGFLOPs = 45.0
	// PerPixelFLOPs covers resizing, matting and compositing at full size.
	PerPixelFLOPs = 500
)

// EstimateFlops is a closed-form guess, not a measurement.
func EstimateFlops(width, height uint) string {
	pixelGFLOPs := float64(width) * float64(height) * PerPixelFLOPs / 1e9
	return fmt.Sprintf("%.2f GFLOPs (Theoretical)", BaseModelGFLOPs+pixelGFLOPs)
}
