package rembg

import (
	"context"
	"fmt"
	"image"

	"github.com/chaos-io/bgremover/errs"
)

// Remover cuts the foreground out of img and returns it with an alpha mask.
// Inference is blocking and not interruptible once started.
type Remover interface {
	Remove(ctx context.Context, img image.Image, n Notifier) (image.Image, error)
}

// Notifier receives coarse progress milestones. Fractions are in [0,1] and
// never decrease within one request.
type Notifier interface {
	Notify(fraction float64, label string)
}

type NotifierFunc func(fraction float64, label string)

func (f NotifierFunc) Notify(fraction float64, label string) {
	f(fraction, label)
}

// Nop discards progress.
var Nop Notifier = NotifierFunc(func(float64, string) {})

// Passthrough returns its input unchanged. It stands in for a model in tests
// and when the backend is "none".
type Passthrough struct{}

func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

func (p *Passthrough) Remove(ctx context.Context, img image.Image, n Notifier) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, newModelInvocationError("passthrough", err)
	}
	n.Notify(0.5, "Skipping inference (passthrough)...")
	return img, nil
}

// ModelInvocationError is an opaque failure of the segmentation backend.
type ModelInvocationError struct {
	Model string
	Cause error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Model, e.Cause)
}

func (e *ModelInvocationError) Unwrap() error {
	return e.Cause
}

func newModelInvocationError(model string, err error) error {
	return errs.Wrap(errs.KindModelInvocation, "rembg.Remove", "segmentation failed",
		&ModelInvocationError{Model: model, Cause: err})
}
