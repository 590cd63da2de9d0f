package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/bgremover/errs"
	"github.com/chaos-io/bgremover/finalize"
	"github.com/chaos-io/bgremover/metrics"
	"github.com/chaos-io/bgremover/rembg"
)

// maskLeftHalf pretends to be a segmentation model.
type maskLeftHalf struct {
	calls int
	err   error
}

func (m *maskLeftHalf) Remove(ctx context.Context, img image.Image, n rembg.Notifier) (image.Image, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	n.Notify(0.3, "Preprocessing image...")
	n.Notify(0.5, "Running inference...")
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if x < b.Dx()/2 {
				c.A = 0
			}
			out.SetNRGBA(x, y, c)
		}
	}
	n.Notify(0.8, "Post-processing mask...")
	return out, nil
}

func photo(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	return img
}

func TestPipeline_Run(t *testing.T) {
	remover := &maskLeftHalf{}
	p := New(remover, finalize.NewFinalizer(t.TempDir()))

	rec := &Recorder{}
	res, err := p.Run(context.Background(), Request{ID: "req-1", Image: photo(40, 20), Format: "jpg", Progress: rec})
	require.NoError(t, err)

	assert.Equal(t, 1, remover.calls)
	assert.FileExists(t, res.Artifact.Path)
	assert.Equal(t, finalize.FormatJPEG, res.Artifact.Format)
	assert.NoError(t, res.MetricsErr)
	assert.Equal(t, "45.00 GFLOPs (Theoretical)", res.Flops)
	assert.Equal(t, image.Rect(0, 0, 40, 20), res.Preview.Bounds())

	assert.Contains(t, res.Report, "### Performance Metrics")
	assert.Contains(t, res.Report, "- **Approx. Calculations:** 45.00 GFLOPs (Theoretical)")
	assert.Contains(t, res.Report, "- **Peak RAM Usage:**")

	stages := rec.Stages()
	require.NotEmpty(t, stages)
	assert.Equal(t, Stage{Fraction: 0.1, Label: "Initializing Resource Monitor..."}, stages[0])
	assert.Equal(t, Stage{Fraction: 0.9, Label: "Converting to JPG..."}, stages[len(stages)-2])
	assert.Equal(t, 1.0, stages[len(stages)-1].Fraction)
	fractions := make([]float64, 0, len(stages))
	for _, s := range stages {
		fractions = append(fractions, s.Fraction)
	}
	assert.IsNonDecreasing(t, fractions)
}

func TestPipeline_RunNoImage(t *testing.T) {
	remover := &maskLeftHalf{}
	_, err := New(remover, finalize.NewFinalizer(t.TempDir())).Run(context.Background(), Request{Format: "png"})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInput))
	assert.Contains(t, err.Error(), NoImageMessage)
	assert.Zero(t, remover.calls)
}

func TestPipeline_RunUnsupportedFormat(t *testing.T) {
	remover := &maskLeftHalf{}
	_, err := New(remover, finalize.NewFinalizer(t.TempDir())).Run(context.Background(), Request{Image: photo(4, 4), Format: "gif"})

	var unsupported *finalize.UnsupportedFormatError
	require.ErrorAs(t, err, &unsupported)
	assert.Zero(t, remover.calls, "inference must not run for a bad format")
}

func TestPipeline_RunModelError(t *testing.T) {
	boom := errs.Wrap(errs.KindModelInvocation, "test", "model down", errors.New("connection refused"))
	_, err := New(&maskLeftHalf{err: boom}, finalize.NewFinalizer(t.TempDir())).Run(context.Background(), Request{Image: photo(4, 4), Format: "png"})
	assert.ErrorIs(t, err, boom)
	assert.True(t, errs.IsKind(err, errs.KindModelInvocation))
}

func TestPipeline_RunMetricsUnavailable(t *testing.T) {
	gone := errors.New("process table unreadable")
	opened := 0
	p := New(&maskLeftHalf{}, finalize.NewFinalizer(t.TempDir()), WithMonitor(func() *metrics.Monitor {
		return metrics.NewMonitor(metrics.WithProcessOpener(func(context.Context, int32) (metrics.Process, error) {
			opened++
			return nil, gone
		}))
	}))

	for range 2 {
		res, err := p.Run(context.Background(), Request{ID: "req-2", Image: photo(8, 8), Format: "webp"})
		require.NoError(t, err)

		assert.FileExists(t, res.Artifact.Path)
		assert.Equal(t, finalize.FormatWEBP, res.Artifact.Format)
		require.Error(t, res.MetricsErr)
		assert.ErrorIs(t, res.MetricsErr, gone)
		assert.True(t, errs.IsKind(res.MetricsErr, errs.KindMetricsUnavailable))

		assert.Zero(t, res.Metrics.PeakCPUPercent)
		assert.Contains(t, res.Report, "- **Processing Time:**")
		assert.Contains(t, res.Report, "- **Approx. Calculations:** 45.00 GFLOPs (Theoretical)")
		assert.Contains(t, res.Report, "- **Peak CPU Usage:** unavailable")
		assert.Contains(t, res.Report, "- **Peak RAM Usage:** unavailable")
	}
	assert.Equal(t, 2, opened, "each run gets a fresh monitor")
}

func TestPipeline_RunMetricsDoNotMaskModelError(t *testing.T) {
	boom := errs.Wrap(errs.KindModelInvocation, "test", "model down", errors.New("connection refused"))
	p := New(&maskLeftHalf{err: boom}, finalize.NewFinalizer(t.TempDir()), WithMonitor(func() *metrics.Monitor {
		return metrics.NewMonitor(metrics.WithProcessOpener(func(context.Context, int32) (metrics.Process, error) {
			return nil, errors.New("gone")
		}))
	}))

	res, err := p.Run(context.Background(), Request{Image: photo(4, 4), Format: "png"})
	assert.Nil(t, res)
	assert.True(t, errs.IsKind(err, errs.KindModelInvocation))
}

func TestPipeline_PreviewIsBounded(t *testing.T) {
	p := New(rembg.NewPassthrough(), finalize.NewFinalizer(t.TempDir()), WithPreviewSize(16))
	res, err := p.Run(context.Background(), Request{Image: photo(64, 32), Format: "png"})
	require.NoError(t, err)

	b := res.Preview.Bounds()
	assert.LessOrEqual(t, b.Dx(), 16)
	assert.LessOrEqual(t, b.Dy(), 16)
	assert.FileExists(t, res.Artifact.Path)
}

func TestReport(t *testing.T) {
	snap := metrics.Snapshot{ProcessingTime: 1530 * time.Millisecond, PeakCPUPercent: 97.26, PeakRAMMB: 512.5}

	assert.Equal(t, "### Performance Metrics\n"+
		"- **Processing Time:** 1.53 seconds\n"+
		"- **Approx. Calculations:** 45.50 GFLOPs (Theoretical)\n"+
		"- **Peak CPU Usage:** 97.3%\n"+
		"- **Peak RAM Usage:** 512.50 MB",
		Report(snap, nil, "45.50 GFLOPs (Theoretical)"))

	degraded := Report(metrics.Snapshot{ProcessingTime: time.Second}, errors.New("gone"), "45.00 GFLOPs (Theoretical)")
	assert.Contains(t, degraded, "- **Processing Time:** 1.00 seconds")
	assert.Contains(t, degraded, "- **Peak CPU Usage:** unavailable")
	assert.Contains(t, degraded, "- **Peak RAM Usage:** unavailable")
}
