package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/nfnt/resize"

	"github.com/chaos-io/bgremover/errs"
	"github.com/chaos-io/bgremover/finalize"
	"github.com/chaos-io/bgremover/metrics"
	"github.com/chaos-io/bgremover/rembg"
)

// NoImageMessage is shown instead of running the pipeline on empty input.
const NoImageMessage = "Please upload an image."

const defaultPreviewSize = 1024

type Request struct {
	ID     string
	Image  image.Image
	Format string
	// Progress may be nil.
	Progress rembg.Notifier
}

type Result struct {
	Preview  image.Image
	Artifact *finalize.Artifact
	Metrics  metrics.Snapshot
	// MetricsErr is set when process metrics could not be read; Metrics then
	// only carries the processing time.
	MetricsErr error
	Flops      string
	Report     string
}

type Pipeline struct {
	remover     rembg.Remover
	finalizer   *finalize.Finalizer
	previewSize uint
	newMonitor  func() *metrics.Monitor
}

type Option func(*Pipeline)

// WithPreviewSize bounds the longest side of the preview image.
func WithPreviewSize(size uint) Option {
	return func(p *Pipeline) {
		if size > 0 {
			p.previewSize = size
		}
	}
}

// WithMonitor supplies the per-request resource monitor. A Monitor is single
// use, so newMonitor is called once per Run.
func WithMonitor(newMonitor func() *metrics.Monitor) Option {
	return func(p *Pipeline) {
		if newMonitor != nil {
			p.newMonitor = newMonitor
		}
	}
}

func New(remover rembg.Remover, finalizer *finalize.Finalizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		remover:     remover,
		finalizer:   finalizer,
		previewSize: defaultPreviewSize,
		newMonitor:  func() *metrics.Monitor { return metrics.NewMonitor() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run removes the background, writes the artifact and reports metrics. It is
// synchronous; the segmentation call cannot be interrupted once started.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Image == nil {
		return nil, errs.New(errs.KindInput, "pipeline.Run", NoImageMessage)
	}
	// reject before spending time on inference
	if _, err := finalize.ParseFormat(req.Format); err != nil {
		return nil, err
	}

	log := slog.With("request_id", req.ID, "format", req.Format)
	progress := newProgress(req.Progress, log)

	var (
		cutout   image.Image
		artifact *finalize.Artifact
	)
	snap, err := p.newMonitor().Track(ctx, func(ctx context.Context) error {
		progress.Notify(0.1, "Initializing Resource Monitor...")

		var err error
		cutout, err = p.remover.Remove(ctx, req.Image, progress)
		if err != nil {
			return err
		}

		progress.Notify(0.9, fmt.Sprintf("Converting to %s...", strings.ToUpper(strings.TrimSpace(req.Format))))
		artifact, err = p.finalizer.Finalize(ctx, cutout, req.Format)
		return err
	})

	var metricsErr error
	switch {
	case err == nil:
	case errs.IsKind(err, errs.KindMetricsUnavailable) && artifact != nil:
		log.Warn("metrics unavailable", "error", err)
		metricsErr = err
	default:
		log.Error("pipeline failed", "error", err, "elapsed", snap.ProcessingTime)
		return nil, err
	}

	b := req.Image.Bounds()
	flops := rembg.EstimateFlops(uint(b.Dx()), uint(b.Dy()))
	progress.Notify(1, "Done")

	log.Info("background removed",
		"path", artifact.Path,
		"fallback", artifact.Fallback,
		"elapsed", snap.ProcessingTime,
		"cpu_percent", snap.PeakCPUPercent,
		"ram_mb", snap.PeakRAMMB,
	)

	return &Result{
		Preview:    p.preview(cutout),
		Artifact:   artifact,
		Metrics:    snap,
		MetricsErr: metricsErr,
		Flops:      flops,
		Report:     Report(snap, metricsErr, flops),
	}, nil
}

// preview shrinks img so its longest side fits previewSize.
func (p *Pipeline) preview(img image.Image) image.Image {
	b := img.Bounds()
	if uint(max(b.Dx(), b.Dy())) <= p.previewSize {
		return img
	}
	return resize.Thumbnail(p.previewSize, p.previewSize, img, resize.Lanczos3)
}

// Report renders the markdown block shown next to the result. CPU and RAM
// are single samples taken after the work, not tracked maxima.
func Report(snap metrics.Snapshot, metricsErr error, flops string) string {
	cpu, ram := "unavailable", "unavailable"
	if metricsErr == nil {
		cpu = fmt.Sprintf("%.1f%%", snap.PeakCPUPercent)
		ram = fmt.Sprintf("%.2f MB", snap.PeakRAMMB)
	}
	return fmt.Sprintf("### Performance Metrics\n"+
		"- **Processing Time:** %.2f seconds\n"+
		"- **Approx. Calculations:** %s\n"+
		"- **Peak CPU Usage:** %s\n"+
		"- **Peak RAM Usage:** %s",
		snap.Seconds(), flops, cpu, ram)
}
