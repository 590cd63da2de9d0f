package pipeline

import (
	"log/slog"
	"sync"

	"github.com/chaos-io/bgremover/rembg"
)

// Stage is one reported milestone.
type Stage struct {
	Fraction float64 `json:"fraction"`
	Label    string  `json:"label"`
}

// progress forwards milestones to the caller's notifier, drops any that
// would move backwards and logs the rest.
type progress struct {
	mu   sync.Mutex
	last float64
	next rembg.Notifier
	log  *slog.Logger
}

func newProgress(next rembg.Notifier, log *slog.Logger) *progress {
	if next == nil {
		next = rembg.Nop
	}
	return &progress{last: -1, next: next, log: log}
}

func (p *progress) Notify(fraction float64, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fraction < p.last {
		return
	}
	fraction = min(max(fraction, 0), 1)
	p.last = fraction
	p.log.Debug("progress", "fraction", fraction, "stage", label)
	p.next.Notify(fraction, label)
}

// Recorder collects stages so they can be returned with the response.
type Recorder struct {
	mu     sync.Mutex
	stages []Stage
}

func (r *Recorder) Notify(fraction float64, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, Stage{Fraction: fraction, Label: label})
}

func (r *Recorder) Stages() []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Stage(nil), r.stages...)
}
