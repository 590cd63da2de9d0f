package metrics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/chaos-io/bgremover/errs"
)

var (
	// ErrNotStarted is returned when Measure is called on a session that was
	// never begun.
	ErrNotStarted = errors.New("monitor session not started")
	// ErrMonitorInUse is returned by a second Begin on the same Monitor.
	ErrMonitorInUse = errors.New("monitor already used")
)

// Snapshot is a point-in-time estimate, not a tracked maximum: CPU is the
// average since Begin and RAM is the resident set at Measure time.
type Snapshot struct {
	ProcessingTime time.Duration
	PeakCPUPercent float64
	PeakRAMMB      float64
}

// Seconds returns ProcessingTime as float seconds.
func (s Snapshot) Seconds() float64 {
	return s.ProcessingTime.Seconds()
}

// MetricsUnavailableError wraps a failed process query. Callers report a
// placeholder instead of failing the request.
type MetricsUnavailableError struct {
	Metric string
	Cause  error
}

func (e *MetricsUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Metric, e.Cause)
}

func (e *MetricsUnavailableError) Unwrap() error {
	return e.Cause
}

func unavailable(metric string, err error) error {
	return errs.Wrap(errs.KindMetricsUnavailable, "metrics.Measure", "process introspection failed",
		&MetricsUnavailableError{Metric: metric, Cause: err})
}

// Process is the slice of *process.Process the monitor reads.
type Process interface {
	PercentWithContext(ctx context.Context, interval time.Duration) (float64, error)
	MemoryInfoWithContext(ctx context.Context) (*process.MemoryInfoStat, error)
}

// Monitor hands out exactly one Session. The CPU percent counter is interval
// based, so sharing it between overlapping measurements is meaningless.
type Monitor struct {
	mu   sync.Mutex
	used bool

	pid  int32
	open ProcessOpener
	now  func() time.Time
}

// ProcessOpener resolves the process a Monitor samples.
type ProcessOpener func(ctx context.Context, pid int32) (Process, error)

type MonitorOption func(*Monitor)

// WithProcessOpener replaces the gopsutil lookup of the current process.
func WithProcessOpener(open ProcessOpener) MonitorOption {
	return func(m *Monitor) {
		if open != nil {
			m.open = open
		}
	}
}

func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		pid: int32(os.Getpid()),
		open: func(ctx context.Context, pid int32) (Process, error) {
			return process.NewProcessWithContext(ctx, pid)
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session is one measured scope.
type Session struct {
	start time.Time
	proc  Process
	now   func() time.Time
}

// Begin records the start time and primes the CPU counter. The first
// percent read of an interval counter is meaningless and is discarded.
func (m *Monitor) Begin(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.used {
		return nil, ErrMonitorInUse
	}
	m.used = true

	s := &Session{start: m.now(), now: m.now}
	proc, err := m.open(ctx, m.pid)
	if err != nil {
		// the session still times the scope
		return s, unavailable("process", err)
	}
	if _, err := proc.PercentWithContext(ctx, 0); err != nil {
		return s, unavailable("cpu", err)
	}
	s.proc = proc
	return s, nil
}

// Measure reads elapsed wall time, CPU percent since Begin and current RSS.
// On a metrics failure the returned snapshot still carries the elapsed time.
func (s *Session) Measure(ctx context.Context) (Snapshot, error) {
	if s == nil || s.now == nil {
		return Snapshot{}, ErrNotStarted
	}

	snap := Snapshot{ProcessingTime: s.now().Sub(s.start)}
	if s.proc == nil {
		return snap, unavailable("process", errors.New("no process handle"))
	}

	cpu, err := s.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return snap, unavailable("cpu", err)
	}
	mem, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return snap, unavailable("ram", err)
	}

	snap.PeakCPUPercent = cpu
	snap.PeakRAMMB = float64(mem.RSS) / (1024 * 1024)
	return snap, nil
}

// Track runs fn inside a fresh session and always measures, including when
// fn fails. fn's error takes precedence over a metrics error.
func Track(ctx context.Context, fn func(ctx context.Context) error) (Snapshot, error) {
	return NewMonitor().Track(ctx, fn)
}

func (m *Monitor) Track(ctx context.Context, fn func(ctx context.Context) error) (Snapshot, error) {
	s, beginErr := m.Begin(ctx)
	if s == nil {
		return Snapshot{}, beginErr
	}

	fnErr := fn(ctx)
	snap, err := s.Measure(ctx)
	if fnErr != nil {
		return snap, fnErr
	}
	if beginErr != nil {
		return snap, beginErr
	}
	return snap, err
}
