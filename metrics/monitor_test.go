package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/bgremover/errs"
)

type fakeProcess struct {
	cpu    float64
	rss    uint64
	calls  int
	cpuErr error
	memErr error
}

func (f *fakeProcess) PercentWithContext(context.Context, time.Duration) (float64, error) {
	f.calls++
	if f.calls == 1 {
		return 0, nil
	}
	return f.cpu, f.cpuErr
}

func (f *fakeProcess) MemoryInfoWithContext(context.Context) (*process.MemoryInfoStat, error) {
	if f.memErr != nil {
		return nil, f.memErr
	}
	return &process.MemoryInfoStat{RSS: f.rss}, nil
}

func fakeMonitor(p *fakeProcess, openErr error) *Monitor {
	return NewMonitor(WithProcessOpener(func(context.Context, int32) (Process, error) {
		if openErr != nil {
			return nil, openErr
		}
		return p, nil
	}))
}

func TestSession_MeasureRealProcess(t *testing.T) {
	const delay = 120 * time.Millisecond

	s, err := NewMonitor().Begin(context.Background())
	require.NoError(t, err)

	time.Sleep(delay)
	snap, err := s.Measure(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, snap.ProcessingTime, delay)
	assert.Less(t, snap.ProcessingTime, delay+500*time.Millisecond)
	assert.GreaterOrEqual(t, snap.PeakCPUPercent, float64(0))
	assert.Greater(t, snap.PeakRAMMB, float64(0))
}

func TestSession_MeasureWithoutBegin(t *testing.T) {
	var s *Session
	_, err := s.Measure(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = (&Session{}).Measure(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestMonitor_SingleUse(t *testing.T) {
	m := fakeMonitor(&fakeProcess{}, nil)
	_, err := m.Begin(context.Background())
	require.NoError(t, err)

	_, err = m.Begin(context.Background())
	assert.ErrorIs(t, err, ErrMonitorInUse)
}

func TestSession_Measure(t *testing.T) {
	p := &fakeProcess{cpu: 87.5, rss: 256 * 1024 * 1024}
	s, err := fakeMonitor(p, nil).Begin(context.Background())
	require.NoError(t, err)

	snap, err := s.Measure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 87.5, snap.PeakCPUPercent)
	assert.InDelta(t, 256.0, snap.PeakRAMMB, 1e-9)
	assert.Equal(t, 2, p.calls, "priming read plus one measurement")
}

func TestSession_MeasureUnavailable(t *testing.T) {
	gone := errors.New("process gone")

	tests := []struct {
		name    string
		proc    *fakeProcess
		openErr error
		metric  string
	}{
		{name: "cpu", proc: &fakeProcess{cpuErr: gone}, metric: "cpu"},
		{name: "ram", proc: &fakeProcess{memErr: gone}, metric: "ram"},
		{name: "open", openErr: gone, metric: "process"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, beginErr := fakeMonitor(tt.proc, tt.openErr).Begin(context.Background())
			require.NotNil(t, s)
			if tt.openErr != nil {
				require.Error(t, beginErr)
			}

			time.Sleep(5 * time.Millisecond)
			snap, err := s.Measure(context.Background())

			var unavailableErr *MetricsUnavailableError
			require.ErrorAs(t, err, &unavailableErr)
			assert.Equal(t, tt.metric, unavailableErr.Metric)
			assert.True(t, errs.IsKind(err, errs.KindMetricsUnavailable))
			assert.Greater(t, snap.ProcessingTime, time.Duration(0), "elapsed time survives metric failures")
		})
	}
}

func TestTrack(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		snap, err := Track(context.Background(), func(context.Context) error {
			time.Sleep(30 * time.Millisecond)
			return nil
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, snap.ProcessingTime, 30*time.Millisecond)
	})

	t.Run("failing work is still measured", func(t *testing.T) {
		boom := errors.New("boom")
		snap, err := Track(context.Background(), func(context.Context) error {
			time.Sleep(20 * time.Millisecond)
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.GreaterOrEqual(t, snap.ProcessingTime, 20*time.Millisecond)
	})

	t.Run("work error wins over metrics error", func(t *testing.T) {
		boom := errors.New("boom")
		m := fakeMonitor(&fakeProcess{memErr: errors.New("gone")}, nil)
		_, err := m.Track(context.Background(), func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	})
}
