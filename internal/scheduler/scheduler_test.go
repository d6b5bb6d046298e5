package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/heimdall-asis/heimdall/internal/persistence"
)

func at(month time.Month, day, hour, minute int) time.Time {
	return time.Date(2026, month, day, hour, minute, 30, 0, time.UTC)
}

func TestDueSlots(t *testing.T) {
	s := New(DefaultSlots(), nil)

	cases := []struct {
		name string
		freq persistence.Frequency
		now  time.Time
		want bool
	}{
		{"hourly at :05", persistence.FreqHourly, at(time.August, 24, 14, 5), true},
		{"hourly off minute", persistence.FreqHourly, at(time.August, 24, 14, 6), false},
		{"daily at midnight :05", persistence.FreqDaily, at(time.August, 24, 0, 5), true},
		{"daily at noon", persistence.FreqDaily, at(time.August, 24, 12, 5), false},
		{"monthly on day one", persistence.FreqMonthly, at(time.August, 1, 0, 10), true},
		{"monthly mid-month", persistence.FreqMonthly, at(time.August, 15, 0, 10), false},
		{"quarterly on quarter start", persistence.FreqQuarterly, at(time.July, 1, 0, 15), true},
		{"quarterly on plain month", persistence.FreqQuarterly, at(time.August, 1, 0, 15), false},
		{"quarterly january", persistence.FreqQuarterly, at(time.January, 1, 0, 15), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.Due(tc.freq, tc.now))
		})
	}
}

func TestFireDedupesSameMinute(t *testing.T) {
	var runs atomic.Int32
	s := New(DefaultSlots(), func(ctx context.Context, freq persistence.Frequency) error {
		runs.Add(1)
		return nil
	})

	now := at(time.August, 24, 14, 5)
	s.fire(context.Background(), persistence.FreqHourly, now)
	s.fire(context.Background(), persistence.FreqHourly, now.Add(10*time.Second))
	s.wg.Wait()

	assert.Equal(t, int32(1), runs.Load(), "repeat ticks in the same minute fire once")
}

func TestFireDropsOverlappingRun(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	s := New(DefaultSlots(), func(ctx context.Context, freq persistence.Frequency) error {
		runs.Add(1)
		<-release
		return nil
	})

	s.fire(context.Background(), persistence.FreqHourly, at(time.August, 24, 14, 5))

	// Wait for the job to actually start.
	for runs.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	// The next hour's slot arrives while the job is still in flight.
	s.fire(context.Background(), persistence.FreqHourly, at(time.August, 24, 15, 5))
	close(release)
	s.wg.Wait()

	assert.Equal(t, int32(1), runs.Load(), "overlapping tick is dropped")
}

func TestFrequenciesRunIndependently(t *testing.T) {
	var hourly, daily atomic.Int32
	s := New(DefaultSlots(), func(ctx context.Context, freq persistence.Frequency) error {
		switch freq {
		case persistence.FreqHourly:
			hourly.Add(1)
		case persistence.FreqDaily:
			daily.Add(1)
		}
		return nil
	})

	s.tick(context.Background(), at(time.August, 24, 0, 5))
	s.wg.Wait()

	assert.Equal(t, int32(1), hourly.Load(), "00:05 fires hourly")
	assert.Equal(t, int32(1), daily.Load(), "00:05 fires daily")
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(DefaultSlots(), func(ctx context.Context, freq persistence.Frequency) error {
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
