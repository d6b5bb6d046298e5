// Package scheduler runs the long-lived cadence loop: each frequency fires
// at its configured wall-clock slot, kicking ingestion followed by a
// cleaning pass.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heimdall-asis/heimdall/internal/persistence"
	"github.com/heimdall-asis/heimdall/internal/telemetry"
)

const pollInterval = 20 * time.Second

// Slots places each cadence's firing minute.
type Slots struct {
	HourlyMinute    int
	DailyMinute     int
	MonthlyMinute   int
	QuarterlyMinute int
}

// DefaultSlots staggers the cadences so calendar boundaries never fire at
// the same minute.
func DefaultSlots() Slots {
	return Slots{HourlyMinute: 5, DailyMinute: 5, MonthlyMinute: 10, QuarterlyMinute: 15}
}

// JobFunc executes one frequency's work end to end.
type JobFunc func(ctx context.Context, freq persistence.Frequency) error

// Scheduler fires jobs on their cadence. Overlapping firings for the same
// frequency are dropped; a global mutex keeps at most one job writing at a
// time.
type Scheduler struct {
	slots Slots
	job   JobFunc
	now   func() time.Time

	runMu sync.Mutex // serializes job execution across frequencies

	mu        sync.Mutex
	running   map[persistence.Frequency]bool
	lastFired map[persistence.Frequency]string
	wg        sync.WaitGroup
}

func New(slots Slots, job JobFunc) *Scheduler {
	return &Scheduler{
		slots:     slots,
		job:       job,
		now:       time.Now,
		running:   make(map[persistence.Frequency]bool),
		lastFired: make(map[persistence.Frequency]string),
	}
}

// Run blocks until ctx is canceled, then drains in-flight jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Int("hourly_minute", s.slots.HourlyMinute).
		Int("daily_minute", s.slots.DailyMinute).
		Msg("Scheduler started")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	s.tick(ctx, s.now())
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduler stopping, draining jobs")
			s.wg.Wait()
			log.Info().Msg("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, freq := range []persistence.Frequency{
		persistence.FreqHourly,
		persistence.FreqDaily,
		persistence.FreqMonthly,
		persistence.FreqQuarterly,
	} {
		if !s.Due(freq, now) {
			continue
		}
		s.fire(ctx, freq, now)
	}
}

// Due reports whether freq's slot matches now. The caller dedupes repeat
// hits within the same minute.
func (s *Scheduler) Due(freq persistence.Frequency, now time.Time) bool {
	now = now.UTC()
	switch freq {
	case persistence.FreqHourly:
		return now.Minute() == s.slots.HourlyMinute
	case persistence.FreqDaily:
		return now.Hour() == 0 && now.Minute() == s.slots.DailyMinute
	case persistence.FreqMonthly:
		return now.Day() == 1 && now.Hour() == 0 && now.Minute() == s.slots.MonthlyMinute
	case persistence.FreqQuarterly:
		quarterStart := now.Month() == time.January || now.Month() == time.April ||
			now.Month() == time.July || now.Month() == time.October
		return quarterStart && now.Day() == 1 && now.Hour() == 0 && now.Minute() == s.slots.QuarterlyMinute
	}
	return false
}

func (s *Scheduler) fire(ctx context.Context, freq persistence.Frequency, now time.Time) {
	minuteKey := now.UTC().Format("2006-01-02T15:04")

	s.mu.Lock()
	if s.lastFired[freq] == minuteKey {
		s.mu.Unlock()
		return
	}
	s.lastFired[freq] = minuteKey
	if s.running[freq] {
		s.mu.Unlock()
		log.Warn().
			Str("frequency", string(freq)).
			Msg("Previous run still in flight, dropping tick")
		telemetry.SchedulerTicks.WithLabelValues(string(freq), "dropped").Inc()
		return
	}
	s.running[freq] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running[freq] = false
			s.mu.Unlock()
		}()

		s.runMu.Lock()
		defer s.runMu.Unlock()

		start := s.now()
		err := s.job(ctx, freq)
		outcome := "ok"
		evt := log.Info()
		if err != nil && ctx.Err() == nil {
			outcome = "failed"
			evt = log.Error().Err(err)
		}
		telemetry.SchedulerTicks.WithLabelValues(string(freq), outcome).Inc()
		evt.
			Str("frequency", string(freq)).
			Dur("duration_ms", s.now().Sub(start)).
			Str("outcome", outcome).
			Msg("Scheduled run finished")
	}()
}
