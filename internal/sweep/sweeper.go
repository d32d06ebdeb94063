package sweep

import (
	"context"
	"fmt"
	"time"

	"ms-grouping/internal/logger"
)

type BookingCloser interface {
	CloseDeparted(ctx context.Context, now time.Time) (int, error)
}

type SmartGroupExpirer interface {
	ExpireSweep(ctx context.Context) (int, error)
}

// Report is the outcome of one sweep pass.
type Report struct {
	ExpiredSmartGroups int       `json:"expired_smart_groups"`
	ClosedBookings     int       `json:"closed_bookings"`
	RanAt              time.Time `json:"ran_at"`
}

// Sweeper advances group lifecycles the coordinator does not: smart groups
// past their expiry flip to expired, bookings whose tour date has passed flip
// to closed. Every pass is idempotent, so overlapping runs are harmless.
type Sweeper struct {
	Bookings    BookingCloser
	SmartGroups SmartGroupExpirer
	Interval    time.Duration
	Logger      *logger.Logger
}

func NewSweeper(bookings BookingCloser, smartGroups SmartGroupExpirer, interval time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{Bookings: bookings, SmartGroups: smartGroups, Interval: interval, Logger: log}
}

// RunOnce runs both sweep legs. A failing leg is logged and does not stop the
// other; the first failure is returned so manual triggers can surface it.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	report := Report{RanAt: time.Now().UTC()}
	var firstErr error

	expired, err := s.SmartGroups.ExpireSweep(ctx)
	if err != nil {
		s.logError(fmt.Sprintf("expire smart groups: %v", err))
		firstErr = err
	} else {
		report.ExpiredSmartGroups = expired
	}

	closed, err := s.Bookings.CloseDeparted(ctx, time.Now().UTC())
	if err != nil {
		s.logError(fmt.Sprintf("close departed bookings: %v", err))
		if firstErr == nil {
			firstErr = err
		}
	} else {
		report.ClosedBookings = closed
	}

	s.logSweep("RUN", fmt.Sprintf("expired %d smart group(s), closed %d departed booking(s)",
		report.ExpiredSmartGroups, report.ClosedBookings))

	return report, firstErr
}

// Run sweeps immediately, then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logSweep("START", fmt.Sprintf("sweeping every %s", s.Interval))

	if _, err := s.RunOnce(ctx); err != nil {
		s.logError(fmt.Sprintf("initial sweep: %v", err))
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logSweep("STOP", "sweep loop stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logError(fmt.Sprintf("scheduled sweep: %v", err))
			}
		}
	}
}

func (s *Sweeper) logSweep(action, message string) {
	if s.Logger != nil {
		s.Logger.LogSweep(action, message)
	}
}

func (s *Sweeper) logError(message string) {
	if s.Logger != nil {
		s.Logger.Error("SWEEP", message)
	}
}
