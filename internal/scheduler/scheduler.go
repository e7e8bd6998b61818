// Package scheduler triggers scheduled refreshes on the configured weekdays.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"flightdeck/internal/deck"
)

var dayNumbers = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// CronSpec converts run days ("mon".."sun") and an HH:MM run time into a
// five-field cron expression.
func CronSpec(runDays []string, runTime string) (string, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(runTime), ":")
	if !ok {
		return "", fmt.Errorf("invalid run time %q: want HH:MM", runTime)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid run time %q: bad hour", runTime)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid run time %q: bad minute", runTime)
	}

	if len(runDays) == 0 {
		return "", fmt.Errorf("no run days configured")
	}
	seen := make(map[int]bool)
	var days []string
	for _, d := range runDays {
		n, ok := dayNumbers[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return "", fmt.Errorf("invalid run day %q", d)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		days = append(days, strconv.Itoa(n))
	}
	return fmt.Sprintf("%d %d * * %s", minute, hour, strings.Join(days, ",")), nil
}

// TriggerFunc starts one scheduled refresh.
type TriggerFunc func(ctx context.Context)

// Scheduler runs a TriggerFunc on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	trigger TriggerFunc
	logger  deck.Logger

	mu      sync.Mutex
	entry   cron.EntryID
	running bool
}

// New creates a Scheduler for the given days and time in loc (nil means local time).
func New(runDays []string, runTime string, loc *time.Location, trigger TriggerFunc, logger deck.Logger) (*Scheduler, error) {
	spec, err := CronSpec(runDays, runTime)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = deck.NewNopLogger()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		spec:    spec,
		trigger: trigger,
		logger:  logger,
	}, nil
}

// Spec returns the cron expression in use.
func (s *Scheduler) Spec() string { return s.spec }

// Start registers the job and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	id, err := s.cron.AddFunc(s.spec, func() {
		s.logger.Info("scheduled refresh firing", "spec", s.spec)
		s.trigger(context.Background())
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	s.entry = id
	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", "spec", s.spec, "next", s.cron.Entry(id).Next)
	return nil
}

// Stop stops the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Next returns the next scheduled run, or nil when not started.
func (s *Scheduler) Next() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	entry := s.cron.Entry(s.entry)
	if entry.Next.IsZero() {
		return nil
	}
	return &entry.Next
}
