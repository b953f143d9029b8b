// Package scheduler triggers pipeline runs on a daily cron schedule.
package scheduler

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// Scheduler fires the run callback at the configured local time. A run that
// is still going when the next tick arrives makes the tick a logged no-op;
// overlapping scrapes would double the request pressure on the sources.
type Scheduler struct {
	cron    *cron.Cron
	run     func()
	running atomic.Bool
}

// New builds a scheduler around the run callback.
func New(run func()) *Scheduler {
	return &Scheduler{cron: cron.New(), run: run}
}

// Start registers the daily trigger and launches the cron loop.
// dailyTime is "HH:MM" in the local timezone.
func (s *Scheduler) Start(dailyTime string) error {
	spec, err := cronSpecFromDailyTime(dailyTime)
	if err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("failed to register daily trigger: %w", err)
	}
	s.cron.Start()
	log.Printf("[Scheduler] Daily run scheduled at %s (cron %q)", dailyTime, spec)
	return nil
}

// Stop halts the cron loop. A run already in flight finishes on its own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// TriggerNow runs the pipeline immediately, subject to the same overlap
// guard as the cron tick. Reports whether the run actually started.
func (s *Scheduler) TriggerNow() bool {
	if !s.running.CompareAndSwap(false, true) {
		log.Printf("[Scheduler] Manual trigger ignored, a run is already in progress")
		return false
	}
	go func() {
		defer s.running.Store(false)
		s.run()
	}()
	return true
}

func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		log.Printf("[Scheduler] Previous run still in progress, skipping this tick")
		return
	}
	defer s.running.Store(false)
	s.run()
}

// cronSpecFromDailyTime turns "HH:MM" into a standard 5-field cron spec.
func cronSpecFromDailyTime(dailyTime string) (string, error) {
	parts := strings.SplitN(dailyTime, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid daily run time %q, expected HH:MM", dailyTime)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in daily run time %q", dailyTime)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in daily run time %q", dailyTime)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}
