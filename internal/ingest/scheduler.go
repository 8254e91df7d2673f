package ingest

import (
	"context"
	"log"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/nwpingest/internal/forecast"
	"github.com/lox/nwpingest/internal/notify"
)

// StationProcessor turns complete runs into bias-adjusted station
// predictions.
type StationProcessor interface {
	Process(ctx context.Context) (forecast.Result, error)
}

// RetentionPolicy prunes predictions past their retention window.
type RetentionPolicy interface {
	Apply(ctx context.Context) error
}

// Scheduler repeats the ingest pass for one model until its context ends.
type Scheduler struct {
	orchestrator      *Orchestrator
	processor         StationProcessor
	retention         RetentionPolicy
	notifier          notify.Service
	clock             clockwork.Clock
	interval          time.Duration
	retentionInterval time.Duration
}

func NewScheduler(o *Orchestrator, processor StationProcessor, retention RetentionPolicy, notifier notify.Service, clock clockwork.Clock, interval time.Duration) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if notifier == nil {
		notifier = notify.NewService("")
	}
	return &Scheduler{
		orchestrator:      o,
		processor:         processor,
		retention:         retention,
		notifier:          notifier,
		clock:             clock,
		interval:          interval,
		retentionInterval: 24 * time.Hour,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.pass(ctx)
	s.applyRetention(ctx)

	passTicker := s.clock.NewTicker(s.interval)
	retentionTicker := s.clock.NewTicker(s.retentionInterval)
	defer passTicker.Stop()
	defer retentionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-passTicker.Chan():
			s.pass(ctx)
		case <-retentionTicker.Chan():
			s.applyRetention(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	model := s.orchestrator.Kind().String()
	log.Printf("scheduler: ingesting %s", model)
	sum, err := s.orchestrator.Run(ctx)
	if err != nil {
		log.Printf("scheduler: %s pass interrupted: %v", model, err)
		return
	}
	exceptions := sum.Exceptions
	if s.processor != nil {
		res, err := s.processor.Process(ctx)
		exceptions += res.Exceptions
		if res.Runs > 0 {
			log.Printf("scheduler: %s: processed %d runs", model, res.Runs)
		}
		if err != nil {
			log.Printf("scheduler: %s station predictions: %v", model, err)
			if ctx.Err() == nil {
				if err := s.notifier.NotifyFailure(ctx, model, err); err != nil {
					log.Printf("scheduler: notify: %v", err)
				}
			}
			return
		}
	}

	if exceptions > 0 {
		if err := s.notifier.NotifyExceptions(ctx, model, exceptions); err != nil {
			log.Printf("scheduler: notify: %v", err)
		}
	}
}

func (s *Scheduler) applyRetention(ctx context.Context) {
	if s.retention == nil {
		return
	}
	if err := s.retention.Apply(ctx); err != nil {
		log.Printf("scheduler: retention: %v", err)
	}
}
