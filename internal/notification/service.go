package notification

import (
	"context"
	"sync"
	"time"

	"telemetry-service/internal/broker"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/models"
	"telemetry-service/internal/providers"
)

const sendTimeout = 30 * time.Second

// Config sizes the dispatch worker pool.
type Config struct {
	MaxWorkers  int
	QueueSize   int
	MinSeverity models.AlertSeverity
}

// Service watches the bus for new alerts and dispatches those at or above
// MinSeverity to every provider.
type Service struct {
	logger    *logging.Logger
	config    Config
	providers []providers.Provider
	tasks     chan models.Alert
	ctx       context.Context
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
}

// New constructs a notification Service.
func New(logger *logging.Logger, cfg Config, provs ...providers.Provider) *Service {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = models.SeverityCritical
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		logger:    logger,
		config:    cfg,
		providers: provs,
		tasks:     make(chan models.Alert, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker pool and a loop that queues alerts from sub.
func (s *Service) Start(sub *broker.Subscription, wg *sync.WaitGroup) {
	s.wg = wg
	for i := 0; i < s.config.MaxWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Close()
		for {
			select {
			case <-s.ctx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if ev.Kind != models.KindAlert {
					continue
				}
				if a, ok := ev.Data.(models.Alert); ok && s.wants(a) {
					s.QueueTask(a)
				}
			}
		}
	}()
}

// Stop cancels the workers. Queued alerts that were not picked up are dropped.
func (s *Service) Stop() {
	s.cancel()
}

// QueueTask enqueues an alert for dispatch without blocking.
func (s *Service) QueueTask(a models.Alert) {
	select {
	case s.tasks <- a:
		s.logger.Infof("Queued alert notification: alert_id=%s", a.ID)
	default:
		s.logger.Errorf("Queue full, dropping alert notification: alert_id=%s", a.ID)
	}
}

func (s *Service) wants(a models.Alert) bool {
	return severityRank(a.Severity) >= severityRank(s.config.MinSeverity)
}

// worker processes alerts until the context is cancelled.
func (s *Service) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Infof("Worker %d stopped", id)
			return
		case a := <-s.tasks:
			s.dispatch(a)
		}
	}
}

func (s *Service) dispatch(a models.Alert) {
	for _, p := range s.providers {
		ctx, cancel := context.WithTimeout(s.ctx, sendTimeout)
		err := p.Send(ctx, a)
		cancel()

		if err != nil {
			s.logger.Errorf("Dispatch error via %s for alert %s: %v", p.Name(), a.ID, err)
			continue
		}
		s.logger.Infof("Alert %s dispatched via %s", a.ID, p.Name())
	}
}

func severityRank(s models.AlertSeverity) int {
	switch s {
	case models.SeverityWarn:
		return 1
	case models.SeverityCritical:
		return 2
	default:
		return 0
	}
}
