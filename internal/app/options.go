package service

import (
	"github.com/okian/kudos/internal/adapters/notify"
	"github.com/okian/kudos/internal/domain/engine"
	"github.com/okian/kudos/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of evaluation workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the event id queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithTeamWorkerCount sets the number of user change consumers.
func WithTeamWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.teamWorkerCount = count
		}
	}
}

// WithTeamQueueSize sets the capacity of the user change queue.
func WithTeamQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.teamQueueSize = size
		}
	}
}

// WithDedupeSize sets the size of the producer id cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithPublisher sets where reward notifications go. The service closes it
// on Stop.
func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithEngineOptions forwards opts to the evaluation engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Service) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
