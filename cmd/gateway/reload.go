package main

import (
	"sync"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/gateway"
)

// serviceReloader applies changes to the services section of a reloaded
// configuration. Unchanged services keep their cache entries, breaker state
// and limiter buckets.
type serviceReloader struct {
	mu      sync.Mutex
	gw      *gateway.Gateway
	current []config.ServiceConfig
	logger  *zap.Logger
}

func newServiceReloader(gw *gateway.Gateway, services []config.ServiceConfig, logger *zap.Logger) *serviceReloader {
	return &serviceReloader{gw: gw, current: services, logger: logger}
}

// Apply registers added and updated services and removes the rest. Other
// sections of cfg need a restart and are ignored.
func (r *serviceReloader) Apply(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	diff := config.DiffServices(r.current, cfg.Services)
	if diff.Empty() {
		r.logger.Debug("services unchanged")
		return
	}

	r.logger.Info("applying service changes",
		zap.Int("added", len(diff.Added)),
		zap.Int("updated", len(diff.Updated)),
		zap.Int("removed", len(diff.Removed)),
	)

	if err := r.gw.UpdateServices(diff.Upserts(), diff.Removed); err != nil {
		r.logger.Error("some services were not applied", zap.Error(err))
	}
	r.current = cfg.Services
}
