package ratelimit

import (
	"go.uber.org/zap"
)

// New builds the limiter described by cfg. A Redis store is always paired
// with a local fallback behind a failover breaker.
func New(cfg Config, logger *zap.Logger) (Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	local := NewMemoryLimiter(cfg.RequestsPerSecond, cfg.Burst, DefaultCleanupInterval, WithLogger(logger))
	if cfg.Store == StoreMemory {
		return local, nil
	}

	redisCfg := *cfg.Redis
	primary := NewRedisLimiter(&redisCfg, cfg.RequestsPerSecond, logger)

	logger.Info("using redis rate limit store",
		zap.String("address", redisCfg.Address),
		zap.Float64("rps", cfg.RequestsPerSecond),
	)

	return NewFailoverLimiter(primary, local, FailoverConfig{}, logger), nil
}
