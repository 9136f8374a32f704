package backend

import (
	"hash/fnv"
	"time"

	"go.uber.org/zap"
)

// LoadBalancer picks an instance of a service for each request.
type LoadBalancer struct {
	registry *Registry
	logger   *zap.Logger
}

// NewLoadBalancer creates a load balancer over registry.
func NewLoadBalancer(registry *Registry, logger *zap.Logger) *LoadBalancer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoadBalancer{registry: registry, logger: logger}
}

// Select returns an instance of service using the service's strategy.
// Instances marked unhealthy are skipped unless every instance is unhealthy,
// in which case all instances are candidates. ErrNoHealthyInstance is
// returned only when the service has no instances at all.
func (lb *LoadBalancer) Select(service, clientIP string) (*Instance, error) {
	entry, ok := lb.registry.entry(service)
	if !ok {
		return nil, ErrServiceNotFound
	}
	if len(entry.instances) == 0 {
		return nil, ErrNoHealthyInstance
	}

	candidates := make([]*Instance, 0, len(entry.instances))
	for _, inst := range entry.instances {
		if inst.Status() != StatusUnhealthy {
			candidates = append(candidates, inst)
		}
	}
	if len(candidates) == 0 {
		lb.logger.Debug("no healthy instance, falling back to all instances",
			zap.String("service", service),
			zap.Int("instances", len(entry.instances)),
		)
		candidates = entry.instances
	}

	switch entry.desc.LoadBalancer {
	case StrategyWeightedRoundRobin:
		return entry.smoothWeighted(candidates), nil
	case StrategyLeastConnections:
		return entry.leastConnections(candidates), nil
	case StrategyLeastResponseTime:
		return entry.leastResponseTime(candidates), nil
	case StrategyIPHash:
		return ipHash(candidates, clientIP), nil
	default:
		return entry.roundRobin(candidates), nil
	}
}

func (e *serviceEntry) next(n int) int {
	return int((e.rr.Add(1) - 1) % uint64(n))
}

func (e *serviceEntry) roundRobin(candidates []*Instance) *Instance {
	return candidates[e.next(len(candidates))]
}

// smoothWeighted is the nginx smooth weighted round robin: every candidate
// gains its weight, the largest is chosen and pays back the total.
func (e *serviceEntry) smoothWeighted(candidates []*Instance) *Instance {
	e.wrrMu.Lock()
	defer e.wrrMu.Unlock()

	var best *Instance
	total := 0
	for _, inst := range candidates {
		inst.currentWeight += inst.weight
		total += inst.weight
		if best == nil || inst.currentWeight > best.currentWeight {
			best = inst
		}
	}
	best.currentWeight -= total
	return best
}

func (e *serviceEntry) leastConnections(candidates []*Instance) *Instance {
	var ties []*Instance
	least := int64(-1)
	for _, inst := range candidates {
		n := inst.InFlight()
		switch {
		case least < 0 || n < least:
			least = n
			ties = append(ties[:0], inst)
		case n == least:
			ties = append(ties, inst)
		}
	}
	return ties[e.next(len(ties))]
}

// leastResponseTime prefers the lowest latency average. Instances without
// samples score zero so they get tried. Ties fall back to least connections.
func (e *serviceEntry) leastResponseTime(candidates []*Instance) *Instance {
	var ties []*Instance
	best := time.Duration(-1)
	for _, inst := range candidates {
		latency := inst.Latency()
		switch {
		case best < 0 || latency < best:
			best = latency
			ties = append(ties[:0], inst)
		case latency == best:
			ties = append(ties, inst)
		}
	}
	if len(ties) == 1 {
		return ties[0]
	}
	return e.leastConnections(ties)
}

func ipHash(candidates []*Instance, clientIP string) *Instance {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientIP))
	return candidates[h.Sum32()%uint32(len(candidates))]
}
