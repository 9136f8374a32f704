package backend

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the health status of an instance or a service.
type Status int32

const (
	// StatusUnknown means no probe has completed yet.
	StatusUnknown Status = iota
	// StatusHealthy means the last probe returned 200.
	StatusHealthy
	// StatusDegraded means the last probe returned a non-200 status below 500.
	StatusDegraded
	// StatusUnhealthy means the last probe failed or returned 5xx.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// latencyAlpha weights the newest sample in the latency EWMA.
const latencyAlpha = 0.3

// CheckResult is the outcome of one health probe.
type CheckResult struct {
	Status     Status        `json:"status"`
	StatusCode int           `json:"statusCode,omitempty"`
	Latency    time.Duration `json:"-"`
	LatencyMs  int64         `json:"latencyMs"`
	CheckedAt  time.Time     `json:"checkedAt"`
	Error      string        `json:"error,omitempty"`
}

// Instance is one concrete origin of a service. It tracks health, in-flight
// requests and a latency moving average used by the load balancer.
type Instance struct {
	url    *url.URL
	weight int

	status   atomic.Int32
	inFlight atomic.Int64
	requests atomic.Uint64

	mu            sync.Mutex
	latency       float64
	samples       uint64
	lastCheck     *CheckResult
	currentWeight int
}

// NewInstance parses rawURL and creates an instance with the given weight.
// A weight below 1 is treated as 1.
func NewInstance(rawURL string, weight int) (*Instance, error) {
	u, err := parseInstanceURL(rawURL)
	if err != nil {
		return nil, err
	}
	if weight < 1 {
		weight = 1
	}
	return &Instance{url: u, weight: weight}, nil
}

func parseInstanceURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidURL, rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q: scheme must be http or https", ErrInvalidURL, rawURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q: missing host", ErrInvalidURL, rawURL)
	}
	return u, nil
}

// URL returns a copy of the instance base URL.
func (i *Instance) URL() *url.URL {
	u := *i.url
	return &u
}

// String returns the instance base URL.
func (i *Instance) String() string {
	return i.url.String()
}

// Weight returns the instance weight.
func (i *Instance) Weight() int {
	return i.weight
}

// Status returns the last observed health status.
func (i *Instance) Status() Status {
	return Status(i.status.Load())
}

// SetStatus sets the health status.
func (i *Instance) SetStatus(s Status) {
	i.status.Store(int32(s))
}

// InFlight returns the number of requests currently proxied to the instance.
func (i *Instance) InFlight() int64 {
	return i.inFlight.Load()
}

// Requests returns the total number of requests proxied to the instance.
func (i *Instance) Requests() uint64 {
	return i.requests.Load()
}

// Acquire marks the start of a proxied request.
func (i *Instance) Acquire() {
	i.inFlight.Add(1)
	i.requests.Add(1)
}

// Release marks the end of a proxied request and folds latency into the
// moving average.
func (i *Instance) Release(latency time.Duration) {
	i.inFlight.Add(-1)

	i.mu.Lock()
	defer i.mu.Unlock()
	sample := float64(latency)
	if i.samples == 0 {
		i.latency = sample
	} else {
		i.latency = latencyAlpha*sample + (1-latencyAlpha)*i.latency
	}
	i.samples++
}

// Latency returns the latency moving average, or zero before the first sample.
func (i *Instance) Latency() time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	return time.Duration(i.latency)
}

// LastCheck returns the most recent probe result.
func (i *Instance) LastCheck() (CheckResult, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.lastCheck == nil {
		return CheckResult{}, false
	}
	return *i.lastCheck, true
}

func (i *Instance) recordCheck(result CheckResult) Status {
	previous := Status(i.status.Swap(int32(result.Status)))
	i.mu.Lock()
	i.lastCheck = &result
	i.mu.Unlock()
	return previous
}

// InstanceSnapshot is a point-in-time view of an instance.
type InstanceSnapshot struct {
	URL       string       `json:"url"`
	Weight    int          `json:"weight"`
	Status    Status       `json:"status"`
	InFlight  int64        `json:"inFlight"`
	Requests  uint64       `json:"requests"`
	LatencyMs float64      `json:"latencyMs"`
	LastCheck *CheckResult `json:"lastCheck,omitempty"`
}

// Snapshot returns a point-in-time view of the instance.
func (i *Instance) Snapshot() InstanceSnapshot {
	s := InstanceSnapshot{
		URL:       i.String(),
		Weight:    i.weight,
		Status:    i.Status(),
		InFlight:  i.InFlight(),
		Requests:  i.Requests(),
		LatencyMs: float64(i.Latency()) / float64(time.Millisecond),
	}
	if check, ok := i.LastCheck(); ok {
		s.LastCheck = &check
	}
	return s
}
