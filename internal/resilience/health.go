package resilience

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string                 `json:"name"`
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message"`
	Latency   time.Duration          `json:"latency"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CheckedAt time.Time              `json:"checked_at"`
}

// HealthCheck probes one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// SystemHealth is the aggregated result of one round of checks.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Uptime     time.Duration     `json:"uptime"`
	Components []ComponentHealth `json:"components"`
	Goroutines int               `json:"goroutines"`
	MemoryMB   uint64            `json:"memory_mb"`
}

// HealthCheckerConfig holds health checker configuration.
type HealthCheckerConfig struct {
	Timeout            time.Duration // per round of checks
	MemoryThresholdMB  uint64
	GoroutineThreshold int
}

// DefaultHealthCheckerConfig returns default configuration.
func DefaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{
		Timeout:            10 * time.Second,
		MemoryThresholdMB:  500,
		GoroutineThreshold: 1000,
	}
}

// HealthChecker runs registered component checks concurrently.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]HealthCheck
	config HealthCheckerConfig
	clock  clock.Clock
	start  time.Time
	logger zerolog.Logger

	totalChecks  int64
	failedChecks int64
}

// NewHealthChecker creates a checker with the runtime memory and goroutine
// checks already registered.
func NewHealthChecker(config HealthCheckerConfig, clk clock.Clock, logger zerolog.Logger) *HealthChecker {
	if clk == nil {
		clk = clock.New()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultHealthCheckerConfig().Timeout
	}
	h := &HealthChecker{
		checks: make(map[string]HealthCheck),
		config: config,
		clock:  clk,
		start:  clk.Now(),
		logger: logger.With().Str("component", "health").Logger(),
	}
	h.Register("memory", h.checkMemory)
	h.Register("goroutines", h.checkGoroutines)
	return h
}

// Register adds or replaces the check for a component.
func (h *HealthChecker) Register(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Check runs every registered check and aggregates the result. Components
// are sorted by name. A panicking check reports its component unhealthy.
func (h *HealthChecker) Check(ctx context.Context) SystemHealth {
	h.mu.RLock()
	checks := make(map[string]HealthCheck, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	p := pool.NewWithResults[ComponentHealth]()
	for name, check := range checks {
		name, check := name, check
		p.Go(func() ComponentHealth {
			return h.run(ctx, name, check)
		})
	}
	components := p.Wait()
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	result := SystemHealth{
		Status:     HealthStatusHealthy,
		Uptime:     h.clock.Since(h.start),
		Components: components,
		Goroutines: runtime.NumGoroutine(),
		MemoryMB:   memStats.Alloc / 1024 / 1024,
	}

	failed := false
	for _, c := range components {
		switch c.Status {
		case HealthStatusUnhealthy:
			result.Status = HealthStatusUnhealthy
			failed = true
			h.logger.Warn().Str("check", c.Name).Str("message", c.Message).Msg("Component unhealthy")
		case HealthStatusDegraded:
			if result.Status == HealthStatusHealthy {
				result.Status = HealthStatusDegraded
			}
		}
	}

	h.mu.Lock()
	h.totalChecks++
	if failed {
		h.failedChecks++
	}
	h.mu.Unlock()

	return result
}

// Counts returns how many rounds ran and how many had an unhealthy component.
func (h *HealthChecker) Counts() (total, failed int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalChecks, h.failedChecks
}

func (h *HealthChecker) run(ctx context.Context, name string, check HealthCheck) (health ComponentHealth) {
	start := h.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			health = ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("Panic recovered: %v", r),
			}
		}
		health.Name = name
		health.CheckedAt = h.clock.Now()
		if health.Latency == 0 {
			health.Latency = h.clock.Since(start)
		}
		if health.Status == "" {
			health.Status = HealthStatusUnknown
		}
	}()
	return check(ctx)
}

func (h *HealthChecker) checkMemory(ctx context.Context) ComponentHealth {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	allocMB := memStats.Alloc / 1024 / 1024

	health := ComponentHealth{
		Details: map[string]interface{}{
			"alloc_mb": allocMB,
			"sys_mb":   memStats.Sys / 1024 / 1024,
			"num_gc":   memStats.NumGC,
		},
	}
	if h.config.MemoryThresholdMB > 0 && allocMB > h.config.MemoryThresholdMB {
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("Memory usage high: %d MB", allocMB)
	} else {
		health.Status = HealthStatusHealthy
		health.Message = fmt.Sprintf("Memory usage: %d MB", allocMB)
	}
	return health
}

func (h *HealthChecker) checkGoroutines(ctx context.Context) ComponentHealth {
	n := runtime.NumGoroutine()
	health := ComponentHealth{
		Details: map[string]interface{}{"count": n},
	}
	if h.config.GoroutineThreshold > 0 && n > h.config.GoroutineThreshold {
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("High goroutine count: %d", n)
	} else {
		health.Status = HealthStatusHealthy
		health.Message = fmt.Sprintf("Goroutine count: %d", n)
	}
	return health
}

// ProbeHealthCheck reports unhealthy when probe fails and degraded when it
// takes longer than slow. Latency is measured on clk.
func ProbeHealthCheck(clk clock.Clock, slow time.Duration, probe func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		start := clk.Now()
		err := probe(ctx)
		health := ComponentHealth{Latency: clk.Since(start)}

		switch {
		case err != nil:
			health.Status = HealthStatusUnhealthy
			health.Message = fmt.Sprintf("Check failed: %v", err)
		case slow > 0 && health.Latency > slow:
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("Slow: %v", health.Latency)
		default:
			health.Status = HealthStatusHealthy
			health.Message = fmt.Sprintf("OK: %v", health.Latency)
		}
		return health
	}
}

// BreakerHealthCheck reports degraded while any breaker in the registry is
// open or probing.
func BreakerHealthCheck(registry *CircuitBreakerRegistry) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		stats := registry.AllStats()
		details := make(map[string]interface{}, len(stats))
		var tripped []string
		for _, s := range stats {
			details[s.Name] = string(s.State)
			if s.State != CircuitClosed {
				tripped = append(tripped, s.Name)
			}
		}

		if len(tripped) > 0 {
			return ComponentHealth{
				Status:  HealthStatusDegraded,
				Message: fmt.Sprintf("Circuits not closed: %v", tripped),
				Details: details,
			}
		}
		return ComponentHealth{
			Status:  HealthStatusHealthy,
			Message: fmt.Sprintf("%d circuits closed", len(stats)),
			Details: details,
		}
	}
}
