package health

import (
	"context"
	"time"

	"github.com/nimburion/docstore/pkg/resilience"
	"github.com/nimburion/docstore/pkg/store"
)

// Checkable is anything with a HealthCheck method: store adapters and change
// buses.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker checks a Checkable within a timeout.
type AdapterChecker struct {
	name     string
	target   Checkable
	timeout  time.Duration
	metadata map[string]any
}

// NewAdapterChecker creates a checker for target. A zero timeout means five
// seconds.
func NewAdapterChecker(name string, target Checkable, timeout time.Duration) *AdapterChecker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &AdapterChecker{name: name, target: target, timeout: timeout}
}

// NewStoreChecker checks a document store adapter and reports its system and
// capabilities.
func NewStoreChecker(system string, adapter store.Adapter) *AdapterChecker {
	c := NewAdapterChecker("store", adapter, 5*time.Second)
	caps := adapter.Capabilities()
	c.metadata = map[string]any{
		"system":        system,
		"native_count":  caps.NativeCount,
		"change_stream": caps.ChangeStream,
		"stable_order":  caps.StableOrder,
	}
	return c
}

// NewBusChecker checks the change notification bus.
func NewBusChecker(bus Checkable) *AdapterChecker {
	return NewAdapterChecker("change_bus", bus, 3*time.Second)
}

// Check runs the target's health check.
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.target.HealthCheck(checkCtx)
	result := CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Metadata:  c.metadata,
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = ""
		result.Error = err.Error()
	}
	return result
}

// Name returns the checker name.
func (c *AdapterChecker) Name() string { return c.name }

// BreakerChecker reports the store circuit breaker: degraded while it is open
// or probing.
type BreakerChecker struct {
	breaker *resilience.CircuitBreaker
}

// NewBreakerChecker creates a checker for breaker.
func NewBreakerChecker(breaker *resilience.CircuitBreaker) *BreakerChecker {
	return &BreakerChecker{breaker: breaker}
}

// Check reads the breaker state without calling the store.
func (c *BreakerChecker) Check(context.Context) CheckResult {
	state := c.breaker.GetState()
	result := CheckResult{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   state.String(),
		Timestamp: time.Now(),
		Metadata:  map[string]any{"failures": c.breaker.GetFailures()},
	}
	if state != resilience.StateClosed {
		result.Status = StatusDegraded
	}
	return result
}

// Name returns "store_breaker".
func (c *BreakerChecker) Name() string { return "store_breaker" }
