// Package health provides health checks for protomodel registries and
// stores. Checks return a Status instead of an error so that callers can
// aggregate them with Combine and report partial degradation.
package health

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/zero-day-ai/protomodel"
)

// Health status constants represent the operational state of a component.
const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy = "healthy"

	// StatusDegraded indicates the component is operational but experiencing issues.
	StatusDegraded = "degraded"

	// StatusUnhealthy indicates the component is not operational.
	StatusUnhealthy = "unhealthy"
)

// DefaultTimeout bounds a store check when the context has no deadline.
const DefaultTimeout = 5 * time.Second

// Status represents the health state of a component.
type Status struct {
	// Status is the current health state (healthy, degraded, or unhealthy).
	Status string `json:"status"`

	// Message provides a human-readable description of the health status.
	Message string `json:"message,omitempty"`

	// Details contains additional diagnostic information.
	Details map[string]any `json:"details,omitempty"`
}

// IsHealthy returns true if the status is StatusHealthy.
func (h Status) IsHealthy() bool { return h.Status == StatusHealthy }

// IsDegraded returns true if the status is StatusDegraded.
func (h Status) IsDegraded() bool { return h.Status == StatusDegraded }

// IsUnhealthy returns true if the status is StatusUnhealthy.
func (h Status) IsUnhealthy() bool { return h.Status == StatusUnhealthy }

// Healthy creates a healthy status.
func Healthy(message string) Status {
	return Status{Status: StatusHealthy, Message: message}
}

// Degraded creates a degraded status with optional details.
func Degraded(message string, details map[string]any) Status {
	return Status{Status: StatusDegraded, Message: message, Details: details}
}

// Unhealthy creates an unhealthy status with optional details.
func Unhealthy(message string, details map[string]any) Status {
	return Status{Status: StatusUnhealthy, Message: message, Details: details}
}

// Pinger is implemented by stores with a remote backend, such as
// *redisstore.Store and *sqlstore.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreCheck verifies that a store answers. Stores without a Ping method
// live in process and are always healthy.
//
// Example:
//
//	status := health.StoreCheck(ctx, "redis", store)
//	if status.IsUnhealthy() {
//	    log.Fatal(status.Message)
//	}
func StoreCheck(ctx context.Context, name string, store protomodel.Store) Status {
	if store == nil {
		return Unhealthy(fmt.Sprintf("store '%s' is not configured", name), nil)
	}
	pinger, ok := store.(Pinger)
	if !ok {
		return Healthy(fmt.Sprintf("store '%s' is in process", name))
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := pinger.Ping(ctx); err != nil {
		return Unhealthy(
			fmt.Sprintf("store '%s' is unreachable", name),
			map[string]any{
				"store": name,
				"error": err.Error(),
			},
		)
	}
	return Status{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("store '%s' is reachable", name),
		Details: map[string]any{"latency_ms": time.Since(start).Milliseconds()},
	}
}

// RegistryCheck verifies that every relation of every registered model
// resolves. A registry without a store can still convert messages, so it is
// reported as degraded when some of its models declare to-many relations.
func RegistryCheck(reg *protomodel.Registry) Status {
	if reg == nil {
		return Unhealthy("registry is not configured", nil)
	}
	models := reg.Models()

	if err := reg.Validate(); err != nil {
		var problems []string
		for _, e := range unjoin(err) {
			problems = append(problems, e.Error())
		}
		return Unhealthy(
			fmt.Sprintf("%d relation(s) do not resolve", len(problems)),
			map[string]any{
				"models":   len(models),
				"problems": problems,
			},
		)
	}

	if reg.Store() == nil {
		var needStore []string
		for _, m := range models {
			for _, f := range m.Fields() {
				if f.Relation() == protomodel.RelationToMany {
					needStore = append(needStore, m.Name()+"."+f.Name)
				}
			}
		}
		if len(needStore) > 0 {
			return Degraded(
				"to-many relations need a store",
				map[string]any{
					"models": len(models),
					"fields": needStore,
				},
			)
		}
	}

	return Healthy(fmt.Sprintf("%d model(s) registered", len(models)))
}

// FileCheck verifies that a configuration file exists at path.
func FileCheck(path string) Status {
	if path == "" {
		return Unhealthy("path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Unhealthy(
				fmt.Sprintf("path '%s' does not exist", path),
				map[string]any{"path": path},
			)
		}
		return Unhealthy(
			fmt.Sprintf("failed to stat path '%s'", path),
			map[string]any{
				"path":  path,
				"error": err.Error(),
			},
		)
	}
	if info.IsDir() {
		return Unhealthy(
			fmt.Sprintf("path '%s' is a directory", path),
			map[string]any{"path": path},
		)
	}

	return Healthy(fmt.Sprintf("file '%s' exists", path))
}

// Combine aggregates multiple health checks into a single status.
// The result follows this priority:
//   - If any check is unhealthy, the result is unhealthy
//   - If any check is degraded (and none unhealthy), the result is degraded
//   - If all checks are healthy, the result is healthy
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthyChecks []string
	var degradedChecks []string
	var healthyCount int

	for _, check := range checks {
		msg := check.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch check.Status {
		case StatusUnhealthy:
			unhealthyChecks = append(unhealthyChecks, msg)
		case StatusDegraded:
			degradedChecks = append(degradedChecks, msg)
		case StatusHealthy:
			healthyCount++
		}
	}

	if len(unhealthyChecks) > 0 {
		return Unhealthy(
			fmt.Sprintf("%d check(s) failed", len(unhealthyChecks)),
			map[string]any{
				"total":         len(checks),
				"unhealthy":     len(unhealthyChecks),
				"degraded":      len(degradedChecks),
				"healthy":       healthyCount,
				"failed_checks": unhealthyChecks,
			},
		)
	}

	if len(degradedChecks) > 0 {
		return Degraded(
			fmt.Sprintf("%d check(s) degraded", len(degradedChecks)),
			map[string]any{
				"total":           len(checks),
				"degraded":        len(degradedChecks),
				"healthy":         healthyCount,
				"degraded_checks": degradedChecks,
			},
		)
	}

	return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
}

// unjoin splits an errors.Join result into its parts.
func unjoin(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
