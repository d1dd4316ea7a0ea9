// Package bootstrap wires a strand process together: it builds the
// runtime from configuration, starts the logger, timer and boot service
// in dependency order, and tears them down on shutdown.
package bootstrap

import (
	"context"
	"fmt"
	"time"
)

// Component is a unit the lifecycle manager starts and stops
type Component interface {
	// Start starts the component
	Start(ctx context.Context) error

	// Stop stops the component
	Stop(ctx context.Context) error

	// Health returns the health status of the component
	Health(ctx context.Context) (HealthStatus, error)

	// Name returns the component name
	Name() string
}

// HealthStatus represents the health status of a component
type HealthStatus struct {
	// State indicates whether the component is healthy
	State HealthState `json:"state"`

	// Message provides additional information about the health status
	Message string `json:"message,omitempty"`

	// LastCheck is the timestamp of the last health check
	LastCheck time.Time `json:"last_check,omitempty"`

	// Data contains additional health information
	Data map[string]interface{} `json:"data,omitempty"`
}

// HealthState represents the health state of a component
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthStarting  HealthState = "starting"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthStopping  HealthState = "stopping"
	HealthStopped   HealthState = "stopped"
)

// LifecycleEvent represents an event in the component lifecycle
type LifecycleEvent struct {
	Type      string                 `json:"type"`
	Component string                 `json:"component,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Error     error                  `json:"error,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ApplicationError represents an error that occurred during application lifecycle
type ApplicationError struct {
	Operation string
	Service   string
	Err       error
}

func (e *ApplicationError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s failed for service %s: %v", e.Operation, e.Service, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}
